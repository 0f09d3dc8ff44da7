package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// DatabaseError is a query failure, carrying the engine's own message when
// the server produced one.
type DatabaseError struct {
	// Message is the engine-reported error text, or the driver error text
	// when the failure never reached the server.
	Message string
	// Engine is true when Message came from the database itself.
	Engine bool

	err error
}

func (e *DatabaseError) Error() string {
	return e.Message
}

func (e *DatabaseError) Unwrap() error {
	return e.err
}

// wrapQueryError converts a driver error into a DatabaseError, surfacing
// the server message for PostgreSQL protocol errors.
func wrapQueryError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &DatabaseError{Message: pgErr.Message, Engine: true, err: err}
	}
	return &DatabaseError{Message: err.Error(), err: err}
}

// EngineMessage extracts the engine-reported message from a query error,
// if there is one.
func EngineMessage(err error) (string, bool) {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) && dbErr.Engine {
		return dbErr.Message, true
	}
	return "", false
}
