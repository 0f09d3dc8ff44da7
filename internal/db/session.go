// Package db dials PostgreSQL sessions and renders query results into
// display strings. It is the only package that touches the wire driver.
package db

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tmowbrey/sqlbridge/internal/logger"
)

// ConnParams are the resolved parameters for one database dial. When the
// connection is tunneled, Host/Port point at the local tunnel endpoint.
type ConnParams struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Session is an open database session for one named connection.
type Session interface {
	// Query runs sql and returns all rows rendered as strings.
	Query(ctx context.Context, sql string) (*Result, error)
	// Close releases the session.
	Close()
}

// Result holds a fully fetched, stringified result set.
type Result struct {
	Columns []string
	Rows    [][]string
}

// DialFunc establishes a Session. The connection manager takes one of
// these so tests can substitute a counting transport.
type DialFunc func(ctx context.Context, params ConnParams) (Session, error)

// Dial opens a pgx connection pool for the given parameters and validates
// it with a round trip.
func Dial(ctx context.Context, params ConnParams) (Session, error) {
	logger.Debug("Dialing database",
		"host", params.Host,
		"port", params.Port,
		"database", params.Database,
		"user", params.User,
	)

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=prefer",
		params.User,
		params.Password,
		params.Host,
		params.Port,
		params.Database,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolConfig.MaxConns = 2
	poolConfig.MinConns = 0
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "sqlbridge"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to %s:%d: %w", params.Host, params.Port, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to %s:%d: %w", params.Host, params.Port, err)
	}

	logger.Info("Database session established",
		"host", params.Host,
		"port", params.Port,
		"database", params.Database,
	)
	return &pgSession{pool: pool}, nil
}

type pgSession struct {
	pool *pgxpool.Pool
}

func (s *pgSession) Query(ctx context.Context, sql string) (*Result, error) {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, wrapQueryError(err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(err)
	}

	return result, nil
}

func (s *pgSession) Close() {
	s.pool.Close()
}

// formatValue renders one cell value the way psql would, close enough for
// an interactive result buffer.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		return fmt.Sprintf("%t", val)
	case string:
		return val
	case []byte:
		return "\\x" + hex.EncodeToString(val)
	case time.Time:
		return val.Format("2006-01-02 15:04:05.999999-07")
	case [16]byte:
		// UUID wire representation
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
