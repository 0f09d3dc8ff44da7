package db

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestFormatValue(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"string", "hello", "hello"},
		{"bytes", []byte{0xde, 0xad}, `\xdead`},
		{"int64", int64(42), "42"},
		{"float64", 3.5, "3.5"},
		{"time", ts, "2025-03-14 09:26:53+00"},
		{"uuid", [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0},
			"12345678-9abc-def0-1234-56789abcdef0"},
		{"stringer", net.IPv4(10, 0, 0, 1), "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatValue(tt.in))
		})
	}
}

func TestWrapQueryError_EngineError(t *testing.T) {
	pgErr := &pgconn.PgError{
		Severity: "ERROR",
		Code:     "42P01",
		Message:  `relation "missing" does not exist`,
	}

	err := wrapQueryError(pgErr)

	var dbErr *DatabaseError
	assert.True(t, errors.As(err, &dbErr))
	assert.True(t, dbErr.Engine)
	assert.Equal(t, `relation "missing" does not exist`, dbErr.Message)

	msg, ok := EngineMessage(err)
	assert.True(t, ok)
	assert.Equal(t, `relation "missing" does not exist`, msg)
}

func TestWrapQueryError_TransportError(t *testing.T) {
	err := wrapQueryError(errors.New("connection reset by peer"))

	var dbErr *DatabaseError
	assert.True(t, errors.As(err, &dbErr))
	assert.False(t, dbErr.Engine)

	_, ok := EngineMessage(err)
	assert.False(t, ok)
}

func TestEngineMessage_UnrelatedError(t *testing.T) {
	_, ok := EngineMessage(errors.New("plain error"))
	assert.False(t, ok)
}
