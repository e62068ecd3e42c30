// internal/repository/repository.go

// Package repository holds the PostgreSQL persistence layer. Every write
// that guards an invariant (campaign CAS, one message per patient, event
// idempotency, monotonic DNC) is expressed as a single conditional statement
// or a transaction here, never as application-level locking.
package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so repository methods can
// run standalone or inside a caller-owned transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// uniqueViolation reports whether err is a postgres unique constraint error.
func uniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
