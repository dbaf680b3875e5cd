package db

import (
	"context"
	"database/sql"
)

// NewTx opens a transaction with the default isolation level
func NewTx(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	return db.BeginTx(ctx, nil)
}
