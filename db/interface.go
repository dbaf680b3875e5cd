package db

import (
	"database/sql"
)

// Querier is the part of *sql.DB and *sql.Tx the storage queries need, so a
// helper can run inside or outside a transaction
type Querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}
