package db

import (
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when the queried row does not exist
var ErrNotFound = errors.New("not found")

// NewSQLiteDB opens a SQLite DB with WAL enabled
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		pragma journal_mode = WAL;
		pragma synchronous = normal;
		pragma journal_size_limit  = 6144000;
	`)
	return db, err
}

// ReturnErrNotFound maps sql.ErrNoRows to ErrNotFound, other errors pass
// through untouched
func ReturnErrNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
