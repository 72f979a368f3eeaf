// Package store persists the device state the sync subsystem reads and
// mutates: the message set, the TRUST chain, the sync journal and scalar
// settings. Every read-modify-write runs inside one transaction under the
// writer mutex, so schedulers ticking concurrently cannot lose updates.
package store

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/matheus3301/remotememo/internal/errors"
)

// DB wraps a SQLite database connection for the profile's memo.db.
type DB struct {
	*sql.DB
	writeMu sync.Mutex
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping db")
	}
	return &DB{DB: db}, nil
}

// write runs fn in a transaction while holding the writer lock.
func (db *DB) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}
