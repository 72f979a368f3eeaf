package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/matheus3301/remotememo/internal/errors"
)

// AppendSyncLog writes a journal entry. ID and Timestamp are filled when empty.
func (db *DB) AppendSyncLog(ctx context.Context, e *SyncLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return db.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_logs (id, timestamp, from_label, peer, added, updated, deleted, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Timestamp.UnixMilli(), e.From, e.Peer, e.Added, e.Updated, e.Deleted, e.Reason)
		if err != nil {
			return errors.Wrap(err, "append sync log")
		}
		return nil
	})
}

// ListSyncLogs returns journal entries, newest first. limit <= 0 means all.
func (db *DB) ListSyncLogs(ctx context.Context, limit int) ([]SyncLogEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, timestamp, from_label, peer, added, updated, deleted, reason
		FROM sync_logs ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list sync logs")
	}
	defer func() { _ = rows.Close() }()

	var out []SyncLogEntry
	for rows.Next() {
		var e SyncLogEntry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.From, &e.Peer, &e.Added, &e.Updated, &e.Deleted, &e.Reason); err != nil {
			return nil, errors.Wrap(err, "scan sync log")
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearSyncLogs bulk-deletes the journal.
func (db *DB) ClearSyncLogs(ctx context.Context) (int64, error) {
	var n int64
	err := db.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sync_logs`)
		if err != nil {
			return errors.Wrap(err, "clear sync logs")
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
