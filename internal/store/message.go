package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/status"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const messageColumns = `id, sender_id, receiver_id, short_name, text, audio_payload, date, time, status, played, source, hash, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*Message, error) {
	var m Message
	var created, updated int64
	if err := s.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.ShortName, &m.Text, &m.AudioPayload,
		&m.Date, &m.Time, &m.Status, &m.Played, &m.Source, &m.Hash, &created, &updated); err != nil {
		return nil, err
	}
	m.CreatedAt = time.UnixMilli(created)
	m.UpdatedAt = time.UnixMilli(updated)
	return &m, nil
}

func getMessage(ctx context.Context, q queryer, id string) (*Message, error) {
	m, err := scanMessage(q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get message %s", id)
	}
	return m, nil
}

func upsertMessage(ctx context.Context, q queryer, m *Message) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sender_id = excluded.sender_id,
			receiver_id = excluded.receiver_id,
			short_name = excluded.short_name,
			text = excluded.text,
			audio_payload = excluded.audio_payload,
			date = excluded.date,
			time = excluded.time,
			status = excluded.status,
			played = excluded.played,
			source = excluded.source,
			hash = excluded.hash,
			updated_at = excluded.updated_at`,
		m.ID, m.SenderID, m.ReceiverID, m.ShortName, m.Text, m.AudioPayload, m.Date, m.Time,
		m.Status, m.Played, m.Source, m.Hash, m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli())
	if err != nil {
		return errors.Wrapf(err, "upsert message %s", m.ID)
	}
	return nil
}

// UpsertMessage inserts or replaces a message (idempotent on id). The hash is
// recomputed and missing timestamps are filled in.
func (db *DB) UpsertMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	m.Rehash()
	return db.write(ctx, func(tx *sql.Tx) error {
		return upsertMessage(ctx, tx, m)
	})
}

// GetMessage returns a message by id, or nil when it does not exist.
func (db *DB) GetMessage(ctx context.Context, id string) (*Message, error) {
	return getMessage(ctx, db, id)
}

func (db *DB) listMessages(ctx context.Context, where string, args ...any) ([]Message, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// ListMessages returns every known message in creation order.
func (db *DB) ListMessages(ctx context.Context) ([]Message, error) {
	return db.listMessages(ctx, "")
}

// ListParticipating returns messages the device sent or receives.
func (db *DB) ListParticipating(ctx context.Context, deviceID string) ([]Message, error) {
	return db.listMessages(ctx, `WHERE sender_id = ? OR receiver_id = ?`, deviceID, deviceID)
}

// ListUndelivered returns locally originated not_delivered messages that
// have a receiver, i.e. the re-delivery backlog.
func (db *DB) ListUndelivered(ctx context.Context, deviceID string) ([]Message, error) {
	return db.listMessages(ctx, `WHERE status = ? AND sender_id = ? AND receiver_id <> ''`, status.NotDelivered, deviceID)
}

// KnownStatuses returns the {id, status} pairs of the messages deviceID takes part in.
func (db *DB) KnownStatuses(ctx context.Context, deviceID string) ([]StatusEntry, error) {
	msgs, err := db.ListParticipating(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	out := make([]StatusEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, StatusEntry{ID: m.ID, Status: m.Status})
	}
	return out, nil
}

// UpdateStatus sets a message's status and recomputes its hash and updatedAt.
// Without force, a status equal to the current one is a no-op. With force the
// row is rewritten anyway. Returns nil when nothing was written: unknown id,
// unchanged status, or a tombstoned message.
func (db *DB) UpdateStatus(ctx context.Context, id, newStatus string, force bool) (*StatusChange, error) {
	var change *StatusChange
	err := db.write(ctx, func(tx *sql.Tx) error {
		m, err := getMessage(ctx, tx, id)
		if err != nil || m == nil {
			return err
		}
		if !status.CanApply(m.Status, newStatus) {
			return nil
		}
		if m.Status == newStatus && !force {
			return nil
		}
		from := m.Status
		m.Status = newStatus
		m.UpdatedAt = time.Now()
		m.Rehash()
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET status = ?, hash = ?, updated_at = ? WHERE id = ?`,
			m.Status, m.Hash, m.UpdatedAt.UnixMilli(), m.ID); err != nil {
			return errors.Wrapf(err, "update status %s", id)
		}
		change = &StatusChange{ID: id, From: from, To: newStatus, Hash: m.Hash}
		return nil
	})
	return change, err
}

// MarkPlayed flags a message as played and moves it to the played status.
func (db *DB) MarkPlayed(ctx context.Context, id string) (*Message, error) {
	var out *Message
	err := db.write(ctx, func(tx *sql.Tx) error {
		m, err := getMessage(ctx, tx, id)
		if err != nil {
			return err
		}
		if m == nil {
			return errors.Wrapf(errors.ErrNotFound, "message %s", id)
		}
		if status.Terminal(m.Status) {
			return errors.Newf("message %s was deleted by peer", id)
		}
		m.Played = true
		m.Status = status.Played
		m.UpdatedAt = time.Now()
		m.Rehash()
		if err := upsertMessage(ctx, tx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// IngestResult says what IngestRemote did.
type IngestResult int

const (
	IngestUnchanged IngestResult = iota
	IngestInserted
	IngestStatusUpdated
)

// IngestRemote merges a relayed message. Unknown messages are inserted with
// source=remote; a message addressed to deviceID that the sender still sees
// as undelivered is stored as delivered. Known messages take the incoming
// status when it differs.
func (db *DB) IngestRemote(ctx context.Context, in *Message, deviceID string) (IngestResult, *Message, error) {
	if in.ID == "" {
		return IngestUnchanged, nil, errors.New("message id is required")
	}
	result := IngestUnchanged
	var stored *Message
	err := db.write(ctx, func(tx *sql.Tx) error {
		existing, err := getMessage(ctx, tx, in.ID)
		if err != nil {
			return err
		}
		now := time.Now()

		if existing == nil {
			m := *in
			m.Source = SourceRemote
			if m.Status == "" || (m.ReceiverID == deviceID && status.Undelivered(m.Status)) {
				m.Status = status.Delivered
			}
			if m.CreatedAt.IsZero() {
				m.CreatedAt = now
			}
			m.UpdatedAt = now
			m.Rehash()
			if err := upsertMessage(ctx, tx, &m); err != nil {
				return err
			}
			result, stored = IngestInserted, &m
			return nil
		}

		stored = existing
		if in.Status == existing.Status || !status.CanApply(existing.Status, in.Status) {
			return nil
		}
		existing.Status = in.Status
		existing.Played = existing.Played || in.Played
		existing.UpdatedAt = now
		existing.Rehash()
		if err := upsertMessage(ctx, tx, existing); err != nil {
			return err
		}
		result = IngestStatusUpdated
		return nil
	})
	return result, stored, err
}

// ClearMessages deletes every message. Used by the history reset.
func (db *DB) ClearMessages(ctx context.Context) (int64, error) {
	var n int64
	err := db.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM messages`)
		if err != nil {
			return errors.Wrap(err, "clear messages")
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
