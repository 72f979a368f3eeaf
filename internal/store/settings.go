package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/matheus3301/remotememo/internal/errors"
)

// Setting keys.
const (
	KeyDeviceID           = "deviceId"
	KeyPeerID             = "peerId"
	KeyRelayURL           = "relayUrl"
	KeyMessageExpiryHours = "messageExpiryHours"
)

// DefaultExpiryHours applies when messageExpiryHours is unset or invalid.
const DefaultExpiryHours = 24

// GetSetting returns the value for key and whether it exists.
func (db *DB) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get setting %s", key)
	}
	return value, true, nil
}

// SetSetting stores value under key.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	return db.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, time.Now().UnixMilli())
		if err != nil {
			return errors.Wrapf(err, "set setting %s", key)
		}
		return nil
	})
}

// RemoveSetting deletes key. Removing a missing key is not an error.
func (db *DB) RemoveSetting(ctx context.Context, key string) error {
	return db.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
			return errors.Wrapf(err, "remove setting %s", key)
		}
		return nil
	})
}

// Retention returns the block retention window from messageExpiryHours,
// falling back to DefaultExpiryHours.
func (db *DB) Retention(ctx context.Context) (time.Duration, error) {
	raw, ok, err := db.GetSetting(ctx, KeyMessageExpiryHours)
	if err != nil {
		return 0, err
	}
	hours := DefaultExpiryHours
	if ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			hours = n
		}
	}
	return time.Duration(hours) * time.Hour, nil
}
