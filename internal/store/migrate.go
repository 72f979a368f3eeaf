package store

import (
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/store/migrations"
)

// SchemaChange reports the schema version before and after Migrate.
// From is zero for a fresh database.
type SchemaChange struct {
	From    uint
	Version uint
}

// Changed reports whether any migration ran.
func (c SchemaChange) Changed() bool { return c.From != c.Version }

// Migrate brings the messages, blocks and journal tables up to the latest
// schema. A database left dirty by an interrupted migration is refused.
func (db *DB) Migrate() (SchemaChange, error) {
	m, err := db.migrator()
	if err != nil {
		return SchemaChange{}, err
	}

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return SchemaChange{}, errors.Wrap(err, "read schema version")
	case dirty:
		return SchemaChange{}, errors.WithHint(
			errors.Newf("memo store schema %d is dirty", from),
			"a previous upgrade was interrupted; run `memoctl device reset --clear-history` to rebuild the store")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return SchemaChange{From: from}, errors.Wrapf(err, "upgrade memo store from schema %d", from)
	}

	to, _, err := m.Version()
	if err != nil {
		return SchemaChange{From: from}, errors.Wrap(err, "read schema version")
	}
	return SchemaChange{From: from, Version: to}, nil
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, errors.Wrap(err, "open embedded schema")
	}
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "bind schema driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return nil, errors.Wrap(err, "create migrator")
	}
	return m, nil
}
