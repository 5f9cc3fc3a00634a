// Package store persists monitored entities, notification channels and
// durable alert state in SQLite.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	"codeberg.org/mutker/bmcmon/internal/errors"
	_ "github.com/mattn/go-sqlite3"
)

const defaultDirPerm = 0o755

// Store bundles the repositories sharing one SQLite handle.
type Store struct {
	db       *sql.DB
	Entities EntityRepository
	Channels ChannelRepository
	Alerts   AlertRepository
}

// Open opens (creating if necessary) the database at path. ":memory:" opens
// a private in-memory database, used by tests. Writers take the database
// lock up front (_txlock=immediate) so activate/clear read-modify-writes
// serialize instead of failing on upgrade.
func Open(path string) (*Store, error) {
	errFactory := errors.New()

	if path == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
			return nil, errFactory.Wrap(ErrStorageInit, err)
		}
	}

	dsn := path + "?_journal=WAL&_fk=1&_txlock=immediate&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	// A single connection keeps the in-memory database alive and sidesteps
	// SQLITE_BUSY between the per-entity pollers and the staleness sweep.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:       db,
		Entities: &entityRepository{db: db},
		Channels: &channelRepository{db: db},
		Alerts:   &alertRepository{db: db},
	}, nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	errFactory := errors.New()

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		// In-memory databases have no WAL to checkpoint.
		if err := s.db.Close(); err != nil {
			return errFactory.Wrap(ErrStorageClose, err)
		}
		return nil
	}

	if err := s.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	return nil
}
