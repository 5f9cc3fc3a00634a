package store

import (
	"database/sql"

	"codeberg.org/mutker/bmcmon/internal/errors"
	"codeberg.org/mutker/bmcmon/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	CREATE TABLE IF NOT EXISTS schema_versions (
	    version     INTEGER PRIMARY KEY,
	    applied_at  TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS entities (
	    id                        TEXT PRIMARY KEY,
	    name                      TEXT NOT NULL,
	    vendor                    TEXT NOT NULL,
	    host                      TEXT NOT NULL,
	    port                      INTEGER NOT NULL DEFAULT 623,
	    username_encrypted        TEXT NOT NULL,
	    password_encrypted        TEXT NOT NULL,
	    poll_interval             INTEGER NOT NULL DEFAULT 300,
	    zones                     TEXT,
	    alert_config              TEXT,
	    channel_ids               TEXT,
	    offline_threshold_minutes INTEGER NOT NULL DEFAULT 15,
	    last_successful_poll      INTEGER,
	    created_at                INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS fan_overrides (
	    id             TEXT PRIMARY KEY,
	    entity_id      TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	    fan_identifier TEXT NOT NULL,
	    min_rpm        INTEGER,
	    max_rpm        INTEGER,
	    lower_temp_c   INTEGER,
	    upper_temp_c   INTEGER
	);
	CREATE TABLE IF NOT EXISTS channels (
	    id                 TEXT PRIMARY KEY,
	    name               TEXT NOT NULL,
	    type               TEXT NOT NULL,
	    endpoint_encrypted TEXT NOT NULL,
	    enabled            INTEGER NOT NULL DEFAULT 1,
	    metadata           TEXT,
	    created_at         INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS alerts (
	    id                 TEXT PRIMARY KEY,
	    entity_id          TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	    kind               TEXT NOT NULL,
	    message            TEXT NOT NULL,
	    first_triggered_at INTEGER NOT NULL,
	    last_updated_at    INTEGER NOT NULL,
	    cleared_at         INTEGER,
	    cleared_by         TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_live_alert
	    ON alerts(entity_id, kind) WHERE cleared_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_alerts_entity ON alerts(entity_id);`
)

// initSchema creates the schema when missing and records the version.
func initSchema(db *sql.DB) error {
	errFactory := errors.New()

	version, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if version == SchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback schema transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaFailed, err)
	}

	if _, err := tx.Exec(`
	    INSERT OR IGNORE INTO schema_versions (version, applied_at)
	    VALUES (?, datetime('now'))
	`, SchemaVersion); err != nil {
		return errFactory.Wrap(ErrSchemaFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaFailed, err)
	}
	committed = true

	logger.Info().Int("version", SchemaVersion).Msg("Schema initialized")

	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	var exists bool
	err := db.QueryRow(`
	    SELECT EXISTS (
	        SELECT 1 FROM sqlite_master
	        WHERE type='table' AND name='schema_versions'
	    )
	`).Scan(&exists)
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
	    SELECT version FROM schema_versions
	    ORDER BY version DESC LIMIT 1
	`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaFailed, err)
	}

	return version, nil
}
