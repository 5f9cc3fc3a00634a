package store

import (
	"context"
	"database/sql"
	"time"

	"codeberg.org/mutker/bmcmon/internal/errors"
	"github.com/google/uuid"
)

type alertRepository struct {
	db *sql.DB
}

// Activate creates a live (entity, kind) record on first detection, or
// refreshes last_updated_at when one already exists. The read-modify-write
// runs in a single immediate transaction so a concurrent writer for the same
// pair cannot create a second live row: the partial unique index on live
// alerts backstops the invariant.
func (r *alertRepository) Activate(ctx context.Context, entityID string, kind AlertKind, message string) (Transition, error) {
	errFactory := errors.New()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return TransitionAlreadyActive, errFactory.Wrap(ErrTxFailed, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Unix()

	var id string
	err = tx.QueryRowContext(ctx, `
	    SELECT id FROM alerts
	    WHERE entity_id = ? AND kind = ? AND cleared_at IS NULL
	`, entityID, kind).Scan(&id)

	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE alerts SET last_updated_at = ? WHERE id = ?`, now, id,
		); err != nil {
			return TransitionAlreadyActive, errFactory.Wrap(ErrStorageAccess, err)
		}
		if err := tx.Commit(); err != nil {
			return TransitionAlreadyActive, errFactory.Wrap(ErrTxFailed, err)
		}

		return TransitionAlreadyActive, nil

	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
		    INSERT INTO alerts (id, entity_id, kind, message, first_triggered_at, last_updated_at)
		    VALUES (?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), entityID, kind, message, now, now); err != nil {
			return TransitionAlreadyActive, errFactory.Wrap(ErrStorageAccess, err)
		}
		if err := tx.Commit(); err != nil {
			return TransitionAlreadyActive, errFactory.Wrap(ErrTxFailed, err)
		}

		return TransitionActivated, nil

	default:
		return TransitionAlreadyActive, errFactory.Wrap(ErrStorageAccess, err)
	}
}

// ClearIfActive stamps the live (entity, kind) record cleared with the given
// actor, or reports NotActive when there is nothing to clear. The single
// UPDATE is atomic under SQLite's writer lock.
func (r *alertRepository) ClearIfActive(ctx context.Context, entityID string, kind AlertKind, actor string) (Transition, error) {
	errFactory := errors.New()

	now := time.Now().UTC().Unix()
	result, err := r.db.ExecContext(ctx, `
	    UPDATE alerts
	    SET cleared_at = ?, cleared_by = ?, last_updated_at = ?
	    WHERE entity_id = ? AND kind = ? AND cleared_at IS NULL
	`, now, actor, now, entityID, kind)
	if err != nil {
		return TransitionNotActive, errFactory.Wrap(ErrStorageAccess, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return TransitionNotActive, errFactory.Wrap(ErrStorageAccess, err)
	}
	if affected == 0 {
		return TransitionNotActive, nil
	}

	return TransitionCleared, nil
}

const alertColumns = `id, entity_id, kind, message, first_triggered_at, last_updated_at, cleared_at, cleared_by`

// ListLive returns all live alerts, filtered to one entity when entityID is
// non-empty.
func (r *alertRepository) ListLive(ctx context.Context, entityID string) ([]*Alert, error) {
	errFactory := errors.New()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE cleared_at IS NULL`
	args := []any{}
	if entityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, entityID)
	}
	query += ` ORDER BY first_triggered_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return alerts, nil
}

// List returns the full alert history for one entity, newest first. Cleared
// records are retained for audit until the entity itself is deleted.
func (r *alertRepository) List(ctx context.Context, entityID string) ([]*Alert, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE entity_id = ? ORDER BY first_triggered_at DESC`,
		entityID)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return alerts, nil
}

func (r *alertRepository) CountLive(ctx context.Context) (int, error) {
	errFactory := errors.New()

	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE cleared_at IS NULL`,
	).Scan(&count); err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	return count, nil
}

func scanAlert(row rowScanner) (*Alert, error) {
	var alert Alert
	var firstTriggered, lastUpdated int64
	var clearedAt sql.NullInt64
	var clearedBy sql.NullString

	if err := row.Scan(
		&alert.ID, &alert.EntityID, &alert.Kind, &alert.Message,
		&firstTriggered, &lastUpdated, &clearedAt, &clearedBy,
	); err != nil {
		return nil, err
	}

	alert.FirstTriggeredAt = time.Unix(firstTriggered, 0).UTC()
	alert.LastUpdatedAt = time.Unix(lastUpdated, 0).UTC()
	if clearedAt.Valid {
		t := time.Unix(clearedAt.Int64, 0).UTC()
		alert.ClearedAt = &t
	}
	if clearedBy.Valid {
		alert.ClearedBy = clearedBy.String
	}

	return &alert, nil
}
