package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"codeberg.org/mutker/bmcmon/internal/errors"
	"github.com/google/uuid"
)

// Poll interval bounds in seconds.
const (
	MinPollInterval = 30
	MaxPollInterval = 86400
)

type entityRepository struct {
	db *sql.DB
}

// clampPollInterval bounds a configured interval. Zero stays zero and means
// unset, so the process default applies at scheduling time.
func clampPollInterval(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	if seconds < MinPollInterval {
		return MinPollInterval
	}
	if seconds > MaxPollInterval {
		return MaxPollInterval
	}

	return seconds
}

// Save upserts the entity and its fan overrides. Live alerts of kinds the
// update disables are cleared by the caller through the alert repository, so
// the cleared notification still goes out on the edge.
func (r *entityRepository) Save(ctx context.Context, entity *Entity) error {
	errFactory := errors.New()

	if entity.Name == "" || entity.Host == "" || entity.Vendor == "" {
		return errFactory.WithMessage(ErrInvalidEntity, "name, host and vendor are required")
	}
	if entity.ID == "" {
		entity.ID = uuid.NewString()
	}
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now().UTC()
	}
	entity.PollIntervalSeconds = clampPollInterval(entity.PollIntervalSeconds)

	zones, err := json.Marshal(entity.Zones)
	if err != nil {
		return errFactory.Wrap(ErrInvalidEntity, err)
	}
	alertConfig, err := json.Marshal(entity.AlertConfig)
	if err != nil {
		return errFactory.Wrap(ErrInvalidEntity, err)
	}
	channelIDs, err := json.Marshal(entity.ChannelIDs)
	if err != nil {
		return errFactory.Wrap(ErrInvalidEntity, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrTxFailed, err)
	}
	defer tx.Rollback()

	var lastPoll sql.NullInt64
	if entity.LastSuccessfulPoll != nil {
		lastPoll = sql.NullInt64{Int64: entity.LastSuccessfulPoll.Unix(), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
	    INSERT INTO entities (
	        id, name, vendor, host, port,
	        username_encrypted, password_encrypted,
	        poll_interval, zones, alert_config, channel_ids,
	        offline_threshold_minutes, last_successful_poll, created_at
	    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	    ON CONFLICT(id) DO UPDATE SET
	        name = excluded.name,
	        vendor = excluded.vendor,
	        host = excluded.host,
	        port = excluded.port,
	        username_encrypted = excluded.username_encrypted,
	        password_encrypted = excluded.password_encrypted,
	        poll_interval = excluded.poll_interval,
	        zones = excluded.zones,
	        alert_config = excluded.alert_config,
	        channel_ids = excluded.channel_ids,
	        offline_threshold_minutes = excluded.offline_threshold_minutes
	`,
		entity.ID, entity.Name, entity.Vendor, entity.Host, entity.Port,
		entity.UsernameEncrypted, entity.PasswordEncrypted,
		entity.PollIntervalSeconds, string(zones), string(alertConfig), string(channelIDs),
		entity.OfflineThresholdMinutes, lastPoll, entity.CreatedAt.Unix(),
	); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fan_overrides WHERE entity_id = ?`, entity.ID); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	for i := range entity.FanOverrides {
		override := &entity.FanOverrides[i]
		if override.ID == "" {
			override.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, `
		    INSERT INTO fan_overrides (id, entity_id, fan_identifier, min_rpm, max_rpm, lower_temp_c, upper_temp_c)
		    VALUES (?, ?, ?, ?, ?, ?, ?)
		`, override.ID, entity.ID, override.FanIdentifier,
			nullInt(override.MinRPM), nullInt(override.MaxRPM),
			nullInt(override.LowerTempC), nullInt(override.UpperTempC),
		); err != nil {
			return errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTxFailed, err)
	}

	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

const entityColumns = `
    id, name, vendor, host, port,
    username_encrypted, password_encrypted,
    poll_interval, zones, alert_config, channel_ids,
    offline_threshold_minutes, last_successful_poll, created_at`

func (r *entityRepository) Get(ctx context.Context, id string) (*Entity, error) {
	errFactory := errors.New()

	row := r.db.QueryRowContext(ctx, `SELECT`+entityColumns+` FROM entities WHERE id = ?`, id)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errFactory.WithData(ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	if err := r.loadOverrides(ctx, entity); err != nil {
		return nil, err
	}

	return entity, nil
}

func (r *entityRepository) List(ctx context.Context) ([]*Entity, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, `SELECT`+entityColumns+` FROM entities ORDER BY created_at`)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	for _, entity := range entities {
		if err := r.loadOverrides(ctx, entity); err != nil {
			return nil, err
		}
	}

	return entities, nil
}

func (r *entityRepository) Delete(ctx context.Context, id string) error {
	errFactory := errors.New()

	result, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if affected == 0 {
		return errFactory.WithData(ErrEntityNotFound, id)
	}

	return nil
}

func (r *entityRepository) TouchLastPoll(ctx context.Context, id string, at time.Time) error {
	errFactory := errors.New()

	if _, err := r.db.ExecContext(ctx,
		`UPDATE entities SET last_successful_poll = ? WHERE id = ?`,
		at.Unix(), id,
	); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var entity Entity
	var zones, alertConfig, channelIDs sql.NullString
	var lastPoll sql.NullInt64
	var createdAt int64

	if err := row.Scan(
		&entity.ID, &entity.Name, &entity.Vendor, &entity.Host, &entity.Port,
		&entity.UsernameEncrypted, &entity.PasswordEncrypted,
		&entity.PollIntervalSeconds, &zones, &alertConfig, &channelIDs,
		&entity.OfflineThresholdMinutes, &lastPoll, &createdAt,
	); err != nil {
		return nil, err
	}

	if zones.Valid && zones.String != "" {
		if err := json.Unmarshal([]byte(zones.String), &entity.Zones); err != nil {
			return nil, err
		}
	}
	if alertConfig.Valid && alertConfig.String != "" {
		if err := json.Unmarshal([]byte(alertConfig.String), &entity.AlertConfig); err != nil {
			return nil, err
		}
	}
	if channelIDs.Valid && channelIDs.String != "" {
		if err := json.Unmarshal([]byte(channelIDs.String), &entity.ChannelIDs); err != nil {
			return nil, err
		}
	}
	if lastPoll.Valid {
		t := time.Unix(lastPoll.Int64, 0).UTC()
		entity.LastSuccessfulPoll = &t
	}
	entity.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &entity, nil
}

func (r *entityRepository) loadOverrides(ctx context.Context, entity *Entity) error {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, `
	    SELECT id, fan_identifier, min_rpm, max_rpm, lower_temp_c, upper_temp_c
	    FROM fan_overrides WHERE entity_id = ? ORDER BY fan_identifier
	`, entity.ID)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	for rows.Next() {
		var override FanOverride
		var minRPM, maxRPM, lowerTemp, upperTemp sql.NullInt64
		if err := rows.Scan(&override.ID, &override.FanIdentifier, &minRPM, &maxRPM, &lowerTemp, &upperTemp); err != nil {
			return errFactory.Wrap(ErrStorageAccess, err)
		}
		override.MinRPM = intPtr(minRPM)
		override.MaxRPM = intPtr(maxRPM)
		override.LowerTempC = intPtr(lowerTemp)
		override.UpperTempC = intPtr(upperTemp)
		entity.FanOverrides = append(entity.FanOverrides, override)
	}

	return rows.Err()
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	value := int(v.Int64)

	return &value
}
