package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"codeberg.org/mutker/bmcmon/internal/errors"
	"github.com/google/uuid"
)

type channelRepository struct {
	db *sql.DB
}

func validChannelType(channelType string) bool {
	switch channelType {
	case ChannelSlack, ChannelTeams, ChannelDiscord, ChannelTelegram:
		return true
	default:
		return false
	}
}

func (r *channelRepository) Save(ctx context.Context, channel *Channel) error {
	errFactory := errors.New()

	if channel.Name == "" || channel.EndpointEncrypted == "" {
		return errFactory.WithMessage(ErrInvalidChannel, "name and endpoint are required")
	}
	if !validChannelType(channel.Type) {
		return errFactory.WithData(ErrInvalidChannel, channel.Type)
	}
	if channel.ID == "" {
		channel.ID = uuid.NewString()
	}
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = time.Now().UTC()
	}

	metadata, err := json.Marshal(channel.Metadata)
	if err != nil {
		return errFactory.Wrap(ErrInvalidChannel, err)
	}

	if _, err := r.db.ExecContext(ctx, `
	    INSERT INTO channels (id, name, type, endpoint_encrypted, enabled, metadata, created_at)
	    VALUES (?, ?, ?, ?, ?, ?, ?)
	    ON CONFLICT(id) DO UPDATE SET
	        name = excluded.name,
	        type = excluded.type,
	        endpoint_encrypted = excluded.endpoint_encrypted,
	        enabled = excluded.enabled,
	        metadata = excluded.metadata
	`, channel.ID, channel.Name, channel.Type, channel.EndpointEncrypted,
		boolToInt(channel.Enabled), string(metadata), channel.CreatedAt.Unix(),
	); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

const channelColumns = `id, name, type, endpoint_encrypted, enabled, metadata, created_at`

func (r *channelRepository) Get(ctx context.Context, id string) (*Channel, error) {
	errFactory := errors.New()

	row := r.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	channel, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errFactory.WithData(ErrChannelNotFound, id)
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return channel, nil
}

func (r *channelRepository) List(ctx context.Context) ([]*Channel, error) {
	return r.query(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY created_at`)
}

// ListEnabledByIDs returns the enabled subset of the referenced channels.
func (r *channelRepository) ListEnabledByIDs(ctx context.Context, ids []string) ([]*Channel, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return r.query(ctx,
		`SELECT `+channelColumns+` FROM channels
		 WHERE enabled = 1 AND id IN (`+placeholders+`)
		 ORDER BY created_at`, args...)
}

func (r *channelRepository) Delete(ctx context.Context, id string) error {
	errFactory := errors.New()

	result, err := r.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if affected == 0 {
		return errFactory.WithData(ErrChannelNotFound, id)
	}

	return nil
}

func (r *channelRepository) query(ctx context.Context, query string, args ...any) ([]*Channel, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		channels = append(channels, channel)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return channels, nil
}

func scanChannel(row rowScanner) (*Channel, error) {
	var channel Channel
	var enabled int
	var metadata sql.NullString
	var createdAt int64

	if err := row.Scan(
		&channel.ID, &channel.Name, &channel.Type, &channel.EndpointEncrypted,
		&enabled, &metadata, &createdAt,
	); err != nil {
		return nil, err
	}

	channel.Enabled = enabled != 0
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &channel.Metadata); err != nil {
			return nil, err
		}
	}
	channel.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &channel, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
