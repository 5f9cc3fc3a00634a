package store

import "codeberg.org/mutker/bmcmon/internal/errors"

const (
	ErrInvalidDBPath   = errors.ErrorCode("store_invalid_db_path")
	ErrStorageInit     = errors.ErrorCode("store_init_failed")
	ErrStorageAccess   = errors.ErrorCode("store_access_failed")
	ErrStorageClose    = errors.ErrorCode("store_close_failed")
	ErrSchemaFailed    = errors.ErrorCode("store_schema_failed")
	ErrTxFailed        = errors.ErrorCode("store_transaction_failed")
	ErrEntityNotFound  = errors.ErrorCode("store_entity_not_found")
	ErrChannelNotFound = errors.ErrorCode("store_channel_not_found")
	ErrInvalidEntity   = errors.ErrorCode("store_invalid_entity")
	ErrInvalidChannel  = errors.ErrorCode("store_invalid_channel")
)
