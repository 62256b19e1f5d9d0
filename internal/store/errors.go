package store

import "codeberg.org/mutker/powermon/internal/errors"

const (
	// Configuration errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("store_invalid_db_path")

	// Schema errors
	ErrSchemaInitFailed = errors.ErrorCode("store_schema_init_failed")

	// Storage errors
	ErrStorageAccess = errors.ErrStorageAccess
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed
)
