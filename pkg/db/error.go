package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsDuplicateKeyErr reports whether err is a unique-constraint violation on
// any of the supported backends.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()

	// PostgreSQL (23505)
	if strings.Contains(msg, "duplicate key value violates unique constraint") {
		return true
	}
	// MySQL (1062)
	if strings.Contains(msg, "Error 1062") {
		return true
	}
	// SQLite (2067)
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsMissingTableErr reports whether err means the schema has not been
// migrated yet (relation/table does not exist).
func IsMissingTableErr(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	// SQLite
	if strings.Contains(msg, "no such table") {
		return true
	}
	// PostgreSQL (42P01)
	if strings.Contains(msg, "does not exist") && strings.Contains(msg, "relation") {
		return true
	}
	// MySQL (1146)
	if strings.Contains(msg, "error 1146") || strings.Contains(msg, "doesn't exist") {
		return true
	}

	return false
}

// IsLockedErr reports whether err is transient lock contention worth
// retrying: SQLite busy/locked or a serialization failure on MVCC backends.
func IsLockedErr(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return true
	}
	// SQLITE_BUSY surfaced by the pure-Go driver
	if strings.Contains(msg, "sqlite_busy") {
		return true
	}
	// PostgreSQL 40001/40P01
	if strings.Contains(msg, "could not serialize access") || strings.Contains(msg, "deadlock detected") {
		return true
	}

	return false
}
