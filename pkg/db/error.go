package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsSerializationErr reports writer contention that is safe to retry on the
// next cycle without surfacing to the caller.
func IsSerializationErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "could not serialize access") {
		return true
	}
	if strings.Contains(msg, "deadlock detected") {
		return true
	}
	if strings.Contains(msg, "Deadlock found") {
		return true
	}
	if strings.Contains(msg, "database is locked") {
		return true
	}
	return false
}
