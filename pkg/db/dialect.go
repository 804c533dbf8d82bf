package db

import (
	"fmt"

	"github.com/coursekit/enroll/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch cfg.DBType {
	case "mysql":
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBHost,
			cfg.DBPort,
			cfg.DBName,
		)), nil
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBPort,
			cfg.DBSSLMode,
		)), nil
	case "sqlite":
		return sqlite.Open("enroll.db"), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.DBType)
	}
}

// LockSuffix returns the row-claiming clause for the connected dialect.
// sqlite has no row locks; its single-writer model makes the clause redundant,
// so queries stay valid across all three dialects.
func LockSuffix(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	switch conn.Dialector.Name() {
	case "postgres", "mysql":
		return "FOR UPDATE SKIP LOCKED"
	default:
		return ""
	}
}
