package config

import (
	"database/sql"
	"strings"

	_ "github.com/lib/pq"
	"gorm.io/gorm/logger"
)

// NewPostgres only prepares the pool; the first query opens a connection.
func NewPostgres(cfg Postgres) (*sql.DB, error) {
	return sql.Open("postgres", cfg.Dsn)
}

func GormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
