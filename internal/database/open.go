package database

import (
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/kvstore"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/users"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := prepare(db, logger); err != nil {
		return nil, err
	}
	loggerOrNop(logger).Info("database initialized", zap.String("driver", "sqlite"), zap.String("path", path))
	return db, nil
}

// OpenPostgres connects to PostgreSQL through the pgx-backed GORM driver and
// performs schema migrations.
func OpenPostgres(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := prepare(db, logger); err != nil {
		return nil, err
	}
	loggerOrNop(logger).Info("database initialized", zap.String("driver", "postgres"))
	return db, nil
}

func prepare(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&kvstore.Entry{}, &users.Identity{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
