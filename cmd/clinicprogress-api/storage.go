package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/config"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/database"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/kvstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const inMemoryDirectoryPath = "file::memory:"

// storage bundles the progression document store with the relational
// database that keeps the user directory.
type storage struct {
	store     kvstore.Store
	directory *gorm.DB
	closers   []func() error
}

func openStorage(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*storage, error) {
	opened := &storage{}

	switch appConfig.StoreBackend {
	case config.StoreBackendMemory:
		db, err := opened.openDirectory(database.OpenSQLite(inMemoryDirectoryPath, logger))
		if err != nil {
			return nil, err
		}
		opened.directory = db
		opened.store = kvstore.NewMemoryStore()
	case config.StoreBackendSQLite, config.StoreBackendPostgres:
		var (
			db  *gorm.DB
			err error
		)
		if appConfig.StoreBackend == config.StoreBackendSQLite {
			db, err = opened.openDirectory(database.OpenSQLite(appConfig.DatabasePath, logger))
		} else {
			db, err = opened.openDirectory(database.OpenPostgres(appConfig.DatabaseDSN, logger))
		}
		if err != nil {
			return nil, err
		}
		store, err := kvstore.NewGormStore(db, time.Now)
		if err != nil {
			opened.Close()
			return nil, err
		}
		opened.directory = db
		opened.store = store
	case config.StoreBackendRedis:
		db, err := opened.openDirectory(database.OpenSQLite(appConfig.DatabasePath, logger))
		if err != nil {
			return nil, err
		}
		store, err := kvstore.NewRedisStore(ctx, kvstore.RedisConfig{
			Address:   appConfig.RedisAddress,
			Password:  appConfig.RedisPassword,
			DB:        appConfig.RedisDB,
			KeyPrefix: appConfig.RedisKeyPrefix,
		})
		if err != nil {
			opened.Close()
			return nil, err
		}
		opened.closers = append(opened.closers, store.Close)
		opened.directory = db
		opened.store = store
	default:
		return nil, fmt.Errorf("unsupported store backend %q", appConfig.StoreBackend)
	}

	logger.Info("progression store ready", zap.String("backend", appConfig.StoreBackend))
	return opened, nil
}

func (s *storage) openDirectory(db *gorm.DB, err error) (*gorm.DB, error) {
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, sqlDB.Close)
	return db, nil
}

// Close releases every connection in reverse order of opening.
func (s *storage) Close() error {
	var errs []error
	for index := len(s.closers) - 1; index >= 0; index-- {
		if err := s.closers[index](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
