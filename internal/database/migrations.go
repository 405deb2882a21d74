package database

import (
	"errors"
	"strings"
	"time"

	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/kvstore"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/progression"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const migrationRenameLegacyProgressKeys = "2024-06-01_rename_legacy_progress_keys"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

// legacyKeyPrefixes maps the key names written by the browser client onto the
// current key scheme.
var legacyKeyPrefixes = []struct {
	legacy  string
	current string
}{
	{legacy: "gamification_", current: progression.StatsKeyPrefix},
	{legacy: "achievements_", current: progression.AchievementsKeyPrefix},
	{legacy: "events_", current: progression.EventsKeyPrefix},
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	logger = loggerOrNop(logger)
	migrations := []migrationDefinition{
		{name: migrationRenameLegacyProgressKeys, apply: renameLegacyProgressKeys},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx, logger); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// renameLegacyProgressKeys moves every legacy entry to its current key. An
// entry already present under the current key wins and the legacy copy is
// discarded.
func renameLegacyProgressKeys(tx *gorm.DB, logger *zap.Logger) error {
	for _, mapping := range legacyKeyPrefixes {
		var legacyEntries []kvstore.Entry
		err := tx.Where("entry_key LIKE ? ESCAPE '\\'", escapeLikePattern(mapping.legacy)+"%").
			Find(&legacyEntries).Error
		if err != nil {
			return err
		}
		for _, entry := range legacyEntries {
			userID := strings.TrimPrefix(entry.Key, mapping.legacy)
			if strings.TrimSpace(userID) == "" {
				continue
			}
			renamed := entry
			renamed.Key = mapping.current + userID
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&renamed)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				logger.Warn("legacy progress key shadowed by current key",
					zap.String("key", entry.Key),
					zap.String("current_key", renamed.Key))
			}
			if err := tx.Where("entry_key = ?", entry.Key).Delete(&kvstore.Entry{}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func escapeLikePattern(value string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(value)
}
