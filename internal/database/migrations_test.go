package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/kvstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsRenamesLegacyProgressKeys(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&kvstore.Entry{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	seed := []kvstore.Entry{
		{Key: "gamification_user-1", ValueJSON: `{"userId":"user-1","points":40}`, UpdatedAtSeconds: 1},
		{Key: "achievements_user-1", ValueJSON: `[]`, UpdatedAtSeconds: 1},
		{Key: "events_user-1", ValueJSON: `[]`, UpdatedAtSeconds: 1},
		{Key: "gamification_user-2", ValueJSON: `{"userId":"user-2","points":1}`, UpdatedAtSeconds: 1},
		{Key: "stats:user-2", ValueJSON: `{"userId":"user-2","points":99}`, UpdatedAtSeconds: 2},
		{Key: "gamificationXuser-3", ValueJSON: `{}`, UpdatedAtSeconds: 1},
	}
	if err := database.Create(&seed).Error; err != nil {
		testContext.Fatalf("failed to seed entries: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	expected := map[string]string{
		"stats:user-1":        `{"userId":"user-1","points":40}`,
		"achievements:user-1": `[]`,
		"events:user-1":       `[]`,
		"stats:user-2":        `{"userId":"user-2","points":99}`,
		"gamificationXuser-3": `{}`,
	}
	var stored []kvstore.Entry
	if err := database.Order("entry_key").Find(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload entries: %v", err)
	}
	if len(stored) != len(expected) {
		testContext.Fatalf("expected %d entries, got %d: %+v", len(expected), len(stored), stored)
	}
	for _, entry := range stored {
		if value, ok := expected[entry.Key]; !ok || value != entry.ValueJSON {
			testContext.Fatalf("unexpected entry %s=%s", entry.Key, entry.ValueJSON)
		}
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationRenameLegacyProgressKeys).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected re-run to be a no-op: %v", err)
	}
}

func TestOpenSQLitePreparesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "clinicprogress.db")
	database, err := OpenSQLite(databasePath, nil)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	defer sqlDB.Close()

	for _, table := range []string{"kv_entries", "user_identities", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
	if _, err := OpenSQLite(" ", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
	if _, err := OpenPostgres("", nil); err == nil {
		testContext.Fatalf("expected error for empty dsn")
	}
}
