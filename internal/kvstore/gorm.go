package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnEntryKey     = "entry_key"
	columnValueJSON    = "value_json"
	columnUpdatedAtSec = "updated_at_s"
	likeEscape         = `\`
)

var errMissingDatabase = errors.New("kvstore: database handle is required")

// Entry is the row backing a single key in SQL-backed stores.
type Entry struct {
	Key              string `gorm:"column:entry_key;primaryKey;size:190;not null"`
	ValueJSON        string `gorm:"column:value_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "kv_entries"
}

// GormStore persists documents in the kv_entries table of any GORM dialect
// (SQLite and PostgreSQL are wired by the database package).
type GormStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewGormStore wraps an opened GORM handle. The kv_entries table must already
// be migrated.
func NewGormStore(db *gorm.DB, clock func() time.Time) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &GormStore{db: db, clock: clock}, nil
}

func (s *GormStore) Read(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	var entry Entry
	err := s.db.WithContext(ctx).
		Where(columnEntryKey+" = ?", key).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(entry.ValueJSON), true, nil
}

func (s *GormStore) Write(ctx context.Context, key string, value json.RawMessage) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	entry := Entry{
		Key:              key,
		ValueJSON:        string(value),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnEntryKey}},
			DoUpdates: clause.AssignmentColumns([]string{columnValueJSON, columnUpdatedAtSec}),
		}).
		Create(&entry).Error
}

func (s *GormStore) ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&Entry{}).
		Where(columnEntryKey+" LIKE ? ESCAPE '"+likeEscape+"'", escapeLike(prefix)+"%").
		Order(columnEntryKey+" ASC").
		Pluck(columnEntryKey, &keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return replacer.Replace(value)
}
