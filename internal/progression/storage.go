package progression

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/kvstore"
)

const (
	StatsKeyPrefix        = "stats:"
	AchievementsKeyPrefix = "achievements:"
	EventsKeyPrefix       = "events:"
)

func statsKey(userID string) string        { return StatsKeyPrefix + userID }
func achievementsKey(userID string) string { return AchievementsKeyPrefix + userID }
func eventsKey(userID string) string       { return EventsKeyPrefix + userID }

// achievementRecord is the persisted unlock state of one achievement. The
// definition itself is never stored; it is merged back from the catalog by ID.
type achievementRecord struct {
	ID         string     `json:"id"`
	IsUnlocked bool       `json:"isUnlocked"`
	UnlockedAt *time.Time `json:"unlockedAt,omitempty"`
	Progress   int        `json:"progress"`
}

type userRepository struct {
	store kvstore.Store
}

func (r userRepository) loadStats(ctx context.Context, userID string) (UserStats, bool, error) {
	var stats UserStats
	found, err := r.readJSON(ctx, statsKey(userID), &stats)
	return stats, found, err
}

func (r userRepository) saveStats(ctx context.Context, stats UserStats) error {
	return r.writeJSON(ctx, statsKey(stats.UserID), stats)
}

func (r userRepository) loadAchievementRecords(ctx context.Context, userID string) ([]achievementRecord, error) {
	var records []achievementRecord
	if _, err := r.readJSON(ctx, achievementsKey(userID), &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r userRepository) saveAchievements(ctx context.Context, userID string, achievements []Achievement) error {
	records := make([]achievementRecord, 0, len(achievements))
	for _, achievement := range achievements {
		records = append(records, achievementRecord{
			ID:         achievement.ID,
			IsUnlocked: achievement.IsUnlocked,
			UnlockedAt: achievement.UnlockedAt,
			Progress:   achievement.Progress,
		})
	}
	return r.writeJSON(ctx, achievementsKey(userID), records)
}

func (r userRepository) loadEvents(ctx context.Context, userID string) ([]Event, error) {
	var events []Event
	if _, err := r.readJSON(ctx, eventsKey(userID), &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (r userRepository) saveEvents(ctx context.Context, userID string, events []Event) error {
	if events == nil {
		events = []Event{}
	}
	return r.writeJSON(ctx, eventsKey(userID), events)
}

func (r userRepository) readJSON(ctx context.Context, key string, target any) (bool, error) {
	raw, found, err := r.store.Read(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (r userRepository) writeJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.store.Write(ctx, key, raw)
}

// mergeAchievements pairs every catalog definition with its persisted state.
// Definitions missing from the records start locked at zero progress; records
// for retired definitions are dropped.
func mergeAchievements(catalog Catalog, records []achievementRecord) []Achievement {
	byID := make(map[string]achievementRecord, len(records))
	for _, record := range records {
		byID[record.ID] = record
	}

	achievements := make([]Achievement, 0, len(catalog.Definitions))
	for _, definition := range catalog.Definitions {
		achievement := Achievement{Definition: definition}
		if record, ok := byID[definition.ID]; ok {
			target := targetOf(definition)
			achievement.IsUnlocked = record.IsUnlocked
			achievement.UnlockedAt = cloneTime(record.UnlockedAt)
			achievement.Progress = clampProgress(record.Progress, target)
			if achievement.IsUnlocked {
				achievement.Progress = target
			}
		}
		achievements = append(achievements, achievement)
	}
	return achievements
}

func targetOf(definition Definition) int {
	if definition.Requirement == nil {
		return 0
	}
	return definition.Requirement.Target()
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
