package progression

import (
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// UserStats is the per-user progression record. Level is always derived from
// Experience; Streak is written only by the streak tracker.
type UserStats struct {
	UserID             string    `json:"userId"`
	Level              int       `json:"level"`
	Experience         int64     `json:"experience"`
	Points             int64     `json:"points"`
	Streak             int       `json:"streak"`
	LastActivity       time.Time `json:"lastActivity"`
	TotalAgendamentos  int64     `json:"totalAgendamentos"`
	TotalPacientes     int64     `json:"totalPacientes"`
	TotalProfissionais int64     `json:"totalProfissionais"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func newUserStats(userID UserID, now time.Time) UserStats {
	return UserStats{
		UserID:       userID.String(),
		Level:        1,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// EventType enumerates activity feed entries.
type EventType string

const (
	EventPointsEarned        EventType = "points_earned"
	EventAchievementUnlocked EventType = "achievement_unlocked"
	EventLevelUp             EventType = "level_up"
)

// Event is a single activity feed entry.
type Event struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// ActionData is the caller-supplied payload accompanying a tracked action.
// Count and Streak are running totals computed by the caller.
type ActionData struct {
	Count      int            `json:"count"`
	Streak     int            `json:"streak"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// LeaderboardEntry is one ranked row of a leaderboard snapshot.
type LeaderboardEntry struct {
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	Level        int    `json:"level"`
	Points       int64  `json:"points"`
	Achievements int    `json:"achievements"`
	Position     int    `json:"position"`
}

// ActionOutcome summarises the state changes caused by one tracked action.
type ActionOutcome struct {
	Stats         UserStats
	PointsAwarded int64
	PreviousLevel int
	Unlocked      []Achievement
}

// LeveledUp reports whether the action moved the user to a higher level.
func (o ActionOutcome) LeveledUp() bool {
	return o.Stats.Level > o.PreviousLevel
}
