package progression

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/kvstore"
	"go.uber.org/zap"
)

const fallbackUserNamePrefix = "Usuário "

// NameResolver supplies display names for leaderboard rows.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// LeaderboardCompiler rebuilds the leaderboard from every persisted ledger.
// It keeps no state between runs and only reads from the store.
type LeaderboardCompiler struct {
	store  kvstore.Store
	repo   userRepository
	names  NameResolver
	logger *zap.Logger
}

// NewLeaderboardCompiler constructs a compiler over store. names may be nil.
func NewLeaderboardCompiler(store kvstore.Store, names NameResolver, logger *zap.Logger) (*LeaderboardCompiler, error) {
	if store == nil {
		return nil, newServiceError(opServiceNew, reasonMissingStore, errMissingStore)
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &LeaderboardCompiler{
		store:  store,
		repo:   userRepository{store: store},
		names:  names,
		logger: logger,
	}, nil
}

// Recompute scans all stats:* keys and returns entries ranked by points,
// highest first. Ties are broken by ascending user id. Ledgers that cannot be
// read are skipped and logged.
func (c *LeaderboardCompiler) Recompute(ctx context.Context) ([]LeaderboardEntry, error) {
	keys, err := c.store.ListKeysWithPrefix(ctx, StatsKeyPrefix)
	if err != nil {
		c.logger.Error("leaderboard scan failed",
			zap.String("operation", opRecompute),
			zap.String("reason", reasonScanFailed),
			zap.Error(err))
		return nil, newServiceError(opRecompute, reasonScanFailed, errors.Join(ErrPersistence, err))
	}

	entries := make([]LeaderboardEntry, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, newServiceError(opRecompute, reasonScanFailed, err)
		}
		userID := strings.TrimPrefix(key, StatsKeyPrefix)
		entry, ok := c.project(ctx, userID)
		if ok {
			entries = append(entries, entry)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].UserID < entries[j].UserID
	})
	for index := range entries {
		entries[index].Position = index + 1
	}
	return entries, nil
}

func (c *LeaderboardCompiler) project(ctx context.Context, userID string) (LeaderboardEntry, bool) {
	stats, found, err := c.repo.loadStats(ctx, userID)
	if err != nil {
		c.logger.Warn("leaderboard skipped unreadable ledger",
			zap.String("operation", opRecompute),
			zap.String("reason", reasonDecodeFailed),
			zap.String(fieldUserID, userID),
			zap.Error(err))
		return LeaderboardEntry{}, false
	}
	if !found {
		return LeaderboardEntry{}, false
	}

	level := LevelFromExperience(stats.Experience)
	if stats.Level != level {
		c.logger.Warn("progression invariant corrected",
			zap.String("reason", reasonInvariantFixed),
			zap.String(fieldUserID, userID),
			zap.String("field", "level"),
			zap.Int("stored", stats.Level),
			zap.Int("corrected", level))
	}

	return LeaderboardEntry{
		UserID:       userID,
		UserName:     c.displayName(ctx, userID),
		Level:        level,
		Points:       max(stats.Points, 0),
		Achievements: c.unlockedCount(ctx, userID),
	}, true
}

func (c *LeaderboardCompiler) unlockedCount(ctx context.Context, userID string) int {
	records, err := c.repo.loadAchievementRecords(ctx, userID)
	if err != nil {
		c.logger.Warn("leaderboard achievement count unavailable",
			zap.String("operation", opRecompute),
			zap.String("reason", reasonDecodeFailed),
			zap.String(fieldUserID, userID),
			zap.Error(err))
		return 0
	}
	count := 0
	for _, record := range records {
		if record.IsUnlocked {
			count++
		}
	}
	return count
}

func (c *LeaderboardCompiler) displayName(ctx context.Context, userID string) string {
	if c.names != nil {
		name, err := c.names.DisplayName(ctx, userID)
		if err != nil {
			c.logger.Warn("leaderboard name lookup failed",
				zap.String("reason", reasonNameLookupFailed),
				zap.String(fieldUserID, userID),
				zap.Error(err))
		} else if trimmed := strings.TrimSpace(name); trimmed != "" {
			return trimmed
		}
	}
	return FallbackUserName(userID)
}

// FallbackUserName labels a user by the last four characters of the id.
func FallbackUserName(userID string) string {
	runes := []rune(userID)
	if len(runes) > 4 {
		runes = runes[len(runes)-4:]
	}
	return fallbackUserNamePrefix + string(runes)
}

// RecomputeLeaderboard rebuilds the snapshot and replaces the previous one.
// On failure the previous snapshot stays live.
func (s *Service) RecomputeLeaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	entries, err := s.compiler.Recompute(ctx)
	if err != nil {
		return nil, err
	}
	s.leaderboardMu.Lock()
	s.leaderboard = entries
	s.leaderboardMu.Unlock()
	return append([]LeaderboardEntry(nil), entries...), nil
}

// Leaderboard returns the current snapshot, empty until the first recompute.
func (s *Service) Leaderboard() []LeaderboardEntry {
	s.leaderboardMu.RLock()
	defer s.leaderboardMu.RUnlock()
	return append([]LeaderboardEntry{}, s.leaderboard...)
}

// UserRank returns the 1-based position of the user in the current snapshot,
// or 0 when the user is absent.
func (s *Service) UserRank(userID string) int {
	s.leaderboardMu.RLock()
	defer s.leaderboardMu.RUnlock()
	for _, entry := range s.leaderboard {
		if entry.UserID == userID {
			return entry.Position
		}
	}
	return 0
}
