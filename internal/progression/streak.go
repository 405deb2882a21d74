package progression

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const streakDay = 24 * time.Hour

// nextStreak buckets elapsed time into whole 24h periods: no change within the
// first period, +1 in the second, and a restart at 1 after any longer gap.
// A clock that moved backwards counts as the same period.
func nextStreak(current int, lastActivity, now time.Time) int {
	elapsed := now.Sub(lastActivity)
	if elapsed < 0 {
		return current
	}
	switch daysDiff := int64(elapsed / streakDay); {
	case daysDiff == 0:
		return current
	case daysDiff == 1:
		return current + 1
	default:
		return 1
	}
}

// UpdateStreak refreshes the consecutive-day counter for an initialized user.
func (s *Service) UpdateStreak(ctx context.Context, rawUserID string) (UserStats, error) {
	sess, err := s.acquire(opUpdateStreak, rawUserID)
	if err != nil {
		return UserStats{}, err
	}
	defer sess.mu.Unlock()

	err = s.updateStreakLocked(ctx, sess)
	return sess.stats, err
}

// updateStreakLocked is the only writer of UserStats.Streak. A negative
// stored streak is corrected to 0 before the update.
func (s *Service) updateStreakLocked(ctx context.Context, sess *session) error {
	now := s.clock()
	if sess.stats.Streak < 0 {
		s.logInvariant(UserID(sess.stats.UserID), "streak", int64(sess.stats.Streak), 0)
		sess.stats.Streak = 0
	}
	sess.stats.Streak = nextStreak(sess.stats.Streak, sess.stats.LastActivity, now)
	sess.stats.LastActivity = now
	sess.stats.UpdatedAt = now

	if err := s.repo.saveStats(ctx, sess.stats); err != nil {
		s.logError(opUpdateStreak, reasonPersistFailed, err, zap.String(fieldUserID, sess.stats.UserID))
		return persistenceError(opUpdateStreak, err)
	}
	return nil
}
