package progression

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"
)

// AddPoints awards points (and the same amount of experience) to an
// initialized user, recomputing the level. Negative awards are rejected
// without touching the ledger.
func (s *Service) AddPoints(ctx context.Context, rawUserID string, points int64, reason string) (UserStats, error) {
	if points < 0 {
		return UserStats{}, newServiceError(opAddPoints, reasonNegativePoints, ErrNegativePoints)
	}
	sess, err := s.acquire(opAddPoints, rawUserID)
	if err != nil {
		return UserStats{}, err
	}
	defer sess.mu.Unlock()

	if !fitsAward(sess.stats, points) {
		return sess.stats, newServiceError(opAddPoints, reasonPointsOverflow, ErrPointsOverflow)
	}
	_, err = s.addPointsLocked(ctx, sess, points, reason)
	return sess.stats, err
}

// addPointsLocked mutates the in-memory ledger first and then writes through.
// Write failures are returned but never roll the ledger back.
func (s *Service) addPointsLocked(ctx context.Context, sess *session, points int64, reason string) (int, error) {
	if points < 0 {
		return sess.stats.Level, newServiceError(opAddPoints, reasonNegativePoints, ErrNegativePoints)
	}
	now := s.clock()
	previousLevel := sess.stats.Level

	sess.stats.Points = saturatingAdd(sess.stats.Points, points)
	sess.stats.Experience = saturatingAdd(sess.stats.Experience, points)
	sess.stats.Level = LevelFromExperience(sess.stats.Experience)
	sess.stats.UpdatedAt = now

	var errs []error
	if err := s.repo.saveStats(ctx, sess.stats); err != nil {
		s.logError(opAddPoints, reasonPersistFailed, err, zap.String(fieldUserID, sess.stats.UserID))
		errs = append(errs, persistenceError(opAddPoints, err))
	}

	s.loggerOrDefault().Debug("points awarded",
		zap.String(fieldUserID, sess.stats.UserID),
		zap.Int64("points", points),
		zap.String("reason", reason),
		zap.Int64("experience", sess.stats.Experience))

	if err := s.appendEventLocked(ctx, sess, EventPointsEarned, map[string]any{
		"points": points,
		"reason": reason,
	}); err != nil {
		errs = append(errs, err)
	}

	if sess.stats.Level > previousLevel {
		s.loggerOrDefault().Info("level up",
			zap.String(fieldUserID, sess.stats.UserID),
			zap.Int("previous_level", previousLevel),
			zap.Int("new_level", sess.stats.Level))
		if err := s.appendEventLocked(ctx, sess, EventLevelUp, map[string]any{
			"newLevel":      sess.stats.Level,
			"previousLevel": previousLevel,
		}); err != nil {
			errs = append(errs, err)
		}
	}

	return previousLevel, errors.Join(errs...)
}

// fitsAward reports whether points can be added without leaving the int64 range.
func fitsAward(stats UserStats, points int64) bool {
	return points <= math.MaxInt64-stats.Points && points <= math.MaxInt64-stats.Experience
}

// saturatingAdd adds a non-negative award, pinning the result at math.MaxInt64.
func saturatingAdd(total, points int64) int64 {
	if points > math.MaxInt64-total {
		return math.MaxInt64
	}
	return total + points
}

// repairStats restores the ledger invariants on a record read from the store.
// A negative streak is left for the streak tracker to correct.
func (s *Service) repairStats(stats *UserStats, userID UserID) {
	if stats.UserID != userID.String() {
		stats.UserID = userID.String()
	}
	if stats.Points < 0 {
		s.logInvariant(userID, "points", stats.Points, 0)
		stats.Points = 0
	}
	if stats.Experience < 0 {
		s.logInvariant(userID, "experience", stats.Experience, 0)
		stats.Experience = 0
	}
	if expected := LevelFromExperience(stats.Experience); stats.Level != expected {
		s.logInvariant(userID, "level", int64(stats.Level), int64(expected))
		stats.Level = expected
	}
	if stats.CreatedAt.IsZero() {
		stats.CreatedAt = s.clock()
	}
	if stats.LastActivity.IsZero() {
		stats.LastActivity = s.clock()
	}
}

func (s *Service) logInvariant(userID UserID, field string, stored, corrected int64) {
	s.loggerOrDefault().Warn("progression invariant corrected",
		zap.String("reason", reasonInvariantFixed),
		zap.String(fieldUserID, userID.String()),
		zap.String("field", field),
		zap.Int64("stored", stored),
		zap.Int64("corrected", corrected))
}

// applyTotals copies the caller-supplied running count onto the per-entity
// totals. Totals never decrease.
func applyTotals(stats *UserStats, action string, data ActionData) {
	count := int64(data.Count)
	var total *int64
	switch action {
	case ActionAppointments:
		total = &stats.TotalAgendamentos
	case ActionPatients:
		total = &stats.TotalPacientes
	case ActionProfessionals:
		total = &stats.TotalProfissionais
	default:
		return
	}
	if count > *total {
		*total = count
	}
}
