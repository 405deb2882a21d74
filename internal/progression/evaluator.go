package progression

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

const unlockReasonPrefix = "Conquista: "

// CheckAchievements evaluates the locked achievements that react to action and
// unlocks those whose requirement is met. It returns the newly unlocked
// achievements; already unlocked ones are never re-awarded.
func (s *Service) CheckAchievements(ctx context.Context, rawUserID string, action string, data ActionData) ([]Achievement, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, newServiceError(opCheckAchievements, reasonEmptyAction, ErrEmptyAction)
	}
	sess, err := s.acquire(opCheckAchievements, rawUserID)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()

	unlocked, _, err := s.checkAchievementsLocked(ctx, sess, action, data)
	return unlocked, err
}

// checkAchievementsLocked marks every unlock in the batch, writes the
// achievement array once and only then pays the unlock points. A failed write
// forfeits the points so a later retry cannot pay the same unlock twice.
func (s *Service) checkAchievementsLocked(ctx context.Context, sess *session, action string, data ActionData) ([]Achievement, int64, error) {
	now := s.clock()
	hour := now.In(s.location).Hour()

	var (
		unlocked []Achievement
		mutated  bool
	)
	for index := range sess.achievements {
		achievement := &sess.achievements[index]
		if achievement.IsUnlocked {
			continue
		}

		progress, shouldUnlock := evaluateRequirement(*achievement, action, data, hour)
		if progress != achievement.Progress {
			achievement.Progress = progress
			mutated = true
		}
		if !shouldUnlock {
			continue
		}

		unlockedAt := now
		achievement.IsUnlocked = true
		achievement.UnlockedAt = &unlockedAt
		achievement.Progress = targetOf(achievement.Definition)
		mutated = true
		unlocked = append(unlocked, cloneAchievement(*achievement))
	}
	if !mutated {
		return nil, 0, nil
	}

	var errs []error
	paid := true
	if err := s.repo.saveAchievements(ctx, sess.stats.UserID, sess.achievements); err != nil {
		s.logError(opCheckAchievements, reasonPersistFailed, err, zap.String(fieldUserID, sess.stats.UserID))
		errs = append(errs, persistenceError(opCheckAchievements, err))
		paid = false
	}

	var awarded int64
	for _, achievement := range unlocked {
		points := achievement.Points
		if paid {
			s.loggerOrDefault().Info("achievement unlocked",
				zap.String(fieldUserID, sess.stats.UserID),
				zap.String(fieldAchievementID, achievement.ID),
				zap.Int64("points", points))
			if _, err := s.addPointsLocked(ctx, sess, points, unlockReasonPrefix+achievement.Name); err != nil {
				errs = append(errs, err)
			}
			awarded = saturatingAdd(awarded, points)
		} else {
			s.loggerOrDefault().Warn("achievement unlocked without award",
				zap.String(fieldUserID, sess.stats.UserID),
				zap.String(fieldAchievementID, achievement.ID),
				zap.Int64("forfeited_points", points))
			points = 0
		}
		if err := s.appendEventLocked(ctx, sess, EventAchievementUnlocked, map[string]any{
			"achievementId":   achievement.ID,
			"achievementName": achievement.Name,
			"points":          points,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return unlocked, awarded, errors.Join(errs...)
}

// evaluateRequirement returns the progress the achievement reaches for this
// action and whether it should unlock. Achievements bound to another action
// keep their progress untouched. Progress never decreases.
func evaluateRequirement(achievement Achievement, action string, data ActionData, hour int) (int, bool) {
	requirement := achievement.Requirement
	if requirement == nil || requirement.Entity() != action {
		return achievement.Progress, false
	}

	switch typed := requirement.(type) {
	case CountRequirement:
		return advanceProgress(achievement.Progress, data.Count, typed.Goal), data.Count >= typed.Goal
	case StreakRequirement:
		return advanceProgress(achievement.Progress, data.Streak, typed.Goal), data.Streak >= typed.Goal
	case HourRequirement:
		if hour != typed.Hour {
			return achievement.Progress, false
		}
		return typed.Hour, true
	default:
		return achievement.Progress, false
	}
}

func advanceProgress(current, observed, target int) int {
	return max(current, clampProgress(observed, target))
}

func clampProgress(progress, target int) int {
	if target < 0 {
		target = 0
	}
	return min(max(progress, 0), target)
}

func cloneAchievement(achievement Achievement) Achievement {
	achievement.UnlockedAt = cloneTime(achievement.UnlockedAt)
	return achievement
}
