package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/progression"
	"go.uber.org/zap"
)

const maxEventsLimit = 50

type statsResponsePayload struct {
	Stats               progression.UserStats `json:"stats"`
	NextLevelExperience int64                 `json:"next_level_experience"`
	LevelProgress       float64               `json:"level_progress"`
	Rank                int                   `json:"rank"`
}

type trackActionRequestPayload struct {
	Action string                 `json:"action"`
	Points int64                  `json:"points"`
	Reason string                 `json:"reason"`
	Preset string                 `json:"preset"`
	Data   progression.ActionData `json:"data"`
}

type trackActionResponsePayload struct {
	Stats         progression.UserStats `json:"stats"`
	PointsAwarded int64                 `json:"points_awarded"`
	PreviousLevel int                   `json:"previous_level"`
	LeveledUp     bool                  `json:"leveled_up"`
	Unlocked      []achievementPayload  `json:"unlocked"`
	Persisted     bool                  `json:"persisted"`
	Code          string                `json:"code,omitempty"`
}

type requirementPayload struct {
	Type   string `json:"type"`
	Target int    `json:"target"`
	Entity string `json:"entity"`
}

type achievementPayload struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Icon        string              `json:"icon"`
	Points      int64               `json:"points"`
	Category    string              `json:"category"`
	Requirement *requirementPayload `json:"requirement,omitempty"`
	IsUnlocked  bool                `json:"isUnlocked"`
	UnlockedAt  *time.Time          `json:"unlockedAt,omitempty"`
	Progress    int                 `json:"progress"`
}

func newAchievementPayloads(achievements []progression.Achievement) []achievementPayload {
	payloads := make([]achievementPayload, 0, len(achievements))
	for _, achievement := range achievements {
		payload := achievementPayload{
			ID:          achievement.ID,
			Name:        achievement.Name,
			Description: achievement.Description,
			Icon:        achievement.Icon,
			Points:      achievement.Points,
			Category:    string(achievement.Category),
			IsUnlocked:  achievement.IsUnlocked,
			UnlockedAt:  achievement.UnlockedAt,
			Progress:    achievement.Progress,
		}
		if requirement := achievement.Requirement; requirement != nil {
			payload.Requirement = &requirementPayload{
				Type:   string(requirement.Kind()),
				Target: requirement.Target(),
				Entity: requirement.Entity(),
			}
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

func (h *httpHandler) newStatsPayload(userID string) statsResponsePayload {
	stats, _ := h.progress.Stats(userID)
	return statsResponsePayload{
		Stats:               stats,
		NextLevelExperience: progression.ExperienceRequiredForLevel(stats.Level),
		LevelProgress:       progression.ProgressToNextLevel(stats.Experience, stats.Level),
		Rank:                h.progress.UserRank(userID),
	}
}

func (h *httpHandler) handleInitialize(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	c.JSON(http.StatusOK, h.newStatsPayload(userID))
}

func (h *httpHandler) handleStats(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	c.JSON(http.StatusOK, h.newStatsPayload(userID))
}

// handleTrackAction accepts either a named preset or an explicit action. A
// failed write still answers 200 with persisted=false because the in-memory
// ledger already moved.
func (h *httpHandler) handleTrackAction(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request trackActionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var (
		outcome progression.ActionOutcome
		err     error
	)
	if preset := strings.TrimSpace(request.Preset); preset != "" {
		outcome, err = h.progress.TrackPreset(c.Request.Context(), userID, preset, request.Data)
	} else {
		outcome, err = h.progress.TrackAction(c.Request.Context(), userID, request.Action, request.Points, request.Reason, request.Data)
	}

	response := trackActionResponsePayload{Persisted: true}
	if err != nil {
		if !errors.Is(err, progression.ErrPersistence) || outcome.Stats.UserID == "" {
			c.JSON(statusForError(err), errorPayload(err))
			return
		}
		h.logger.Warn("action tracked without persistence",
			zap.String("user_id", userID),
			zap.Error(err))
		response.Persisted = false
		if code, ok := errorPayload(err)["code"].(string); ok {
			response.Code = code
		}
	}

	response.Stats = outcome.Stats
	response.PointsAwarded = outcome.PointsAwarded
	response.PreviousLevel = outcome.PreviousLevel
	response.LeveledUp = outcome.LeveledUp()
	response.Unlocked = newAchievementPayloads(outcome.Unlocked)
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleAchievements(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	filter := progression.AchievementFilter{
		Category: progression.Category(strings.TrimSpace(c.Query("category"))),
	}
	switch status := progression.AchievementStatus(strings.ToLower(strings.TrimSpace(c.Query("status")))); status {
	case progression.StatusAny, progression.StatusUnlocked, progression.StatusLocked:
		filter.Status = status
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"achievements": newAchievementPayloads(h.progress.Achievements(userID, filter))})
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = min(parsed, maxEventsLimit)
	}

	c.JSON(http.StatusOK, gin.H{"events": h.progress.RecentEvents(userID, limit)})
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": h.progress.Leaderboard()})
}

func (h *httpHandler) handleRecomputeLeaderboard(c *gin.Context) {
	entries, err := h.progress.RecomputeLeaderboard(c.Request.Context())
	if err != nil {
		h.logger.Error("leaderboard recompute failed", zap.Error(err))
		c.JSON(statusForError(err), errorPayload(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *httpHandler) handleRank(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "position": h.progress.UserRank(userID)})
}
