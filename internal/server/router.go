package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/auth"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/progression"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/users"
	"go.uber.org/zap"
)

const (
	userIDContextKey         = "clinicprogress_user_id"
	accessTokenQueryKey      = "access_token"
	defaultHeartbeatInterval = 15 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserResolver     = errors.New("user resolver dependency required")
	errMissingProgressService  = errors.New("progress service dependency required")
)

// SessionValidator authenticates an incoming request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

// UserResolver maps session claims onto the canonical user id.
type UserResolver interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
}

type Dependencies struct {
	SessionValidator  SessionValidator
	Users             UserResolver
	Progress          *progression.Service
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
	// AllowedOrigins lists the browser origins allowed to make credentialed
	// cross-origin calls. Empty disables CORS entirely.
	AllowedOrigins []string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserResolver
	}
	if deps.Progress == nil {
		return nil, errMissingProgressService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if len(deps.AllowedOrigins) > 0 {
		router.Use(corsMiddleware(deps.AllowedOrigins))
	}

	handler := &httpHandler{
		sessions:  deps.SessionValidator,
		users:     deps.Users,
		progress:  deps.Progress,
		realtime:  deps.Realtime,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/progress/init", handler.handleInitialize)
	protected.POST("/progress/actions", handler.handleTrackAction)
	protected.GET("/progress/stats", handler.handleStats)
	protected.GET("/progress/achievements", handler.handleAchievements)
	protected.GET("/progress/events", handler.handleEvents)
	protected.GET("/progress/stream", handler.handleProgressStream)
	protected.GET("/leaderboard", handler.handleLeaderboard)
	protected.POST("/leaderboard/recompute", handler.handleRecomputeLeaderboard)
	protected.GET("/leaderboard/rank", handler.handleRank)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions  SessionValidator
	users     UserResolver
	progress  *progression.Service
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
	heartbeat time.Duration
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorizeRequest validates the session, resolves the canonical user id and
// makes sure the user's progression ledger is loaded.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if errors.Is(err, auth.ErrMissingSessionToken) {
		if token := strings.TrimSpace(c.Query(accessTokenQueryKey)); token != "" {
			claims, err = h.sessions.ValidateToken(token)
		}
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("failed to resolve user identity", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
		return
	}

	if _, err := h.progress.InitializeUserStats(c.Request.Context(), userID); err != nil {
		if _, loaded := h.progress.Stats(userID); !loaded {
			h.logger.Error("failed to load progression", zap.String("user_id", userID), zap.Error(err))
			abortWithServiceError(c, http.StatusServiceUnavailable, err)
			return
		}
		h.logger.Warn("progression loaded with persistence errors", zap.String("user_id", userID), zap.Error(err))
	}

	c.Set(userIDContextKey, userID)
	c.Next()
}

func abortWithServiceError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorPayload(err))
}

func errorPayload(err error) gin.H {
	payload := gin.H{"error": err.Error()}
	var serviceErr *progression.ServiceError
	if errors.As(err, &serviceErr) {
		payload["code"] = serviceErr.Code()
	}
	return payload
}

// statusForError maps engine errors onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, progression.ErrNegativePoints),
		errors.Is(err, progression.ErrEmptyAction),
		errors.Is(err, progression.ErrUnknownPreset),
		errors.Is(err, progression.ErrInvalidUserID),
		errors.Is(err, progression.ErrPointsOverflow):
		return http.StatusBadRequest
	case errors.Is(err, progression.ErrUserNotInitialized):
		return http.StatusConflict
	case errors.Is(err, progression.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
