package progression

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/kvstore"
	"go.uber.org/zap"
)

const (
	fieldUserID        = "user_id"
	fieldAchievementID = "achievement_id"
)

var noOpLogger = zap.NewNop()

// EventPublisher receives every activity feed entry as it is recorded.
// Implementations must not block.
type EventPublisher interface {
	PublishProgressEvent(event Event)
}

// ServiceConfig wires the engine to its collaborators. Only Store is required.
type ServiceConfig struct {
	Store      kvstore.Store
	Catalog    Catalog
	Clock      func() time.Time
	Location   *time.Location
	IDProvider IDProvider
	Publisher  EventPublisher
	Names      NameResolver
	Logger     *zap.Logger
}

// session is the in-memory state of one user. mu serializes every mutation of
// that user; different users never share a session.
type session struct {
	mu           sync.Mutex
	loaded       bool
	stats        UserStats
	achievements []Achievement
	events       eventLog
}

// Service is the progression engine. It keeps loaded users in memory and
// writes every change through to the key-value store.
type Service struct {
	repo       userRepository
	catalog    Catalog
	clock      func() time.Time
	location   *time.Location
	idProvider IDProvider
	publisher  EventPublisher
	compiler   *LeaderboardCompiler
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[UserID]*session

	leaderboardMu sync.RWMutex
	leaderboard   []LeaderboardEntry
}

// NewService constructs the engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, reasonMissingStore, errMissingStore)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	catalog := cfg.Catalog
	if len(catalog.Definitions) == 0 {
		catalog = DefaultCatalog()
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	compiler, err := NewLeaderboardCompiler(cfg.Store, cfg.Names, logger)
	if err != nil {
		return nil, err
	}

	return &Service{
		repo:       userRepository{store: cfg.Store},
		catalog:    catalog,
		clock:      clock,
		location:   location,
		idProvider: idProvider,
		publisher:  cfg.Publisher,
		compiler:   compiler,
		logger:     logger,
		sessions:   make(map[UserID]*session),
	}, nil
}

// InitializeUserStats loads the user's ledger, achievements and feed from the
// store, or creates a zero-valued ledger for a new user. Calling it again for
// a loaded user returns the in-memory state unchanged. The first load of an
// existing user refreshes the streak.
func (s *Service) InitializeUserStats(ctx context.Context, rawUserID string) (UserStats, error) {
	userID, err := NewUserID(rawUserID)
	if err != nil {
		return UserStats{}, newServiceError(opInitialize, reasonInvalidUserID, err)
	}

	sess := s.sessionFor(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.loaded {
		return sess.stats, nil
	}

	stats, found, err := s.repo.loadStats(ctx, userID.String())
	if err != nil {
		reason := reasonLoadFailed
		if found {
			reason = reasonDecodeFailed
		}
		s.logError(opInitialize, reason, err, zap.String(fieldUserID, userID.String()))
		return UserStats{}, newServiceError(opInitialize, reason, errors.Join(ErrPersistence, err))
	}
	if found {
		s.repairStats(&stats, userID)
	} else {
		stats = newUserStats(userID, s.clock())
	}

	records, err := s.repo.loadAchievementRecords(ctx, userID.String())
	if err != nil {
		s.logError(opInitialize, reasonLoadFailed, err, zap.String(fieldUserID, userID.String()))
		return UserStats{}, newServiceError(opInitialize, reasonLoadFailed, errors.Join(ErrPersistence, err))
	}

	events, err := s.repo.loadEvents(ctx, userID.String())
	if err != nil {
		s.loggerOrDefault().Warn("activity feed unreadable, starting empty",
			zap.String("operation", opInitialize),
			zap.String(fieldUserID, userID.String()),
			zap.Error(err))
		events = nil
	}

	sess.stats = stats
	sess.achievements = mergeAchievements(s.catalog, records)
	sess.events = newEventLog(events)
	sess.loaded = true

	if found {
		if err := s.updateStreakLocked(ctx, sess); err != nil {
			return sess.stats, err
		}
		return sess.stats, nil
	}

	var errs []error
	if err := s.repo.saveStats(ctx, sess.stats); err != nil {
		errs = append(errs, err)
	}
	if err := s.repo.saveAchievements(ctx, userID.String(), sess.achievements); err != nil {
		errs = append(errs, err)
	}
	if err := s.repo.saveEvents(ctx, userID.String(), sess.events.entries); err != nil {
		errs = append(errs, err)
	}
	if joined := errors.Join(errs...); joined != nil {
		s.logError(opInitialize, reasonPersistFailed, joined, zap.String(fieldUserID, userID.String()))
		return sess.stats, persistenceError(opInitialize, joined)
	}
	s.loggerOrDefault().Info("progression ledger created", zap.String(fieldUserID, userID.String()))
	return sess.stats, nil
}

// TrackAction is the single entry point for domain actions. It applies the
// per-entity totals, awards points, evaluates the achievements bound to
// action and refreshes the streak, in that order. Every step runs even when an
// earlier write failed; the failures are joined into the returned error.
func (s *Service) TrackAction(ctx context.Context, rawUserID string, action string, points int64, reason string, data ActionData) (ActionOutcome, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return ActionOutcome{}, newServiceError(opTrackAction, reasonEmptyAction, ErrEmptyAction)
	}
	if points < 0 {
		return ActionOutcome{}, newServiceError(opTrackAction, reasonNegativePoints, ErrNegativePoints)
	}
	sess, err := s.acquire(opTrackAction, rawUserID)
	if err != nil {
		return ActionOutcome{}, err
	}
	defer sess.mu.Unlock()

	if !fitsAward(sess.stats, points) {
		return ActionOutcome{}, newServiceError(opTrackAction, reasonPointsOverflow, ErrPointsOverflow)
	}

	var errs []error
	applyTotals(&sess.stats, action, data)

	previousLevel, err := s.addPointsLocked(ctx, sess, points, reason)
	if err != nil {
		errs = append(errs, err)
	}
	unlocked, bonus, err := s.checkAchievementsLocked(ctx, sess, action, data)
	if err != nil {
		errs = append(errs, err)
	}
	if err := s.updateStreakLocked(ctx, sess); err != nil {
		errs = append(errs, err)
	}

	outcome := ActionOutcome{
		Stats:         sess.stats,
		PointsAwarded: saturatingAdd(points, bonus),
		PreviousLevel: previousLevel,
		Unlocked:      unlocked,
	}
	if joined := errors.Join(errs...); joined != nil {
		return outcome, newServiceError(opTrackAction, reasonPersistFailed, joined)
	}
	return outcome, nil
}

// TrackPreset tracks one of the named domain actions with its fixed award.
func (s *Service) TrackPreset(ctx context.Context, rawUserID string, presetName string, data ActionData) (ActionOutcome, error) {
	preset, ok := LookupPreset(strings.TrimSpace(presetName))
	if !ok {
		return ActionOutcome{}, newServiceError(opTrackAction, reasonUnknownPreset, ErrUnknownPreset)
	}
	return s.TrackAction(ctx, rawUserID, preset.Action, preset.Points, preset.Reason, data)
}

// Stats returns a copy of the user's ledger. Unknown users get a level 1
// zero-valued record and false.
func (s *Service) Stats(rawUserID string) (UserStats, bool) {
	sess, ok := s.loadedSession(rawUserID)
	if !ok {
		return UserStats{UserID: strings.TrimSpace(rawUserID), Level: 1}, false
	}
	defer sess.mu.Unlock()
	return sess.stats, true
}

// AchievementStatus filters achievements by unlock state.
type AchievementStatus string

const (
	StatusAny      AchievementStatus = ""
	StatusUnlocked AchievementStatus = "unlocked"
	StatusLocked   AchievementStatus = "locked"
)

// AchievementFilter narrows Achievements. Zero values match everything.
type AchievementFilter struct {
	Category Category
	Status   AchievementStatus
}

func (f AchievementFilter) matches(achievement Achievement) bool {
	if f.Category != "" && achievement.Category != f.Category {
		return false
	}
	switch f.Status {
	case StatusUnlocked:
		return achievement.IsUnlocked
	case StatusLocked:
		return !achievement.IsUnlocked
	default:
		return true
	}
}

// Achievements returns the user's achievements in catalog order. Unknown users
// get an empty list.
func (s *Service) Achievements(rawUserID string, filter AchievementFilter) []Achievement {
	sess, ok := s.loadedSession(rawUserID)
	if !ok {
		return []Achievement{}
	}
	defer sess.mu.Unlock()

	out := make([]Achievement, 0, len(sess.achievements))
	for _, achievement := range sess.achievements {
		if filter.matches(achievement) {
			out = append(out, cloneAchievement(achievement))
		}
	}
	return out
}

func (s *Service) AchievementsByCategory(rawUserID string, category Category) []Achievement {
	return s.Achievements(rawUserID, AchievementFilter{Category: category})
}

func (s *Service) UnlockedAchievements(rawUserID string) []Achievement {
	return s.Achievements(rawUserID, AchievementFilter{Status: StatusUnlocked})
}

func (s *Service) LockedAchievements(rawUserID string) []Achievement {
	return s.Achievements(rawUserID, AchievementFilter{Status: StatusLocked})
}

// Catalog returns the achievement catalog the engine evaluates.
func (s *Service) Catalog() Catalog {
	return s.catalog
}

// Reset drops every in-memory session and the leaderboard snapshot. The
// store is left untouched, so the next InitializeUserStats reloads from it.
func (s *Service) Reset() {
	s.mu.Lock()
	s.sessions = make(map[UserID]*session)
	s.mu.Unlock()

	s.leaderboardMu.Lock()
	s.leaderboard = nil
	s.leaderboardMu.Unlock()
}

func (s *Service) sessionFor(userID UserID) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &session{}
		s.sessions[userID] = sess
	}
	return sess
}

// acquire returns the user's session locked. The caller must unlock it.
func (s *Service) acquire(operation, rawUserID string) (*session, error) {
	userID, err := NewUserID(rawUserID)
	if err != nil {
		return nil, newServiceError(operation, reasonInvalidUserID, err)
	}
	sess := s.sessionFor(userID)
	sess.mu.Lock()
	if !sess.loaded {
		sess.mu.Unlock()
		return nil, newServiceError(operation, reasonNotInitialized, ErrUserNotInitialized)
	}
	return sess, nil
}

// loadedSession returns the user's session locked, or false without creating
// one when the user was never initialized.
func (s *Service) loadedSession(rawUserID string) (*session, bool) {
	userID, err := NewUserID(rawUserID)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	sess.mu.Lock()
	if !sess.loaded {
		sess.mu.Unlock()
		return nil, false
	}
	return sess, true
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("progression service error", attrs...)
}
