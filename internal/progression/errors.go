package progression

import (
	"errors"
	"fmt"
)

var (
	errMissingStore = errors.New("key-value store is required")

	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("progression: invalid user id")
	// ErrNegativePoints rejects point awards below zero; stored totals never decrease.
	ErrNegativePoints = errors.New("progression: points must not be negative")
	// ErrPointsOverflow rejects awards that would push points or experience past the int64 range.
	ErrPointsOverflow = errors.New("progression: points award overflows the ledger")
	// ErrUserNotInitialized indicates a mutation for a user whose ledger was never loaded.
	ErrUserNotInitialized = errors.New("progression: user stats not initialized")
	// ErrUnknownPreset indicates that a named action preset does not exist.
	ErrUnknownPreset = errors.New("progression: unknown action preset")
	// ErrEmptyAction indicates that an action name was blank.
	ErrEmptyAction = errors.New("progression: action is required")
	// ErrPersistence marks a failed read or write against the key-value store.
	ErrPersistence = errors.New("progression: persistence failed")
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew        = "progression.service.new"
	opInitialize        = "progression.initialize"
	opAddPoints         = "progression.add_points"
	opCheckAchievements = "progression.check_achievements"
	opUpdateStreak      = "progression.update_streak"
	opTrackAction       = "progression.track_action"
	opAppendEvent       = "progression.append_event"
	opRecompute         = "progression.recompute_leaderboard"

	reasonMissingStore     = "missing_store"
	reasonInvalidUserID    = "invalid_user_id"
	reasonNotInitialized   = "not_initialized"
	reasonNegativePoints   = "negative_points"
	reasonPointsOverflow   = "points_overflow"
	reasonEmptyAction      = "empty_action"
	reasonUnknownPreset    = "unknown_preset"
	reasonLoadFailed       = "load_failed"
	reasonDecodeFailed     = "decode_failed"
	reasonPersistFailed    = "persist_failed"
	reasonScanFailed       = "scan_failed"
	reasonIDFailed         = "id_generation_failed"
	reasonInvariantFixed   = "invariant_corrected"
	reasonNameLookupFailed = "name_lookup_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func persistenceError(operation string, cause error) error {
	return newServiceError(operation, reasonPersistFailed, fmt.Errorf("%w: %w", ErrPersistence, cause))
}
