package progression

import (
	"context"
	"maps"
	"strconv"

	"go.uber.org/zap"
)

const (
	eventLogCapacity        = 50
	defaultRecentEventLimit = 10
)

// eventLog holds the newest-first activity feed, capped at eventLogCapacity.
// The oldest entry is dropped silently when the cap is exceeded.
type eventLog struct {
	entries []Event
}

func newEventLog(events []Event) eventLog {
	if len(events) > eventLogCapacity {
		events = events[:eventLogCapacity]
	}
	return eventLog{entries: append([]Event(nil), events...)}
}

func (l *eventLog) push(event Event) {
	l.entries = append(l.entries, Event{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = event
	if len(l.entries) > eventLogCapacity {
		l.entries = l.entries[:eventLogCapacity]
	}
}

func (l *eventLog) recent(limit int) []Event {
	if limit > len(l.entries) {
		limit = len(l.entries)
	}
	if limit < 0 {
		limit = 0
	}
	out := make([]Event, 0, limit)
	for _, event := range l.entries[:limit] {
		event.Data = maps.Clone(event.Data)
		out = append(out, event)
	}
	return out
}

func (l *eventLog) len() int {
	return len(l.entries)
}

// appendEventLocked records an event, writes the feed through and notifies the
// publisher. The feed is best-effort: a failed write is reported but the event
// stays in memory.
func (s *Service) appendEventLocked(ctx context.Context, sess *session, eventType EventType, data map[string]any) error {
	now := s.clock()
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAppendEvent, reasonIDFailed, err, zap.String(fieldUserID, sess.stats.UserID))
		id = strconv.FormatInt(now.UnixNano(), 10)
	}

	event := Event{
		ID:        id,
		UserID:    sess.stats.UserID,
		Type:      eventType,
		Data:      data,
		Timestamp: now,
	}
	sess.events.push(event)

	if s.publisher != nil {
		published := event
		published.Data = maps.Clone(event.Data)
		s.publisher.PublishProgressEvent(published)
	}

	if err := s.repo.saveEvents(ctx, sess.stats.UserID, sess.events.entries); err != nil {
		s.logError(opAppendEvent, reasonPersistFailed, err,
			zap.String(fieldUserID, sess.stats.UserID),
			zap.String("event_type", string(eventType)))
		return persistenceError(opAppendEvent, err)
	}
	return nil
}

// RecentEvents returns up to limit feed entries, newest first. A non-positive
// limit selects the default of 10. Unknown users get an empty feed.
func (s *Service) RecentEvents(rawUserID string, limit int) []Event {
	if limit <= 0 {
		limit = defaultRecentEventLimit
	}
	sess, ok := s.loadedSession(rawUserID)
	if !ok {
		return []Event{}
	}
	defer sess.mu.Unlock()
	return sess.events.recent(limit)
}
