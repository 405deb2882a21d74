package progression

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/kvstore"
	"go.uber.org/zap"
)

var errStoreUnavailable = errors.New("store unavailable")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(step)
}

func (c *testClock) Set(value time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = value
}

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequentialIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return "event-" + strconv.Itoa(p.next), nil
}

// flakyStore delegates to a MemoryStore until failures are switched on.
type flakyStore struct {
	*kvstore.MemoryStore
	mu         sync.Mutex
	failWrites bool
	failPrefix string
	failList   bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: kvstore.NewMemoryStore()}
}

func (s *flakyStore) setFailWrites(value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = value
}

// setFailWritePrefix fails only writes whose key starts with prefix.
func (s *flakyStore) setFailWritePrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPrefix = prefix
}

func (s *flakyStore) setFailList(value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failList = value
}

func (s *flakyStore) Write(ctx context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	fail := s.failWrites || (s.failPrefix != "" && strings.HasPrefix(key, s.failPrefix))
	s.mu.Unlock()
	if fail {
		return errStoreUnavailable
	}
	return s.MemoryStore.Write(ctx, key, value)
}

func (s *flakyStore) ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	fail := s.failList
	s.mu.Unlock()
	if fail {
		return nil, errStoreUnavailable
	}
	return s.MemoryStore.ListKeysWithPrefix(ctx, prefix)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) PublishProgressEvent(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) snapshot() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

type staticNames map[string]string

func (n staticNames) DisplayName(_ context.Context, userID string) (string, error) {
	return n[userID], nil
}

type testServiceOptions struct {
	store     kvstore.Store
	clock     *testClock
	publisher EventPublisher
	names     NameResolver
	logger    *zap.Logger
}

func newTestService(t *testing.T, opts testServiceOptions) *Service {
	t.Helper()
	if opts.store == nil {
		opts.store = kvstore.NewMemoryStore()
	}
	if opts.clock == nil {
		opts.clock = newTestClock(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))
	}
	service, err := NewService(ServiceConfig{
		Store:      opts.store,
		Clock:      opts.clock.Now,
		Location:   time.UTC,
		IDProvider: &sequentialIDs{},
		Publisher:  opts.publisher,
		Names:      opts.names,
		Logger:     opts.logger,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func mustInitialize(t *testing.T, service *Service, userID string) UserStats {
	t.Helper()
	stats, err := service.InitializeUserStats(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to initialize %s: %v", userID, err)
	}
	return stats
}

func mustReadStats(t *testing.T, store kvstore.Store, userID string) UserStats {
	t.Helper()
	raw, found, err := store.Read(context.Background(), StatsKeyPrefix+userID)
	if err != nil || !found {
		t.Fatalf("expected persisted stats for %s, found=%v err=%v", userID, found, err)
	}
	var stats UserStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		t.Fatalf("failed to decode persisted stats: %v", err)
	}
	return stats
}

func countEvents(events []Event, eventType EventType) int {
	count := 0
	for _, event := range events {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

func findAchievement(t *testing.T, achievements []Achievement, id string) Achievement {
	t.Helper()
	for _, achievement := range achievements {
		if achievement.ID == id {
			return achievement
		}
	}
	t.Fatalf("achievement %s not found", id)
	return Achievement{}
}
