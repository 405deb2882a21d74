package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/auth"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/progression"
)

func TestRealtimeDispatcherDeliversToOwnerOnly(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ownerStream, ownerCleanup := dispatcher.Subscribe(ctx, "recepcao-01")
	defer ownerCleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "recepcao-02")
	defer otherCleanup()

	dispatcher.PublishProgressEvent(progression.Event{
		ID:     "event-1",
		UserID: "recepcao-01",
		Type:   progression.EventLevelUp,
		Data:   map[string]any{"newLevel": 2},
	})

	select {
	case message := <-ownerStream:
		if message.EventType != string(progression.EventLevelUp) || message.Event.ID != "event-1" {
			t.Fatalf("unexpected message: %+v", message)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected message for owner")
	}

	select {
	case message := <-otherStream:
		t.Fatalf("unexpected message for other user: %+v", message)
	default:
	}
}

func TestRealtimeDispatcherIgnoresIncompleteMessages(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "recepcao-01")
	defer cleanup()

	dispatcher.Publish(RealtimeMessage{UserID: "recepcao-01"})
	dispatcher.Publish(RealtimeMessage{EventType: realtimeEventHeartbeat})

	select {
	case message := <-stream:
		t.Fatalf("unexpected message: %+v", message)
	default:
	}
}

func TestRealtimeDispatcherDropsWhenSubscriberIsFull(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "recepcao-01")
	defer cleanup()

	for index := 0; index < realtimeSubscriberBuffer*2; index++ {
		dispatcher.Publish(RealtimeMessage{UserID: "recepcao-01", EventType: string(progression.EventPointsEarned)})
	}
	if len(stream) != realtimeSubscriberBuffer {
		t.Fatalf("expected buffer to hold %d messages, got %d", realtimeSubscriberBuffer, len(stream))
	}
}

func TestRealtimeDispatcherCleansUpOnCancel(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, "recepcao-01")
	if count := dispatcher.SubscriberCount("recepcao-01"); count != 1 {
		t.Fatalf("expected one subscriber, got %d", count)
	}

	cancel()
	waitFor(t, func() bool { return dispatcher.SubscriberCount("recepcao-01") == 0 })

	cleanup()
	if count := dispatcher.SubscriberCount("recepcao-01"); count != 0 {
		t.Fatalf("expected repeated cleanup to be a no-op, got %d subscribers", count)
	}
}

func TestRealtimeDispatcherRejectsEmptyUser(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()

	if _, ok := <-stream; ok {
		t.Fatalf("expected closed stream for empty user id")
	}
}

func TestProgressStreamForwardsUnlocks(t *testing.T) {
	env := newTestEnvironment(t, nil)
	server := httptest.NewServer(env.handler)
	defer server.Close()

	token := env.token(t, auth.SessionIdentity{UserID: "recepcao-01"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/progress/stream?access_token="+token, http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	response, err := server.Client().Do(request)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", response.StatusCode)
	}
	if contentType := response.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type: %q", contentType)
	}
	waitFor(t, func() bool { return env.realtime.SubscriberCount("recepcao-01") == 1 })

	recorder := env.do(t, http.MethodPost, "/progress/actions", token, gin.H{
		"preset": progression.PresetPatientCreated,
		"data":   gin.H{"count": 1},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected track status: %d", recorder.Code)
	}

	scanner := bufio.NewScanner(response.Body)
	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") || eventName != string(progression.EventAchievementUnlocked) {
			continue
		}
		var event progression.Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
			t.Fatalf("failed to decode event: %v", err)
		}
		if event.UserID != "recepcao-01" || event.Data["achievementId"] != "first_patient" {
			t.Fatalf("unexpected unlock event: %+v", event)
		}
		return
	}
	t.Fatalf("stream ended before unlock event: %v", scanner.Err())
}

func TestProgressStreamRequiresSession(t *testing.T) {
	env := newTestEnvironment(t, nil)
	recorder := env.do(t, http.MethodGet, "/progress/stream?access_token=forged", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", recorder.Code)
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
