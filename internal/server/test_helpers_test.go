package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/auth"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/kvstore"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/progression"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "app_session"
	testAllowedOrigin = "https://clinica.example.com"
)

var errTestStoreDown = errors.New("store down")

type switchableStore struct {
	*kvstore.MemoryStore
	mu         sync.Mutex
	failWrites bool
}

func (s *switchableStore) setFailWrites(value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = value
}

func (s *switchableStore) Write(ctx context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	fail := s.failWrites
	s.mu.Unlock()
	if fail {
		return errTestStoreDown
	}
	return s.MemoryStore.Write(ctx, key, value)
}

type testEnvironment struct {
	handler  http.Handler
	progress *progression.Service
	realtime *RealtimeDispatcher
	store    *switchableStore
	issuer   *auth.SessionIssuer
}

func newTestEnvironment(t *testing.T, logger *zap.Logger) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if logger == nil {
		logger = zap.NewNop()
	}
	clockNow := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&users.Identity{}); err != nil {
		t.Fatalf("failed to migrate identities: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct user service: %v", err)
	}

	store := &switchableStore{MemoryStore: kvstore.NewMemoryStore()}
	dispatcher := NewRealtimeDispatcher()
	progressService, err := progression.NewService(progression.ServiceConfig{
		Store:     store,
		Clock:     clock,
		Location:  time.UTC,
		Publisher: dispatcher,
		Names:     userService,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to construct progression service: %v", err)
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TTL:           time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator:  validator,
		Users:             userService,
		Progress:          progressService,
		Realtime:          dispatcher,
		Logger:            logger,
		HeartbeatInterval: time.Hour,
		AllowedOrigins:    []string{testAllowedOrigin},
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &testEnvironment{
		handler:  handler,
		progress: progressService,
		realtime: dispatcher,
		store:    store,
		issuer:   issuer,
	}
}

func (e *testEnvironment) token(t *testing.T, identity auth.SessionIdentity) string {
	t.Helper()
	token, _, err := e.issuer.Issue(identity)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (e *testEnvironment) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return e.doWithHeaders(t, method, path, token, body, nil)
}

func (e *testEnvironment) doWithHeaders(t *testing.T, method, path, token string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.AddCookie(&http.Cookie{Name: testCookieName, Value: token})
	}
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}
