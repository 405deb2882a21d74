package users

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/auth"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()
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
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestResolveCanonicalUserIDStripsProviderPrefix(t *testing.T) {
	service, db := newTestService(t, func() time.Time { return time.Unix(1, 0) })
	ctx := context.Background()

	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
	}
	userID, err := service.ResolveCanonicalUserID(ctx, claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id without provider prefix, got %q", userID)
	}

	userID, err = service.ResolveCanonicalUserID(ctx, claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id to remain stable, got %q", userID)
	}
	var count int64
	if err := db.Model(&Identity{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single identity row, got %d", count)
	}
}

func TestResolveCanonicalUserIDFallbacks(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	testCases := []struct {
		name     string
		claims   auth.SessionClaims
		expected string
	}{
		{name: "plain user id", claims: auth.SessionClaims{UserID: "recepcao-01"}, expected: "recepcao-01"},
		{name: "email only", claims: auth.SessionClaims{UserEmail: "dr@clinica.example"}, expected: "dr@clinica.example"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			userID, err := service.ResolveCanonicalUserID(ctx, testCase.claims)
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			if userID != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, userID)
			}
		})
	}

	if _, err := service.ResolveCanonicalUserID(ctx, auth.SessionClaims{}); err != ErrInvalidIdentity {
		t.Fatalf("expected invalid identity, got %v", err)
	}
}

func TestDisplayNameFollowsLatestClaims(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	if name, err := service.DisplayName(ctx, "12345"); err != nil || name != "" {
		t.Fatalf("expected no name for unknown user, got %q (%v)", name, err)
	}

	if _, err := service.ResolveCanonicalUserID(ctx, auth.SessionClaims{UserID: "google:12345", UserDisplayName: "Helena"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if name, err := service.DisplayName(ctx, "12345"); err != nil || name != "Helena" {
		t.Fatalf("expected Helena, got %q (%v)", name, err)
	}

	if _, err := service.ResolveCanonicalUserID(ctx, auth.SessionClaims{UserID: "google:12345", UserDisplayName: "Dra. Helena Prado"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if name, err := service.DisplayName(ctx, "12345"); err != nil || name != "Dra. Helena Prado" {
		t.Fatalf("expected refreshed name, got %q (%v)", name, err)
	}
}
