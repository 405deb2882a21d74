package auth

import (
	"testing"
	"time"
)

func TestSessionIssuerRoundTripsThroughValidator(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }
	issuer, err := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("super-secret"),
		TTL:           30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	token, expiresAt, err := issuer.Issue(SessionIdentity{UserID: " clinic-user ", DisplayName: "Dra. Helena", Roles: []string{"admin"}})
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if !expiresAt.Equal(clockNow.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte("super-secret"),
		CookieName:    testSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	claims, err := validator.ValidateToken(token)
	if err != nil {
		t.Fatalf("expected issued token to validate: %v", err)
	}
	if claims.UserID != "clinic-user" || claims.Subject != "clinic-user" || claims.UserDisplayName != "Dra. Helena" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.UserRoles) != 1 || claims.UserRoles[0] != "admin" {
		t.Fatalf("unexpected roles: %#v", claims.UserRoles)
	}
}

func TestSessionIssuerValidation(t *testing.T) {
	if _, err := NewSessionIssuer(SessionIssuerConfig{}); err == nil {
		t.Fatalf("expected constructor error for missing secret")
	}
	if _, err := NewSessionIssuer(SessionIssuerConfig{SigningSecret: []byte("s"), TTL: -time.Minute}); err == nil {
		t.Fatalf("expected constructor error for negative ttl")
	}
	issuer, err := NewSessionIssuer(SessionIssuerConfig{SigningSecret: []byte("s")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.Issue(SessionIdentity{UserID: "  "}); err == nil {
		t.Fatalf("expected error for missing user id")
	}
}
