package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

// newTestTokenService uses a fixed secret and the wall clock.
func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// =========================================================================
// TOKEN SERVICE CONSTRUCTION TESTS
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	_, err := NewTokenService("short", time.Hour, nil)
	if err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_DefaultTTL(t *testing.T) {
	ts, err := NewTokenService("this-is-16-chars", 0, nil)
	if err != nil {
		t.Fatalf("NewTokenService() unexpected error for valid secret: %v", err)
	}
	if ts.TTL() != DefaultTokenTTL {
		t.Errorf("TTL() = %v, want %v", ts.TTL(), DefaultTokenTTL)
	}
}

// =========================================================================
// GENERATE / VALIDATE TESTS
// =========================================================================

func TestGenerate_LooksLikeJWT(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("user-123")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("Generate() token doesn't look like a JWT: %q", token)
	}
}

func TestGenerate_EmptyUser(t *testing.T) {
	ts := newTestTokenService(t)

	if _, err := ts.Generate(""); err == nil {
		t.Fatal("Generate() should reject an empty user id")
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("user-abc-123")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got != "user-abc-123" {
		t.Errorf("Validate() userID = %q, want %q", got, "user-abc-123")
	}
}

func TestValidate_ExpiredToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.GenerateWithDuration("user-123", -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateWithDuration() error = %v", err)
	}

	if _, err := ts.Validate(token); err == nil {
		t.Fatal("Validate() should return an error for an expired token")
	}
}

func TestValidate_ExpiresOnServiceClock(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	ts, err := NewTokenService("test-secret-at-least-16-chars!!", time.Hour, clk)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	token, _ := ts.Generate("user-123")

	clk.Advance(59 * time.Minute)
	if _, err := ts.Validate(token); err != nil {
		t.Fatalf("Validate() before expiry error = %v", err)
	}

	clk.Advance(2 * time.Minute)
	if _, err := ts.Validate(token); err == nil {
		t.Fatal("Validate() should fail once the service clock passes the expiry")
	}
}

func TestValidate_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	other, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!", time.Hour, nil)

	good, _ := ts.Generate("user-123")
	foreign, _ := other.Generate("user-123")

	cases := []struct {
		name  string
		token string
	}{
		{"tampered signature", good[:len(good)-3] + "xxx"},
		{"different secret", foreign},
		{"empty", ""},
		{"garbage", "not.a.jwt.token"},
		// {"alg":"none","typ":"JWT"}.{"sub":"user-123","iss":"teamify"}.
		{"alg none", "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1c2VyLTEyMyIsImlzcyI6InRlYW1pZnkifQ."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ts.Validate(tc.token); err == nil {
				t.Errorf("Validate(%q) should fail", tc.name)
			}
		})
	}
}
