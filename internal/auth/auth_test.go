package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestAuth(t *testing.T, now time.Time) *Authenticator {
	t.Helper()
	a, err := New("test-secret", "churchcal")
	if err != nil {
		t.Fatal(err)
	}
	a.now = func() time.Time { return now }
	return a
}

func TestIssueVerify(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuth(t, now)

	tok, err := a.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := a.Verify(tok)
	if err != nil || got != "user-1" {
		t.Fatalf("verify = %q, %v", got, err)
	}

	a.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := a.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuth(t, now)

	other, _ := New("other-secret", "churchcal")
	other.now = a.now
	tok, _ := other.Issue("user-1", time.Hour)
	if _, err := a.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}

	wrongIssuer, _ := New("test-secret", "someone-else")
	wrongIssuer.now = a.now
	tok, _ = wrongIssuer.Issue("user-1", time.Hour)
	if _, err := a.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer failure, got %v", err)
	}

	if _, err := New("", "x"); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t, time.Now())
	tok, _ := a.Issue("user-7", time.Hour)

	var seen string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		status int
		user   string
	}{
		{"valid", "Bearer " + tok, http.StatusOK, "user-7"},
		{"lowercase scheme", "bearer " + tok, http.StatusOK, "user-7"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"basic", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		seen = ""
		req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.status || seen != tt.user {
			t.Errorf("%s: status=%d user=%q, want %d %q", tt.name, rec.Code, seen, tt.status, tt.user)
		}
	}
}
