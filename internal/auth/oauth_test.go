package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

// newFakeGitHub serves the token endpoint and the two user endpoints.
func newFakeGitHub(t *testing.T, userJSON, emailsJSON string) *GitHubProvider {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_test","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(userJSON))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		if emailsJSON == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(emailsJSON))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := NewGitHubProvider("client", "secret", "http://localhost/auth/github/callback")
	p.config.Endpoint = oauth2.Endpoint{
		AuthURL:  srv.URL + "/login/oauth/authorize",
		TokenURL: srv.URL + "/login/oauth/access_token",
	}
	p.apiBase = srv.URL
	return p
}

func TestAuthURL_CarriesState(t *testing.T) {
	p := NewGitHubProvider("client-id", "secret", "http://localhost:8080/auth/github/callback")

	u, err := url.Parse(p.AuthURL("state-123"))
	if err != nil {
		t.Fatalf("AuthURL() is not a URL: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "state-123" || q.Get("client_id") != "client-id" {
		t.Errorf("AuthURL() query = %v", q)
	}
	if !strings.Contains(q.Get("scope"), "user:email") {
		t.Errorf("AuthURL() scope = %q, want user:email", q.Get("scope"))
	}
}

func TestExchange_PublicEmail(t *testing.T) {
	p := newFakeGitHub(t, `{"id":99,"login":"octocat","email":"octo@example.com","name":"Octo"}`, "")

	u, err := p.Exchange(context.Background(), "code")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if u.ID != 99 || u.Login != "octocat" || u.Email != "octo@example.com" {
		t.Errorf("Exchange() = %+v", u)
	}
}

func TestExchange_FallsBackToPrimaryEmail(t *testing.T) {
	p := newFakeGitHub(t, `{"id":99,"login":"octocat","email":""}`,
		`[{"email":"old@example.com","primary":false,"verified":true},
		  {"email":"main@example.com","primary":true,"verified":true}]`)

	u, err := p.Exchange(context.Background(), "code")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if u.Email != "main@example.com" {
		t.Errorf("Email = %q, want main@example.com", u.Email)
	}
}

func TestExchange_HiddenEmailIsNotFatal(t *testing.T) {
	p := newFakeGitHub(t, `{"id":99,"login":"octocat"}`, "")

	u, err := p.Exchange(context.Background(), "code")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if u.Email != "" {
		t.Errorf("Email = %q, want empty", u.Email)
	}
}

func TestExchange_InvalidUser(t *testing.T) {
	p := newFakeGitHub(t, `{"id":0,"login":"ghost"}`, "")

	if _, err := p.Exchange(context.Background(), "code"); err == nil {
		t.Fatal("Exchange() should reject a user with ID 0")
	}
}
