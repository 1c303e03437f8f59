package hub

import (
	"context"
	"testing"
	"time"
)

// expiredToken builds a token whose lifetime has already elapsed.
func expiredToken(refreshToken string) *Token {
	return &Token{
		AccessToken:  "STALE_TOKEN",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		RefreshToken: refreshToken,
		AcquiredAt:   time.Now().Add(-2 * time.Hour),
	}
}

func TestClientCredentialsAuthenticate(t *testing.T) {
	as := newMockAuthServer(t)
	defer as.Close()

	auth := NewClientCredentialsAuth("my-client", "my-secret", as.TokenURL(), "", "read write", newTestLogger())

	headers, err := auth.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if headers["Authorization"] != "Bearer ACCESS_TOKEN_1" {
		t.Errorf("Authorization = %q, want Bearer ACCESS_TOKEN_1", headers["Authorization"])
	}

	reqs := as.TokenRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 token request, got %d", len(reqs))
	}
	if reqs[0]["grant_type"] != "client_credentials" {
		t.Errorf("grant_type = %q, want client_credentials", reqs[0]["grant_type"])
	}
	if reqs[0]["client_id"] != "my-client" || reqs[0]["client_secret"] != "my-secret" {
		t.Errorf("unexpected client credentials in form: %v", reqs[0])
	}
	if reqs[0]["scope"] != "read write" {
		t.Errorf("scope = %q, want %q", reqs[0]["scope"], "read write")
	}
}

func TestClientCredentialsCachesToken(t *testing.T) {
	as := newMockAuthServer(t)
	defer as.Close()

	auth := NewClientCredentialsAuth("my-client", "my-secret", as.TokenURL(), "", "", newTestLogger())

	for i := 0; i < 3; i++ {
		if _, err := auth.Authenticate(context.Background()); err != nil {
			t.Fatalf("unexpected error on call %d: %v", i, err)
		}
	}

	if n := len(as.TokenRequests()); n != 1 {
		t.Errorf("expected a single token request for repeated authentication, got %d", n)
	}
}

func TestClientCredentialsRefreshIfNeeded(t *testing.T) {
	t.Run("valid token is left alone", func(t *testing.T) {
		as := newMockAuthServer(t)
		defer as.Close()

		auth := NewClientCredentialsAuth("my-client", "my-secret", as.TokenURL(), "", "", newTestLogger())
		if _, err := auth.Authenticate(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		refreshed, err := auth.RefreshIfNeeded(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if refreshed {
			t.Error("expected no refresh for a valid token")
		}
		if n := len(as.TokenRequests()); n != 1 {
			t.Errorf("expected no extra token requests, got %d", n)
		}
	})

	t.Run("expired token uses refresh grant", func(t *testing.T) {
		as := newMockAuthServer(t)
		defer as.Close()

		auth := NewClientCredentialsAuth("my-client", "my-secret", as.TokenURL(), "", "", newTestLogger())
		auth.setToken(expiredToken("REFRESH_OLD"))

		refreshed, err := auth.RefreshIfNeeded(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !refreshed {
			t.Error("expected a refresh for an expired token")
		}

		grants := as.GrantTypes()
		if len(grants) != 1 || grants[0] != "refresh_token" {
			t.Errorf("expected a single refresh_token grant, got %v", grants)
		}

		// The endpoint did not rotate the refresh token, so the old one
		// must survive for the next cycle.
		if tok := auth.currentToken(); tok.RefreshToken != "REFRESH_OLD" {
			t.Errorf("RefreshToken = %q, want REFRESH_OLD", tok.RefreshToken)
		}
	})

	t.Run("rejected refresh falls back to fresh grant", func(t *testing.T) {
		as := newMockAuthServer(t)
		defer as.Close()
		as.rejectRefresh = true

		auth := NewClientCredentialsAuth("my-client", "my-secret", as.TokenURL(), "", "", newTestLogger())
		auth.setToken(expiredToken("REFRESH_OLD"))

		refreshed, err := auth.RefreshIfNeeded(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !refreshed {
			t.Error("expected a refresh via the fallback path")
		}

		grants := as.GrantTypes()
		if len(grants) != 2 || grants[0] != "refresh_token" || grants[1] != "client_credentials" {
			t.Errorf("expected refresh_token then client_credentials, got %v", grants)
		}

		if tok := auth.currentToken(); tok.AccessToken == "STALE_TOKEN" {
			t.Error("expected the stale token to be replaced")
		}
	})

	t.Run("expired token without refresh token re-authenticates", func(t *testing.T) {
		as := newMockAuthServer(t)
		defer as.Close()

		auth := NewClientCredentialsAuth("my-client", "my-secret", as.TokenURL(), "", "", newTestLogger())
		auth.setToken(expiredToken(""))

		refreshed, err := auth.RefreshIfNeeded(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !refreshed {
			t.Error("expected a refresh")
		}

		grants := as.GrantTypes()
		if len(grants) != 1 || grants[0] != "client_credentials" {
			t.Errorf("expected a single client_credentials grant, got %v", grants)
		}
	})
}
