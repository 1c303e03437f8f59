package hub

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"
)

// freePort grabs an ephemeral localhost port for a callback listener.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// newTestDiscoveryAuth wires a DiscoveryAuth to a mock authorization server
// with a local callback port.
func newTestDiscoveryAuth(t *testing.T, as *mockAuthServer) *DiscoveryAuth {
	t.Helper()
	port := freePort(t)
	redirectURI := fmt.Sprintf("http://localhost:%d/callback", port)
	return NewDiscoveryAuth("test-client", as.URL, "read", redirectURI, port, newTestLogger())
}

// browserStub simulates the user's browser: it parses the authorization URL
// and immediately hits the callback with the given code and state. An empty
// state means echo the server-chosen one.
func browserStub(t *testing.T, code, forcedState string) func(string) error {
	t.Helper()
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		redirect := q.Get("redirect_uri")
		state := q.Get("state")
		if forcedState != "" {
			state = forcedState
		}

		go func() {
			params := url.Values{"state": {state}}
			if code != "" {
				params.Set("code", code)
			} else {
				params.Set("error", "access_denied")
				params.Set("error_description", "user declined")
			}
			resp, err := http.Get(redirect + "?" + params.Encode())
			if err != nil {
				t.Errorf("callback request failed: %v", err)
				return
			}
			resp.Body.Close()
		}()
		return nil
	}
}

func TestDiscoveryAuthFullFlow(t *testing.T) {
	as := newMockAuthServer(t)
	defer as.Close()

	auth := newTestDiscoveryAuth(t, as)
	auth.openURL = browserStub(t, "TEST_CODE", "")

	headers, err := auth.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if headers["Authorization"] != "Bearer ACCESS_TOKEN_1" {
		t.Errorf("Authorization = %q, want Bearer ACCESS_TOKEN_1", headers["Authorization"])
	}
	if auth.currentState() != stateAuthenticated {
		t.Errorf("state = %q, want %q", auth.currentState(), stateAuthenticated)
	}

	reqs := as.TokenRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 token request, got %d", len(reqs))
	}
	if reqs[0]["grant_type"] != "authorization_code" {
		t.Errorf("grant_type = %q, want authorization_code", reqs[0]["grant_type"])
	}
	if reqs[0]["code"] != "TEST_CODE" {
		t.Errorf("code = %q, want TEST_CODE", reqs[0]["code"])
	}
	if reqs[0]["redirect_uri"] != auth.redirectURI {
		t.Errorf("redirect_uri = %q, want %q", reqs[0]["redirect_uri"], auth.redirectURI)
	}
}

func TestDiscoveryAuthReusesCachedToken(t *testing.T) {
	as := newMockAuthServer(t)
	defer as.Close()

	auth := newTestDiscoveryAuth(t, as)
	browserOpened := false
	auth.openURL = func(string) error {
		browserOpened = true
		return nil
	}

	auth.setToken(&Token{
		AccessToken: "CACHED",
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		AcquiredAt:  time.Now(),
	})

	headers, err := auth.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if headers["Authorization"] != "Bearer CACHED" {
		t.Errorf("Authorization = %q, want Bearer CACHED", headers["Authorization"])
	}
	if browserOpened {
		t.Error("expected no browser interaction for a valid cached token")
	}
}

func TestDiscoveryAuthIncompleteMetadata(t *testing.T) {
	as := newMockAuthServer(t)
	defer as.Close()
	as.omitTokenEndpoint = true

	auth := newTestDiscoveryAuth(t, as)
	browserOpened := false
	auth.openURL = func(string) error {
		browserOpened = true
		return nil
	}

	_, err := auth.Authenticate(context.Background())
	if err == nil {
		t.Fatal("expected error for metadata missing token_endpoint")
	}
	if browserOpened {
		t.Error("expected discovery to fail before any browser interaction")
	}
	if n := len(as.TokenRequests()); n != 0 {
		t.Errorf("expected no token requests, got %d", n)
	}
}

func TestDiscoveryAuthStateMismatch(t *testing.T) {
	as := newMockAuthServer(t)
	defer as.Close()

	auth := newTestDiscoveryAuth(t, as)
	auth.openURL = browserStub(t, "TEST_CODE", "forged-state")

	_, err := auth.Authenticate(context.Background())
	if err == nil {
		t.Fatal("expected error for a state mismatch")
	}
	if n := len(as.TokenRequests()); n != 0 {
		t.Errorf("expected no code exchange after state mismatch, got %d requests", n)
	}
	if auth.currentState() != stateUnauthenticated {
		t.Errorf("state = %q, want %q", auth.currentState(), stateUnauthenticated)
	}
}

func TestDiscoveryAuthAuthorizationDenied(t *testing.T) {
	as := newMockAuthServer(t)
	defer as.Close()

	auth := newTestDiscoveryAuth(t, as)
	auth.openURL = browserStub(t, "", "")

	_, err := auth.Authenticate(context.Background())
	if err == nil {
		t.Fatal("expected error when authorization is denied")
	}
}

func TestDiscoveryAuthRefreshWithoutBrowser(t *testing.T) {
	as := newMockAuthServer(t)
	defer as.Close()

	auth := newTestDiscoveryAuth(t, as)
	browserOpened := false
	auth.openURL = func(string) error {
		browserOpened = true
		return nil
	}

	auth.setToken(expiredToken("REFRESH_OLD"))

	refreshed, err := auth.RefreshIfNeeded(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !refreshed {
		t.Error("expected a refresh for an expired token")
	}
	if browserOpened {
		t.Error("expected the refresh grant to avoid browser interaction")
	}

	grants := as.GrantTypes()
	if len(grants) != 1 || grants[0] != "refresh_token" {
		t.Errorf("expected a single refresh_token grant, got %v", grants)
	}
}
