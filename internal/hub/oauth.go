package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// tokenRequestTimeout bounds every token endpoint round trip
	tokenRequestTimeout = 30 * time.Second

	// maxTokenResponseSize caps token endpoint response bodies (1MB)
	maxTokenResponseSize = 1024 * 1024
)

// postForm sends a form-encoded POST to an OAuth token endpoint and decodes
// the resulting token. A non-200 status is an error carrying the response
// body for diagnosis.
func postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return parseToken(body)
}

// ClientCredentialsAuth implements the OAuth 2.0 client-credentials flow for
// service-to-service authentication. The token is acquired lazily on the
// first Authenticate call and replaced on every refresh.
type ClientCredentialsAuth struct {
	clientID     string
	clientSecret string
	tokenURL     string
	authURL      string
	scope        string
	httpClient   *http.Client
	logger       *Logger

	mu    sync.Mutex
	token *Token
}

// NewClientCredentialsAuth creates a client-credentials authenticator.
// authURL and scope may be empty.
func NewClientCredentialsAuth(clientID, clientSecret, tokenURL, authURL, scope string, logger *Logger) *ClientCredentialsAuth {
	return &ClientCredentialsAuth{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     tokenURL,
		authURL:      authURL,
		scope:        scope,
		httpClient:   &http.Client{Timeout: tokenRequestTimeout},
		logger:       logger,
	}
}

// Authenticate returns the Authorization header for the cached token,
// acquiring a fresh one via the client-credentials grant when the cache is
// empty or expired.
func (a *ClientCredentialsAuth) Authenticate(ctx context.Context) (map[string]string, error) {
	if tok := a.currentToken(); tok != nil && !tok.IsExpired() {
		return tok.header(), nil
	}

	tok, err := a.requestToken(ctx)
	if err != nil {
		return nil, err
	}
	a.setToken(tok)
	return tok.header(), nil
}

// RefreshIfNeeded refreshes a missing or expired token. The refresh-token
// grant is preferred when one is held; a refresh failure falls back to a
// fresh client-credentials request instead of propagating.
func (a *ClientCredentialsAuth) RefreshIfNeeded(ctx context.Context) (bool, error) {
	tok := a.currentToken()
	if tok != nil && !tok.IsExpired() {
		return false, nil
	}

	if tok != nil && tok.RefreshToken != "" {
		if refreshed, err := a.refreshToken(ctx, tok); err == nil {
			a.setToken(refreshed)
			return true, nil
		}
		a.logger.WarningVerbose("Token refresh failed, re-authenticating")
	}

	fresh, err := a.requestToken(ctx)
	if err != nil {
		return false, err
	}
	a.setToken(fresh)
	return true, nil
}

func (a *ClientCredentialsAuth) currentToken() *Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *ClientCredentialsAuth) setToken(tok *Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = tok
}

// requestToken performs the client-credentials grant against the token URL.
func (a *ClientCredentialsAuth) requestToken(ctx context.Context) (*Token, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
	}
	if a.scope != "" {
		form.Set("scope", a.scope)
	}

	tok, err := postForm(ctx, a.httpClient, a.tokenURL, form)
	if err != nil {
		return nil, fmt.Errorf("client credentials grant failed: %w", err)
	}
	a.logger.InfoVerbose("Obtained OAuth token, expires in %ds", tok.ExpiresIn)
	return tok, nil
}

// refreshToken performs the refresh-token grant. The previous refresh token
// is carried forward when the endpoint does not rotate it.
func (a *ClientCredentialsAuth) refreshToken(ctx context.Context, prev *Token) (*Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {prev.RefreshToken},
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
	}

	tok, err := postForm(ctx, a.httpClient, a.tokenURL, form)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = prev.RefreshToken
	}
	a.logger.InfoVerbose("Token refreshed successfully")
	return tok, nil
}
