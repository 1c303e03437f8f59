package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// expiryBuffer is subtracted from a token's lifetime so refreshes happen
// before the server-side expiry.
const expiryBuffer = 60 * time.Second

// Authenticator produces the request headers for one upstream server and
// manages token refresh where the mechanism has tokens at all.
type Authenticator interface {
	// Authenticate returns the headers to attach to a request, obtaining or
	// refreshing a token first when necessary. It is idempotent.
	Authenticate(ctx context.Context) (map[string]string, error)

	// RefreshIfNeeded proactively refreshes a missing or expired token and
	// reports whether a refresh happened.
	RefreshIfNeeded(ctx context.Context) (bool, error)
}

// Token is an OAuth access token together with its acquisition time.
// A Token is replaced wholesale on refresh, never mutated field by field.
type Token struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scope        string
	AcquiredAt   time.Time
}

// IsExpired reports whether the token is past its lifetime minus the refresh
// buffer. Tokens without an expires_in never expire by this model.
func (t *Token) IsExpired() bool {
	return t.isExpiredAt(time.Now())
}

func (t *Token) isExpiredAt(now time.Time) bool {
	if t.ExpiresIn == 0 {
		return false
	}
	expiry := t.AcquiredAt.Add(time.Duration(t.ExpiresIn)*time.Second - expiryBuffer)
	return now.After(expiry)
}

// header renders the Authorization header for the token.
func (t *Token) header() map[string]string {
	return map[string]string{"Authorization": fmt.Sprintf("%s %s", t.TokenType, t.AccessToken)}
}

// tokenResponse is the wire shape of an OAuth token endpoint reply.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// parseToken decodes a token endpoint response body into a Token with the
// acquisition time set to now.
func parseToken(body []byte) (*Token, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	if tr.TokenType == "" {
		tr.TokenType = "Bearer"
	}
	return &Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		ExpiresIn:    tr.ExpiresIn,
		RefreshToken: tr.RefreshToken,
		Scope:        tr.Scope,
		AcquiredAt:   time.Now(),
	}, nil
}

// BearerTokenAuth sends a fixed bearer token with every request.
type BearerTokenAuth struct {
	token string
}

// NewBearerTokenAuth creates a static bearer token authenticator.
func NewBearerTokenAuth(token string) *BearerTokenAuth {
	return &BearerTokenAuth{token: token}
}

// Authenticate returns the fixed Authorization header.
func (a *BearerTokenAuth) Authenticate(ctx context.Context) (map[string]string, error) {
	return map[string]string{"Authorization": "Bearer " + a.token}, nil
}

// RefreshIfNeeded is a no-op for static tokens.
func (a *BearerTokenAuth) RefreshIfNeeded(ctx context.Context) (bool, error) {
	return false, nil
}

// APIKeyAuth sends a static API key in a configurable header.
type APIKeyAuth struct {
	headerName string
	apiKey     string
}

// NewAPIKeyAuth creates an API key authenticator for the given header.
func NewAPIKeyAuth(headerName, apiKey string) *APIKeyAuth {
	return &APIKeyAuth{headerName: headerName, apiKey: apiKey}
}

// Authenticate returns the configured header.
func (a *APIKeyAuth) Authenticate(ctx context.Context) (map[string]string, error) {
	return map[string]string{a.headerName: a.apiKey}, nil
}

// RefreshIfNeeded is a no-op for static API keys.
func (a *APIKeyAuth) RefreshIfNeeded(ctx context.Context) (bool, error) {
	return false, nil
}
