package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// wellKnownAuthServerPath is the RFC 8414 metadata path
	wellKnownAuthServerPath = "/.well-known/oauth-authorization-server"

	// authorizationTimeout bounds the wait for the browser callback
	authorizationTimeout = 5 * time.Minute

	// discoveryRequestTimeout bounds the metadata fetch
	discoveryRequestTimeout = 10 * time.Second
)

// flowState tracks where an interactive authorization flow currently is.
type flowState string

const (
	stateUnauthenticated  flowState = "unauthenticated"
	stateDiscovering      flowState = "discovering"
	stateAwaitingCallback flowState = "awaiting-callback"
	stateExchangingCode   flowState = "exchanging-code"
	stateAuthenticated    flowState = "authenticated"
	stateRefreshing       flowState = "refreshing"
)

// authServerMetadata is the subset of RFC 8414 authorization server metadata
// the flow needs.
type authServerMetadata struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

// DiscoveryAuth implements the OAuth 2.0 authorization-code flow with
// endpoint discovery: endpoints are read from the authorization server's
// .well-known document, the user logs in via the system browser, and the
// resulting code is captured by a short-lived local callback server.
type DiscoveryAuth struct {
	clientID     string
	discoveryURL string
	scope        string
	redirectURI  string
	port         int
	logger       *Logger
	httpClient   *http.Client

	// openURL is swapped out by tests to avoid launching a browser
	openURL func(string) error

	mu            sync.Mutex
	state         flowState
	token         *Token
	authEndpoint  string
	tokenEndpoint string
}

// NewDiscoveryAuth creates an authorization-code authenticator for a public
// client. scope may be empty.
func NewDiscoveryAuth(clientID, discoveryURL, scope, redirectURI string, port int, logger *Logger) *DiscoveryAuth {
	return &DiscoveryAuth{
		clientID:     clientID,
		discoveryURL: strings.TrimRight(discoveryURL, "/"),
		scope:        scope,
		redirectURI:  redirectURI,
		port:         port,
		logger:       logger,
		httpClient:   &http.Client{Timeout: tokenRequestTimeout},
		openURL:      openBrowser,
		state:        stateUnauthenticated,
	}
}

// Authenticate returns the Authorization header for the cached token, running
// the full discovery plus authorization-code flow when no valid token is held.
func (a *DiscoveryAuth) Authenticate(ctx context.Context) (map[string]string, error) {
	if tok := a.currentToken(); tok != nil && !tok.IsExpired() {
		return tok.header(), nil
	}

	if err := a.discoverEndpoints(ctx); err != nil {
		return nil, err
	}

	tok, err := a.runAuthorizationCodeFlow(ctx)
	if err != nil {
		return nil, err
	}
	return tok.header(), nil
}

// RefreshIfNeeded refreshes a missing or expired token, falling back to the
// full interactive flow when no refresh token exists or the refresh is
// rejected.
func (a *DiscoveryAuth) RefreshIfNeeded(ctx context.Context) (bool, error) {
	tok := a.currentToken()
	if tok != nil && !tok.IsExpired() {
		return false, nil
	}

	if err := a.discoverEndpoints(ctx); err != nil {
		return false, err
	}

	if tok != nil && tok.RefreshToken != "" {
		a.setState(stateRefreshing)
		if refreshed, err := a.refreshToken(ctx, tok); err == nil {
			a.setToken(refreshed)
			a.setState(stateAuthenticated)
			return true, nil
		}
		a.logger.WarningVerbose("Token refresh failed, re-running authorization flow")
	}

	if _, err := a.runAuthorizationCodeFlow(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (a *DiscoveryAuth) currentToken() *Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *DiscoveryAuth) setToken(tok *Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = tok
}

func (a *DiscoveryAuth) setState(s flowState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

func (a *DiscoveryAuth) currentState() flowState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *DiscoveryAuth) endpoints() (string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authEndpoint, a.tokenEndpoint
}

// discoverEndpoints fetches the authorization server metadata document.
// A document missing either endpoint is a fatal discovery error; no browser
// interaction is attempted in that case.
func (a *DiscoveryAuth) discoverEndpoints(ctx context.Context) error {
	if auth, token := a.endpoints(); auth != "" && token != "" {
		return nil
	}
	a.setState(stateDiscovering)

	discoveryEndpoint := a.discoveryURL + wellKnownAuthServerPath
	a.logger.InfoVerbose("Discovering OAuth endpoints from %s", discoveryEndpoint)

	reqCtx, cancel := context.WithTimeout(ctx, discoveryRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, discoveryEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("OAuth discovery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OAuth discovery failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read discovery response: %w", err)
	}

	var metadata authServerMetadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return fmt.Errorf("failed to parse discovery response: %w", err)
	}

	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return fmt.Errorf("OAuth discovery missing authorization_endpoint or token_endpoint")
	}

	a.mu.Lock()
	a.authEndpoint = metadata.AuthorizationEndpoint
	a.tokenEndpoint = metadata.TokenEndpoint
	a.mu.Unlock()

	a.logger.InfoVerbose("Discovered OAuth endpoints: %s, %s", metadata.AuthorizationEndpoint, metadata.TokenEndpoint)
	return nil
}

// runAuthorizationCodeFlow drives one interactive login: callback listener,
// browser, code capture, token exchange. The state value is fresh per flow
// instance and checked inside the callback handler.
func (a *DiscoveryAuth) runAuthorizationCodeFlow(ctx context.Context) (*Token, error) {
	authEndpoint, _ := a.endpoints()
	state := uuid.NewString()

	callbackPath := "/callback"
	if parsed, err := url.Parse(a.redirectURI); err == nil && parsed.Path != "" {
		callbackPath = parsed.Path
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		if errParam := q.Get("error"); errParam != "" {
			desc := q.Get("error_description")
			if desc == "" {
				desc = errParam
			}
			http.Error(w, "Authentication failed: "+desc, http.StatusBadRequest)
			errChan <- fmt.Errorf("authorization error: %s - %s", errParam, desc)
			return
		}

		if q.Get("state") != state {
			http.Error(w, "State mismatch", http.StatusBadRequest)
			errChan <- fmt.Errorf("state mismatch (CSRF protection)")
			return
		}

		code := q.Get("code")
		if code == "" {
			http.Error(w, "Missing authorization code", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>`))
		codeChan <- code
	})

	// Bind before opening the browser so the redirect cannot race the listener.
	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", a.port))
	if err != nil {
		return nil, fmt.Errorf("failed to start callback listener: %w", err)
	}

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if serveErr := server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			errChan <- fmt.Errorf("callback server error: %w", serveErr)
		}
	}()
	defer server.Shutdown(context.Background())

	a.setState(stateAwaitingCallback)

	authParams := url.Values{
		"client_id":     {a.clientID},
		"redirect_uri":  {a.redirectURI},
		"response_type": {"code"},
		"state":         {state},
	}
	if a.scope != "" {
		authParams.Set("scope", a.scope)
	}
	authURL := authEndpoint + "?" + authParams.Encode()

	a.logger.Info("Opening browser for authentication...")
	if err := a.openURL(authURL); err != nil {
		a.logger.Warning("Could not open browser automatically: %v", err)
		a.logger.Info("Please open this URL in your browser:")
		a.logger.Info("%s", authURL)
	}

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		a.setState(stateUnauthenticated)
		return nil, err
	case <-time.After(authorizationTimeout):
		a.setState(stateUnauthenticated)
		return nil, fmt.Errorf("authorization timeout: no callback received within %v", authorizationTimeout)
	case <-ctx.Done():
		a.setState(stateUnauthenticated)
		return nil, ctx.Err()
	}

	a.setState(stateExchangingCode)
	tok, err := a.exchangeCode(ctx, code)
	if err != nil {
		a.setState(stateUnauthenticated)
		return nil, err
	}

	a.setToken(tok)
	a.setState(stateAuthenticated)
	a.logger.Success("Access token obtained successfully")
	return tok, nil
}

// exchangeCode trades an authorization code for a token.
func (a *DiscoveryAuth) exchangeCode(ctx context.Context, code string) (*Token, error) {
	_, tokenEndpoint := a.endpoints()
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"client_id":    {a.clientID},
		"redirect_uri": {a.redirectURI},
	}

	tok, err := postForm(ctx, a.httpClient, tokenEndpoint, form)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return tok, nil
}

// refreshToken performs the refresh-token grant. Callers fall back to the
// full authorization flow on error.
func (a *DiscoveryAuth) refreshToken(ctx context.Context, prev *Token) (*Token, error) {
	_, tokenEndpoint := a.endpoints()
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {prev.RefreshToken},
		"client_id":     {a.clientID},
	}

	tok, err := postForm(ctx, a.httpClient, tokenEndpoint, form)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = prev.RefreshToken
	}
	return tok, nil
}
