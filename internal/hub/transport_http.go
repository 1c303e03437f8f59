package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPTransport sends one POST per request to <baseURL>/mcp and reads the
// JSON-RPC response from the reply body. At most one request is in flight
// at a time.
type HTTPTransport struct {
	baseURL   string
	auth      Authenticator
	timeout   time.Duration
	verifySSL bool
	logger    *Logger

	mu     sync.Mutex
	client *http.Client
	nextID int64
}

// NewHTTPTransport creates an HTTP transport for the given base URL.
// auth may be nil.
func NewHTTPTransport(baseURL string, auth Authenticator, timeout time.Duration, verifySSL bool, logger *Logger) *HTTPTransport {
	return &HTTPTransport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		auth:      auth,
		timeout:   timeout,
		verifySSL: verifySSL,
		logger:    logger,
	}
}

// Connect creates the HTTP client and performs the initialize handshake.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	t.client = newHTTPClient(t.timeout, t.verifySSL)
	t.mu.Unlock()

	if err := sendInitialize(ctx, t); err != nil {
		_ = t.Disconnect()
		return err
	}
	t.logger.InfoVerbose("HTTP transport connected to %s", t.baseURL)
	return nil
}

// Disconnect releases the HTTP client. Safe to call repeatedly.
func (t *HTTPTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.CloseIdleConnections()
		t.client = nil
	}
	return nil
}

// SendRequest posts one JSON-RPC request and returns its result. The
// authenticator, when present, is refreshed and consulted before every
// request.
func (t *HTTPTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil, fmt.Errorf("transport not connected")
	}

	t.nextID++
	req := newRequest(t.nextID, method, params)
	t.logger.Request(method, req.Params)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	headers, err := authHeaders(ctx, t.auth)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+mcpEndpointPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var resp jsonrpcResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result, err := resultOf(&resp)
	if err != nil {
		return nil, err
	}
	t.logger.Response(method, json.RawMessage(result))
	return result, nil
}
