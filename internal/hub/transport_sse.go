package hub

import (
	"bufio"
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

// ssePrefix marks payload lines on the event stream.
const ssePrefix = "data: "

// SSETransport posts requests like the HTTP transport but receives responses
// asynchronously over a persistently-open GET stream. A single listener
// goroutine decodes each data line and routes it to the caller waiting on
// that request id; unrelated waiters are never blocked, and each id is
// delivered exactly once.
type SSETransport struct {
	baseURL   string
	auth      Authenticator
	timeout   time.Duration
	verifySSL bool
	logger    *Logger

	mu       sync.Mutex
	client   *http.Client
	pending  map[int64]chan *jsonrpcResponse
	cancel   context.CancelFunc
	listener chan struct{}
	nextID   int64
}

// NewSSETransport creates an SSE transport for the given base URL.
// auth may be nil.
func NewSSETransport(baseURL string, auth Authenticator, timeout time.Duration, verifySSL bool, logger *Logger) *SSETransport {
	return &SSETransport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		auth:      auth,
		timeout:   timeout,
		verifySSL: verifySSL,
		logger:    logger,
		pending:   make(map[int64]chan *jsonrpcResponse),
	}
}

// Connect opens the event stream, starts the listener goroutine, and
// performs the initialize handshake.
func (t *SSETransport) Connect(ctx context.Context) error {
	// The stream outlives the request timeout, so the client carries no
	// global deadline; POSTs get per-request contexts instead.
	client := newHTTPClient(0, t.verifySSL)

	headers, err := authHeaders(ctx, t.auth)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.baseURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open SSE stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("SSE stream error: HTTP %d", resp.StatusCode)
	}

	listenerDone := make(chan struct{})

	t.mu.Lock()
	t.client = client
	t.cancel = cancel
	t.listener = listenerDone
	t.mu.Unlock()

	go t.listen(resp.Body, listenerDone)

	if err := sendInitialize(ctx, t); err != nil {
		_ = t.Disconnect()
		return err
	}
	t.logger.InfoVerbose("SSE transport connected to %s", t.baseURL)
	return nil
}

// Disconnect cancels the listener goroutine and releases the stream.
// Safe to call repeatedly.
func (t *SSETransport) Disconnect() error {
	t.mu.Lock()
	cancel := t.cancel
	listener := t.listener
	client := t.client
	t.cancel = nil
	t.listener = nil
	t.client = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if listener != nil {
		<-listener
	}
	if client != nil {
		client.CloseIdleConnections()
	}
	return nil
}

// SendRequest posts one JSON-RPC request and waits for the listener to route
// the matching response, bounded by the configured timeout. On expiry the
// listener keeps running for other callers.
func (t *SSETransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	if t.client == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport not connected")
	}
	client := t.client
	t.nextID++
	id := t.nextID
	// Register before posting so the response cannot race the waiter.
	ch := make(chan *jsonrpcResponse, 1)
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	req := newRequest(id, method, params)
	t.logger.Request(method, req.Params)

	if err := t.post(ctx, client, req); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		result, err := resultOf(resp)
		if err != nil {
			return nil, err
		}
		t.logger.Response(method, json.RawMessage(result))
		return result, nil
	case <-time.After(t.timeout):
		return nil, fmt.Errorf("%w: no response for request %d within %v", ErrTimeout, id, t.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// post sends the request body; the response arrives on the stream.
func (t *SSETransport) post(ctx context.Context, client *http.Client, req *jsonrpcRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	headers, err := authHeaders(ctx, t.auth)
	if err != nil {
		return err
	}

	postCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(postCtx, http.MethodPost, t.baseURL+mcpEndpointPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// listen is the sole reader of the event stream. Each data line is decoded
// and handed to the waiter registered for its id; messages without a waiter
// (notifications, stale replies) are dropped with a log line.
func (t *SSETransport) listen(body io.ReadCloser, done chan struct{}) {
	defer close(done)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}

		var resp jsonrpcResponse
		if err := json.Unmarshal([]byte(line[len(ssePrefix):]), &resp); err != nil {
			t.logger.WarningVerbose("Invalid JSON on SSE stream: %v", err)
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()

		if ok {
			ch <- &resp
		} else {
			t.logger.InfoVerbose("Dropping unmatched SSE message (id %d)", resp.ID)
		}
	}

	if err := scanner.Err(); err != nil && !strings.Contains(err.Error(), "context canceled") {
		t.logger.WarningVerbose("SSE stream closed: %v", err)
	}
}
