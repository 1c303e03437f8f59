package hub

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrTimeout is returned when a response does not arrive within the
// configured per-request timeout.
var ErrTimeout = errors.New("request timed out")

// Transport owns a single channel to one upstream MCP server.
type Transport interface {
	// Connect establishes the channel and performs the initialize handshake
	// as the first request.
	Connect(ctx context.Context) error

	// Disconnect releases all channel resources. It is safe to call on an
	// already-disconnected transport.
	Disconnect() error

	// SendRequest sends one JSON-RPC call and returns its result field.
	// A JSON-RPC error reply or a transport failure is returned as an error.
	SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// jsonrpcRequest is the JSON-RPC 2.0 request envelope.
type jsonrpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// jsonrpcResponse is the JSON-RPC 2.0 response envelope. Exactly one of
// Result and Error is populated by a conforming server.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is the error object of a JSON-RPC failure reply.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// newRequest builds a request envelope.
func newRequest(id int64, method string, params interface{}) *jsonrpcRequest {
	if params == nil {
		params = map[string]interface{}{}
	}
	return &jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// resultOf extracts the result field from a response, converting a JSON-RPC
// error or an empty reply into a protocol error.
func resultOf(resp *jsonrpcResponse) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("response missing result")
	}
	return resp.Result, nil
}

// initializeParams builds the params of the MCP initialize handshake.
func initializeParams() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    clientName,
			"version": clientVersion,
		},
	}
}

// sendInitialize performs the handshake over an already-open channel.
func sendInitialize(ctx context.Context, t Transport) error {
	if _, err := t.SendRequest(ctx, methodInitialize, initializeParams()); err != nil {
		return fmt.Errorf("initialize handshake failed: %w", err)
	}
	return nil
}

// newHTTPClient builds an HTTP client for one server. Disabling certificate
// verification is an explicit per-server trust decision from the config,
// never a silent default.
func newHTTPClient(timeout time.Duration, verifySSL bool) *http.Client {
	client := &http.Client{Timeout: timeout}
	if !verifySSL {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}

// authHeaders refreshes the authenticator when needed and returns its
// headers. A nil authenticator yields no headers.
func authHeaders(ctx context.Context, auth Authenticator) (map[string]string, error) {
	if auth == nil {
		return nil, nil
	}
	if _, err := auth.RefreshIfNeeded(ctx); err != nil {
		return nil, fmt.Errorf("auth refresh failed: %w", err)
	}
	headers, err := auth.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return headers, nil
}
