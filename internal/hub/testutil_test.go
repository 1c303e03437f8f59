package hub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Test timeout constants
const (
	testTimeoutNormal = 1 * time.Second
	testTimeoutLong   = 5 * time.Second
)

// newTestLogger creates a quiet logger for tests
func newTestLogger() *Logger {
	return NewLoggerWithWriter(false, false, false, io.Discard)
}

// toolDef is a canned tool definition served by the mock servers
type toolDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// mockMCPServer is a request/response MCP server speaking JSON-RPC over
// HTTP POST to /mcp.
type mockMCPServer struct {
	*httptest.Server
	t *testing.T

	// Configuration
	tools          []toolDef
	requiredHeader string
	requiredValue  string
	failToolsList  bool

	// State tracking
	mu       sync.Mutex
	requests []jsonrpcRequest
}

// newMockMCPServer creates a mock MCP server exposing the given tools
func newMockMCPServer(t *testing.T, tools []toolDef) *mockMCPServer {
	t.Helper()

	mms := &mockMCPServer{
		t:     t,
		tools: tools,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", mms.handleRequest)
	mms.Server = httptest.NewServer(mux)

	return mms
}

// RequireHeader makes the server reject requests missing the given header
func (mms *mockMCPServer) RequireHeader(name, value string) {
	mms.mu.Lock()
	defer mms.mu.Unlock()
	mms.requiredHeader = name
	mms.requiredValue = value
}

// Requests returns a copy of all requests received
func (mms *mockMCPServer) Requests() []jsonrpcRequest {
	mms.mu.Lock()
	defer mms.mu.Unlock()
	return append([]jsonrpcRequest{}, mms.requests...)
}

// RequestsByMethod returns the received requests for one method
func (mms *mockMCPServer) RequestsByMethod(method string) []jsonrpcRequest {
	var out []jsonrpcRequest
	for _, req := range mms.Requests() {
		if req.Method == method {
			out = append(out, req)
		}
	}
	return out
}

func (mms *mockMCPServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	mms.mu.Lock()
	header := mms.requiredHeader
	value := mms.requiredValue
	mms.mu.Unlock()

	if header != "" && r.Header.Get(header) != value {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		return
	}

	var req jsonrpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	mms.mu.Lock()
	mms.requests = append(mms.requests, req)
	mms.mu.Unlock()

	resp := mms.respond(&req)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// respond builds the JSON-RPC reply for one request
func (mms *mockMCPServer) respond(req *jsonrpcRequest) map[string]interface{} {
	switch req.Method {
	case methodInitialize:
		return rpcResult(req.ID, map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]interface{}{},
			"serverInfo":      map[string]interface{}{"name": "mock", "version": "0.0.1"},
		})

	case methodToolsList:
		if mms.failToolsList {
			return rpcError(req.ID, -32000, "tools unavailable")
		}
		return rpcResult(req.ID, map[string]interface{}{"tools": mms.tools})

	case methodToolsCall:
		params, _ := req.Params.(map[string]interface{})
		name, _ := params["name"].(string)
		return rpcResult(req.ID, map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": fmt.Sprintf("called %s", name)},
			},
		})

	default:
		return rpcError(req.ID, -32601, "method not found")
	}
}

func rpcResult(id int64, result interface{}) map[string]interface{} {
	return map[string]interface{}{"jsonrpc": "2.0", "id": id, "result": result}
}

func rpcError(id int64, code int, message string) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]interface{}{"code": code, "message": message},
	}
}

// mockSSEServer is a stream-correlated MCP server: requests arrive as POSTs
// to /mcp and responses are written as data lines on a long-lived GET stream.
type mockSSEServer struct {
	*httptest.Server
	t *testing.T

	tools []toolDef

	// onCall intercepts tools/call requests; the returned responses are
	// emitted on the stream in order. nil means answer each immediately.
	onCall func(req *jsonrpcRequest) []*jsonrpcResponse

	mu     sync.Mutex
	stream chan string
}

// newMockSSEServer creates a mock SSE MCP server exposing the given tools
func newMockSSEServer(t *testing.T, tools []toolDef) *mockSSEServer {
	t.Helper()

	mss := &mockSSEServer{
		t:      t,
		tools:  tools,
		stream: make(chan string, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", mss.handleStream)
	mux.HandleFunc("/mcp", mss.handlePost)
	mss.Server = httptest.NewServer(mux)

	return mss
}

func (mss *mockSSEServer) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case line := <-mss.stream:
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (mss *mockSSEServer) handlePost(w http.ResponseWriter, r *http.Request) {
	var req jsonrpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	if req.Method == methodToolsCall && mss.onCall != nil {
		for _, resp := range mss.onCall(&req) {
			mss.emit(resp)
		}
		return
	}

	mss.emit(mss.respond(&req))
}

// emit writes one response onto the event stream
func (mss *mockSSEServer) emit(resp *jsonrpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		mss.t.Errorf("failed to marshal stream response: %v", err)
		return
	}
	mss.stream <- string(data)
}

func (mss *mockSSEServer) respond(req *jsonrpcRequest) *jsonrpcResponse {
	switch req.Method {
	case methodInitialize:
		return sseResult(req.ID, map[string]interface{}{"protocolVersion": protocolVersion})
	case methodToolsList:
		return sseResult(req.ID, map[string]interface{}{"tools": mss.tools})
	case methodToolsCall:
		params, _ := req.Params.(map[string]interface{})
		name, _ := params["name"].(string)
		return sseResult(req.ID, map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": fmt.Sprintf("called %s", name)},
			},
		})
	default:
		return &jsonrpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32601, Message: "method not found"},
		}
	}
}

func sseResult(id int64, result interface{}) *jsonrpcResponse {
	data, _ := json.Marshal(result)
	return &jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: data}
}

// mockAuthServer is a minimal OAuth authorization server with metadata
// discovery and a token endpoint.
type mockAuthServer struct {
	*httptest.Server
	t *testing.T

	// Configuration
	omitTokenEndpoint bool
	rejectRefresh     bool
	expiresIn         int64
	rotateRefresh     bool

	mu            sync.Mutex
	tokenRequests []map[string]string
	issued        int
}

// newMockAuthServer creates a mock OAuth authorization server
func newMockAuthServer(t *testing.T) *mockAuthServer {
	t.Helper()

	mas := &mockAuthServer{
		t:         t,
		expiresIn: 3600,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(wellKnownAuthServerPath, mas.handleMetadata)
	mux.HandleFunc("/token", mas.handleToken)
	mas.Server = httptest.NewServer(mux)

	return mas
}

// TokenURL returns the token endpoint URL
func (mas *mockAuthServer) TokenURL() string {
	return mas.URL + "/token"
}

// TokenRequests returns a copy of the received token endpoint form bodies
func (mas *mockAuthServer) TokenRequests() []map[string]string {
	mas.mu.Lock()
	defer mas.mu.Unlock()
	return append([]map[string]string{}, mas.tokenRequests...)
}

// GrantTypes returns the grant_type of each token request in order
func (mas *mockAuthServer) GrantTypes() []string {
	var out []string
	for _, req := range mas.TokenRequests() {
		out = append(out, req["grant_type"])
	}
	return out
}

func (mas *mockAuthServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	metadata := map[string]interface{}{
		"issuer":                 mas.URL,
		"authorization_endpoint": mas.URL + "/authorize",
	}
	if !mas.omitTokenEndpoint {
		metadata["token_endpoint"] = mas.TokenURL()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metadata)
}

func (mas *mockAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method_not_allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}

	form := make(map[string]string)
	for k := range r.Form {
		form[k] = r.Form.Get(k)
	}

	mas.mu.Lock()
	mas.tokenRequests = append(mas.tokenRequests, form)
	mas.issued++
	issued := mas.issued
	mas.mu.Unlock()

	if form["grant_type"] == "refresh_token" && mas.rejectRefresh {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}

	response := map[string]interface{}{
		"access_token": fmt.Sprintf("ACCESS_TOKEN_%d", issued),
		"token_type":   "Bearer",
		"expires_in":   mas.expiresIn,
	}
	if form["grant_type"] != "refresh_token" || mas.rotateRefresh {
		response["refresh_token"] = fmt.Sprintf("REFRESH_TOKEN_%d", issued)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
