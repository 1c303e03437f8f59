package hub

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// stdioShutdownGrace is how long Disconnect waits for the subprocess to exit
// after stdin closes before killing it.
const stdioShutdownGrace = 5 * time.Second

// StdioTransport speaks newline-delimited JSON-RPC to a subprocess over its
// standard streams. Requests are issued strictly one at a time; the response
// is the next line on stdout, so correlation holds by construction.
type StdioTransport struct {
	command string
	args    []string
	env     map[string]string
	logger  *Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	nextID int64
}

// NewStdioTransport creates a transport that launches the given command.
// env entries overlay the ambient process environment.
func NewStdioTransport(command string, args []string, env map[string]string, logger *Logger) *StdioTransport {
	return &StdioTransport{
		command: command,
		args:    args,
		env:     env,
		logger:  logger,
	}
}

// Connect starts the subprocess and performs the initialize handshake.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.cmd != nil {
		t.mu.Unlock()
		return fmt.Errorf("stdio transport already connected")
	}

	cmd := exec.Command(t.command, t.args...)
	cmd.Env = mergedEnv(t.env)
	cmd.Stderr = nil

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to start process %q: %w", t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = bufio.NewReader(stdout)
	t.mu.Unlock()

	t.logger.InfoVerbose("Started process: %s", t.command)

	if err := sendInitialize(ctx, t); err != nil {
		_ = t.Disconnect()
		return err
	}
	return nil
}

// Disconnect closes stdin and waits briefly for the subprocess to exit,
// killing it if it does not. Safe to call repeatedly.
func (t *StdioTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd == nil {
		return nil
	}

	_ = t.stdin.Close()

	done := make(chan error, 1)
	cmd := t.cmd
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(stdioShutdownGrace):
		t.logger.WarningVerbose("Process %s did not exit, killing", t.command)
		_ = cmd.Process.Kill()
		<-done
	}

	t.cmd = nil
	t.stdin = nil
	t.stdout = nil
	return nil
}

// SendRequest writes one request line to the subprocess and blocks until the
// matching response line arrives. An empty read means the server closed its
// stream and is reported as a connection failure.
func (t *StdioTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd == nil {
		return nil, fmt.Errorf("process not running")
	}

	t.nextID++
	req := newRequest(t.nextID, method, params)
	t.logger.Request(method, req.Params)

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	line = append(line, '\n')

	if _, err := t.stdin.Write(line); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	responseLine, err := t.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("no response from server: %w", err)
	}

	var resp jsonrpcResponse
	if err := json.Unmarshal([]byte(responseLine), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result, err := resultOf(&resp)
	if err != nil {
		return nil, err
	}
	t.logger.Response(method, json.RawMessage(result))
	return result, nil
}

// mergedEnv overlays configured variables on the ambient process environment.
func mergedEnv(overlay map[string]string) []string {
	env := os.Environ()
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}
