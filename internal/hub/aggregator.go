package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrToolNotFound is returned for a tool id absent from the registry.
	ErrToolNotFound = errors.New("tool not found")

	// ErrServerNotConnected is returned when a tool's owning server has no
	// live connector.
	ErrServerNotConnected = errors.New("server not connected")
)

// ToolID joins a server name and a tool name into the registry key.
func ToolID(server, tool string) string {
	return server + toolIDSeparator + tool
}

// Aggregator merges the tools of every configured server into one registry
// keyed by "<server>::<tool>" and routes invocations to the owning server.
type Aggregator struct {
	configPath string
	logger     *Logger

	mu         sync.RWMutex
	connectors map[string]*Connector
	tools      map[string]Tool
}

// NewAggregator creates an aggregator reading server configurations from
// configPath. An empty path is valid and aggregates nothing.
func NewAggregator(configPath string, logger *Logger) *Aggregator {
	return &Aggregator{
		configPath: configPath,
		logger:     logger,
		connectors: make(map[string]*Connector),
		tools:      make(map[string]Tool),
	}
}

// Load reads the configuration and connects to every server in it. A
// failure on one server is logged and leaves that server out of the
// registry; the load itself only fails when the document cannot be read.
func (a *Aggregator) Load(ctx context.Context) error {
	if a.configPath == "" {
		a.logger.InfoVerbose("No server config provided")
		return nil
	}

	configs, err := LoadServerConfigs(a.configPath, a.logger)
	if err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}
	a.logger.Info("Loaded %d MCP server configurations", len(configs))

	for name, cfg := range configs {
		a.addServer(ctx, name, cfg)
	}
	return nil
}

// addServer connects one server and merges its tools. Any previous state
// for the same server name is torn down first, so re-loading cannot leave
// duplicate or stale entries.
func (a *Aggregator) addServer(ctx context.Context, name string, cfg *ServerConfig) {
	if strings.Contains(name, toolIDSeparator) {
		a.logger.Error("Skipping server %q: name must not contain %q", name, toolIDSeparator)
		return
	}

	a.removeServer(name)

	connector := NewConnector(cfg, a.logger)
	if err := connector.Connect(ctx); err != nil {
		a.logger.Error("%v", err)
		return
	}

	tools, err := connector.GetTools(ctx)
	if err != nil {
		a.logger.Error("Failed to discover tools from %s: %v", name, err)
		connector.Disconnect()
		return
	}
	a.logger.Info("Discovered %d tools from %s", len(tools), name)

	a.mu.Lock()
	a.connectors[name] = connector
	for _, tool := range tools {
		if strings.Contains(tool.Name, toolIDSeparator) {
			a.logger.Warning("Skipping tool %q from %s: name must not contain %q", tool.Name, name, toolIDSeparator)
			continue
		}
		id := ToolID(name, tool.Name)
		a.tools[id] = tool
		a.logger.InfoVerbose("Added tool: %s", id)
	}
	a.mu.Unlock()
}

// removeServer drops one server's connector and tools together.
func (a *Aggregator) removeServer(name string) {
	a.mu.Lock()
	connector := a.connectors[name]
	delete(a.connectors, name)
	for id, tool := range a.tools {
		if tool.SourceServer == name {
			delete(a.tools, id)
		}
	}
	a.mu.Unlock()

	if connector != nil {
		connector.Disconnect()
	}
}

// GetTool looks up a tool by qualified id.
func (a *Aggregator) GetTool(id string) (Tool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tool, ok := a.tools[id]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrToolNotFound, id)
	}
	return tool, nil
}

// CallTool resolves the owning server of a qualified tool id and invokes
// the tool there. Per-call failures propagate to the caller.
func (a *Aggregator) CallTool(ctx context.Context, id string, arguments map[string]interface{}) (json.RawMessage, error) {
	a.mu.RLock()
	tool, ok := a.tools[id]
	connector := a.connectors[tool.SourceServer]
	a.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, id)
	}
	if connector == nil {
		return nil, fmt.Errorf("%w: %s", ErrServerNotConnected, tool.SourceServer)
	}

	return connector.CallTool(ctx, tool.Name, arguments)
}

// ListTools returns a snapshot of the registry keyed by qualified tool id.
func (a *Aggregator) ListTools() map[string]Tool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snapshot := make(map[string]Tool, len(a.tools))
	for id, tool := range a.tools {
		snapshot[id] = tool
	}
	return snapshot
}

// ServerNames returns the names of all connected servers.
func (a *Aggregator) ServerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.connectors))
	for name := range a.connectors {
		names = append(names, name)
	}
	return names
}

// Reload tears down all connections and re-runs Load.
func (a *Aggregator) Reload(ctx context.Context) error {
	a.DisconnectAll()
	return a.Load(ctx)
}

// DisconnectAll disconnects every live connector and clears the registry.
// Each disconnect is isolated, so one failing server cannot block the
// others; safe to call when partially or never connected.
func (a *Aggregator) DisconnectAll() {
	a.mu.Lock()
	connectors := a.connectors
	a.connectors = make(map[string]*Connector)
	a.tools = make(map[string]Tool)
	a.mu.Unlock()

	for _, connector := range connectors {
		connector.Disconnect()
	}
}
