package hub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is a single invocable operation discovered on an upstream server.
// The input schema is protocol-defined JSON and passes through untouched.
type Tool struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	SourceServer string          `json:"sourceServer"`
}

// toolsListResult is the wire shape of a tools/list reply.
type toolsListResult struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"inputSchema"`
	} `json:"tools"`
}

// Connector pairs one server's configuration with a live transport and owns
// the protocol-level operations against it.
type Connector struct {
	config      *ServerConfig
	logger      *Logger
	transport   Transport
	initialized bool
}

// NewConnector creates a connector for the given server configuration.
func NewConnector(config *ServerConfig, logger *Logger) *Connector {
	return &Connector{config: config, logger: logger}
}

// Connect builds the transport implied by the configured kind (and its
// authenticator, if any) and establishes the connection. Failures are
// wrapped with the server name and not retried.
func (c *Connector) Connect(ctx context.Context) error {
	transport, err := c.buildTransport()
	if err != nil {
		return fmt.Errorf("failed to connect to server %s: %w", c.config.Name, err)
	}

	if err := transport.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to server %s: %w", c.config.Name, err)
	}

	c.transport = transport
	c.initialized = true
	c.logger.Info("Connected to MCP server: %s", c.config.Name)
	return nil
}

// buildTransport selects the concrete transport for the configured kind.
func (c *Connector) buildTransport() (Transport, error) {
	switch c.config.Transport {
	case TransportStdio:
		return NewStdioTransport(c.config.Command, c.config.Args, c.config.Env, c.logger), nil
	case TransportHTTP:
		return NewHTTPTransport(c.config.URL, c.buildAuthenticator(), c.config.Timeout, c.config.VerifySSL, c.logger), nil
	case TransportSSE:
		return NewSSETransport(c.config.URL, c.buildAuthenticator(), c.config.Timeout, c.config.VerifySSL, c.logger), nil
	default:
		return nil, fmt.Errorf("unknown transport: %s", c.config.Transport)
	}
}

// buildAuthenticator constructs the authenticator named by the auth config.
// Unknown types are logged and treated as no auth.
func (c *Connector) buildAuthenticator() Authenticator {
	auth := c.config.Auth
	if auth == nil {
		return nil
	}

	switch auth.Type {
	case "bearer":
		return NewBearerTokenAuth(auth.Token)

	case "apikey":
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		return NewAPIKeyAuth(header, auth.Key)

	case "oauth":
		return NewClientCredentialsAuth(auth.ClientID, auth.ClientSecret, auth.TokenURL, auth.AuthURL, auth.Scope, c.logger)

	case "oauth-discovery":
		if auth.ClientID == "" || auth.DiscoveryURL == "" {
			c.logger.Error("oauth-discovery requires 'client_id' and 'discovery_url'")
			return nil
		}
		redirectURI := auth.RedirectURI
		if redirectURI == "" {
			redirectURI = "http://localhost:8080/callback"
		}
		port := auth.Port
		if port == 0 {
			port = 8080
		}
		return NewDiscoveryAuth(auth.ClientID, auth.DiscoveryURL, auth.Scope, redirectURI, port, c.logger)

	default:
		c.logger.Warning("Unknown auth type: %s", auth.Type)
		return nil
	}
}

// GetTools fetches the server's tool list, tagged with this server's name.
// A listing failure yields an empty list instead of propagating, so one
// server cannot abort aggregation.
func (c *Connector) GetTools(ctx context.Context) ([]Tool, error) {
	if !c.initialized || c.transport == nil {
		return nil, fmt.Errorf("server %s not connected", c.config.Name)
	}

	result, err := c.transport.SendRequest(ctx, methodToolsList, nil)
	if err != nil {
		c.logger.Error("Failed to list tools from %s: %v", c.config.Name, err)
		return []Tool{}, nil
	}

	var listed toolsListResult
	if err := json.Unmarshal(result, &listed); err != nil {
		c.logger.Error("Invalid tools/list result from %s: %v", c.config.Name, err)
		return []Tool{}, nil
	}

	tools := make([]Tool, 0, len(listed.Tools))
	for _, def := range listed.Tools {
		tools = append(tools, Tool{
			Name:         def.Name,
			Description:  def.Description,
			InputSchema:  def.InputSchema,
			SourceServer: c.config.Name,
		})
	}

	c.logger.InfoVerbose("Retrieved %d tools from %s", len(tools), c.config.Name)
	return tools, nil
}

// CallTool invokes one tool on the server and returns the raw result.
// Failures propagate to the caller.
func (c *Connector) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (json.RawMessage, error) {
	if !c.initialized || c.transport == nil {
		return nil, fmt.Errorf("server %s not connected", c.config.Name)
	}

	result, err := c.transport.SendRequest(ctx, methodToolsCall, map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("tool call %s on %s failed: %w", name, c.config.Name, err)
	}
	return result, nil
}

// Disconnect tears down the transport. It never returns an error; transport
// teardown problems are logged only.
func (c *Connector) Disconnect() {
	if c.transport == nil {
		return
	}
	if err := c.transport.Disconnect(); err != nil {
		c.logger.Warning("Error disconnecting from %s: %v", c.config.Name, err)
	}
	c.transport = nil
	c.initialized = false
}
