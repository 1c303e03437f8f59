package hub

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the aggregated tool registry to a single caller as an
// MCP server, over stdio or streamable-http.
type MCPServer struct {
	aggregator      *Aggregator
	logger          *Logger
	mcpServer       *server.MCPServer
	serverTransport string
}

// NewMCPServer creates an MCP server fronting the given aggregator.
func NewMCPServer(aggregator *Aggregator, serverTransport string, logger *Logger) (*MCPServer, error) {
	mcpServer := server.NewMCPServer(
		clientName,
		clientVersion,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
	)

	ms := &MCPServer{
		aggregator:      aggregator,
		logger:          logger,
		mcpServer:       mcpServer,
		serverTransport: serverTransport,
	}

	ms.registerTools()

	return ms, nil
}

// Start starts the MCP server using stdio or streamable-http transport
func (m *MCPServer) Start(ctx context.Context, listenAddr string) error {
	switch m.serverTransport {
	case "stdio":
		return server.ServeStdio(m.mcpServer)
	case "streamable-http":
		httpServer := server.NewStreamableHTTPServer(
			m.mcpServer,
			server.WithEndpointPath(mcpEndpointPath),
		)
		return httpServer.Start(listenAddr)
	default:
		return fmt.Errorf("unsupported server transport: %s", m.serverTransport)
	}
}

// registerTools registers the registry meta-tools
func (m *MCPServer) registerTools() {
	listServersTool := mcp.NewTool("list_servers",
		mcp.WithDescription("List the names of all connected upstream MCP servers"),
	)
	m.mcpServer.AddTool(listServersTool, m.handleListServers)

	listToolsTool := mcp.NewTool("list_tools",
		mcp.WithDescription("List all aggregated tools with their qualified ids (server::tool)"),
	)
	m.mcpServer.AddTool(listToolsTool, m.handleListTools)

	describeToolTool := mcp.NewTool("describe_tool",
		mcp.WithDescription("Get the description and input schema of an aggregated tool"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Qualified tool id (server::tool)"),
		),
	)
	m.mcpServer.AddTool(describeToolTool, m.handleDescribeTool)

	callToolTool := mcp.NewTool("call_tool",
		mcp.WithDescription("Invoke an aggregated tool on its upstream server"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Qualified tool id (server::tool)"),
		),
		mcp.WithObject("arguments",
			mcp.Description("Arguments to pass to the tool (as JSON object)"),
		),
	)
	m.mcpServer.AddTool(callToolTool, m.handleCallTool)

	reloadTool := mcp.NewTool("reload",
		mcp.WithDescription("Reconnect to all configured upstream servers and rebuild the registry"),
	)
	m.mcpServer.AddTool(reloadTool, m.handleReload)
}
