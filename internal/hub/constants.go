package hub

// MCP protocol constants used across the package.
const (
	// methodInitialize is the MCP initialization method
	methodInitialize = "initialize"

	// methodToolsList lists the tools a server exposes
	methodToolsList = "tools/list"

	// methodToolsCall invokes a single tool
	methodToolsCall = "tools/call"

	// protocolVersion is the MCP protocol revision spoken by the client layer
	protocolVersion = "2024-11-05"

	// clientName and clientVersion identify this client in the initialize handshake
	clientName    = "mcp-hub"
	clientVersion = "1.0.0"
)

// toolIDSeparator joins a server name and a tool name into a qualified tool
// id. Neither half may contain the separator.
const toolIDSeparator = "::"

// mcpEndpointPath is appended to a server's base URL for HTTP and SSE POSTs.
const mcpEndpointPath = "/mcp"
