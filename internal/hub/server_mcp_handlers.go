package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
)

// handleListServers handles the list_servers tool request
func (m *MCPServer) handleListServers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := m.aggregator.ServerNames()
	sort.Strings(names)

	data, err := json.Marshal(names)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal server names: %v", err)), nil
	}

	return mcp.NewToolResultText(string(data)), nil
}

// handleListTools handles the list_tools tool request
func (m *MCPServer) handleListTools(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tools := m.aggregator.ListTools()

	data, err := json.Marshal(tools)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal tools: %v", err)), nil
	}

	return mcp.NewToolResultText(string(data)), nil
}

// handleDescribeTool handles the describe_tool request
func (m *MCPServer) handleDescribeTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("missing or invalid 'id' argument"), nil
	}

	tool, err := m.aggregator.GetTool(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.Marshal(tool)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal tool: %v", err)), nil
	}

	return mcp.NewToolResultText(string(data)), nil
}

// handleCallTool handles the call_tool request
func (m *MCPServer) handleCallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("missing or invalid 'id' argument"), nil
	}

	var toolArgs map[string]interface{}
	if argValue, exists := args["arguments"]; exists {
		toolArgs, _ = argValue.(map[string]interface{})
	}

	result, err := m.aggregator.CallTool(ctx, id, toolArgs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tool call failed: %v", err)), nil
	}

	return mcp.NewToolResultText(string(result)), nil
}

// handleReload handles the reload request
func (m *MCPServer) handleReload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := m.aggregator.Reload(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reload failed: %v", err)), nil
	}

	tools := m.aggregator.ListTools()
	return mcp.NewToolResultText(fmt.Sprintf("reloaded: %d servers, %d tools", len(m.aggregator.ServerNames()), len(tools))), nil
}
