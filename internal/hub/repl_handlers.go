package hub

import (
	"context"
	"encoding/json"
	"fmt"
)

// callResultContent is one content item of a tools/call result.
type callResultContent struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// callResult is the wire shape of a tools/call result.
type callResult struct {
	Content []callResultContent `json:"content"`
	IsError bool                `json:"isError"`
}

// parseToolArgs parses JSON arguments for a tool call
func parseToolArgs(argsStr string, id string) (map[string]interface{}, error) {
	if argsStr == "" {
		return nil, nil
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
		fmt.Println("Error: Arguments must be valid JSON")
		fmt.Printf("Example: call %s {\"param1\": \"value1\", \"param2\": 123}\n", id)
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return args, nil
}

// displayTextContent displays text content, pretty-printing JSON if possible
func displayTextContent(text string) {
	var jsonData interface{}
	if err := json.Unmarshal([]byte(text), &jsonData); err == nil {
		fmt.Println(PrettyJSON(jsonData))
	} else {
		fmt.Println(text)
	}
}

// displayContent displays a single content item from a tool result
func displayContent(content callResultContent) {
	switch content.Type {
	case "text":
		displayTextContent(content.Text)
	case "image":
		fmt.Printf("[Image: MIME type %s, %d bytes]\n", content.MIMEType, len(content.Data))
	case "audio":
		fmt.Printf("[Audio: MIME type %s, %d bytes]\n", content.MIMEType, len(content.Data))
	default:
		fmt.Printf("[%s content]\n", content.Type)
	}
}

// displayToolResult displays the result of a tool call. Results that do not
// match the protocol content shape are printed raw.
func displayToolResult(raw json.RawMessage) {
	var result callResult
	if err := json.Unmarshal(raw, &result); err != nil || len(result.Content) == 0 {
		displayTextContent(string(raw))
		return
	}

	if result.IsError {
		fmt.Println("Tool returned an error:")
		for _, content := range result.Content {
			if content.Type == "text" {
				fmt.Printf("  %s\n", content.Text)
			}
		}
		return
	}

	fmt.Println("Result:")
	for _, content := range result.Content {
		displayContent(content)
	}
}

// handleCallTool executes a tool with the given arguments
func (r *REPL) handleCallTool(ctx context.Context, id string, argsStr string) error {
	if _, err := r.aggregator.GetTool(id); err != nil {
		return err
	}

	args, err := parseToolArgs(argsStr, id)
	if err != nil {
		return err
	}

	fmt.Printf("Executing tool: %s...\n", id)
	result, err := r.aggregator.CallTool(ctx, id, args)
	if err != nil {
		return fmt.Errorf("tool execution failed: %w", err)
	}

	displayToolResult(result)
	return nil
}
