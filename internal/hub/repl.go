package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chzyer/readline"
)

// errExit is a sentinel error used to signal REPL exit
var errExit = errors.New("exit")

// REPL is an interactive shell over the aggregated tool registry.
type REPL struct {
	aggregator      *Aggregator
	logger          *Logger
	rl              *readline.Instance
	commandHandlers map[string]commandHandler
}

// NewREPL creates a new REPL instance
func NewREPL(aggregator *Aggregator, logger *Logger) *REPL {
	r := &REPL{
		aggregator: aggregator,
		logger:     logger,
	}
	r.commandHandlers = r.buildCommandHandlers()
	return r
}

// Run starts the REPL
func (r *REPL) Run(ctx context.Context) error {
	// Set up readline with tab completion
	completer := r.createCompleter()
	historyFile := filepath.Join(os.TempDir(), ".mcp_hub_history")

	config := &readline.Config{
		Prompt:          "hub> ",
		HistoryFile:     historyFile,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	}

	rl, err := readline.NewEx(config)
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer func() { _ = rl.Close() }()
	r.rl = rl

	r.logger.Info("REPL started. Type 'help' for available commands. Use TAB for completion.")
	fmt.Println()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("REPL shutting down...")
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			r.logger.Info("Goodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if err := r.executeCommand(ctx, input); err != nil {
			if errors.Is(err, errExit) {
				r.logger.Info("Goodbye!")
				return nil
			}
			r.logger.Error("Error: %v", err)
		}

		fmt.Println()
	}
}

// sortedToolIDs returns the registry's qualified tool ids in stable order.
func (r *REPL) sortedToolIDs() []string {
	tools := r.aggregator.ListTools()
	ids := make([]string, 0, len(tools))
	for id := range tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// buildPcItems converts a slice of strings to readline completer items
func buildPcItems(names []string) []readline.PrefixCompleterInterface {
	items := make([]readline.PrefixCompleterInterface, len(names))
	for i, name := range names {
		items[i] = readline.PcItem(name)
	}
	return items
}

// createCompleter creates the tab completion configuration
func (r *REPL) createCompleter() *readline.PrefixCompleter {
	toolCompleter := buildPcItems(r.sortedToolIDs())

	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("?"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
		readline.PcItem("reload"),
		readline.PcItem("list",
			readline.PcItem("servers"),
			readline.PcItem("tools"),
		),
		readline.PcItem("describe", toolCompleter...),
		readline.PcItem("call", toolCompleter...),
	}

	return readline.NewPrefixCompleter(items...)
}

// filterInput filters input characters for readline
func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// commandHandler defines a REPL command with its handler and argument requirements
type commandHandler struct {
	minArgs int
	usage   string
	handler func(ctx context.Context, parts []string) error
}

// buildCommandHandlers creates the map of command handlers
func (r *REPL) buildCommandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"help": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.showHelp()
		}},
		"?": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.showHelp()
		}},
		"exit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"quit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"list": {
			minArgs: 2,
			usage:   "usage: list <servers|tools>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleList(parts[1])
			},
		},
		"describe": {
			minArgs: 2,
			usage:   "usage: describe <server::tool>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleDescribe(parts[1])
			},
		},
		"call": {
			minArgs: 2,
			usage:   "usage: call <server::tool> [json-args]",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleCallTool(ctx, parts[1], strings.Join(parts[2:], " "))
			},
		},
		"reload": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleReload(ctx)
		}},
	}
}

// executeCommand parses and executes a command
func (r *REPL) executeCommand(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	command := strings.ToLower(parts[0])

	handler, exists := r.commandHandlers[command]
	if !exists {
		return fmt.Errorf("unknown command: %s. Type 'help' for available commands", command)
	}

	if len(parts) < handler.minArgs {
		return errors.New(handler.usage)
	}

	return handler.handler(ctx, parts)
}

// showHelp displays available commands
func (r *REPL) showHelp() error {
	fmt.Println("Available commands:")
	fmt.Println("  help, ?                      - Show this help message")
	fmt.Println("  list servers                 - List all connected servers")
	fmt.Println("  list tools                   - List all aggregated tools")
	fmt.Println("  describe <server::tool>      - Show a tool's description and input schema")
	fmt.Println("  call <server::tool> {json}   - Execute a tool with JSON arguments")
	fmt.Println("  reload                       - Reconnect all servers and rebuild the registry")
	fmt.Println("  exit, quit                   - Exit the REPL")
	fmt.Println()
	fmt.Println("Keyboard shortcuts:")
	fmt.Println("  TAB                          - Auto-complete commands and tool ids")
	fmt.Println("  ↑/↓ (arrow keys)             - Navigate command history")
	fmt.Println("  Ctrl+R                       - Search command history")
	fmt.Println("  Ctrl+C                       - Cancel current line")
	fmt.Println("  Ctrl+D                       - Exit REPL")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  call weather::forecast {\"city\": \"Berlin\", \"days\": 3}")
	fmt.Println("  describe github::create_issue")
	return nil
}

// handleList handles list commands
func (r *REPL) handleList(target string) error {
	switch strings.ToLower(target) {
	case "servers", "server":
		return r.listServers()
	case "tools", "tool":
		return r.listTools()
	default:
		return fmt.Errorf("unknown list target: %s. Use 'servers' or 'tools'", target)
	}
}

// listServers displays connected servers
func (r *REPL) listServers() error {
	names := r.aggregator.ServerNames()
	if len(names) == 0 {
		fmt.Println("No servers connected.")
		return nil
	}
	sort.Strings(names)

	fmt.Printf("Connected servers (%d):\n", len(names))
	for i, name := range names {
		fmt.Printf("  %d. %s\n", i+1, name)
	}
	return nil
}

// listTools displays the aggregated registry
func (r *REPL) listTools() error {
	tools := r.aggregator.ListTools()
	if len(tools) == 0 {
		fmt.Println("No tools available.")
		return nil
	}

	ids := make([]string, 0, len(tools))
	for id := range tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("Available tools (%d):\n", len(tools))
	for i, id := range ids {
		fmt.Printf("  %d. %-40s - %s\n", i+1, id, tools[id].Description)
	}
	return nil
}

// handleDescribe shows detailed information about a tool
func (r *REPL) handleDescribe(id string) error {
	tool, err := r.aggregator.GetTool(id)
	if err != nil {
		return err
	}

	fmt.Printf("Tool: %s\n", tool.Name)
	fmt.Printf("Server: %s\n", tool.SourceServer)
	fmt.Printf("Description: %s\n", tool.Description)
	if len(tool.InputSchema) > 0 {
		fmt.Println("Input Schema:")
		fmt.Printf("%s\n", PrettyJSON(tool.InputSchema))
	}
	return nil
}

// handleReload reconnects all servers and refreshes tab completion.
func (r *REPL) handleReload(ctx context.Context) error {
	if err := r.aggregator.Reload(ctx); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}

	if r.rl != nil {
		r.rl.Config.AutoComplete = r.createCompleter()
	}

	fmt.Printf("Reloaded: %d servers, %d tools\n", len(r.aggregator.ServerNames()), len(r.aggregator.ListTools()))
	return nil
}
