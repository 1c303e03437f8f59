package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcptools/mcp-hub/internal/hub"
)

const (
	// transportStreamableHTTP serves the hub's own MCP endpoint over HTTP
	transportStreamableHTTP = "streamable-http"
)

var (
	version         string
	configPath      string
	verbose         bool
	noColor         bool
	jsonRPC         bool
	repl            bool
	mcpServer       bool
	serverTransport string
	listenAddr      string
	timeout         time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcp-hub",
	Short: "MCP tool aggregator",
	Long: `mcp-hub connects to multiple MCP (Model Context Protocol) servers and
merges their tools into a single registry keyed by "server::tool".

Upstream servers are declared in a JSON configuration file and can be
reached over three transports:
- stdio: the server is launched as a local subprocess
- http: request/response JSON-RPC over HTTP POST
- sse: requests over POST, responses correlated from an event stream

HTTP and SSE servers can authenticate with a static bearer token, an API
key header, OAuth client credentials, or an OAuth authorization-code flow
with endpoint discovery and a local browser callback.

The tool supports multiple modes:
- Normal mode (default): Connect to all servers and print the registry
- REPL mode (--repl): Interactive exploration and execution
- MCP Server mode (--mcp-server): Expose the aggregated registry as an
  MCP server itself, for integration with AI assistants

In REPL mode, you can:
- List connected servers and aggregated tools
- Get detailed information about a tool
- Execute tools interactively with JSON arguments
- Reload the configuration without restarting

In MCP Server mode:
- The hub serves MCP over stdio or streamable-http
- It exposes the registry through list_servers, list_tools,
  describe_tool, call_tool and reload meta-tools
- Configure it in your AI assistant's MCP settings`,
	RunE: runHub,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	// Add flags
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to the JSON server configuration file")
	rootCmd.Flags().StringVar(&serverTransport, "server-transport", "stdio", "Transport protocol for the hub's own MCP server (stdio, streamable-http)")
	rootCmd.Flags().StringVar(&listenAddr, "listen-addr", ":8899", "Listen address for streamable-http server (path is fixed to /mcp)")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Timeout for connecting to the configured servers")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.Flags().BoolVar(&jsonRPC, "json-rpc", false, "Enable full JSON-RPC message logging")
	rootCmd.Flags().BoolVar(&repl, "repl", false, "Start interactive REPL mode")
	rootCmd.Flags().BoolVar(&mcpServer, "mcp-server", false, "Run as MCP server")

	// Add subcommands
	rootCmd.AddCommand(newSelfUpdateCmd())

	// Mark flags as mutually exclusive
	rootCmd.MarkFlagsMutuallyExclusive("repl", "mcp-server")
}

// validateServerTransport validates the MCP server mode configuration
func validateServerTransport() error {
	if serverTransport != "stdio" && serverTransport != transportStreamableHTTP {
		return fmt.Errorf("unsupported server transport '%s' (use stdio or streamable-http)", serverTransport)
	}
	return nil
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if !mcpServer {
			fmt.Println("\nReceived interrupt signal, shutting down gracefully...")
		}
		cancel()
	}()
}

// runMCPServer runs the hub in MCP server mode
func runMCPServer(ctx context.Context, aggregator *hub.Aggregator, logger *hub.Logger) error {
	server, err := hub.NewMCPServer(aggregator, serverTransport, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	logger.Info("Starting mcp-hub MCP server (transport: %s)...", serverTransport)
	if serverTransport == transportStreamableHTTP {
		addr := listenAddr
		if !strings.Contains(addr, ":") {
			addr = ":" + addr
		}
		logger.Info("Listening on %s%s", addr, "/mcp")
	}

	if err := server.Start(ctx, listenAddr); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// printRegistry prints the aggregated registry in normal mode
func printRegistry(aggregator *hub.Aggregator, logger *hub.Logger) {
	tools := aggregator.ListTools()
	logger.Success("Aggregated %d tools from %d servers", len(tools), len(aggregator.ServerNames()))
	for id, tool := range tools {
		logger.Info("  %s - %s", id, tool.Description)
	}
}

func runHub(cmd *cobra.Command, args []string) error {
	if err := validateServerTransport(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	setupSignalHandler(cancel)

	logger := hub.NewLogger(verbose, !noColor, jsonRPC)

	aggregator := hub.NewAggregator(configPath, logger)

	loadCtx, loadCancel := context.WithTimeout(ctx, timeout)
	err := aggregator.Load(loadCtx)
	loadCancel()
	if err != nil {
		return fmt.Errorf("failed to load servers: %w", err)
	}
	defer aggregator.DisconnectAll()

	if mcpServer {
		return runMCPServer(ctx, aggregator, logger)
	}

	if repl {
		replHandler := hub.NewREPL(aggregator, logger)
		if err := replHandler.Run(ctx); err != nil {
			return fmt.Errorf("REPL error: %w", err)
		}
		return nil
	}

	printRegistry(aggregator, logger)
	return nil
}
