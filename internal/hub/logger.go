package hub

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Logger provides leveled, printf-style logging for the hub. Verbose-gated
// methods are safe on a nil receiver so optional logging call sites stay
// unguarded.
type Logger struct {
	mu          sync.Mutex
	verbose     bool
	useColor    bool
	jsonRPCMode bool
	writer      io.Writer
}

// NewLogger creates a logger writing to stderr.
func NewLogger(verbose, useColor, jsonRPCMode bool) *Logger {
	return NewLoggerWithWriter(verbose, useColor, jsonRPCMode, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to the given writer.
func NewLoggerWithWriter(verbose, useColor, jsonRPCMode bool, w io.Writer) *Logger {
	return &Logger{
		verbose:     verbose,
		useColor:    useColor,
		jsonRPCMode: jsonRPCMode,
		writer:      w,
	}
}

// SetVerbose toggles verbose output at runtime.
func (l *Logger) SetVerbose(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = v
}

// SetWriter redirects log output to a different writer.
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

func (l *Logger) log(c *color.Color, prefix, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	label := prefix
	if l.useColor && c != nil {
		label = c.Sprint(prefix)
	}
	fmt.Fprintf(l.writer, "%s %s\n", label, fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(color.New(color.FgCyan), "[INFO]", format, args...)
}

// Success logs a success message.
func (l *Logger) Success(format string, args ...interface{}) {
	l.log(color.New(color.FgGreen), "[OK]", format, args...)
}

// Warning logs a warning message.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.log(color.New(color.FgYellow), "[WARN]", format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(color.New(color.FgRed), "[ERROR]", format, args...)
}

// Debug logs a message only when verbose mode is enabled.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.mu.Lock()
	verbose := l.verbose
	l.mu.Unlock()
	if !verbose {
		return
	}
	l.log(color.New(color.FgMagenta), "[DEBUG]", format, args...)
}

// InfoVerbose logs an informational message only in verbose mode.
// Safe to call on a nil logger.
func (l *Logger) InfoVerbose(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	verbose := l.verbose
	l.mu.Unlock()
	if !verbose {
		return
	}
	l.log(color.New(color.FgCyan), "[INFO]", format, args...)
}

// WarningVerbose logs a warning only in verbose mode.
// Safe to call on a nil logger.
func (l *Logger) WarningVerbose(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	verbose := l.verbose
	l.mu.Unlock()
	if !verbose {
		return
	}
	l.log(color.New(color.FgYellow), "[WARN]", format, args...)
}

// Request logs an outgoing JSON-RPC request when JSON-RPC logging is enabled.
func (l *Logger) Request(method string, params interface{}) {
	l.mu.Lock()
	enabled := l.jsonRPCMode
	l.mu.Unlock()
	if !enabled {
		return
	}
	l.log(color.New(color.FgBlue), "[-->]", "%s %s", method, PrettyJSON(params))
}

// Response logs an incoming JSON-RPC response when JSON-RPC logging is enabled.
func (l *Logger) Response(method string, result interface{}) {
	l.mu.Lock()
	enabled := l.jsonRPCMode
	l.mu.Unlock()
	if !enabled {
		return
	}
	l.log(color.New(color.FgBlue), "[<--]", "%s %s", method, PrettyJSON(result))
}

// Notification logs an incoming JSON-RPC notification.
func (l *Logger) Notification(method string, params interface{}) {
	l.log(color.New(color.FgMagenta), "[NOTIFY]", "%s %s", method, PrettyJSON(params))
}

// PrettyJSON pretty-prints a value as indented JSON for logging.
func PrettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
