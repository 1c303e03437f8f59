package hub

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// TransportKind selects the channel type for one server.
type TransportKind string

const (
	// TransportStdio launches the server as a local subprocess
	TransportStdio TransportKind = "stdio"

	// TransportHTTP speaks request/response JSON-RPC over HTTP
	TransportHTTP TransportKind = "http"

	// TransportSSE posts requests and reads responses from an event stream
	TransportSSE TransportKind = "sse"
)

// defaultRequestTimeout applies when a server entry has no timeout field.
const defaultRequestTimeout = 30 * time.Second

// AuthConfig describes one server's authentication mechanism. Type selects
// which of the remaining fields apply.
type AuthConfig struct {
	Type string

	// bearer
	Token string

	// apikey
	Header string
	Key    string

	// oauth (client credentials)
	ClientID     string
	ClientSecret string
	TokenURL     string
	AuthURL      string
	Scope        string

	// oauth-discovery (authorization code)
	DiscoveryURL string
	RedirectURI  string
	Port         int
}

// ServerConfig is the typed configuration of one upstream server. The
// transport kind determines which field subset is meaningful.
type ServerConfig struct {
	Name      string
	Transport TransportKind

	// stdio
	Command string
	Args    []string
	Env     map[string]string

	// http / sse
	URL       string
	Auth      *AuthConfig
	Timeout   time.Duration
	VerifySSL bool
}

// rawServerConfig mirrors one entry of the configuration document.
type rawServerConfig struct {
	Transport string            `json:"transport"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Env       map[string]string `json:"env"`
	URL       string            `json:"url"`
	Auth      *rawAuthConfig    `json:"auth"`
	Timeout   int               `json:"timeout"`
	VerifySSL *bool             `json:"verify_ssl"`
}

// rawAuthConfig mirrors the auth object of a server entry.
type rawAuthConfig struct {
	Type         string `json:"type"`
	Token        string `json:"token"`
	Header       string `json:"header"`
	Key          string `json:"key"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenURL     string `json:"token_url"`
	AuthURL      string `json:"auth_url"`
	Scope        string `json:"scope"`
	DiscoveryURL string `json:"discovery_url"`
	RedirectURI  string `json:"redirect_uri"`
	Port         int    `json:"port"`
}

// LoadServerConfigs parses a configuration document whose top level is an
// object keyed by server name. Entries missing their transport's required
// field are skipped with a warning; only a missing or non-object document
// fails the whole load.
func LoadServerConfigs(path string, logger *Logger) (map[string]*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config must be a JSON object: %w", err)
	}

	servers := make(map[string]*ServerConfig)
	for name, entry := range doc {
		cfg, err := parseServerEntry(name, entry)
		if err != nil {
			logger.Warning("Skipping server %s: %v", name, err)
			continue
		}
		servers[name] = cfg
	}
	return servers, nil
}

// parseServerEntry converts one document entry into a typed ServerConfig.
// Environment variables in URLs and secrets are interpolated here, at the
// point the string is read into the typed config.
func parseServerEntry(name string, entry json.RawMessage) (*ServerConfig, error) {
	var raw rawServerConfig
	if err := json.Unmarshal(entry, &raw); err != nil {
		return nil, fmt.Errorf("invalid server entry: %w", err)
	}

	kind := TransportKind(raw.Transport)
	if raw.Transport == "" {
		kind = TransportStdio
	}

	cfg := &ServerConfig{
		Name:      name,
		Transport: kind,
		Timeout:   defaultRequestTimeout,
		VerifySSL: true,
	}
	if raw.Timeout > 0 {
		cfg.Timeout = time.Duration(raw.Timeout) * time.Second
	}
	if raw.VerifySSL != nil {
		cfg.VerifySSL = *raw.VerifySSL
	}

	switch kind {
	case TransportStdio:
		if raw.Command == "" {
			return nil, fmt.Errorf("stdio server missing 'command' field")
		}
		cfg.Command = raw.Command
		cfg.Args = raw.Args
		cfg.Env = raw.Env

	case TransportHTTP, TransportSSE:
		if raw.URL == "" {
			return nil, fmt.Errorf("%s server missing 'url' field", kind)
		}
		cfg.URL = ExpandEnv(raw.URL)
		cfg.Auth = parseAuthConfig(raw.Auth)

	default:
		return nil, fmt.Errorf("unknown transport type: %s", raw.Transport)
	}

	return cfg, nil
}

// parseAuthConfig builds a typed AuthConfig, interpolating environment
// variables into the secret and URL fields.
func parseAuthConfig(raw *rawAuthConfig) *AuthConfig {
	if raw == nil {
		return nil
	}
	return &AuthConfig{
		Type:         strings.ToLower(raw.Type),
		Token:        ExpandEnv(raw.Token),
		Header:       raw.Header,
		Key:          ExpandEnv(raw.Key),
		ClientID:     ExpandEnv(raw.ClientID),
		ClientSecret: ExpandEnv(raw.ClientSecret),
		TokenURL:     ExpandEnv(raw.TokenURL),
		AuthURL:      ExpandEnv(raw.AuthURL),
		Scope:        raw.Scope,
		DiscoveryURL: ExpandEnv(raw.DiscoveryURL),
		RedirectURI:  raw.RedirectURI,
		Port:         raw.Port,
	}
}

var (
	envBraceRe = regexp.MustCompile(`\$\{([^}]+)\}`)
	envBareRe  = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// ExpandEnv interpolates ${NAME} and $NAME references from the environment.
// Unset variables are left verbatim in the string.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	out := envBraceRe.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := os.LookupEnv(m[2 : len(m)-1]); ok {
			return v
		}
		return m
	})
	out = envBareRe.ReplaceAllStringFunc(out, func(m string) string {
		if v, ok := os.LookupEnv(m[1:]); ok {
			return v
		}
		return m
	})
	return out
}
