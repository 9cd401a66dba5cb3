// Package config loads and validates archagent configuration.
//
// The effective configuration is merged from three layers, lowest
// precedence first: built-in defaults, an optional JSON or YAML config
// file, and command-line overrides. The merged Config is constructed once
// at startup and passed down explicitly; nothing in this package holds
// global state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all archagent configuration.
type Config struct {
	// HTTP front end
	Port int    `json:"port" yaml:"port"`
	Host string `json:"host" yaml:"host"`

	// Debug enables verbose logging and the per-category log files.
	Debug    bool   `json:"debug" yaml:"debug"`
	LogLevel string `json:"log_level" yaml:"log_level"`

	// Directory layout
	DiagramsDir    string `json:"generated_diagrams_dir" yaml:"generated_diagrams_dir"`
	LogsDir        string `json:"logs_dir" yaml:"logs_dir"`
	ScreenshotsDir string `json:"test_screenshots_dir" yaml:"test_screenshots_dir"`

	// Agent behavior
	AgentTimeout string `json:"agent_timeout" yaml:"agent_timeout"`

	// Diagram retention
	MaxDiagrams    int    `json:"max_diagrams" yaml:"max_diagrams"`
	CleanupEnabled bool   `json:"cleanup_old_diagrams" yaml:"cleanup_old_diagrams"`
	MaxDiagramAge  string `json:"max_diagram_age" yaml:"max_diagram_age"`

	// Model backing the agent
	Agent AgentConfig `json:"agent" yaml:"agent"`

	// MCP tool servers keyed by server ID
	MCPServers map[string]ServerConfig `json:"mcp_servers" yaml:"mcp_servers"`

	// Unknown holds config file keys this version does not recognize.
	// They are ignored by all logic but survive a Save round trip.
	Unknown map[string]json.RawMessage `json:"-" yaml:"-"`
}

// AgentConfig configures the LLM behind the agent.
type AgentConfig struct {
	Provider      string `json:"provider" yaml:"provider"`
	APIKey        string `json:"api_key" yaml:"api_key"`
	Model         string `json:"model" yaml:"model"`
	MaxToolRounds int    `json:"max_tool_rounds" yaml:"max_tool_rounds"`
}

// ServerConfig describes one MCP tool server.
type ServerConfig struct {
	ID          string `json:"id" yaml:"id"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Protocol    string `json:"protocol" yaml:"protocol"` // http, stdio
	BaseURL     string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"` // command line for stdio
	Timeout     string `json:"timeout" yaml:"timeout"`
	AutoConnect bool   `json:"auto_connect" yaml:"auto_connect"`
}

// knownKeys are the top-level config file keys recognized by this version.
var knownKeys = map[string]bool{
	"port":                   true,
	"host":                   true,
	"debug":                  true,
	"log_level":              true,
	"generated_diagrams_dir": true,
	"logs_dir":               true,
	"test_screenshots_dir":   true,
	"agent_timeout":          true,
	"max_diagrams":           true,
	"cleanup_old_diagrams":   true,
	"max_diagram_age":        true,
	"agent":                  true,
	"mcp_servers":            true,
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Port:           8510,
		Host:           "localhost",
		Debug:          false,
		LogLevel:       "info",
		DiagramsDir:    "generated-diagrams",
		LogsDir:        "logs",
		ScreenshotsDir: "test_screenshots",
		AgentTimeout:   "120s",
		MaxDiagrams:    100,
		CleanupEnabled: true,
		MaxDiagramAge:  "24h",

		Agent: AgentConfig{
			Provider:      "gemini",
			Model:         "gemini-2.5-flash",
			MaxToolRounds: 10,
		},

		MCPServers: map[string]ServerConfig{
			"aws-docs": {
				ID:          "aws-docs",
				Enabled:     true,
				Protocol:    "stdio",
				Endpoint:    "uvx awslabs.aws-documentation-mcp-server@latest",
				Timeout:     "30s",
				AutoConnect: true,
			},
			"aws-diagram": {
				ID:          "aws-diagram",
				Enabled:     true,
				Protocol:    "stdio",
				Endpoint:    "uvx awslabs.aws-diagram-mcp-server@latest",
				Timeout:     "60s",
				AutoConnect: true,
			},
			"aws-cdk": {
				ID:          "aws-cdk",
				Enabled:     false,
				Protocol:    "stdio",
				Endpoint:    "uvx awslabs.cdk-mcp-server@latest",
				Timeout:     "30s",
				AutoConnect: false,
			},
		},
	}
}

// ConfigError reports an unreadable or malformed configuration file.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration file %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load builds the effective configuration.
//
// Precedence, lowest first: defaults, config file, environment, command-line
// overrides. A missing file is not an error; the caller gets defaults and
// Loaded reports false so a notice can be logged. A malformed file yields a
// *ConfigError naming the file.
func Load(path string, ov *Overrides) (*Config, bool, error) {
	cfg := Default()

	loaded := false
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to defaults; caller logs the notice.
		case err != nil:
			return nil, false, &ConfigError{Path: path, Err: err}
		default:
			if err := cfg.merge(path, data); err != nil {
				return nil, false, &ConfigError{Path: path, Err: err}
			}
			loaded = true
		}
	}

	cfg.applyEnvOverrides()
	ov.Apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, loaded, err
	}
	return cfg, loaded, nil
}

// merge unmarshals file data over the defaults, preserving unknown keys.
func (c *Config) merge(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
		c.captureUnknownAny(raw)
	default:
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
		for k, v := range raw {
			if !knownKeys[k] {
				if c.Unknown == nil {
					c.Unknown = make(map[string]json.RawMessage)
				}
				c.Unknown[k] = v
			}
		}
	}
	return nil
}

func (c *Config) captureUnknownAny(raw map[string]any) {
	for k, v := range raw {
		if knownKeys[k] {
			continue
		}
		enc, err := json.Marshal(v)
		if err != nil {
			continue
		}
		if c.Unknown == nil {
			c.Unknown = make(map[string]json.RawMessage)
		}
		c.Unknown[k] = enc
	}
}

// applyEnvOverrides applies environment variable overrides. These sit
// between the config file and command-line flags.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Agent.APIKey = key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" && c.Agent.APIKey == "" {
		c.Agent.APIKey = key
	}
	if dir := os.Getenv("ARCHAGENT_DIAGRAMS_DIR"); dir != "" {
		c.DiagramsDir = dir
	}
	if dir := os.Getenv("ARCHAGENT_LOGS_DIR"); dir != "" {
		c.LogsDir = dir
	}
}

// Save writes the configuration to path, JSON or YAML by extension.
// Unknown keys captured at load time are written back unchanged.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	known, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var full map[string]json.RawMessage
	if err := json.Unmarshal(known, &full); err != nil {
		return fmt.Errorf("failed to re-encode config: %w", err)
	}
	for k, v := range c.Unknown {
		full[k] = v
	}

	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var tree map[string]any
		blob, _ := json.Marshal(full)
		if err := json.Unmarshal(blob, &tree); err != nil {
			return fmt.Errorf("failed to re-encode config: %w", err)
		}
		data, err = yaml.Marshal(tree)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	default:
		data, err = json.MarshalIndent(full, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = append(data, '\n')
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// validLogLevels lists the accepted log_level values.
var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration and applies business rules.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("host cannot be empty")
	}

	level := strings.ToLower(c.LogLevel)
	valid := false
	for _, l := range validLogLevels {
		if level == l {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log_level: %s (valid: %v)", c.LogLevel, validLogLevels)
	}
	c.LogLevel = level

	if strings.TrimSpace(c.DiagramsDir) == "" {
		return fmt.Errorf("generated_diagrams_dir cannot be empty")
	}
	if strings.TrimSpace(c.LogsDir) == "" {
		return fmt.Errorf("logs_dir cannot be empty")
	}

	if d, err := time.ParseDuration(c.AgentTimeout); err != nil || d < time.Second {
		return fmt.Errorf("agent_timeout must be a duration of at least 1s, got %q", c.AgentTimeout)
	}
	if c.MaxDiagrams < 1 {
		return fmt.Errorf("max_diagrams must be at least 1, got %d", c.MaxDiagrams)
	}
	if d, err := time.ParseDuration(c.MaxDiagramAge); err != nil || d < time.Minute {
		return fmt.Errorf("max_diagram_age must be a duration of at least 1m, got %q", c.MaxDiagramAge)
	}

	for id, srv := range c.MCPServers {
		if !srv.Enabled {
			continue
		}
		switch srv.Protocol {
		case "http":
			if srv.BaseURL == "" {
				return fmt.Errorf("mcp server %s: base_url required for http protocol", id)
			}
		case "stdio":
			if strings.TrimSpace(srv.Endpoint) == "" {
				return fmt.Errorf("mcp server %s: endpoint required for stdio protocol", id)
			}
		default:
			return fmt.Errorf("mcp server %s: unsupported protocol %q", id, srv.Protocol)
		}
	}

	return nil
}

// GetAgentTimeout returns the agent timeout as a duration.
func (c *Config) GetAgentTimeout() time.Duration {
	d, err := time.ParseDuration(c.AgentTimeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetMaxDiagramAge returns the diagram retention threshold as a duration.
func (c *Config) GetMaxDiagramAge() time.Duration {
	d, err := time.ParseDuration(c.MaxDiagramAge)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// Addr returns the host:port listen address for the HTTP front end.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(cwd, "config.json")
}
