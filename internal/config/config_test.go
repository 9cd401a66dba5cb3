package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Port != 8510 {
		t.Errorf("expected Port=8510, got %d", cfg.Port)
	}
	if cfg.Host != "localhost" {
		t.Errorf("expected Host=localhost, got %s", cfg.Host)
	}
	if !cfg.CleanupEnabled {
		t.Error("expected cleanup enabled by default")
	}
	if _, ok := cfg.MCPServers["aws-diagram"]; !ok {
		t.Error("expected aws-diagram MCP server in defaults")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")

	cfg, loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded {
		t.Error("loaded should be false for a missing file")
	}
	if diff := cmp.Diff(Default().Port, cfg.Port); diff != "" {
		t.Errorf("port mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{"port": 9001, "log_level": "debug"}`)

	cfg, loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded {
		t.Error("loaded should be true")
	}
	if cfg.Port != 9001 {
		t.Errorf("expected Port=9001, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel=debug, got %s", cfg.LogLevel)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Host != "localhost" {
		t.Errorf("expected Host=localhost, got %s", cfg.Host)
	}
}

func TestLoad_CLIWinsOverFile(t *testing.T) {
	path := writeFile(t, "config.json", `{"port": 9001, "host": "0.0.0.0"}`)

	port := 7777
	debug := true
	cfg, _, err := Load(path, &Overrides{Port: &port, Debug: &debug})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7777 {
		t.Errorf("CLI override should win: expected Port=7777, got %d", cfg.Port)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("file value should survive when no override set, got %s", cfg.Host)
	}
	if !cfg.Debug {
		t.Error("CLI debug override should win")
	}
}

func TestLoad_MalformedFileNamesFile(t *testing.T) {
	path := writeFile(t, "config.json", `{"port": `)

	_, _, err := Load(path, nil)
	if err == nil {
		t.Fatal("expected error for malformed config")
	}
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if cerr.Path != path {
		t.Errorf("error should name the offending file: got %q want %q", cerr.Path, path)
	}
}

func TestLoad_UnknownKeysPreserved(t *testing.T) {
	path := writeFile(t, "config.json", `{"port": 9001, "future_flag": {"nested": true}}`)

	cfg, _, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cfg.Unknown["future_flag"]; !ok {
		t.Fatal("unknown key future_flag should be preserved")
	}

	out := filepath.Join(t.TempDir(), "saved.json")
	if err := cfg.Save(out); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read saved: %v", err)
	}
	var round map[string]json.RawMessage
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("parse saved: %v", err)
	}
	if string(round["future_flag"]) == "" {
		t.Error("unknown key should survive a save round trip")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "port: 9100\nlog_level: warn\nextra_knob: 42\n")

	cfg, _, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("expected Port=9100, got %d", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected LogLevel=warn, got %s", cfg.LogLevel)
	}
	if _, ok := cfg.Unknown["extra_knob"]; !ok {
		t.Error("unknown yaml key should be preserved")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	path := writeFile(t, "config.json", `{"agent": {"api_key": "file-key"}}`)

	cfg, _, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.APIKey != "env-key" {
		t.Errorf("expected env API key to win, got %s", cfg.Agent.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Port = 0 }, true},
		{"empty host", func(c *Config) { c.Host = " " }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }, true},
		{"uppercase level normalized", func(c *Config) { c.LogLevel = "INFO" }, false},
		{"empty diagrams dir", func(c *Config) { c.DiagramsDir = "" }, true},
		{"tiny timeout", func(c *Config) { c.AgentTimeout = "10ms" }, true},
		{"zero max diagrams", func(c *Config) { c.MaxDiagrams = 0 }, true},
		{"unparseable age", func(c *Config) { c.MaxDiagramAge = "yesterday" }, true},
		{"http server without url", func(c *Config) {
			c.MCPServers = map[string]ServerConfig{"x": {ID: "x", Enabled: true, Protocol: "http"}}
		}, true},
		{"disabled server skipped", func(c *Config) {
			c.MCPServers = map[string]ServerConfig{"x": {ID: "x", Enabled: false, Protocol: "bogus"}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Port = 9999
	cfg.Agent.Model = "gemini-2.5-pro"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, _, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Port != 9999 {
		t.Errorf("expected Port=9999, got %d", loaded.Port)
	}
	if loaded.Agent.Model != "gemini-2.5-pro" {
		t.Errorf("expected model round trip, got %s", loaded.Agent.Model)
	}
}

func TestGetDurations_FallBackOnGarbage(t *testing.T) {
	cfg := Default()
	cfg.AgentTimeout = "garbage"
	cfg.MaxDiagramAge = "garbage"
	if cfg.GetAgentTimeout() == 0 {
		t.Error("GetAgentTimeout should fall back to a non-zero default")
	}
	if cfg.GetMaxDiagramAge() == 0 {
		t.Error("GetMaxDiagramAge should fall back to a non-zero default")
	}
}
