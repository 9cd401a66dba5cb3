// Package mcp provides MCP (Model Context Protocol) client integration:
// transports for HTTP and stdio servers plus a manager that tracks
// connections and discovered tools.
package mcp

import (
	"context"
	"encoding/json"
	"time"
)

// ServerStatus represents the connection status of an MCP server.
type ServerStatus string

const (
	ServerStatusUnknown      ServerStatus = "unknown"
	ServerStatusConnecting   ServerStatus = "connecting"
	ServerStatusConnected    ServerStatus = "connected"
	ServerStatusDisconnected ServerStatus = "disconnected"
	ServerStatusError        ServerStatus = "error"
)

// Protocol represents the MCP transport protocol.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolStdio Protocol = "stdio"
)

// ToolSchema represents the raw tool schema from an MCP server.
type ToolSchema struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// Tool represents a tool discovered from an MCP server.
type Tool struct {
	ToolID      string          `json:"tool_id"` // "<server_id>:<name>"
	ServerID    string          `json:"server_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`

	UsageCount   int64     `json:"usage_count"`
	SuccessCount int64     `json:"success_count"`
	LastUsed     time.Time `json:"last_used,omitempty"`

	DiscoveredAt time.Time `json:"discovered_at"`
}

// Capabilities represents server capabilities from the MCP protocol.
type Capabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
	Logging   bool `json:"logging"`
}

// CallResult represents the result of calling an MCP tool.
type CallResult struct {
	Success   bool            `json:"success"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	LatencyMs int64           `json:"latency_ms"`
}

// Transport defines the interface for MCP protocol transports.
type Transport interface {
	// Connect establishes connection to the MCP server.
	Connect(ctx context.Context) error

	// Disconnect closes the connection.
	Disconnect() error

	// ListTools retrieves available tools from the server.
	ListTools(ctx context.Context) ([]ToolSchema, error)

	// CallTool invokes a tool on the MCP server.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*CallResult, error)

	// GetCapabilities returns server capabilities.
	GetCapabilities(ctx context.Context) (*Capabilities, error)

	// Ping checks if the server is responsive.
	Ping(ctx context.Context) error

	// IsConnected returns current connection status.
	IsConnected() bool
}
