package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"archagent/internal/config"
	"archagent/internal/logging"
)

// Server represents a connected MCP server.
type Server struct {
	ID            string       `json:"server_id"`
	Endpoint      string       `json:"endpoint"`
	Protocol      Protocol     `json:"protocol"`
	Status        ServerStatus `json:"status"`
	Capabilities  []string     `json:"capabilities"`
	LastConnected time.Time    `json:"last_connected"`
	ToolCount     int          `json:"tool_count"`
}

// connection holds the live state for one server.
type connection struct {
	server    *Server
	transport Transport
	tools     []*Tool
}

// Manager manages connections to multiple MCP servers and exposes their
// tools under "<server_id>:<name>" identifiers.
type Manager struct {
	mu sync.RWMutex

	servers map[string]*connection
	config  map[string]config.ServerConfig

	onToolDiscovered func(tool *Tool)
	onServerStatus   func(serverID string, status ServerStatus)
}

// NewManager creates a Manager for the configured servers.
func NewManager(cfg map[string]config.ServerConfig) *Manager {
	return &Manager{
		servers: make(map[string]*connection),
		config:  cfg,
	}
}

// SetOnToolDiscovered sets the callback for when a new tool is discovered.
func (m *Manager) SetOnToolDiscovered(fn func(tool *Tool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onToolDiscovered = fn
}

// SetOnServerStatus sets the callback for server status changes.
func (m *Manager) SetOnServerStatus(fn func(serverID string, status ServerStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onServerStatus = fn
}

// ConnectAll connects to every enabled server with auto_connect set,
// in parallel. Individual failures are logged; the first error is returned
// after all attempts finish.
func (m *Manager) ConnectAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.config))
	for id, cfg := range m.config {
		if cfg.Enabled && cfg.AutoConnect {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := m.Connect(ctx, id); err != nil {
				logging.Get(logging.CategoryMCP).Warn("failed to connect to %s: %v", id, err)
				return fmt.Errorf("connect %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Connect establishes connection to a specific server and discovers its
// tools.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	m.mu.Lock()
	cfg, ok := m.config[serverID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown MCP server: %s", serverID)
	}
	if conn, exists := m.servers[serverID]; exists && conn.transport.IsConnected() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 30 * time.Second
	}

	var transport Transport
	switch Protocol(cfg.Protocol) {
	case ProtocolHTTP:
		transport = NewHTTPTransport(cfg.BaseURL, timeout)
	case ProtocolStdio:
		transport = NewStdioTransport(cfg.Endpoint)
	default:
		return fmt.Errorf("unsupported protocol: %s", cfg.Protocol)
	}

	m.updateServerStatus(serverID, ServerStatusConnecting)
	if err := transport.Connect(ctx); err != nil {
		m.updateServerStatus(serverID, ServerStatusError)
		return err
	}

	caps, err := transport.GetCapabilities(ctx)
	if err != nil {
		logging.Get(logging.CategoryMCP).Warn("failed to get capabilities from %s: %v", serverID, err)
	}

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = cfg.Endpoint
	}
	server := &Server{
		ID:            serverID,
		Endpoint:      endpoint,
		Protocol:      Protocol(cfg.Protocol),
		Status:        ServerStatusConnected,
		LastConnected: time.Now(),
	}
	if caps != nil {
		if caps.Tools {
			server.Capabilities = append(server.Capabilities, "tools")
		}
		if caps.Resources {
			server.Capabilities = append(server.Capabilities, "resources")
		}
		if caps.Prompts {
			server.Capabilities = append(server.Capabilities, "prompts")
		}
	}

	m.mu.Lock()
	m.servers[serverID] = &connection{server: server, transport: transport}
	m.mu.Unlock()

	m.updateServerStatus(serverID, ServerStatusConnected)
	logging.Get(logging.CategoryMCP).Info("connected to %s at %s", serverID, endpoint)

	if err := m.DiscoverTools(ctx, serverID); err != nil {
		logging.Get(logging.CategoryMCP).Warn("failed to discover tools from %s: %v", serverID, err)
	}
	return nil
}

// Disconnect closes connection to a specific server.
func (m *Manager) Disconnect(serverID string) error {
	m.mu.Lock()
	conn, ok := m.servers[serverID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("server not connected: %s", serverID)
	}
	delete(m.servers, serverID)
	m.mu.Unlock()

	if err := conn.transport.Disconnect(); err != nil {
		return err
	}

	m.updateServerStatus(serverID, ServerStatusDisconnected)
	logging.Get(logging.CategoryMCP).Info("disconnected from %s", serverID)
	return nil
}

// DisconnectAll closes all server connections.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Disconnect(id); err != nil {
			logging.Get(logging.CategoryMCP).Warn("error disconnecting from %s: %v", id, err)
		}
	}
}

// DiscoverTools lists the server's tools and records them.
func (m *Manager) DiscoverTools(ctx context.Context, serverID string) error {
	m.mu.RLock()
	conn, ok := m.servers[serverID]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("server not connected: %s", serverID)
	}
	m.mu.RUnlock()

	schemas, err := conn.transport.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	logging.Get(logging.CategoryMCP).Info("discovered %d tools from %s", len(schemas), serverID)

	now := time.Now()
	tools := make([]*Tool, 0, len(schemas))
	for _, schema := range schemas {
		tools = append(tools, &Tool{
			ToolID:       serverID + ":" + schema.Name,
			ServerID:     serverID,
			Name:         schema.Name,
			Description:  schema.Description,
			InputSchema:  schema.InputSchema,
			DiscoveredAt: now,
		})
	}

	m.mu.Lock()
	conn.tools = tools
	conn.server.ToolCount = len(tools)
	cb := m.onToolDiscovered
	m.mu.Unlock()

	if cb != nil {
		for _, tool := range tools {
			cb(tool)
		}
	}
	return nil
}

// CallTool invokes a tool by its "<server_id>:<name>" identifier.
func (m *Manager) CallTool(ctx context.Context, toolID string, args map[string]interface{}) (*CallResult, error) {
	serverID, toolName := parseToolID(toolID)
	if serverID == "" || toolName == "" {
		return nil, fmt.Errorf("invalid tool id: %s", toolID)
	}

	m.mu.RLock()
	conn, ok := m.servers[serverID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("server not connected: %s", serverID)
	}

	result, err := conn.transport.CallTool(ctx, toolName, args)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for _, tool := range conn.tools {
		if tool.Name == toolName {
			tool.UsageCount++
			if result.Success {
				tool.SuccessCount++
			}
			tool.LastUsed = time.Now()
			break
		}
	}
	m.mu.Unlock()

	logging.Get(logging.CategoryMCP).Debug("tool %s finished in %dms success=%v", toolID, result.LatencyMs, result.Success)
	return result, nil
}

// AllTools returns every discovered tool across connected servers.
func (m *Manager) AllTools() []*Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tools []*Tool
	for _, conn := range m.servers {
		tools = append(tools, conn.tools...)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ToolID < tools[j].ToolID })
	return tools
}

// FindTool returns the first discovered tool with the given name, searching
// across servers. Used when the model names a tool without a server prefix.
func (m *Manager) FindTool(name string) (*Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, conn := range m.servers {
		for _, tool := range conn.tools {
			if tool.Name == name {
				return tool, true
			}
		}
	}
	return nil, false
}

// ConnectedServers returns the IDs of currently connected servers, sorted.
func (m *Manager) ConnectedServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.servers))
	for id, conn := range m.servers {
		if conn.transport.IsConnected() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Servers returns a snapshot of all connected server records.
func (m *Manager) Servers() []Server {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Server, 0, len(m.servers))
	for _, conn := range m.servers {
		out = append(out, *conn.server)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// updateServerStatus records a status change and fires the callback.
func (m *Manager) updateServerStatus(serverID string, status ServerStatus) {
	m.mu.Lock()
	if conn, ok := m.servers[serverID]; ok {
		conn.server.Status = status
	}
	cb := m.onServerStatus
	m.mu.Unlock()

	if cb != nil {
		cb(serverID, status)
	}
}

// parseToolID splits "<server_id>:<name>" into its parts.
func parseToolID(toolID string) (serverID, toolName string) {
	idx := strings.Index(toolID, ":")
	if idx < 0 {
		return "", toolID
	}
	return toolID[:idx], toolID[idx+1:]
}
