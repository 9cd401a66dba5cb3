package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"archagent/internal/config"
)

// fakeMCPServer serves a minimal JSON-RPC MCP endpoint over HTTP.
func fakeMCPServer(t *testing.T, tools []ToolSchema) *httptest.Server {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "initialize":
			resp.Result = json.RawMessage(`{"capabilities":{"tools":true},"serverInfo":{"name":"fake","version":"0.1"}}`)
		case "tools/list":
			payload, _ := json.Marshal(map[string]interface{}{"tools": tools})
			resp.Result = payload
		case "tools/call":
			params, _ := req.Params.(map[string]interface{})
			name, _ := params["name"].(string)
			if name == "broken_tool" {
				resp.Error = &rpcError{Code: -32000, Message: "tool exploded"}
			} else {
				resp.Result = json.RawMessage(`{"content":[{"type":"text","text":"diagram saved"}]}`)
			}
		case "ping":
			resp.Result = json.RawMessage(`{}`)
		default:
			resp.Error = &rpcError{Code: -32601, Message: "method not found"}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func testServerConfig(id, baseURL string) map[string]config.ServerConfig {
	return map[string]config.ServerConfig{
		id: {
			ID:          id,
			Enabled:     true,
			Protocol:    "http",
			BaseURL:     baseURL,
			Timeout:     "5s",
			AutoConnect: true,
		},
	}
}

func TestManager_ConnectDiscoversTools(t *testing.T) {
	srv := fakeMCPServer(t, []ToolSchema{
		{Name: "generate_diagram", Description: "Render a diagram", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "list_icons", Description: "List icons", InputSchema: json.RawMessage(`{"type":"object"}`)},
	})

	m := NewManager(testServerConfig("aws-diagram", srv.URL))

	var mu sync.Mutex
	var discovered []string
	m.SetOnToolDiscovered(func(tool *Tool) {
		mu.Lock()
		discovered = append(discovered, tool.ToolID)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Connect(ctx, "aws-diagram"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.DisconnectAll()

	tools := m.AllTools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].ToolID != "aws-diagram:generate_diagram" {
		t.Errorf("unexpected tool id: %s", tools[0].ToolID)
	}

	mu.Lock()
	n := len(discovered)
	mu.Unlock()
	if n != 2 {
		t.Errorf("expected 2 discovery callbacks, got %d", n)
	}

	if got := m.ConnectedServers(); len(got) != 1 || got[0] != "aws-diagram" {
		t.Errorf("ConnectedServers = %v", got)
	}
}

func TestManager_ConnectAllSkipsDisabled(t *testing.T) {
	srv := fakeMCPServer(t, nil)

	cfg := testServerConfig("enabled-server", srv.URL)
	cfg["disabled-server"] = config.ServerConfig{
		ID:          "disabled-server",
		Enabled:     false,
		Protocol:    "http",
		BaseURL:     "http://127.0.0.1:1",
		Timeout:     "1s",
		AutoConnect: true,
	}

	m := NewManager(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.ConnectAll(ctx); err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}
	defer m.DisconnectAll()

	if got := m.ConnectedServers(); len(got) != 1 || got[0] != "enabled-server" {
		t.Errorf("expected only enabled-server connected, got %v", got)
	}
}

func TestManager_CallTool(t *testing.T) {
	srv := fakeMCPServer(t, []ToolSchema{
		{Name: "generate_diagram", Description: "Render", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "broken_tool", Description: "Always fails", InputSchema: json.RawMessage(`{"type":"object"}`)},
	})

	m := NewManager(testServerConfig("aws-diagram", srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Connect(ctx, "aws-diagram"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.DisconnectAll()

	res, err := m.CallTool(ctx, "aws-diagram:generate_diagram", map[string]interface{}{"code": "x"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.Success {
		t.Errorf("expected success, got error %q", res.Error)
	}

	res, err = m.CallTool(ctx, "aws-diagram:broken_tool", nil)
	if err != nil {
		t.Fatalf("CallTool broken: %v", err)
	}
	if res.Success || res.Error == "" {
		t.Errorf("expected failed result, got %+v", res)
	}

	tool, ok := m.FindTool("generate_diagram")
	if !ok {
		t.Fatal("FindTool: generate_diagram missing")
	}
	if tool.UsageCount != 1 || tool.SuccessCount != 1 {
		t.Errorf("usage counters not updated: %+v", tool)
	}

	if _, err := m.CallTool(ctx, "ghost:tool", nil); err == nil {
		t.Error("expected error for unknown server")
	}
}

func TestManager_StatusCallback(t *testing.T) {
	srv := fakeMCPServer(t, nil)
	m := NewManager(testServerConfig("s1", srv.URL))

	var mu sync.Mutex
	var statuses []ServerStatus
	m.SetOnServerStatus(func(id string, status ServerStatus) {
		mu.Lock()
		statuses = append(statuses, status)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Connect(ctx, "s1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Disconnect("s1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []ServerStatus{ServerStatusConnecting, ServerStatusConnected, ServerStatusDisconnected}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("status[%d] = %s, want %s", i, statuses[i], want[i])
		}
	}
}

func TestParseToolID(t *testing.T) {
	cases := []struct {
		in         string
		server, to string
	}{
		{"aws-diagram:generate_diagram", "aws-diagram", "generate_diagram"},
		{"bare_tool", "", "bare_tool"},
		{"a:b:c", "a", "b:c"},
	}
	for _, tc := range cases {
		server, tool := parseToolID(tc.in)
		if server != tc.server || tool != tc.to {
			t.Errorf("parseToolID(%q) = (%q, %q), want (%q, %q)", tc.in, server, tool, tc.server, tc.to)
		}
	}
}
