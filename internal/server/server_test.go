package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"archagent/internal/agent"
	"archagent/internal/config"
	"archagent/internal/diagrams"
	"archagent/internal/faults"
	"archagent/internal/mcp"
	"archagent/internal/store"
	"archagent/web"
)

// textLLM answers every prompt with a fixed string.
type textLLM struct{ text string }

func (l *textLLM) Generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: l.text}},
			},
		}},
	}, nil
}

func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.DiagramsDir = t.TempDir()
	cfg.AgentTimeout = "10s"

	scanner, err := diagrams.NewScanner(cfg.DiagramsDir)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}

	history, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	boundary := faults.New()
	tools := mcp.NewManager(nil)
	a := agent.New(cfg, &textLLM{text: "Use two subnets."}, tools, scanner, boundary)

	s, err := New(Options{
		Config:   cfg,
		Agent:    a,
		Scanner:  scanner,
		History:  history,
		Tools:    tools,
		Boundary: boundary,
		StaticFS: web.StaticFS,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, cfg
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestQueryEndpointPersistsHistory(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := bytes.NewBufferString(`{"query":"how do I connect two VPCs?"}`)
	resp, err := http.Post(srv.URL+"/api/query", "application/json", body)
	if err != nil {
		t.Fatalf("POST /api/query: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			ID     string `json:"id"`
			Layout string `json:"layout"`
			Result struct {
				Text string `json:"text"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !envelope.Success || envelope.Data.Result.Text != "Use two subnets." {
		t.Errorf("unexpected response: %+v", envelope)
	}
	if envelope.Data.ID == "" {
		t.Error("expected history record id")
	}
	if envelope.Data.Layout != "text_only" {
		t.Errorf("layout = %q, want text_only", envelope.Data.Layout)
	}

	histResp, err := http.Get(srv.URL + "/api/queries?limit=5")
	if err != nil {
		t.Fatalf("GET /api/queries: %v", err)
	}
	defer histResp.Body.Close()
	var hist struct {
		Data []store.QueryRecord `json:"data"`
	}
	if err := json.NewDecoder(histResp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Data) != 1 || hist.Data[0].Query != "how do I connect two VPCs?" {
		t.Errorf("history = %+v", hist.Data)
	}
}

func TestQueryEndpointRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/query", "application/json", strings.NewReader(`{"query":"x"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/api/query")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", resp2.StatusCode)
	}
}

func TestDiagramEndpoints(t *testing.T) {
	s, cfg := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/diagrams/latest")
	if err != nil {
		t.Fatalf("GET latest: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("empty dir status = %d, want 404", resp.StatusCode)
	}

	path := filepath.Join(cfg.DiagramsDir, "network_layout.png")
	if err := os.WriteFile(path, []byte("img"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	resp, err = http.Get(srv.URL + "/api/diagrams?refresh=1")
	if err != nil {
		t.Fatalf("GET diagrams: %v", err)
	}
	defer resp.Body.Close()
	var list struct {
		Data []diagrams.Info `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].Filename != "network_layout.png" {
		t.Errorf("diagrams = %+v", list.Data)
	}

	fileResp, err := http.Get(srv.URL + "/diagrams/network_layout.png")
	if err != nil {
		t.Fatalf("GET file: %v", err)
	}
	defer fileResp.Body.Close()
	if fileResp.StatusCode != http.StatusOK {
		t.Errorf("file status = %d", fileResp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var envelope struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"folder", "watcher", "errors", "history"} {
		if _, ok := envelope.Data[key]; !ok {
			t.Errorf("status missing %q section", key)
		}
	}
}

func TestIndexServed(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("content type = %s", ct)
	}
}

func TestEventsWebSocket(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Give the handler a moment to register the subscription.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.subscribers)
		s.mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.broadcast(diagrams.Event{Path: "/tmp/x.png", Op: "create", Time: time.Now()})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev diagrams.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Op != "create" || ev.Path != "/tmp/x.png" {
		t.Errorf("event = %+v", ev)
	}
}
