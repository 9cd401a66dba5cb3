// Package server exposes the agent over HTTP: a JSON API for queries and
// diagrams, static serving of generated images, a live event stream over
// WebSocket, and the embedded web UI.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"archagent/internal/agent"
	"archagent/internal/config"
	"archagent/internal/diagrams"
	"archagent/internal/faults"
	"archagent/internal/logging"
	"archagent/internal/mcp"
	"archagent/internal/render"
	"archagent/internal/store"
)

// APIResponse is the standard envelope for JSON endpoints.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Server ties the agent, diagram scanner, history store, and MCP manager
// together behind one HTTP listener.
type Server struct {
	cfg      *config.Config
	agent    *agent.Agent
	scanner  *diagrams.Scanner
	watcher  *diagrams.Watcher
	history  *store.Store
	tools    *mcp.Manager
	boundary *faults.Handler

	httpServer *http.Server
	upgrader   websocket.Upgrader
	staticFS   fs.FS

	mu          sync.Mutex
	subscribers map[chan diagrams.Event]struct{}
	started     time.Time
	running     bool
}

// Options carries the collaborators the server needs.
type Options struct {
	Config   *config.Config
	Agent    *agent.Agent
	Scanner  *diagrams.Scanner
	History  *store.Store
	Tools    *mcp.Manager
	Boundary *faults.Handler
	StaticFS fs.FS
}

// New creates a Server. The diagrams watcher is created here so file
// events flow to WebSocket clients.
func New(o Options) (*Server, error) {
	s := &Server{
		cfg:      o.Config,
		agent:    o.Agent,
		scanner:  o.Scanner,
		history:  o.History,
		tools:    o.Tools,
		boundary: o.Boundary,
		staticFS: o.StaticFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subscribers: make(map[chan diagrams.Event]struct{}),
	}

	watcher, err := diagrams.NewWatcher(o.Config.DiagramsDir, s.broadcast)
	if err != nil {
		return nil, fmt.Errorf("failed to create diagrams watcher: %w", err)
	}
	s.watcher = watcher
	return s, nil
}

// Start begins serving on the configured address. Non-blocking.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.started = time.Now()
	s.mu.Unlock()

	if err := s.watcher.Start(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	s.routes(mux)

	s.httpServer = &http.Server{
		Addr:        s.cfg.Addr(),
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// Query processing can outlive any sane write timeout; the agent
		// enforces its own deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.Get(logging.CategoryServer).Info("listening on %s", s.cfg.Addr())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Get(logging.CategoryServer).Error("listener failed: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
	s.mu.Unlock()

	s.watcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	logging.Get(logging.CategoryServer).Info("server stopped")
	return nil
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	return mux
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/query", s.handleQuery)
	mux.HandleFunc("/api/queries", s.handleQueries)
	mux.HandleFunc("/api/diagrams", s.handleDiagrams)
	mux.HandleFunc("/api/diagrams/latest", s.handleLatestDiagram)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws/events", s.handleEvents)
	mux.Handle("/diagrams/", http.StripPrefix("/diagrams/",
		http.FileServer(http.Dir(s.cfg.DiagramsDir))))
	mux.HandleFunc("/", s.handleIndex)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(s.started).String(),
	})
}

// queryRequest is the POST /api/query payload.
type queryRequest struct {
	Query string `json:"query"`
}

// queryResponse pairs the agent result with its history record ID and the
// presentation hints the UI uses to arrange text and diagrams.
type queryResponse struct {
	ID      string         `json:"id,omitempty"`
	Result  agent.Result   `json:"result"`
	Layout  render.Layout  `json:"layout"`
	Metrics render.Metrics `json:"metrics"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := agent.ValidateQuery(req.Query); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.agent.Process(r.Context(), req.Query, nil)
	result.Text = render.Preprocess(result.Text)

	id := s.persist(r.Context(), req.Query, result)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	s.sendJSON(w, status, APIResponse{
		Success: result.Success,
		Data: queryResponse{
			ID:      id,
			Result:  result,
			Layout:  render.ChooseLayout(result.Text, len(result.Generated)),
			Metrics: render.ComputeMetrics(result.Text),
		},
		Error: result.Error,
	})
}

// persist saves a finished query to history. Best effort; failures are
// logged and the query response is served regardless.
func (s *Server) persist(ctx context.Context, query string, result agent.Result) string {
	if s.history == nil {
		return ""
	}

	rec := store.QueryRecord{
		Query:      query,
		Response:   result.Text,
		Status:     store.StatusCompleted,
		Error:      result.Error,
		DurationMs: result.Duration.Milliseconds(),
	}
	if !result.Success {
		rec.Status = store.StatusFailed
	}
	for _, d := range result.Generated {
		rec.Diagrams = append(rec.Diagrams, d.Filename)
	}

	id, err := s.history.Save(ctx, &rec)
	if err != nil {
		logging.Get(logging.CategoryServer).Warn("failed to persist query: %v", err)
		return ""
	}
	return id
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		s.sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: []store.QueryRecord{}})
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	s.sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: records})
}

func (s *Server) handleDiagrams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	force := r.URL.Query().Get("refresh") == "1"
	all, err := s.scanner.All(force)
	if err != nil {
		s.boundary.FileSystem(err, "scan", s.cfg.DiagramsDir)
		s.sendError(w, http.StatusInternalServerError, "failed to scan diagrams")
		return
	}
	s.sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: all})
}

func (s *Server) handleLatestDiagram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	latest, err := s.scanner.Latest()
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to scan diagrams")
		return
	}
	if latest == nil {
		s.sendJSON(w, http.StatusNotFound, APIResponse{Success: false, Error: "no diagrams yet"})
		return
	}
	s.sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: latest})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := map[string]interface{}{
		"folder":  s.scanner.Folder(),
		"watcher": s.watcher.Stats(),
		"errors":  s.boundary.Statistics(),
	}
	if s.tools != nil {
		status["mcp_servers"] = s.tools.Servers()
	}
	if s.history != nil {
		if stats, err := s.history.Statistics(r.Context()); err == nil {
			status["history"] = stats
		}
	}
	s.sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: status})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data, err := fs.ReadFile(s.staticFS, "index.html")
	if err != nil {
		logging.Get(logging.CategoryServer).Error("embedded index.html missing: %v", err)
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write(data)
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Get(logging.CategoryServer).Error("failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, statusCode int, message string) {
	s.sendJSON(w, statusCode, APIResponse{Success: false, Error: message})
}
