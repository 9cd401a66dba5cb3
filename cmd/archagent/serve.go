package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"archagent/internal/agent"
	"archagent/internal/config"
	"archagent/internal/diagrams"
	"archagent/internal/faults"
	"archagent/internal/logging"
	"archagent/internal/mcp"
	"archagent/internal/server"
	"archagent/internal/store"
	"archagent/web"
)

var validateOnly bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Starts the HTTP server: web UI, JSON API, diagram file serving, and
the WebSocket event stream. Connects to the configured MCP servers on
startup.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&validateOnly, "validate-only", false, "validate configuration and exit")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	if validateOnly {
		probe, err := diagrams.NewScanner(cfg.DiagramsDir)
		if err != nil {
			return fmt.Errorf("diagrams directory: %w", err)
		}
		if folder := probe.Folder(); !folder.Writable {
			return fmt.Errorf("diagrams directory %s is not writable", folder.Path)
		}
		fmt.Println("Configuration is valid.")
		return nil
	}

	logging.Boot("starting archagent on %s", cfg.Addr())

	scanner, err := diagrams.NewScanner(cfg.DiagramsDir)
	if err != nil {
		return err
	}

	history, err := store.Open(filepath.Join(cfg.LogsDir, "history.db"))
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer history.Close()

	boundary := faults.New()
	tools := mcp.NewManager(cfg.MCPServers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tools.ConnectAll(ctx); err != nil {
		// Degrade rather than abort; queries still work without tools.
		logger.Warn("some MCP servers failed to connect", zap.Error(err))
	}
	defer tools.DisconnectAll()

	llm, err := agent.NewGemini(cfg.Agent.APIKey, cfg.Agent.Model)
	if err != nil {
		return fmt.Errorf("failed to initialize model client: %w", err)
	}

	runner := agent.New(cfg, llm, tools, scanner, boundary)

	srv, err := server.New(server.Options{
		Config:   cfg,
		Agent:    runner,
		Scanner:  scanner,
		History:  history,
		Tools:    tools,
		Boundary: boundary,
		StaticFS: web.StaticFS,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("serving", zap.String("addr", cfg.Addr()))

	if cfg.CleanupEnabled {
		go retentionLoop(ctx, cfg, scanner, history)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return srv.Stop()
}

// maxHistoryRecords bounds the query history table between sweeps.
const maxHistoryRecords = 1000

// retentionLoop sweeps old diagrams and history at startup and then hourly.
func retentionLoop(ctx context.Context, cfg *config.Config, scanner *diagrams.Scanner, history *store.Store) {
	sweep := func() {
		n, err := scanner.Cleanup(cfg.GetMaxDiagramAge(), cfg.MaxDiagrams)
		if err != nil {
			logging.Get(logging.CategoryDiagrams).Warn("retention sweep failed: %v", err)
			return
		}
		if n > 0 {
			logger.Info("retention sweep", zap.Int("removed", n))
		}
		if pruned, err := history.Prune(ctx, maxHistoryRecords); err != nil {
			logger.Warn("history prune failed", zap.Error(err))
		} else if pruned > 0 {
			logger.Info("history pruned", zap.Int64("removed", pruned))
		}
	}

	sweep()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
