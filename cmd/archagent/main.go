// archagent is an AI assistant for AWS architecture questions. It serves a
// web UI and JSON API, runs one-shot queries from the terminal, and manages
// the directory of generated diagrams.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"archagent/internal/config"
	"archagent/internal/logging"
)

var (
	// Global flags
	configFile string
	flagPort   int
	flagHost   string
	flagDebug  bool
	flagLog    string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "archagent",
	Short: "AWS architecture assistant with diagram generation",
	Long: `archagent answers AWS architecture questions with a Gemini-backed
agent wired to MCP tool servers for documentation lookup and diagram
generation. Generated diagrams land in a watched directory and are served
through the web UI.

Run without arguments to start the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if flagDebug {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Shutdown()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config-file", "", "path to the configuration file (default config.json)")
	pf.IntVar(&flagPort, "port", 0, "server port (overrides config)")
	pf.StringVar(&flagHost, "host", "", "server host (overrides config)")
	pf.BoolVar(&flagDebug, "debug", false, "enable debug mode and file logging")
	pf.StringVar(&flagLog, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig applies defaults, the config file, environment, and any
// command line flag the user set, in ascending precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		path = config.DefaultPath()
	}

	ov := &config.Overrides{}
	if cmd.Flags().Changed("port") {
		ov.Port = &flagPort
	}
	if cmd.Flags().Changed("host") {
		ov.Host = &flagHost
	}
	if cmd.Flags().Changed("debug") {
		ov.Debug = &flagDebug
	}
	if cmd.Flags().Changed("log-level") {
		ov.LogLevel = &flagLog
	}

	cfg, loaded, err := config.Load(path, ov)
	if err != nil {
		return nil, err
	}
	if !loaded {
		logger.Info("config file not found, using defaults", zap.String("path", path))
	}

	if err := logging.Initialize(logging.Options{
		Dir:     cfg.LogsDir,
		Enabled: cfg.Debug,
		Level:   cfg.LogLevel,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
