package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"archagent/internal/diagrams"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the effective configuration and diagrams folder state",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Printf("Server:        http://%s\n", cfg.Addr())
	fmt.Printf("Model:         %s\n", cfg.Agent.Model)
	fmt.Printf("Agent timeout: %s\n", cfg.GetAgentTimeout())
	fmt.Printf("Debug mode:    %v (log level %s)\n", cfg.Debug, cfg.LogLevel)

	fmt.Println("\nMCP servers:")
	for id, sc := range cfg.MCPServers {
		state := "disabled"
		if sc.Enabled {
			state = sc.Protocol
		}
		fmt.Printf("  %-14s %s\n", id, state)
	}

	scanner, err := diagrams.NewScanner(cfg.DiagramsDir)
	if err != nil {
		return err
	}
	folder := scanner.Folder()
	fmt.Println("\nDiagrams:")
	fmt.Printf("  Directory: %s (writable=%v)\n", folder.Path, folder.Writable)
	fmt.Printf("  Count:     %d (%s)\n", folder.TotalDiagrams, folder.TotalSizeText)

	latest, err := scanner.Latest()
	if err != nil {
		return err
	}
	if latest != nil {
		fmt.Printf("  Latest:    %s (%s ago)\n", latest.Filename, time.Since(latest.ModTime).Round(time.Second))
	}

	if cfg.CleanupEnabled {
		fmt.Printf("  Retention: max age %s, max count %d\n", cfg.GetMaxDiagramAge(), cfg.MaxDiagrams)
	} else {
		fmt.Println("  Retention: disabled")
	}
	return nil
}
