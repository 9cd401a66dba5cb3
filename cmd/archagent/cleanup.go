package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"archagent/internal/diagrams"
)

var (
	cleanupMaxAge   time.Duration
	cleanupMaxCount int
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old diagrams from the watched directory",
	Long: `Runs one retention sweep: diagrams older than the age threshold are
deleted, then the remainder is trimmed to the count limit, oldest first.
Defaults come from the configuration.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "delete diagrams older than this (default from config)")
	cleanupCmd.Flags().IntVar(&cleanupMaxCount, "max-count", 0, "keep at most this many diagrams (default from config)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	maxAge := cleanupMaxAge
	if maxAge <= 0 {
		maxAge = cfg.GetMaxDiagramAge()
	}
	maxCount := cleanupMaxCount
	if maxCount <= 0 {
		maxCount = cfg.MaxDiagrams
	}

	scanner, err := diagrams.NewScanner(cfg.DiagramsDir)
	if err != nil {
		return err
	}

	removed, err := scanner.Cleanup(maxAge, maxCount)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d diagrams (max age %s, max count %d).\n", removed, maxAge, maxCount)
	return nil
}
