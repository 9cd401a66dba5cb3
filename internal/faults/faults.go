// Package faults is the application's error boundary. It classifies
// failures, keeps a bounded history for status reporting, and turns raw
// errors into messages and recovery suggestions fit for end users.
package faults

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"archagent/internal/logging"
)

// Severity ranks how bad a failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category classifies failures by subsystem.
type Category string

const (
	CategoryAgent      Category = "agent_error"
	CategoryFileSystem Category = "file_system_error"
	CategoryDiagram    Category = "diagram_error"
	CategoryValidation Category = "validation_error"
	CategoryNetwork    Category = "network_error"
	CategoryConfig     Category = "configuration_error"
	CategoryUnknown    Category = "unknown_error"
)

// Info is the structured record of one handled failure.
type Info struct {
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	UserMessage string    `json:"user_message"`
	Component   string    `json:"component"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const maxHistorySize = 100

// Handler records and classifies failures. The zero value is usable.
type Handler struct {
	mu      sync.Mutex
	history []Info
}

// New creates an empty Handler.
func New() *Handler {
	return &Handler{}
}

// Handle records a failure and returns its structured form. userContext is
// appended to the generated user message when non-empty.
func (h *Handler) Handle(err error, category Category, component, userContext string, severity Severity) Info {
	info := Info{
		Category:    category,
		Severity:    severity,
		Message:     err.Error(),
		UserMessage: userMessage(err, category, userContext),
		Component:   component,
		Suggestions: suggestions(category),
		Timestamp:   time.Now(),
	}

	h.log(info)

	h.mu.Lock()
	h.history = append(h.history, info)
	if len(h.history) > maxHistorySize {
		h.history = h.history[len(h.history)-maxHistorySize:]
	}
	h.mu.Unlock()

	return info
}

// Agent records an agent processing failure for the given query.
func (h *Handler) Agent(err error, query string) Info {
	ctx := "Agent processing failed"
	if query != "" {
		ctx += " for query: " + truncate(query, 50)
	}
	return h.Handle(err, CategoryAgent, "agent", ctx, SeverityHigh)
}

// FileSystem records a file operation failure.
func (h *Handler) FileSystem(err error, operation, path string) Info {
	ctx := fmt.Sprintf("File operation %q failed", operation)
	if path != "" {
		ctx += " for " + path
	}
	return h.Handle(err, CategoryFileSystem, "file_system", ctx, SeverityMedium)
}

// Diagram records a diagram processing failure.
func (h *Handler) Diagram(err error, name string) Info {
	ctx := "Diagram processing failed"
	if name != "" {
		ctx += " for " + name
	}
	return h.Handle(err, CategoryDiagram, "diagrams", ctx, SeverityLow)
}

// History returns the most recent handled failures, newest last.
func (h *Handler) History(limit int) []Info {
	h.mu.Lock()
	defer h.mu.Unlock()

	if limit <= 0 || limit > len(h.history) {
		limit = len(h.history)
	}
	out := make([]Info, limit)
	copy(out, h.history[len(h.history)-limit:])
	return out
}

// Clear drops the failure history.
func (h *Handler) Clear() {
	h.mu.Lock()
	h.history = nil
	h.mu.Unlock()
}

// Stats summarizes the failure history for monitoring endpoints.
type Stats struct {
	Total       int            `json:"total_errors"`
	ByCategory  map[string]int `json:"by_category,omitempty"`
	BySeverity  map[string]int `json:"by_severity,omitempty"`
	ByComponent map[string]int `json:"by_component,omitempty"`
	MostRecent  *time.Time     `json:"most_recent,omitempty"`
}

// Statistics aggregates the current history.
func (h *Handler) Statistics() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := Stats{Total: len(h.history)}
	if len(h.history) == 0 {
		return stats
	}

	stats.ByCategory = make(map[string]int)
	stats.BySeverity = make(map[string]int)
	stats.ByComponent = make(map[string]int)
	for _, info := range h.history {
		stats.ByCategory[string(info.Category)]++
		stats.BySeverity[string(info.Severity)]++
		component := info.Component
		if component == "" {
			component = "unknown"
		}
		stats.ByComponent[component]++
	}
	last := h.history[len(h.history)-1].Timestamp
	stats.MostRecent = &last
	return stats
}

func (h *Handler) log(info Info) {
	l := logging.Get(logCategory(info.Category))
	msg := "[%s] %s: %s"
	switch info.Severity {
	case SeverityCritical, SeverityHigh:
		l.Error(msg, strings.ToUpper(string(info.Category)), info.Component, info.Message)
	case SeverityMedium:
		l.Warn(msg, strings.ToUpper(string(info.Category)), info.Component, info.Message)
	default:
		l.Info(msg, strings.ToUpper(string(info.Category)), info.Component, info.Message)
	}
}

func logCategory(c Category) logging.Category {
	switch c {
	case CategoryAgent:
		return logging.CategoryAgent
	case CategoryDiagram, CategoryFileSystem:
		return logging.CategoryDiagrams
	case CategoryConfig, CategoryValidation:
		return logging.CategoryConfig
	case CategoryNetwork:
		return logging.CategoryMCP
	default:
		return logging.CategoryServer
	}
}

// userMessage produces a friendly message for the failure, keyed off the
// category and common substrings in the underlying error.
func userMessage(err error, category Category, userContext string) string {
	lower := strings.ToLower(err.Error())
	var msg string

	switch category {
	case CategoryFileSystem:
		switch {
		case strings.Contains(lower, "permission"):
			msg = "Unable to access file due to permission restrictions."
		case strings.Contains(lower, "not found") || strings.Contains(lower, "no such file"):
			msg = "The requested file could not be found."
		case strings.Contains(lower, "disk") || strings.Contains(lower, "space"):
			msg = "Insufficient disk space for the operation."
		default:
			msg = "A file system error occurred."
		}
	case CategoryDiagram:
		switch {
		case strings.Contains(lower, "image"):
			msg = "Unable to load or display the diagram image."
		case strings.Contains(lower, "format"):
			msg = "The diagram file format is not supported."
		default:
			msg = "An error occurred while processing the diagram."
		}
	case CategoryAgent:
		switch {
		case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
			msg = "The request took too long to process."
		case strings.Contains(lower, "connection") || strings.Contains(lower, "network"):
			msg = "Unable to connect to the agent service."
		case strings.Contains(lower, "auth") || strings.Contains(lower, "api key"):
			msg = "Authentication failed. Please check your credentials."
		default:
			msg = "The agent encountered an error while processing your request."
		}
	case CategoryValidation:
		msg = "The input provided is not valid."
	case CategoryConfig:
		msg = "There is a configuration issue that needs to be resolved."
	default:
		msg = "An unexpected error occurred."
	}

	if userContext != "" {
		msg += " " + userContext
	}
	return msg
}

// suggestions returns recovery hints for a failure category.
func suggestions(category Category) []string {
	switch category {
	case CategoryFileSystem:
		return []string{
			"Check file permissions and access rights",
			"Verify the file path is correct",
			"Ensure sufficient disk space is available",
		}
	case CategoryDiagram:
		return []string{
			"Try refreshing the page",
			"Check if the diagram file exists",
			"Verify the file format is supported",
		}
	case CategoryAgent:
		return []string{
			"Check your internet connection",
			"Try again in a few moments",
			"Verify your configuration settings",
		}
	case CategoryValidation:
		return []string{
			"Check your input format",
			"Ensure all required fields are filled",
			"Review the input requirements",
		}
	case CategoryConfig:
		return []string{
			"Check your configuration settings",
			"Verify all required dependencies are installed",
			"Restart the application",
		}
	default:
		return []string{
			"Try refreshing the application",
			"Contact support if the issue persists",
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
