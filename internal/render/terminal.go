package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"archagent/internal/diagrams"
)

var (
	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	diagramStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

// Terminal renders agent responses for the command line.
type Terminal struct {
	renderer *glamour.TermRenderer
}

// NewTerminal creates a terminal renderer. Markdown falls through as plain
// text when the glamour renderer cannot be constructed.
func NewTerminal(width int) *Terminal {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return &Terminal{}
	}
	return &Terminal{renderer: r}
}

// Response renders the agent's markdown answer plus a listing of the
// diagrams generated for it.
func (t *Terminal) Response(text string, generated []diagrams.Info) string {
	var b strings.Builder

	body := Preprocess(text)
	if t.renderer != nil {
		if out, err := t.renderer.Render(body); err == nil {
			body = out
		}
	}
	b.WriteString(body)

	if len(generated) > 0 {
		b.WriteString("\n")
		b.WriteString(headingStyle.Render("Generated Diagrams"))
		b.WriteString("\n")
		for _, d := range generated {
			b.WriteString(diagramStyle.Render("  • " + d.Title))
			b.WriteString(mutedStyle.Render(fmt.Sprintf("  (%s, %s)", d.Filename, diagrams.FormatSize(d.Size))))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Error renders a failure message with its recovery suggestions.
func (t *Terminal) Error(userMessage string, suggestions []string) string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Render("Error: "))
	b.WriteString(userMessage)
	b.WriteString("\n")
	for _, s := range suggestions {
		b.WriteString(mutedStyle.Render("  - " + s))
		b.WriteString("\n")
	}
	return b.String()
}
