package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"archagent/internal/agent"
	"archagent/internal/diagrams"
	"archagent/internal/faults"
	"archagent/internal/mcp"
	"archagent/internal/render"
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a one-shot architecture question from the terminal",
	Long: `Runs a single query through the agent and prints the rendered answer.
Generated diagrams are listed with their file locations.

Example:
  archagent query "design a three-tier web app with RDS and a CDN"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

// Messages for the progress UI.
type statusMsg agent.Status
type resultMsg agent.Result

type queryModel struct {
	spinner spinner.Model
	status  string
	result  *agent.Result
}

func newQueryModel() queryModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	return queryModel{spinner: sp, status: "Starting..."}
}

func (m queryModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m queryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statusMsg:
		m.status = msg.Message
		return m, nil
	case resultMsg:
		r := agent.Result(msg)
		m.result = &r
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
}

func (m queryModel) View() string {
	if m.result != nil {
		return ""
	}
	return fmt.Sprintf("%s %s\n", m.spinner.View(), m.status)
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	question := strings.Join(args, " ")
	if err := agent.ValidateQuery(question); err != nil {
		return err
	}

	scanner, err := diagrams.NewScanner(cfg.DiagramsDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tools := mcp.NewManager(cfg.MCPServers)
	if err := tools.ConnectAll(ctx); err != nil {
		fmt.Println("Warning: some MCP servers failed to connect; continuing without them.")
	}
	defer tools.DisconnectAll()

	llm, err := agent.NewGemini(cfg.Agent.APIKey, cfg.Agent.Model)
	if err != nil {
		return fmt.Errorf("failed to initialize model client: %w", err)
	}

	boundary := faults.New()
	runner := agent.New(cfg, llm, tools, scanner, boundary)

	p := tea.NewProgram(newQueryModel())
	go func() {
		result := runner.Process(ctx, question, func(s agent.Status) {
			p.Send(statusMsg(s))
		})
		p.Send(resultMsg(result))
	}()

	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	m, ok := finalModel.(queryModel)
	if !ok || m.result == nil {
		return fmt.Errorf("query interrupted")
	}

	term := render.NewTerminal(100)
	if !m.result.Success {
		info := boundary.Agent(fmt.Errorf("%s", m.result.Error), question)
		fmt.Print(term.Error(info.UserMessage, info.Suggestions))
		return fmt.Errorf("query failed")
	}

	fmt.Print(term.Response(m.result.Text, m.result.Generated))
	return nil
}
