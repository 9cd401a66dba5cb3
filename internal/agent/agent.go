package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"archagent/internal/config"
	"archagent/internal/diagrams"
	"archagent/internal/faults"
	"archagent/internal/logging"
	"archagent/internal/mcp"
)

// Query length bounds after trimming.
const (
	minQueryLen = 3
	maxQueryLen = 5000
)

// Status reports progress while a query runs.
type Status struct {
	Stage    string  `json:"stage"` // validating, processing, calling_tool, completing, error
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
}

// Result is the outcome of one processed query.
type Result struct {
	Text      string          `json:"text"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Generated []diagrams.Info `json:"generated,omitempty"`
	Duration  time.Duration   `json:"duration"`
	ToolCalls int             `json:"tool_calls"`
}

// Agent processes architecture queries against the model and MCP tools.
type Agent struct {
	llm           LLM
	tools         *mcp.Manager
	scanner       *diagrams.Scanner
	boundary      *faults.Handler
	timeout       time.Duration
	maxToolRounds int
	systemPrompt  string
}

// New creates an Agent from the loaded configuration.
func New(cfg *config.Config, llm LLM, tools *mcp.Manager, scanner *diagrams.Scanner, boundary *faults.Handler) *Agent {
	rounds := cfg.Agent.MaxToolRounds
	if rounds <= 0 {
		rounds = 10
	}
	return &Agent{
		llm:           llm,
		tools:         tools,
		scanner:       scanner,
		boundary:      boundary,
		timeout:       cfg.GetAgentTimeout(),
		maxToolRounds: rounds,
		systemPrompt:  systemPrompt(cfg.DiagramsDir),
	}
}

// ValidateQuery reports whether a query is acceptable to process.
func ValidateQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < minQueryLen || len(trimmed) > maxQueryLen {
		return fmt.Errorf("query must be between %d and %d characters", minQueryLen, maxQueryLen)
	}
	return nil
}

// Process runs one query to completion. onStatus may be nil; when set it
// receives progress updates on the calling goroutine.
func (a *Agent) Process(ctx context.Context, query string, onStatus func(Status)) Result {
	start := time.Now()
	emit := func(stage, message string, progress float64) {
		if onStatus != nil {
			onStatus(Status{Stage: stage, Message: message, Progress: progress})
		}
	}

	emit("validating", "Validating query...", 0.1)
	if err := ValidateQuery(query); err != nil {
		info := a.boundary.Handle(err, faults.CategoryValidation, "agent", "Query validation failed", faults.SeverityLow)
		emit("error", info.UserMessage, 0)
		return Result{Error: err.Error(), Duration: time.Since(start)}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// Snapshot so generated files can be diffed afterward.
	before := time.Now()

	emit("processing", "Executing agent query...", 0.3)
	logging.Get(logging.CategoryAgent).Info("processing query: %s", truncate(query, 100))

	text, toolCalls, err := a.converse(ctx, query, emit)
	if err != nil {
		a.boundary.Agent(err, query)
		emit("error", "Processing failed: "+err.Error(), 0)
		result := Result{Error: err.Error(), Duration: time.Since(start), ToolCalls: toolCalls}
		if ctx.Err() == context.DeadlineExceeded {
			result.Error = fmt.Sprintf("query timed out after %s", a.timeout)
		}
		return result
	}

	emit("completing", "Finalizing response...", 0.95)

	generated, ferr := a.scanner.NewSince(before)
	if ferr != nil {
		a.boundary.FileSystem(ferr, "detect_generated_files", a.scanner.Dir())
		generated = nil
	}

	emit("completing", "Query processing complete", 1.0)
	logging.Get(logging.CategoryAgent).Info("query processed in %.2fs with %d tool calls, %d diagrams",
		time.Since(start).Seconds(), toolCalls, len(generated))

	return Result{
		Text:      text,
		Success:   true,
		Generated: generated,
		Duration:  time.Since(start),
		ToolCalls: toolCalls,
	}
}

// converse runs the model round trip, dispatching function calls to MCP
// tools until the model answers in text or the round budget runs out.
func (a *Agent) converse(ctx context.Context, query string, emit func(string, string, float64)) (string, int, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(a.systemPrompt, genai.RoleUser),
	}
	if decls := a.toolDeclarations(); len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents := []*genai.Content{
		genai.NewContentFromText(query, genai.RoleUser),
	}

	toolCalls := 0
	for round := 0; round < a.maxToolRounds; round++ {
		resp, err := a.llm.Generate(ctx, contents, cfg)
		if err != nil {
			return "", toolCalls, fmt.Errorf("model call failed: %w", err)
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			return resp.Text(), toolCalls, nil
		}

		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			contents = append(contents, resp.Candidates[0].Content)
		}

		var responseParts []*genai.Part
		for _, call := range calls {
			toolCalls++
			emit("calling_tool", "Running tool "+call.Name+"...", 0.5)

			responseParts = append(responseParts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     call.Name,
					Response: a.dispatch(ctx, call),
				},
			})
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: responseParts})
	}

	return "", toolCalls, fmt.Errorf("tool round limit of %d reached without a final answer", a.maxToolRounds)
}

// dispatch routes one model function call to its MCP tool and shapes the
// result for the model. Tool failures go back to the model as content so it
// can recover or explain.
func (a *Agent) dispatch(ctx context.Context, call *genai.FunctionCall) map[string]any {
	tool, ok := a.tools.FindTool(call.Name)
	if !ok {
		logging.Get(logging.CategoryAgent).Warn("model requested unknown tool %s", call.Name)
		return map[string]any{"error": "unknown tool: " + call.Name}
	}

	result, err := a.tools.CallTool(ctx, tool.ToolID, call.Args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	if !result.Success {
		return map[string]any{"error": result.Error}
	}

	var output any
	if err := json.Unmarshal(result.Output, &output); err != nil {
		output = string(result.Output)
	}
	return map[string]any{"result": output}
}

// toolDeclarations converts the discovered MCP tools into model function
// declarations. Raw JSON schemas pass through untranslated.
func (a *Agent) toolDeclarations() []*genai.FunctionDeclaration {
	tools := a.tools.AllTools()
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
		}
		if len(tool.InputSchema) > 0 {
			var schema map[string]any
			if err := json.Unmarshal(tool.InputSchema, &schema); err == nil {
				decl.ParametersJsonSchema = schema
			}
		}
		decls = append(decls, decl)
	}
	return decls
}

func systemPrompt(diagramsDir string) string {
	return fmt.Sprintf(`You are an AWS solutions architect assistant. Answer questions
about AWS architecture with concrete, actionable guidance.

When a user asks for an architecture, use the available diagram tools to
generate a diagram of it. Save generated diagrams into %q. Use descriptive
snake_case filenames that reflect the architecture shown.

Consult the AWS documentation tools when you need current service details.
Keep answers focused; prefer diagrams plus a short explanation over long
prose.`, diagramsDir)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
