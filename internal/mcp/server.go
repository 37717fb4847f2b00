// Package mcp exposes the scheduler, workflow and ledger as MCP tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"syncwarden/internal/core"
	"syncwarden/internal/process"
	"syncwarden/internal/workflow"
)

// Scheduler is the scheduler surface offered to tools.
type Scheduler interface {
	List() iter.Seq[core.TaskSummary]
	SetEnabled(name string, enabled bool) bool
	RunNow(ctx context.Context, name string) (core.Result, error)
	NextFireTime() (time.Time, bool)
}

// Workflow is the orchestrator surface offered to tools.
type Workflow interface {
	TaskName() string
	RunOnce(ctx context.Context) (core.Result, error)
	LastRun() (core.Run, bool)
	CooldownRemaining() time.Duration
}

// RunLedger reads recorded runs.
type RunLedger interface {
	RecentRuns(window time.Duration) []core.Run
}

// ProcessFinder enumerates processes by executable name.
type ProcessFinder interface {
	Find(ctx context.Context, name string) ([]process.Handle, error)
}

// MCPServer represents the MCP server that handles protocol communication.
type MCPServer struct {
	scheduler Scheduler
	workflow  Workflow
	ledger    RunLedger
	processes ProcessFinder
	logger    *slog.Logger
	location  *time.Location
	baseCtx   context.Context
	server    *server.MCPServer
}

// NewMCPServer creates a new MCP server instance. Runs started by tools use ctx.
func NewMCPServer(ctx context.Context, scheduler Scheduler, wf Workflow, ledger RunLedger, processes ProcessFinder, logger *slog.Logger, location *time.Location) *MCPServer {
	s := &MCPServer{
		scheduler: scheduler,
		workflow:  wf,
		ledger:    ledger,
		processes: processes,
		logger:    logger,
		location:  location,
		baseCtx:   ctx,
	}
	s.server = server.NewMCPServer(
		"syncwarden",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(s.server)
	return s
}

// Run serves MCP over stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// Handler returns the streamable HTTP transport, mounted by the HTTP API at /mcp.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("sync_list_tasks",
		mcp.WithDescription("List scheduled tasks with their triggers, last outcome and next fire time"),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("sync_set_task_enabled",
		mcp.WithDescription("Enable or disable a scheduled task. Disabled tasks stay listed but never fire"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Task name")),
		mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("Whether the task should fire")),
	), s.handleSetEnabled)

	mcpServer.AddTool(mcp.NewTool("sync_run_task",
		mcp.WithDescription("Run a scheduled task immediately and wait for its result"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Task name")),
	), s.handleRunTask)

	mcpServer.AddTool(mcp.NewTool("sync_run_workflow",
		mcp.WithDescription("Run the pause/stop/settle/resume/start cycle now, subject to the cooldown"),
	), s.handleRunWorkflow)

	mcpServer.AddTool(mcp.NewTool("sync_workflow_status",
		mcp.WithDescription("Show the last workflow run and the remaining cooldown"),
	), s.handleWorkflowStatus)

	mcpServer.AddTool(mcp.NewTool("sync_recent_runs",
		mcp.WithDescription("List runs started within a time window, newest first"),
		mcp.WithString("window", mcp.Description("Go duration such as 24h; 0 for all retained runs. Default 24h")),
		mcp.WithString("task", mcp.Description("Only runs of this task")),
	), s.handleRecentRuns)

	mcpServer.AddTool(mcp.NewTool("sync_next_fire",
		mcp.WithDescription("Show the earliest upcoming fire time across enabled tasks"),
	), s.handleNextFire)

	mcpServer.AddTool(mcp.NewTool("sync_preview_trigger",
		mcp.WithDescription("Preview the next fire times of a trigger spec: daily@HH:MM, weekly@<day>@HH:MM, every@<duration>, cron@<expr>"),
		mcp.WithString("trigger", mcp.Required(), mcp.Description("Trigger spec")),
		mcp.WithNumber("count", mcp.Description("Number of fire times, default 5"), mcp.Min(1), mcp.Max(10)),
	), s.handlePreviewTrigger)

	mcpServer.AddTool(mcp.NewTool("sync_find_processes",
		mcp.WithDescription("List running processes with the given executable name"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Executable name, e.g. Weixin.exe")),
	), s.handleFindProcesses)

	s.logger.Info("MCP tools registered", "count", 9)
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	count := 0
	for t := range s.scheduler.List() {
		count++
		icon := "▶️"
		if !t.Enabled {
			icon = "⏸️"
		}
		fmt.Fprintf(&b, "%s %s\n", icon, t.Name)
		fmt.Fprintf(&b, "  Trigger: %s\n", describeTrigger(t.Trigger))
		fmt.Fprintf(&b, "  Last outcome: %s\n", t.LastOutcome)
		if t.LastRunAt != nil {
			fmt.Fprintf(&b, "  Last run: %s\n", formatTime(t.LastRunAt))
		}
		if t.NextRunAt != nil {
			fmt.Fprintf(&b, "  Next run: %s\n", formatTime(t.NextRunAt))
		}
		b.WriteString("\n")
	}
	if count == 0 {
		return mcp.NewToolResultText("No tasks scheduled"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d task(s):\n\n%s", count, b.String())), nil
}

func (s *MCPServer) handleSetEnabled(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	enabled := mcp.ParseBoolean(request, "enabled", true)
	if !s.scheduler.SetEnabled(name, enabled) {
		return mcp.NewToolResultError(fmt.Sprintf("Task not found: %s", name)), nil
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s %s", name, state)), nil
}

func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	res, err := s.scheduler.RunNow(s.baseCtx, name)
	if err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("Task not found: %s", name)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Run failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatResult(name, res)), nil
}

func (s *MCPServer) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.workflow.RunOnce(s.baseCtx)
	if errors.Is(err, workflow.ErrBusy) {
		return mcp.NewToolResultError("The workflow is already running"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Run failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatResult(s.workflow.TaskName(), res)), nil
}

func (s *MCPServer) handleWorkflowStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", s.workflow.TaskName())
	if remaining := s.workflow.CooldownRemaining(); remaining > 0 {
		fmt.Fprintf(&b, "Cooldown: %s remaining\n", remaining.Round(time.Second))
	} else {
		b.WriteString("Cooldown: ready\n")
	}
	run, ok := s.workflow.LastRun()
	if !ok {
		b.WriteString("Last run: never\n")
		return mcp.NewToolResultText(b.String()), nil
	}
	b.WriteString("Last run:\n")
	b.WriteString(formatRun(run))
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleRecentRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	window := 24 * time.Hour
	if raw := mcp.ParseString(request, "window", ""); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid window %q", raw)), nil
		}
		window = parsed
	}
	task := mcp.ParseString(request, "task", "")

	var b strings.Builder
	count := 0
	for _, run := range s.ledger.RecentRuns(window) {
		if task != "" && run.TaskID != task {
			continue
		}
		count++
		b.WriteString(formatRun(run))
		b.WriteString("\n")
	}
	if count == 0 {
		return mcp.NewToolResultText("No runs in the window"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d run(s):\n\n%s", count, b.String())), nil
}

func (s *MCPServer) handleNextFire(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	next, ok := s.scheduler.NextFireTime()
	if !ok {
		return mcp.NewToolResultText("Nothing scheduled"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Next fire: %s", formatTime(&next))), nil
}

func (s *MCPServer) handlePreviewTrigger(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spec := mcp.ParseString(request, "trigger", "")
	count := int(mcp.ParseFloat64(request, "count", 5))
	if count <= 0 || count > 10 {
		count = 5
	}
	trigger, err := core.ParseTrigger(spec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid trigger: %v", err)), nil
	}
	times := core.NextOccurrences(trigger, time.Now().In(s.location), count)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nNext %d fire time(s):\n", trigger, len(times))
	for i, t := range times {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t.Format("2006-01-02 15:04:05 MST"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleFindProcesses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	if strings.TrimSpace(name) == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	handles, err := s.processes.Find(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Process query failed: %v", err)), nil
	}
	if len(handles) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("%s is not running", name)), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d process(es):\n", len(handles))
	for _, h := range handles {
		fmt.Fprintf(&b, "  pid %d  %s  %s\n", h.PID, h.Name, h.Path)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func formatResult(name string, res core.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", outcomeIcon(res.Outcome), name, res.Outcome)
	if res.FinalState != "" {
		fmt.Fprintf(&b, "State: %s\n", res.FinalState)
	}
	writeSteps(&b, res.Steps)
	if res.Err != nil {
		fmt.Fprintf(&b, "Error: %v\n", res.Err)
	}
	return b.String()
}

func formatRun(run core.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s  %s\n", outcomeIcon(run.Outcome), run.ID, run.TaskID, run.Outcome)
	fmt.Fprintf(&b, "  Started: %s\n", formatTime(&run.StartedAt))
	if run.EndedAt != nil {
		fmt.Fprintf(&b, "  Ended: %s\n", formatTime(run.EndedAt))
	}
	if run.FinalState != "" {
		fmt.Fprintf(&b, "  State: %s\n", run.FinalState)
	}
	writeSteps(&b, run.Steps)
	if run.Error != nil {
		fmt.Fprintf(&b, "  Error: %s\n", truncateString(*run.Error, 200))
	}
	return b.String()
}

func writeSteps(b *strings.Builder, steps []core.Step) {
	for _, step := range steps {
		fmt.Fprintf(b, "  - %s: %s (%s)\n", step.Name, step.Outcome, step.Duration.Round(time.Millisecond))
	}
}

func describeTrigger(spec string) string {
	if trigger, err := core.ParseTrigger(spec); err == nil {
		return trigger.String()
	}
	return spec
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func outcomeIcon(outcome core.Outcome) string {
	switch outcome {
	case core.OutcomeSuccess:
		return "✅"
	case core.OutcomeFailure:
		return "❌"
	case core.OutcomeDegraded:
		return "⚠️"
	case core.OutcomeSkipped:
		return "⏭️"
	case core.OutcomeRunning:
		return "🔄"
	default:
		return "❓"
	}
}
