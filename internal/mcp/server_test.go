package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncwarden/internal/core"
	"syncwarden/internal/process"
	"syncwarden/internal/workflow"
)

type stubWorkflow struct {
	result   core.Result
	err      error
	last     *core.Run
	cooldown time.Duration
}

func (w *stubWorkflow) TaskName() string { return "sync-cycle" }

func (w *stubWorkflow) RunOnce(context.Context) (core.Result, error) { return w.result, w.err }

func (w *stubWorkflow) LastRun() (core.Run, bool) {
	if w.last == nil {
		return core.Run{}, false
	}
	return *w.last, true
}

func (w *stubWorkflow) CooldownRemaining() time.Duration { return w.cooldown }

type stubFinder struct {
	handles []process.Handle
	err     error
}

func (f stubFinder) Find(context.Context, string) ([]process.Handle, error) { return f.handles, f.err }

type fixture struct {
	server   *MCPServer
	sched    *core.Scheduler
	ledger   *core.Ledger
	workflow *stubWorkflow
}

func newFixture(t *testing.T, finder ProcessFinder) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := core.NewLedger(nil, logger, 0)
	sched := core.NewScheduler(ledger, logger, time.UTC)
	_, err := sched.AddDaily("sync-cycle", core.TimeOfDay{Hour: 5}, core.FuncJob(func(context.Context) bool { return true }))
	require.NoError(t, err)
	wf := &stubWorkflow{}
	if finder == nil {
		finder = stubFinder{}
	}
	return &fixture{
		server:   NewMCPServer(context.Background(), sched, wf, ledger, finder, logger, time.UTC),
		sched:    sched,
		ledger:   ledger,
		workflow: wf,
	}
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestListTasks(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.server.handleListTasks(context.Background(), call(nil))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "1 task(s)")
	assert.Contains(t, text, "sync-cycle")
	assert.Contains(t, text, "every day at 05:00")
	assert.Contains(t, text, string(core.OutcomeNeverRun))
}

func TestSetTaskEnabled(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.server.handleSetEnabled(context.Background(), call(map[string]any{"name": "sync-cycle", "enabled": false}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "disabled")

	task, ok := f.sched.Get("sync-cycle")
	require.True(t, ok)
	assert.False(t, task.Enabled)

	res, err = f.server.handleSetEnabled(context.Background(), call(map[string]any{"name": "missing", "enabled": true}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRunTaskRecordsRun(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.server.handleRunTask(context.Background(), call(map[string]any{"name": "sync-cycle"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "sync-cycle success")

	runs := f.ledger.RecentRuns(0)
	require.Len(t, runs, 1)
	assert.Equal(t, core.OutcomeSuccess, runs[0].Outcome)

	res, err = f.server.handleRunTask(context.Background(), call(map[string]any{"name": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Task not found")
}

func TestRunWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	f.workflow.result = core.Result{
		Outcome:    core.OutcomeDegraded,
		FinalState: workflow.StateCompleted,
		Steps:      []core.Step{{Name: workflow.StepAwaitSettle, Outcome: core.StepTimedOut, Duration: time.Second}},
	}
	res, err := f.server.handleRunWorkflow(context.Background(), call(nil))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "degraded")
	assert.Contains(t, text, "await_settle: timed_out")

	f.workflow.err = workflow.ErrBusy
	res, err = f.server.handleRunWorkflow(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "already running")
}

func TestWorkflowStatus(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.server.handleWorkflowStatus(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Last run: never")

	ended := time.Now()
	f.workflow.last = &core.Run{ID: "r1", TaskID: "sync-cycle", Outcome: core.OutcomeSuccess, StartedAt: ended.Add(-time.Minute), EndedAt: &ended}
	f.workflow.cooldown = 90 * time.Second
	res, err = f.server.handleWorkflowStatus(context.Background(), call(nil))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "1m30s remaining")
	assert.Contains(t, text, "r1")
}

func TestRecentRuns(t *testing.T) {
	f := newFixture(t, nil)
	id := f.ledger.RecordStart("sync-cycle")
	f.ledger.RecordEnd(id, core.Result{Outcome: core.OutcomeFailure, Err: errors.New("boom")})
	other := f.ledger.RecordStart("other")
	f.ledger.RecordEnd(other, core.Result{Outcome: core.OutcomeSuccess})

	res, err := f.server.handleRecentRuns(context.Background(), call(map[string]any{"window": "1h", "task": "sync-cycle"}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "1 run(s)")
	assert.Contains(t, text, "Error: boom")
	assert.NotContains(t, text, "other")

	res, err = f.server.handleRecentRuns(context.Background(), call(map[string]any{"window": "soon"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestNextFireAndPreview(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.server.handleNextFire(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Next fire:")

	res, err = f.server.handlePreviewTrigger(context.Background(), call(map[string]any{"trigger": "every@30m", "count": float64(3)}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "every 30m0s")
	assert.Contains(t, text, "Next 3 fire time(s)")

	res, err = f.server.handlePreviewTrigger(context.Background(), call(map[string]any{"trigger": "monthly@1"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestFindProcesses(t *testing.T) {
	f := newFixture(t, stubFinder{handles: []process.Handle{{PID: 42, Name: "Weixin.exe", Path: `C:\Weixin\Weixin.exe`}}})
	res, err := f.server.handleFindProcesses(context.Background(), call(map[string]any{"name": "Weixin.exe"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "pid 42")

	f = newFixture(t, stubFinder{err: errors.New("wmi down")})
	res, err = f.server.handleFindProcesses(context.Background(), call(map[string]any{"name": "Weixin.exe"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = f.server.handleFindProcesses(context.Background(), call(map[string]any{"name": " "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandlerIsServed(t *testing.T) {
	f := newFixture(t, nil)
	assert.NotNil(t, f.server.Handler())
}
