package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncwarden/internal/api"
	"syncwarden/internal/core"
	"syncwarden/internal/process"
	"syncwarden/internal/workflow"
)

type testWorkflow struct {
	result core.Result
	err    error
}

func (w *testWorkflow) TaskName() string { return "sync-cycle" }

func (w *testWorkflow) RunOnce(context.Context) (core.Result, error) { return w.result, w.err }

func (w *testWorkflow) LastRun() (core.Run, bool) { return core.Run{}, false }

func (w *testWorkflow) CooldownRemaining() time.Duration { return 2 * time.Minute }

type testFinder struct{}

func (testFinder) Find(context.Context, string) ([]process.Handle, error) {
	return []process.Handle{{PID: 7, Name: "Weixin.exe", Path: `C:\Weixin\Weixin.exe`}}, nil
}

// startTestServer runs the real API against an in-memory ledger and returns its URL.
func startTestServer(t *testing.T, token string, wf *testWorkflow) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := core.NewLedger(nil, logger, 0)
	sched := core.NewScheduler(ledger, logger, time.UTC)
	_, err := sched.AddDaily("sync-cycle", core.TimeOfDay{Hour: 5}, core.FuncJob(func(context.Context) bool { return true }))
	require.NoError(t, err)

	srv := api.NewServer(context.Background(), "", token, api.Deps{
		Scheduler: sched,
		Workflow:  wf,
		Ledger:    ledger,
		Processes: testFinder{},
	}, logger, time.UTC)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTasksCommands(t *testing.T) {
	url := startTestServer(t, "", &testWorkflow{})

	out, err := execute(t, "--server", url, "tasks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "sync-cycle")
	assert.Contains(t, out, "every day at 05:00")

	out, err = execute(t, "--server", url, "tasks", "disable", "sync-cycle")
	require.NoError(t, err)
	assert.Contains(t, out, "sync-cycle enabled=false")

	out, err = execute(t, "--server", url, "tasks", "run", "sync-cycle")
	require.NoError(t, err)
	assert.Contains(t, out, "sync-cycle: success")

	out, err = execute(t, "--server", url, "runs", "--window", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "sync-cycle")

	_, err = execute(t, "--server", url, "tasks", "run", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")

	_, err = execute(t, "--server", url, "tasks", "remove", "sync-cycle")
	require.NoError(t, err)
	out, err = execute(t, "--server", url, "tasks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks scheduled.")
}

func TestWorkflowCommands(t *testing.T) {
	wf := &testWorkflow{result: core.Result{
		Outcome:    core.OutcomeDegraded,
		FinalState: workflow.StateCompleted,
		Steps:      []core.Step{{Name: workflow.StepAwaitSettle, Outcome: core.StepTimedOut, Duration: time.Second}},
	}}
	url := startTestServer(t, "", wf)

	out, err := execute(t, "--server", url, "workflow", "run")
	require.NoError(t, err)
	assert.Contains(t, out, "workflow: degraded (Completed)")
	assert.Contains(t, out, "await_settle: timed_out (1000ms)")

	out, err = execute(t, "--server", url, "workflow", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Cooldown: 2m0s remaining")
	assert.Contains(t, out, "Last run: never")

	wf.err = workflow.ErrBusy
	_, err = execute(t, "--server", url, "workflow", "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestInspectCommands(t *testing.T) {
	url := startTestServer(t, "", &testWorkflow{})

	out, err := execute(t, "--server", url, "preview", "weekly@monday@07:05", "--count", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "every Monday at 07:05")
	assert.Contains(t, out, "2. ")

	_, err = execute(t, "--server", url, "preview", "monthly@3")
	require.Error(t, err)

	out, err = execute(t, "--server", url, "next")
	require.NoError(t, err)
	assert.Contains(t, out, "T05:00:00Z")

	out, err = execute(t, "--server", url, "processes", "Weixin.exe")
	require.NoError(t, err)
	assert.Contains(t, out, "Weixin.exe")
}

func TestTokenIsSent(t *testing.T) {
	url := startTestServer(t, "s3cret", &testWorkflow{})

	_, err := execute(t, "--server", url, "--token", "", "tasks", "list")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)

	_, err = execute(t, "--server", url, "--token", "s3cret", "tasks", "list")
	require.NoError(t, err)
}
