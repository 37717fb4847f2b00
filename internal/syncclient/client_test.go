package syncclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncwarden/internal/process"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseState(t *testing.T) {
	cases := map[string]State{
		"syncing":      StateSyncing,
		" Uploading\n": StateSyncing,
		"up_to_date":   StateUpToDate,
		"Up-To-Date":   StateUpToDate,
		"idle\r":       StateUpToDate,
		"":             StateUnknown,
		"paused":       StateUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ParseState(raw), "input %q", raw)
	}
}

func TestNewDefaultsToUnknownProbe(t *testing.T) {
	c := New(&CommandPauser{}, nil)
	state, err := c.QuerySyncState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, state)
}

type fakeControl struct {
	stopResult  process.StopResult
	stopErr     error
	startResult process.StartResult
	startErr    error
	started     []string
	startArgs   [][]string
}

func (f *fakeControl) Stop(context.Context, string, time.Duration, time.Duration) (process.StopResult, error) {
	return f.stopResult, f.stopErr
}

func (f *fakeControl) Start(_ context.Context, path string, args ...string) (process.StartResult, error) {
	f.started = append(f.started, path)
	f.startArgs = append(f.startArgs, args)
	return f.startResult, f.startErr
}

func TestProcessPauserPause(t *testing.T) {
	control := &fakeControl{stopResult: process.StopResult{AllStopped: true}}
	p := NewProcessPauser(control, discardLogger(), "OneDrive.exe", nil, nil)
	require.NoError(t, p.Pause(context.Background()))

	control.stopResult = process.StopResult{Remaining: []process.Handle{{PID: 7}}}
	assert.ErrorContains(t, p.Pause(context.Background()), "still running")

	control.stopErr = errors.New("query failed")
	assert.ErrorContains(t, p.Pause(context.Background()), "query failed")
}

func TestProcessPauserResumeResolvesPath(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "OneDrive.exe")
	require.NoError(t, os.WriteFile(exe, []byte("x"), 0o755))

	control := &fakeControl{startResult: process.StartResult{Launched: true}}
	p := NewProcessPauser(control, discardLogger(), "OneDrive.exe",
		[]string{filepath.Join(dir, "nope.exe"), exe}, []string{"/background"})

	require.NoError(t, p.Resume(context.Background()))
	assert.Equal(t, []string{exe}, control.started)
	assert.Equal(t, [][]string{{"/background"}}, control.startArgs)
}

func TestProcessPauserResumeMissingExecutable(t *testing.T) {
	control := &fakeControl{}
	p := NewProcessPauser(control, discardLogger(), "OneDrive.exe", []string{filepath.Join(t.TempDir(), "none")}, nil)

	err := p.Resume(context.Background())
	assert.ErrorIs(t, err, process.ErrExecutableNotFound)
	assert.Empty(t, control.started)
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

func TestCommandRunnerCapturesOutput(t *testing.T) {
	skipOnWindows(t)
	r := NewCommandRunner(discardLogger())
	out, err := r.Run(context.Background(), "echo hello; echo world 1>&2", time.Second)
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "world")
}

func TestCommandRunnerExitCode(t *testing.T) {
	skipOnWindows(t)
	r := NewCommandRunner(discardLogger())
	_, err := r.Run(context.Background(), "echo nope; exit 3", time.Second)
	assert.ErrorContains(t, err, "code 3")
}

func TestCommandRunnerTimeout(t *testing.T) {
	skipOnWindows(t)
	r := NewCommandRunner(discardLogger())
	r.killDelay = 200 * time.Millisecond

	started := time.Now()
	_, err := r.Run(context.Background(), "sleep 5", 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.Less(t, time.Since(started), 3*time.Second)
}

func TestCommandRunnerTinyTimeoutAlwaysReportsTimeout(t *testing.T) {
	skipOnWindows(t)
	r := NewCommandRunner(discardLogger())
	r.killDelay = 50 * time.Millisecond

	for range 20 {
		_, err := r.Run(context.Background(), "sleep 2", time.Nanosecond)
		require.ErrorIs(t, err, ErrCommandTimeout)
	}
}

func TestCommandRunnerRejectsEmpty(t *testing.T) {
	_, err := NewCommandRunner(discardLogger()).Run(context.Background(), "  ", time.Second)
	assert.Error(t, err)
}

func TestCommandProbeUsesLastLine(t *testing.T) {
	skipOnWindows(t)
	probe := &CommandProbe{
		Runner:  NewCommandRunner(discardLogger()),
		Command: "echo 'status tool v1'; echo syncing",
		Timeout: time.Second,
	}
	state, err := probe.QuerySyncState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSyncing, state)

	probe.Command = "exit 1"
	state, err = probe.QuerySyncState(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateUnknown, state)
}

func TestCommandPauser(t *testing.T) {
	skipOnWindows(t)
	marker := filepath.Join(t.TempDir(), "paused")
	p := &CommandPauser{
		Runner:        NewCommandRunner(discardLogger()),
		PauseCommand:  "touch " + marker,
		ResumeCommand: "rm " + marker,
		Timeout:       time.Second,
	}
	require.NoError(t, p.Pause(context.Background()))
	assert.FileExists(t, marker)
	require.NoError(t, p.Resume(context.Background()))
	assert.NoFileExists(t, marker)

	err := p.Resume(context.Background())
	assert.ErrorContains(t, err, "resume command")
}
