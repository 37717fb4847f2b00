package syncclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	defaultKillDelay = 5 * time.Second
	maxOutputBytes   = 64 << 10
)

// ErrCommandTimeout is returned when a command outlives its timeout.
var ErrCommandTimeout = errors.New("command timed out")

// CommandRunner runs shell commands with a termination watchdog.
type CommandRunner struct {
	logger    *slog.Logger
	killDelay time.Duration
}

// NewCommandRunner creates a runner. Commands ignoring termination are killed five seconds later.
func NewCommandRunner(logger *slog.Logger) *CommandRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRunner{logger: logger, killDelay: defaultKillDelay}
}

// Run executes command through the platform shell and returns its combined output.
// A non-positive timeout disables the watchdog; ctx cancellation still applies.
func (r *CommandRunner) Run(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", errors.New("command is empty")
	}
	var buf bytes.Buffer
	out := &syncWriter{w: &limitedWriter{w: &buf, n: maxOutputBytes}}

	cmd := shellCommand(ctx, command)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = r.killDelay

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start command: %w", err)
	}

	// Armed after Start so the callback only sees a populated cmd.Process.
	var timeoutTriggered atomic.Bool
	var watchdog *time.Timer
	if timeout > 0 {
		proc := cmd.Process
		watchdog = time.AfterFunc(timeout, func() {
			timeoutTriggered.Store(true)
			r.logger.Warn("command exceeded timeout, sending termination", "command", command, "timeout", timeout)
			sendTermination(proc)
			time.AfterFunc(r.killDelay, func() {
				_ = proc.Kill()
			})
		})
	}

	waitErr := cmd.Wait()
	if watchdog != nil {
		watchdog.Stop()
	}

	output := strings.TrimSpace(out.String())
	switch {
	case timeoutTriggered.Load():
		return output, fmt.Errorf("%w after %s", ErrCommandTimeout, timeout)
	case waitErr != nil:
		if ctx.Err() != nil {
			return output, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return output, fmt.Errorf("command exited with code %d: %s", exitErr.ExitCode(), output)
		}
		return output, waitErr
	}
	return output, nil
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command) // #nosec G204
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command) // #nosec G204
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *syncWriter) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sw, ok := s.w.(fmt.Stringer); ok {
		return sw.String()
	}
	return ""
}

// limitedWriter drops bytes past n but reports them written so the child never blocks.
type limitedWriter struct {
	w *bytes.Buffer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if room := l.n - l.w.Len(); room > 0 {
		if len(p) > room {
			l.w.Write(p[:room])
		} else {
			l.w.Write(p)
		}
	}
	return len(p), nil
}

func (l *limitedWriter) String() string { return l.w.String() }

func sendTermination(process *os.Process) {
	if process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		_ = process.Kill()
		return
	}
	_ = process.Signal(syscall.SIGTERM)
}

// CommandPauser pauses and resumes the sync client with user-supplied shell commands.
type CommandPauser struct {
	Runner        *CommandRunner
	PauseCommand  string
	ResumeCommand string
	Timeout       time.Duration
}

// Pause implements Pauser.
func (c *CommandPauser) Pause(ctx context.Context) error {
	if _, err := c.Runner.Run(ctx, c.PauseCommand, c.Timeout); err != nil {
		return fmt.Errorf("pause command: %w", err)
	}
	return nil
}

// Resume implements Pauser.
func (c *CommandPauser) Resume(ctx context.Context) error {
	if _, err := c.Runner.Run(ctx, c.ResumeCommand, c.Timeout); err != nil {
		return fmt.Errorf("resume command: %w", err)
	}
	return nil
}

// CommandProbe reads the sync state from a shell command's output.
type CommandProbe struct {
	Runner  *CommandRunner
	Command string
	Timeout time.Duration
}

// QuerySyncState implements Probe.
func (c *CommandProbe) QuerySyncState(ctx context.Context) (State, error) {
	out, err := c.Runner.Run(ctx, c.Command, c.Timeout)
	if err != nil {
		return StateUnknown, fmt.Errorf("status command: %w", err)
	}
	// Only the last line is parsed.
	lines := strings.Split(out, "\n")
	return ParseState(lines[len(lines)-1]), nil
}
