package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultPollInterval   = 250 * time.Millisecond
	defaultQueryTimeout   = 5 * time.Second
	defaultConfirmTimeout = 3 * time.Second
)

// Options tunes polling behaviour. Zero values use defaults.
type Options struct {
	PollInterval   time.Duration
	QueryTimeout   time.Duration
	ConfirmTimeout time.Duration
}

// Controller stops and starts named processes. Every call re-queries the table.
type Controller struct {
	table  Table
	logger *slog.Logger
	opts   Options
}

// NewController creates a controller on top of table.
func NewController(table Table, logger *slog.Logger, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = defaultConfirmTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{table: table, logger: logger, opts: opts}
}

// Find returns running processes whose executable name matches name, ignoring case.
// A failed query is retried once and then served by the table's fallback enumeration if any.
func (c *Controller) Find(ctx context.Context, name string) ([]Handle, error) {
	all, err := c.list(ctx)
	if err != nil {
		return nil, err
	}
	var matches []Handle
	for _, h := range all {
		if matchName(h.Name, name) {
			matches = append(matches, h)
		}
	}
	return matches, nil
}

// Stop asks every matching process to terminate, waits up to graceful, force-kills survivors
// and waits up to force. Per-process failures are collected in the result, not returned.
// Once the processes have been signalled, cancelling ctx does not cut the graceful wait short;
// it only prevents escalation to a forced kill.
func (c *Controller) Stop(ctx context.Context, name string, graceful, force time.Duration) (StopResult, error) {
	handles, err := c.Find(ctx, name)
	if err != nil {
		return StopResult{}, fmt.Errorf("find %s: %w", name, err)
	}
	if len(handles) == 0 {
		c.logger.Info("process not running", "name", name)
		return StopResult{AllStopped: true}, nil
	}

	// Every wait below is bounded by graceful, force or the query timeout.
	bounded := context.WithoutCancel(ctx)
	result := StopResult{Matched: len(handles)}
	c.logger.Info("stopping processes", "name", name, "count", len(handles))
	c.signalAll(bounded, handles, PhaseGraceful, c.table.Terminate, &result)
	alive := c.waitGone(bounded, handles, graceful)

	switch {
	case len(alive) > 0 && ctx.Err() != nil:
		c.logger.Warn("stop cancelled, not escalating to kill", "name", name, "count", len(alive))
	case len(alive) > 0:
		c.logger.Warn("processes ignored termination, killing", "name", name, "count", len(alive))
		c.signalAll(bounded, alive, PhaseForce, c.table.Kill, &result)
		alive = c.waitGone(bounded, alive, force)
	}

	if final, err := c.Find(bounded, name); err == nil {
		alive = mergeHandles(alive, final)
	} else {
		c.logger.Warn("final process check failed", "name", name, "err", err)
	}

	result.Remaining = alive
	result.AllStopped = len(alive) == 0
	if result.AllStopped {
		c.logger.Info("all processes stopped", "name", name)
	} else {
		c.logger.Warn("processes still running", "name", name, "count", len(alive))
	}
	return result, nil
}

// Start launches path unless a process with the same executable name is already running.
func (c *Controller) Start(ctx context.Context, path string, args ...string) (StartResult, error) {
	if path == "" {
		return StartResult{}, errors.New("executable path is required")
	}
	name := executableName(path)
	running, err := c.Find(ctx, name)
	if err != nil {
		return StartResult{}, fmt.Errorf("find %s: %w", name, err)
	}
	if len(running) > 0 {
		c.logger.Info("process already running", "name", name, "count", len(running))
		return StartResult{AlreadyRunning: true, Processes: running}, nil
	}

	c.logger.Info("launching process", "path", path)
	if err := c.table.Launch(ctx, path, args); err != nil {
		return StartResult{}, fmt.Errorf("launch %s: %w", path, err)
	}

	deadline := time.Now().Add(c.opts.ConfirmTimeout)
	for {
		found, err := c.Find(ctx, name)
		if err == nil && len(found) > 0 {
			return StartResult{Launched: true, Started: true, Processes: found}, nil
		}
		if !time.Now().Before(deadline) || !sleepCtx(ctx, c.opts.PollInterval) {
			break
		}
	}
	c.logger.Warn("process launched but not visible yet", "name", name, "waited", c.opts.ConfirmTimeout)
	return StartResult{Launched: true}, nil
}

func (c *Controller) list(ctx context.Context) ([]Handle, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.QueryTimeout)
		handles, err := c.table.List(attemptCtx)
		cancel()
		if err == nil {
			return handles, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("process query failed", "attempt", attempt+1, "err", err)
	}

	fallback, ok := c.table.(FallbackLister)
	if !ok {
		return nil, fmt.Errorf("list processes: %w", lastErr)
	}
	fallbackCtx, cancel := context.WithTimeout(ctx, 2*c.opts.QueryTimeout)
	defer cancel()
	handles, err := fallback.ListFallback(fallbackCtx)
	if err != nil {
		return nil, fmt.Errorf("list processes (fallback): %w", errors.Join(lastErr, err))
	}
	c.logger.Info("process query served by fallback", "count", len(handles))
	return handles, nil
}

func (c *Controller) signalAll(ctx context.Context, handles []Handle, phase Phase, signal func(context.Context, int32) error, result *StopResult) {
	for _, h := range handles {
		err := signal(ctx, h.PID)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrNotRunning) {
			c.logger.Debug("process already exited", "pid", h.PID)
			continue
		}
		failure := Failure{
			PID:              h.PID,
			Phase:            phase,
			Err:              err.Error(),
			PermissionDenied: errors.Is(err, os.ErrPermission),
		}
		result.Failures = append(result.Failures, failure)
		if failure.PermissionDenied {
			c.logger.Error("permission denied terminating process", "pid", h.PID, "phase", phase)
		} else {
			c.logger.Error("terminate process", "pid", h.PID, "phase", phase, "err", err)
		}
	}
}

// waitGone polls until every handle has exited or timeout elapses, returning the survivors.
func (c *Controller) waitGone(ctx context.Context, handles []Handle, timeout time.Duration) []Handle {
	deadline := time.Now().Add(timeout)
	pending := handles
	for {
		var alive []Handle
		for _, h := range pending {
			ok, err := c.table.Alive(ctx, h.PID)
			switch {
			case err != nil:
				h.State = StateUnknown
				alive = append(alive, h)
			case ok:
				h.State = StateRunning
				alive = append(alive, h)
			}
		}
		pending = alive
		if len(pending) == 0 {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return pending
		}
		if !sleepCtx(ctx, min(c.opts.PollInterval, remaining)) {
			return pending
		}
	}
}

func mergeHandles(a, b []Handle) []Handle {
	seen := make(map[int32]bool, len(a))
	out := make([]Handle, 0, len(a)+len(b))
	for _, h := range a {
		seen[h.PID] = true
		out = append(out, h)
	}
	for _, h := range b {
		if !seen[h.PID] {
			seen[h.PID] = true
			out = append(out, h)
		}
	}
	return out
}

func matchName(candidate, want string) bool {
	if strings.EqualFold(candidate, want) {
		return true
	}
	return strings.EqualFold(trimExe(candidate), trimExe(want))
}

func trimExe(name string) string {
	ext := filepath.Ext(name)
	if strings.EqualFold(ext, ".exe") {
		return name[:len(name)-len(ext)]
	}
	return name
}

func executableName(path string) string {
	// Accept Windows separators regardless of the host OS.
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
