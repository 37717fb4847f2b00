// Package workflow runs the conflict-avoidance cycle: pause the sync client, stop the chat
// client, wait for synchronization to settle, then bring both back.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"syncwarden/internal/core"
	"syncwarden/internal/process"
	"syncwarden/internal/syncclient"
)

var (
	// ErrBusy is returned by RunOnce while another run is active.
	ErrBusy = errors.New("workflow already running")
	// ErrCoolingDown marks a run suppressed by the cooldown guard.
	ErrCoolingDown = errors.New("workflow cooling down")
)

// Step names in execution order.
const (
	StepPauseSync   = "pause_sync"
	StepStopChat    = "stop_chat"
	StepAwaitSettle = "await_settle"
	StepResumeSync  = "resume_sync"
	StepStartChat   = "start_chat"
)

// Final states recorded on a run.
const (
	StateCompleted  = "Completed"
	StateRolledBack = "RolledBack"
	StateFailed     = "Failed"
	StateSkipped    = "Skipped"
)

// restoreSlack covers process queries and the chat start confirmation during a restore.
const restoreSlack = 15 * time.Second

// DefaultTaskName is the ledger id of the workflow task.
const DefaultTaskName = "sync-cycle"

// SyncClient is the sync client contract the orchestrator drives.
type SyncClient interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	QuerySyncState(ctx context.Context) (syncclient.State, error)
}

// ProcessController stops and starts the chat client.
type ProcessController interface {
	Stop(ctx context.Context, name string, graceful, force time.Duration) (process.StopResult, error)
	Start(ctx context.Context, path string, args ...string) (process.StartResult, error)
}

// Notifier receives a message for every run that does not succeed.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Config holds the orchestrator's identities and bounds.
type Config struct {
	TaskName        string
	ChatName        string
	ChatPaths       []string
	ChatArgs        []string
	PauseTimeout    time.Duration
	ResumeTimeout   time.Duration
	GracefulTimeout time.Duration
	ForceTimeout    time.Duration
	SettleMinimum   time.Duration
	SettleTimeout   time.Duration
	SettlePoll      time.Duration
	Cooldown        time.Duration
}

func (c *Config) applyDefaults() {
	if c.TaskName == "" {
		c.TaskName = DefaultTaskName
	}
	if c.PauseTimeout <= 0 {
		c.PauseTimeout = time.Minute
	}
	if c.ResumeTimeout <= 0 {
		c.ResumeTimeout = time.Minute
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = 3 * time.Second
	}
	if c.ForceTimeout <= 0 {
		c.ForceTimeout = 5 * time.Second
	}
	if c.SettleMinimum < 0 {
		c.SettleMinimum = 0
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = c.SettleMinimum + 100*time.Second
	}
	if c.SettlePoll <= 0 {
		c.SettlePoll = 10 * time.Second
	}
}

// Orchestrator is the workflow task. It implements core.Job.
type Orchestrator struct {
	cfg      Config
	sync     SyncClient
	procs    ProcessController
	ledger   *core.Ledger
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	running sync.Mutex

	namesMu sync.RWMutex
	names   []string
}

// New creates an orchestrator. notifier may be nil.
func New(cfg Config, syncClient SyncClient, procs ProcessController, ledger *core.Ledger, notifier Notifier, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		ledger = core.NewLedger(nil, logger, 0)
	}
	return &Orchestrator{
		cfg:      cfg,
		sync:     syncClient,
		procs:    procs,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger.With("task", cfg.TaskName),
		now:      time.Now,
		names:    []string{cfg.TaskName},
	}
}

// Bind registers another scheduler task name that dispatches this orchestrator, so the
// cooldown covers runs recorded under it, and returns the orchestrator as a job.
func (o *Orchestrator) Bind(name string) core.Job {
	o.namesMu.Lock()
	defer o.namesMu.Unlock()
	if !slices.Contains(o.names, name) {
		o.names = append(o.names, name)
	}
	return o
}

// TaskName returns the ledger id used for workflow runs.
func (o *Orchestrator) TaskName() string { return o.cfg.TaskName }

// Run implements core.Job. The scheduler records the run; a concurrent dispatch is skipped.
func (o *Orchestrator) Run(ctx context.Context) core.Result {
	if !o.running.TryLock() {
		return core.Result{Outcome: core.OutcomeSkipped, FinalState: StateSkipped, Err: ErrBusy}
	}
	defer o.running.Unlock()
	return o.guarded(ctx)
}

// RunOnce triggers an out-of-band run, recorded in the ledger under the workflow task name.
// It returns ErrBusy without recording anything when a run is already active.
func (o *Orchestrator) RunOnce(ctx context.Context) (core.Result, error) {
	if !o.running.TryLock() {
		return core.Result{}, ErrBusy
	}
	defer o.running.Unlock()

	runID := o.ledger.RecordStart(o.cfg.TaskName)
	res := o.guarded(ctx)
	o.ledger.RecordEnd(runID, res)
	return res, nil
}

// LastRun returns the most recent workflow run that was not skipped, across every bound name.
func (o *Orchestrator) LastRun() (core.Run, bool) {
	o.namesMu.RLock()
	defer o.namesMu.RUnlock()
	var last core.Run
	found := false
	for _, name := range o.names {
		run, ok := o.ledger.LastCompleted(name)
		if ok && (!found || run.StartedAt.After(last.StartedAt)) {
			last, found = run, true
		}
	}
	return last, found
}

// RestoreBudget bounds how long a cancelled run may take to finish its current step and
// bring both applications back.
func (o *Orchestrator) RestoreBudget() time.Duration {
	return o.cfg.PauseTimeout + o.cfg.GracefulTimeout + o.cfg.ForceTimeout + o.cfg.ResumeTimeout + restoreSlack
}

// WaitIdle blocks until no run is active or timeout elapses. It reports whether the orchestrator went idle.
func (o *Orchestrator) WaitIdle(timeout time.Duration) bool {
	idle := make(chan struct{})
	go func() {
		o.running.Lock()
		o.running.Unlock()
		close(idle)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	}
}

// CooldownRemaining returns how long new runs are still suppressed.
func (o *Orchestrator) CooldownRemaining() time.Duration {
	if o.cfg.Cooldown <= 0 {
		return 0
	}
	last, ok := o.LastRun()
	if !ok || last.EndedAt == nil {
		return 0
	}
	remaining := o.cfg.Cooldown - o.now().Sub(*last.EndedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (o *Orchestrator) guarded(ctx context.Context) core.Result {
	if remaining := o.CooldownRemaining(); remaining > 0 {
		o.logger.Info("workflow suppressed by cooldown", "remaining", remaining.Round(time.Second))
		return core.Result{
			Outcome:    core.OutcomeSkipped,
			FinalState: StateSkipped,
			Err:        fmt.Errorf("%w: %s remaining", ErrCoolingDown, remaining.Round(time.Second)),
		}
	}
	res := o.execute(ctx)
	o.logger.Info("workflow_finished", "state", res.FinalState, "outcome", res.Outcome, "degraded", res.Outcome == core.OutcomeDegraded)
	if res.Outcome != core.OutcomeSuccess {
		o.notify(res)
	}
	return res
}

// run accumulates the ordered step list of one execution.
type run struct {
	o        *Orchestrator
	steps    []core.Step
	degraded bool
	errs     []error
}

func (r *run) record(name string, started time.Time, outcome core.StepOutcome, err error) {
	step := core.Step{Name: name, Outcome: outcome, Duration: r.o.now().Sub(started)}
	level := slog.LevelInfo
	if err != nil {
		step.Error = err.Error()
		r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
		level = slog.LevelWarn
	}
	r.steps = append(r.steps, step)
	attrs := []any{"step", name, "outcome", outcome, "duration", step.Duration}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	r.o.logger.Log(context.Background(), level, "workflow_step", attrs...)
}

func (r *run) result(state string) core.Result {
	res := core.Result{FinalState: state, Steps: r.steps, Err: errors.Join(r.errs...)}
	switch {
	case state != StateCompleted:
		res.Outcome = core.OutcomeFailure
	case r.degraded:
		res.Outcome = core.OutcomeDegraded
	default:
		res.Outcome = core.OutcomeSuccess
	}
	return res
}

func (o *Orchestrator) execute(ctx context.Context) core.Result {
	r := &run{o: o}

	// Nothing has changed yet, so a failed pause needs no rollback.
	if err := ctx.Err(); err != nil {
		r.errs = append(r.errs, err)
		return r.result(StateFailed)
	}
	started := o.now()
	pauseCtx, cancel := context.WithTimeout(ctx, o.cfg.PauseTimeout)
	err := o.sync.Pause(pauseCtx)
	cancel()
	if err != nil {
		r.record(StepPauseSync, started, stepOutcomeFor(err), err)
		if ctx.Err() != nil {
			// A cancelled pause may have taken partial effect.
			return o.restore(r, ctx.Err(), false)
		}
		return r.result(StateFailed)
	}
	r.record(StepPauseSync, started, core.StepOK, nil)

	if ctx.Err() != nil {
		return o.restore(r, ctx.Err(), false)
	}

	started = o.now()
	stop, err := o.procs.Stop(ctx, o.cfg.ChatName, o.cfg.GracefulTimeout, o.cfg.ForceTimeout)
	if err == nil && !stop.AllStopped {
		err = stopError(stop)
	}
	if err != nil {
		r.record(StepStopChat, started, core.StepFailed, err)
		o.resumeSync(ctx, r)
		return r.result(StateRolledBack)
	}
	r.record(StepStopChat, started, core.StepOK, nil)

	if ctx.Err() != nil {
		return o.restore(r, ctx.Err(), true)
	}

	if cancelled := o.awaitSettle(ctx, r); cancelled != nil {
		return o.restore(r, cancelled, true)
	}

	state := StateCompleted
	if !o.resumeSync(ctx, r) {
		state = StateFailed
	}
	if !o.startChat(ctx, r) {
		state = StateFailed
	}
	return r.result(state)
}

// restore brings both applications back after cancellation.
func (o *Orchestrator) restore(r *run, cause error, chatStopped bool) core.Result {
	o.logger.Warn("workflow cancelled, restoring applications", "err", cause)
	r.errs = append(r.errs, cause)
	ctx := context.Background()
	o.resumeSync(ctx, r)
	if chatStopped {
		o.startChat(ctx, r)
	}
	return r.result(StateRolledBack)
}

// awaitSettle waits SettleMinimum, then polls the probe until it reports up to date or
// SettleTimeout elapses. A timeout marks the run degraded. It returns a non-nil error only
// when ctx is cancelled.
func (o *Orchestrator) awaitSettle(ctx context.Context, r *run) error {
	started := o.now()
	deadline := started.Add(o.cfg.SettleTimeout)
	if !sleepCtx(ctx, min(o.cfg.SettleMinimum, o.cfg.SettleTimeout)) {
		r.record(StepAwaitSettle, started, core.StepFailed, ctx.Err())
		return ctx.Err()
	}

	probeErrs := 0
	for {
		queryCtx, cancel := context.WithDeadline(ctx, deadline.Add(o.cfg.SettlePoll))
		state, err := o.sync.QuerySyncState(queryCtx)
		cancel()
		switch {
		case err != nil && ctx.Err() != nil:
			r.record(StepAwaitSettle, started, core.StepFailed, ctx.Err())
			return ctx.Err()
		case err != nil:
			probeErrs++
			o.logger.Warn("sync state query failed", "attempt", probeErrs, "err", err)
			if probeErrs > 1 {
				r.degraded = true
				r.record(StepAwaitSettle, started, core.StepFailed, err)
				return nil
			}
			// One immediate retry.
			continue
		case state == syncclient.StateUpToDate:
			r.record(StepAwaitSettle, started, core.StepOK, nil)
			return nil
		}
		probeErrs = 0

		wait := min(o.cfg.SettlePoll, deadline.Sub(o.now()))
		if wait <= 0 {
			r.degraded = true
			r.record(StepAwaitSettle, started, core.StepTimedOut, nil)
			o.logger.Warn("sync did not settle in time", "last_state", state, "timeout", o.cfg.SettleTimeout)
			return nil
		}
		if !sleepCtx(ctx, wait) {
			r.record(StepAwaitSettle, started, core.StepFailed, ctx.Err())
			return ctx.Err()
		}
	}
}

// resumeSync runs detached from cancellation: it is part of every restore path.
func (o *Orchestrator) resumeSync(ctx context.Context, r *run) bool {
	started := o.now()
	resumeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ResumeTimeout)
	defer cancel()
	if err := o.sync.Resume(resumeCtx); err != nil {
		r.record(StepResumeSync, started, stepOutcomeFor(err), err)
		return false
	}
	r.record(StepResumeSync, started, core.StepOK, nil)
	return true
}

func (o *Orchestrator) startChat(ctx context.Context, r *run) bool {
	started := o.now()
	path, err := process.ResolveExecutable(o.cfg.ChatPaths)
	if err != nil {
		r.record(StepStartChat, started, core.StepFailed, err)
		return false
	}
	res, err := o.procs.Start(context.WithoutCancel(ctx), path, o.cfg.ChatArgs...)
	switch {
	case err != nil:
		r.record(StepStartChat, started, core.StepFailed, err)
		return false
	case res.Launched && !res.Started:
		r.record(StepStartChat, started, core.StepUnconfirmed, nil)
	default:
		r.record(StepStartChat, started, core.StepOK, nil)
	}
	return true
}

func (o *Orchestrator) notify(res core.Result) {
	if o.notifier == nil {
		return
	}
	body := fmt.Sprintf("outcome: %s", res.Outcome)
	if res.Err != nil {
		body += "\n" + res.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.notifier.Send(ctx, fmt.Sprintf("%s %s", o.cfg.TaskName, res.FinalState), body); err != nil {
		o.logger.Warn("send notification", "err", err)
	}
}

func stopError(res process.StopResult) error {
	pids := make([]string, 0, len(res.Remaining))
	for _, h := range res.Remaining {
		pids = append(pids, fmt.Sprint(h.PID))
	}
	msg := fmt.Sprintf("chat client still running (pid %s)", strings.Join(pids, ", "))
	for _, f := range res.Failures {
		if f.PermissionDenied {
			return fmt.Errorf("%s: permission denied", msg)
		}
	}
	return errors.New(msg)
}

func stepOutcomeFor(err error) core.StepOutcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syncclient.ErrCommandTimeout) {
		return core.StepTimedOut
	}
	return core.StepFailed
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
