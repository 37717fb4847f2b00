package core

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"
)

var (
	ErrDuplicateName = errors.New("task name already registered")
	ErrTaskNotFound  = errors.New("task not found")
)

// maxSleep bounds a single wait so wall-clock jumps (suspend, clock changes) are noticed.
const maxSleep = time.Minute

type entry struct {
	name    string
	trigger Trigger
	job     Job
	enabled bool
	running bool
	removed bool
	next    time.Time
	index   int
}

// entryQueue is a min-heap of enabled entries ordered by next fire time.
type entryQueue []*entry

func (q entryQueue) Len() int { return len(q) }

func (q entryQueue) Less(i, j int) bool {
	if q[i].next.Equal(q[j].next) {
		return q[i].name < q[j].name
	}
	return q[i].next.Before(q[j].next)
}

func (q entryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *entryQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *entryQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Scheduler fires named tasks on daily, weekly, interval or cron triggers.
// A single loop sleeps until the earliest deadline and dispatches due tasks synchronously.
type Scheduler struct {
	ledger   *Ledger
	logger   *slog.Logger
	location *time.Location
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	queue   entryQueue
	wake    chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(ledger *Ledger, logger *slog.Logger, location *time.Location) *Scheduler {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		ledger = NewLedger(nil, logger, 0)
	}
	return &Scheduler{
		ledger:   ledger,
		logger:   logger,
		location: location,
		now:      time.Now,
		entries:  make(map[string]*entry),
		wake:     make(chan struct{}, 1),
	}
}

// Ledger returns the ledger the scheduler writes to.
func (s *Scheduler) Ledger() *Ledger {
	return s.ledger
}

// AddDaily registers a task firing every day at the given time.
func (s *Scheduler) AddDaily(name string, at TimeOfDay, job Job) (TaskSummary, error) {
	trigger, err := Daily(at)
	if err != nil {
		return TaskSummary{}, err
	}
	return s.Add(name, trigger, job)
}

// AddWeekly registers a task firing once a week.
func (s *Scheduler) AddWeekly(name string, day time.Weekday, at TimeOfDay, job Job) (TaskSummary, error) {
	trigger, err := Weekly(day, at)
	if err != nil {
		return TaskSummary{}, err
	}
	return s.Add(name, trigger, job)
}

// AddInterval registers a task firing every d.
func (s *Scheduler) AddInterval(name string, d time.Duration, job Job) (TaskSummary, error) {
	trigger, err := Interval(d)
	if err != nil {
		return TaskSummary{}, err
	}
	return s.Add(name, trigger, job)
}

// Add registers a task under a unique name.
func (s *Scheduler) Add(name string, trigger Trigger, job Job) (TaskSummary, error) {
	if name == "" {
		return TaskSummary{}, errors.New("task name is required")
	}
	if job == nil {
		return TaskSummary{}, errors.New("task job is required")
	}
	if trigger.schedule == nil {
		return TaskSummary{}, fmt.Errorf("%w: trigger for %q is not initialised", ErrInvalidTrigger, name)
	}

	s.mu.Lock()
	if _, exists := s.entries[name]; exists {
		s.mu.Unlock()
		return TaskSummary{}, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	e := &entry{
		name:    name,
		trigger: trigger,
		job:     job,
		enabled: true,
		index:   -1,
	}
	e.next = trigger.Next(s.now().In(s.location))
	s.entries[name] = e
	s.order = append(s.order, name)
	if !e.next.IsZero() {
		heap.Push(&s.queue, e)
	}
	summary := s.summaryLocked(e)
	s.mu.Unlock()

	s.signal()
	s.logger.Info("task scheduled", "task", name, "trigger", trigger.String(), "next_run_at", e.next)
	return summary, nil
}

// Remove cancels all future firings of the named task. It returns false for unknown names.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e.removed = true
	if e.index >= 0 {
		heap.Remove(&s.queue, e.index)
	}
	delete(s.entries, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	s.mu.Unlock()

	s.signal()
	s.logger.Info("task removed", "task", name)
	return true
}

// SetEnabled enables or disables a task. Disabled tasks stay listed but never fire.
func (s *Scheduler) SetEnabled(name string, enabled bool) bool {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if e.enabled != enabled {
		e.enabled = enabled
		if enabled {
			e.next = e.trigger.Next(s.now().In(s.location))
			if !e.next.IsZero() {
				heap.Push(&s.queue, e)
			}
		} else if e.index >= 0 {
			heap.Remove(&s.queue, e.index)
		}
	}
	s.mu.Unlock()

	s.signal()
	s.logger.Info("task updated", "task", name, "enabled", enabled)
	return true
}

// List returns a lazy, restartable sequence of task summaries in registration order.
// Every iteration takes a fresh snapshot.
func (s *Scheduler) List() iter.Seq[TaskSummary] {
	return func(yield func(TaskSummary) bool) {
		s.mu.Lock()
		summaries := make([]TaskSummary, 0, len(s.order))
		for _, name := range s.order {
			summaries = append(summaries, s.summaryLocked(s.entries[name]))
		}
		s.mu.Unlock()
		for _, summary := range summaries {
			if !yield(summary) {
				return
			}
		}
	}
}

// Get returns the summary of a single task.
func (s *Scheduler) Get(name string) (TaskSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return TaskSummary{}, false
	}
	return s.summaryLocked(e), true
}

// NextFireTime returns the earliest upcoming fire time across enabled tasks.
func (s *Scheduler) NextFireTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].next, true
}

// Start begins the scheduling loop. Calling Start while a loop is still running,
// including one that is draining after Stop, only logs a warning.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.loopAliveLocked() {
		s.logger.Warn("scheduler already running")
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)

	if next, ok := s.NextFireTime(); ok {
		s.logger.Info("scheduler started", "next_run_at", next)
	} else {
		s.logger.Info("scheduler started with no scheduled tasks")
	}
}

// Stop signals the loop to exit. The returned context is done once the loop has returned,
// which happens after any in-flight dispatch finishes.
func (s *Scheduler) Stop() context.Context {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	if s.done == nil {
		cancel()
		return ctx
	}
	s.cancel()
	done := s.done
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// loopAliveLocked reports whether the loop goroutine has not returned yet. runMu must be held.
func (s *Scheduler) loopAliveLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Shutdown stops the loop and waits up to grace for it to exit. It reports whether the loop exited in time.
func (s *Scheduler) Shutdown(grace time.Duration) bool {
	stopCtx := s.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("scheduler stopped")
		return true
	case <-time.After(grace):
		s.logger.Warn("scheduler stop timed out", "grace", grace)
		return false
	}
}

// RunNow dispatches a registered task immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Result, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return s.dispatch(ctx, e), nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		wait := maxSleep
		s.mu.Lock()
		if len(s.queue) > 0 {
			wait = s.queue[0].next.Sub(s.now())
		}
		s.mu.Unlock()
		if wait > maxSleep {
			wait = maxSleep
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}
		s.runDue(ctx, s.now())
	}
}

// runDue dispatches every task whose fire time is at or before now. A task that missed
// several occurrences fires once; its next fire time is computed from now.
func (s *Scheduler) runDue(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []*entry
	for len(s.queue) > 0 && !s.queue[0].next.After(now) {
		due = append(due, heap.Pop(&s.queue).(*entry))
	}
	for _, e := range due {
		e.next = e.trigger.Next(now.In(s.location))
		if !e.next.IsZero() {
			heap.Push(&s.queue, e)
		}
	}
	s.mu.Unlock()

	dispatched := 0
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		s.mu.Lock()
		live := !e.removed && e.enabled
		s.mu.Unlock()
		if !live {
			continue
		}
		s.dispatch(ctx, e)
		dispatched++
	}
	return dispatched
}

func (s *Scheduler) dispatch(ctx context.Context, e *entry) Result {
	s.mu.Lock()
	if e.running {
		s.mu.Unlock()
		s.logger.Info("skipping run because task is already running", "task", e.name)
		runID := s.ledger.RecordStart(e.name)
		res := Result{Outcome: OutcomeSkipped, Err: errors.New("task is already running")}
		s.ledger.RecordEnd(runID, res)
		return res
	}
	e.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		e.running = false
		s.mu.Unlock()
	}()

	runID := s.ledger.RecordStart(e.name)
	s.logger.Info("task_started", "task", e.name, "run_id", runID)
	started := time.Now()
	res := invoke(ctx, e.job)
	s.ledger.RecordEnd(runID, res)

	attrs := []any{"task", e.name, "run_id", runID, "outcome", res.Outcome, "duration", time.Since(started)}
	if res.Err != nil {
		attrs = append(attrs, "err", res.Err)
	}
	if res.Outcome == OutcomeFailure {
		s.logger.Warn("task_finished", attrs...)
	} else {
		s.logger.Info("task_finished", attrs...)
	}
	return res
}

// invoke runs the job and converts a panic into a failure result.
func invoke(ctx context.Context, job Job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Outcome: OutcomeFailure, Err: fmt.Errorf("task panicked: %v", r)}
		}
	}()
	return job.Run(ctx)
}

func (s *Scheduler) summaryLocked(e *entry) TaskSummary {
	rec, _ := s.ledger.LastRun(e.name)
	summary := TaskSummary{
		Name:        e.name,
		Trigger:     e.trigger.Spec(),
		Enabled:     e.enabled,
		LastRunAt:   rec.LastRunAt,
		LastOutcome: rec.LastOutcome,
	}
	if e.enabled && !e.next.IsZero() {
		next := e.next
		summary.NextRunAt = &next
	}
	return summary
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
