package core

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

const (
	defaultLedgerRetention = 50
	ledgerWriteTimeout     = 5 * time.Second
)

// LedgerStore persists ledger state. The ledger keeps working in memory when writes fail.
type LedgerStore interface {
	InsertRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, run *Run) error
	UpsertRecord(ctx context.Context, rec ExecutionRecord) error
	ListRecords(ctx context.Context) ([]ExecutionRecord, error)
	ListRecentRuns(ctx context.Context, limit int) ([]*Run, error)
	PruneRuns(ctx context.Context, taskID string, keep int) error
}

// Ledger tracks per-task execution records and recent runs.
// All mutation happens on the scheduling loop or the workflow worker; readers get copies.
type Ledger struct {
	store     LedgerStore
	logger    *slog.Logger
	retention int
	now       func() time.Time

	mu            sync.RWMutex
	records       map[string]*ExecutionRecord
	runs          []*Run
	byID          map[string]*Run
	lastCompleted map[string]*Run
}

// NewLedger creates a ledger. store may be nil for a purely in-memory ledger.
func NewLedger(store LedgerStore, logger *slog.Logger, retention int) *Ledger {
	if retention < 1 {
		retention = defaultLedgerRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:         store,
		logger:        logger,
		retention:     retention,
		now:           time.Now,
		records:       make(map[string]*ExecutionRecord),
		byID:          make(map[string]*Run),
		lastCompleted: make(map[string]*Run),
	}
}

// Load restores execution records and recent runs from the store.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	records, err := l.store.ListRecords(ctx)
	if err != nil {
		return err
	}
	runs, err := l.store.ListRecentRuns(ctx, l.retention*8)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range records {
		r := rec
		l.records[r.TaskID] = &r
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	for _, run := range runs {
		l.runs = append(l.runs, run)
		l.byID[run.ID] = run
		if run.Outcome.Finished() {
			l.lastCompleted[run.TaskID] = run
		}
	}
	return nil
}

// RecordStart marks taskID as running and returns the id of the new run.
func (l *Ledger) RecordStart(taskID string) string {
	l.mu.Lock()
	now := l.now().UTC()
	run := &Run{
		ID:        NewID(),
		TaskID:    taskID,
		Outcome:   OutcomeRunning,
		StartedAt: now,
	}
	l.runs = append(l.runs, run)
	l.byID[run.ID] = run
	rec := l.recordLocked(taskID)
	rec.LastRunAt = &now
	rec.Running = true
	l.trimLocked(taskID)
	runCopy := copyRun(run)
	recCopy := *rec
	l.mu.Unlock()

	l.persist(func(ctx context.Context) error {
		if err := l.store.InsertRun(ctx, &runCopy); err != nil {
			return err
		}
		return l.store.UpsertRecord(ctx, recCopy)
	}, "task_id", taskID, "run_id", run.ID)
	return run.ID
}

// RecordEnd stores the outcome of a run started with RecordStart.
func (l *Ledger) RecordEnd(runID string, res Result) bool {
	l.mu.Lock()
	run, ok := l.byID[runID]
	if !ok {
		l.mu.Unlock()
		l.logger.Warn("ledger end for unknown run", "run_id", runID)
		return false
	}
	now := l.now().UTC()
	outcome := res.Outcome
	if outcome == "" || outcome == OutcomeRunning || outcome == OutcomeNeverRun {
		outcome = OutcomeFailure
	}
	run.Outcome = outcome
	run.EndedAt = &now
	run.FinalState = res.FinalState
	run.Steps = slices.Clone(res.Steps)
	if res.Err != nil {
		msg := res.Err.Error()
		run.Error = &msg
	}
	rec := l.recordLocked(run.TaskID)
	rec.LastOutcome = outcome
	rec.RunCount++
	rec.Running = false
	if outcome.Finished() {
		l.lastCompleted[run.TaskID] = run
	}
	runCopy := copyRun(run)
	recCopy := *rec
	l.mu.Unlock()

	l.persist(func(ctx context.Context) error {
		if err := l.store.CompleteRun(ctx, &runCopy); err != nil {
			return err
		}
		if err := l.store.UpsertRecord(ctx, recCopy); err != nil {
			return err
		}
		return l.store.PruneRuns(ctx, runCopy.TaskID, l.retention)
	}, "task_id", runCopy.TaskID, "run_id", runID)
	return true
}

// LastRun returns the execution record for taskID.
func (l *Ledger) LastRun(taskID string) (ExecutionRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[taskID]
	if !ok {
		return ExecutionRecord{TaskID: taskID, LastOutcome: OutcomeNeverRun}, false
	}
	return *rec, true
}

// LastCompleted returns the most recent run of taskID that was not skipped and has ended.
func (l *Ledger) LastCompleted(taskID string) (Run, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	run, ok := l.lastCompleted[taskID]
	if !ok {
		return Run{}, false
	}
	return copyRun(run), true
}

// Get returns a single run by id.
func (l *Ledger) Get(runID string) (Run, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	run, ok := l.byID[runID]
	if !ok {
		return Run{}, false
	}
	return copyRun(run), true
}

// RecentRuns returns runs started within window, newest first. A non-positive window returns every retained run.
func (l *Ledger) RecentRuns(window time.Duration) []Run {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var cutoff time.Time
	if window > 0 {
		cutoff = l.now().Add(-window)
	}
	out := make([]Run, 0, len(l.runs))
	for i := len(l.runs) - 1; i >= 0; i-- {
		run := l.runs[i]
		if !cutoff.IsZero() && run.StartedAt.Before(cutoff) {
			continue
		}
		out = append(out, copyRun(run))
	}
	return out
}

// Records returns every execution record ordered by task id.
func (l *Ledger) Records() []ExecutionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ExecutionRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

func (l *Ledger) recordLocked(taskID string) *ExecutionRecord {
	rec, ok := l.records[taskID]
	if !ok {
		rec = &ExecutionRecord{TaskID: taskID, LastOutcome: OutcomeNeverRun}
		l.records[taskID] = rec
	}
	return rec
}

// trimLocked drops the oldest finished runs of taskID beyond the retention limit.
func (l *Ledger) trimLocked(taskID string) {
	count := 0
	for _, run := range l.runs {
		if run.TaskID == taskID {
			count++
		}
	}
	if count <= l.retention {
		return
	}
	drop := count - l.retention
	kept := l.runs[:0]
	for _, run := range l.runs {
		if drop > 0 && run.TaskID == taskID && run.EndedAt != nil && l.lastCompleted[taskID] != run {
			delete(l.byID, run.ID)
			drop--
			continue
		}
		kept = append(kept, run)
	}
	l.runs = kept
}

func (l *Ledger) persist(fn func(ctx context.Context) error, attrs ...any) {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		l.logger.Error("persist ledger", append(attrs, "err", err)...)
	}
}

func copyRun(run *Run) Run {
	out := *run
	out.Steps = slices.Clone(run.Steps)
	if run.EndedAt != nil {
		t := *run.EndedAt
		out.EndedAt = &t
	}
	if run.Error != nil {
		msg := *run.Error
		out.Error = &msg
	}
	return out
}
