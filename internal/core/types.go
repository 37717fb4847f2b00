package core

import (
	"context"
	"time"
)

// Outcome describes the result of a single task execution.
type Outcome string

const (
	OutcomeNeverRun Outcome = "never_run"
	OutcomeRunning  Outcome = "running"
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeDegraded Outcome = "degraded"
	OutcomeSkipped  Outcome = "skipped"
)

// Finished reports whether the outcome belongs to an execution that actually ran to an end.
// Skipped executions are not counted.
func (o Outcome) Finished() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeDegraded:
		return true
	default:
		return false
	}
}

// StepOutcome describes how a single workflow step ended.
type StepOutcome string

const (
	StepOK          StepOutcome = "ok"
	StepFailed      StepOutcome = "failed"
	StepTimedOut    StepOutcome = "timed_out"
	StepUnconfirmed StepOutcome = "unconfirmed"
)

// Step is one entry of a workflow run's ordered step list.
type Step struct {
	Name     string
	Outcome  StepOutcome
	Duration time.Duration
	Error    string
}

// Result is what a Job reports back to the scheduler and ledger.
type Result struct {
	Outcome    Outcome
	Err        error
	FinalState string
	Steps      []Step
}

// Job is the unit of work the scheduler dispatches.
type Job interface {
	Run(ctx context.Context) Result
}

// FuncJob adapts a boolean callback into a Job.
type FuncJob func(ctx context.Context) bool

// Run implements Job.
func (f FuncJob) Run(ctx context.Context) Result {
	if f(ctx) {
		return Result{Outcome: OutcomeSuccess}
	}
	return Result{Outcome: OutcomeFailure}
}

// ExecutionRecord is the per-task summary kept by the ledger.
type ExecutionRecord struct {
	TaskID      string
	LastRunAt   *time.Time
	LastOutcome Outcome
	RunCount    int
	Running     bool
}

// Run captures a single execution attempt of a task.
type Run struct {
	ID         string
	TaskID     string
	Outcome    Outcome
	FinalState string
	StartedAt  time.Time
	EndedAt    *time.Time
	Error      *string
	Steps      []Step
}

// Degraded reports whether the run finished with a degraded outcome.
func (r *Run) Degraded() bool {
	return r.Outcome == OutcomeDegraded
}

// TaskSummary is the listing view of a scheduled task.
type TaskSummary struct {
	Name        string
	Trigger     string
	Enabled     bool
	LastRunAt   *time.Time
	LastOutcome Outcome
	NextRunAt   *time.Time
}
