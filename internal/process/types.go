package process

import (
	"context"
	"errors"
)

// ErrNotRunning is returned by a Table when the target pid no longer exists.
var ErrNotRunning = errors.New("process not running")

// State is the observed state of a process at query time.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateUnknown State = "unknown"
)

// Handle describes a process seen during a single query. It is never cached across calls.
type Handle struct {
	PID   int32
	Name  string
	Path  string
	State State
}

// Phase names the termination attempt a failure belongs to.
type Phase string

const (
	PhaseGraceful Phase = "graceful"
	PhaseForce    Phase = "force"
)

// Failure records a termination attempt that returned an error.
type Failure struct {
	PID              int32
	Phase            Phase
	Err              string
	PermissionDenied bool
}

// StopResult aggregates the outcome of stopping every process matching a name.
type StopResult struct {
	AllStopped bool
	Matched    int
	Remaining  []Handle
	Failures   []Failure
}

// StartResult reports what Start did. Launched without Started means the process was
// spawned but had not appeared in the process table before the confirmation window closed.
type StartResult struct {
	AlreadyRunning bool
	Launched       bool
	Started        bool
	Processes      []Handle
}

// Table is the operating-system process table.
type Table interface {
	List(ctx context.Context) ([]Handle, error)
	Terminate(ctx context.Context, pid int32) error
	Kill(ctx context.Context, pid int32) error
	Alive(ctx context.Context, pid int32) (bool, error)
	Launch(ctx context.Context, path string, args []string) error
}

// FallbackLister is implemented by tables that offer a slower, more tolerant enumeration.
type FallbackLister interface {
	ListFallback(ctx context.Context) ([]Handle, error)
}
