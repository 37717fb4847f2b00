package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"

	gprocess "github.com/shirou/gopsutil/v4/process"
)

// SystemTable is the Table backed by the host operating system.
type SystemTable struct{}

// NewSystemTable returns the host process table.
func NewSystemTable() *SystemTable {
	return &SystemTable{}
}

// List enumerates every process whose name can be read.
func (t *SystemTable) List(ctx context.Context) ([]Handle, error) {
	procs, err := gprocess.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}
	return describe(ctx, procs), nil
}

// ListFallback enumerates pids first and opens each one individually, skipping
// processes that vanish or deny access in between.
func (t *SystemTable) ListFallback(ctx context.Context) ([]Handle, error) {
	pids, err := gprocess.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate pids: %w", err)
	}
	procs := make([]*gprocess.Process, 0, len(pids))
	for _, pid := range pids {
		p, err := gprocess.NewProcessWithContext(ctx, pid)
		if err != nil {
			continue
		}
		procs = append(procs, p)
	}
	return describe(ctx, procs), nil
}

// Terminate asks the process to exit (SIGTERM on Unix).
func (t *SystemTable) Terminate(ctx context.Context, pid int32) error {
	return t.signal(ctx, pid, (*gprocess.Process).TerminateWithContext)
}

// Kill forcefully ends the process.
func (t *SystemTable) Kill(ctx context.Context, pid int32) error {
	return t.signal(ctx, pid, (*gprocess.Process).KillWithContext)
}

// Alive reports whether pid still exists and is not a zombie.
func (t *SystemTable) Alive(ctx context.Context, pid int32) (bool, error) {
	exists, err := gprocess.PidExistsWithContext(ctx, pid)
	if err != nil || !exists {
		return false, err
	}
	p, err := gprocess.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, gprocess.ErrorProcessNotRunning) {
			return false, nil
		}
		return false, err
	}
	if status, err := p.StatusWithContext(ctx); err == nil && slices.Contains(status, gprocess.Zombie) {
		return false, nil
	}
	return true, nil
}

// Launch starts path detached from the caller's context. The child is reaped in the
// background so a later termination does not leave a zombie behind.
func (t *SystemTable) Launch(_ context.Context, path string, args []string) error {
	cmd := exec.Command(path, args...) // #nosec G204
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

func (t *SystemTable) signal(ctx context.Context, pid int32, send func(*gprocess.Process, context.Context) error) error {
	p, err := gprocess.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, gprocess.ErrorProcessNotRunning) {
			return ErrNotRunning
		}
		return err
	}
	if err := send(p, ctx); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrNotRunning
		}
		if alive, aliveErr := t.Alive(ctx, pid); aliveErr == nil && !alive {
			return ErrNotRunning
		}
		return err
	}
	return nil
}

func describe(ctx context.Context, procs []*gprocess.Process) []Handle {
	handles := make([]Handle, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		exe, _ := p.ExeWithContext(ctx)
		handles = append(handles, Handle{
			PID:   p.Pid,
			Name:  name,
			Path:  exe,
			State: StateRunning,
		})
	}
	return handles
}
