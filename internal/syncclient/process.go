package syncclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"syncwarden/internal/process"
)

type processControl interface {
	Stop(ctx context.Context, name string, graceful, force time.Duration) (process.StopResult, error)
	Start(ctx context.Context, path string, args ...string) (process.StartResult, error)
}

// ProcessPauser pauses the sync client by stopping its process and resumes it by relaunching.
type ProcessPauser struct {
	control         processControl
	logger          *slog.Logger
	Name            string
	Paths           []string
	Args            []string
	GracefulTimeout time.Duration
	ForceTimeout    time.Duration
}

// NewProcessPauser creates a pauser for the executable called name. paths are install
// candidates searched at resume time.
func NewProcessPauser(control processControl, logger *slog.Logger, name string, paths, args []string) *ProcessPauser {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessPauser{
		control:         control,
		logger:          logger,
		Name:            name,
		Paths:           paths,
		Args:            args,
		GracefulTimeout: 3 * time.Second,
		ForceTimeout:    5 * time.Second,
	}
}

// Pause implements Pauser.
func (p *ProcessPauser) Pause(ctx context.Context) error {
	res, err := p.control.Stop(ctx, p.Name, p.GracefulTimeout, p.ForceTimeout)
	if err != nil {
		return fmt.Errorf("stop sync client: %w", err)
	}
	if !res.AllStopped {
		return fmt.Errorf("sync client still running: %d process(es) remain", len(res.Remaining))
	}
	return nil
}

// Resume implements Pauser.
func (p *ProcessPauser) Resume(ctx context.Context) error {
	path, err := process.ResolveExecutable(p.Paths)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", p.Name, err)
	}
	res, err := p.control.Start(ctx, path, p.Args...)
	if err != nil {
		return fmt.Errorf("start sync client: %w", err)
	}
	if res.Launched && !res.Started {
		p.logger.Warn("sync client launch not confirmed", "path", path)
	}
	return nil
}
