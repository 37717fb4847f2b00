package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"syncwarden/internal/api"
	"syncwarden/internal/config"
	"syncwarden/internal/core"
	"syncwarden/internal/logging"
	swmcp "syncwarden/internal/mcp"
	"syncwarden/internal/notify"
	"syncwarden/internal/process"
	"syncwarden/internal/store"
	"syncwarden/internal/syncclient"
	"syncwarden/internal/workflow"
)

// app holds the wired daemon. ctx is the parent of every run, scheduled or manual.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	location  *time.Location
	ledger    *core.Ledger
	procs     *process.Controller
	orch      *workflow.Orchestrator
	scheduler *core.Scheduler
	mcp       *swmcp.MCPServer

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// stdout belongs to the MCP stdio transport.
	logOut := os.Stdout
	if cfg.Server.Mode != config.ModeHTTP {
		logOut = os.Stderr
	}
	logger := logging.NewWithWriter(cfg.Log.Level, cfg.Log.Format, logOut)

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.Close()

	ledger := core.NewLedger(storeInst, logger, cfg.Log.Retention)
	if err := ledger.Load(baseCtx); err != nil {
		logger.Error("load ledger", "err", err)
	}

	notifier, err := notify.New(logger, barkURL(cfg), 10*time.Minute, 3)
	if err != nil {
		logger.Error("create notifier", "err", err)
		os.Exit(1)
	}

	location := cfg.Location()
	procs := process.NewController(process.NewSystemTable(), logger, process.Options{})
	orch := workflow.New(workflowConfig(cfg), newSyncClient(cfg, procs, logger), procs, ledger, notifier, logger)

	scheduler := core.NewScheduler(ledger, logger, location)
	if err := registerSchedules(scheduler, orch, cfg.Workflow.Schedules); err != nil {
		logger.Error("register schedules", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()
	a := &app{
		cfg:       cfg,
		logger:    logger,
		location:  location,
		ledger:    ledger,
		procs:     procs,
		orch:      orch,
		scheduler: scheduler,
		mcp:       swmcp.NewMCPServer(ctx, scheduler, orch, ledger, procs, logger, location),
		ctx:       ctx,
		cancel:    cancel,
	}
	scheduler.Start(ctx)

	switch cfg.Server.Mode {
	case config.ModeHTTP:
		a.runHTTPMode()
	case config.ModeMCP:
		a.runMCPMode()
	case config.ModeBoth:
		a.runBothMode()
	}
	logger.Info("shutdown complete")
}

func workflowConfig(cfg *config.Config) workflow.Config {
	wf := cfg.Workflow
	return workflow.Config{
		TaskName:        workflow.DefaultTaskName,
		ChatName:        cfg.Chat.Name,
		ChatPaths:       cfg.Chat.Paths,
		ChatArgs:        cfg.Chat.Args,
		PauseTimeout:    wf.PauseTimeout,
		ResumeTimeout:   wf.ResumeTimeout,
		GracefulTimeout: wf.GracefulTimeout,
		ForceTimeout:    wf.ForceTimeout,
		SettleMinimum:   wf.SettleMinimum,
		SettleTimeout:   wf.SettleTimeout,
		SettlePoll:      wf.SettlePoll,
		Cooldown:        wf.Cooldown,
	}
}

// newSyncClient prefers user-supplied commands and falls back to stopping and relaunching the client process.
func newSyncClient(cfg *config.Config, procs *process.Controller, logger *slog.Logger) *syncclient.Client {
	runner := syncclient.NewCommandRunner(logger)

	var pauser syncclient.Pauser
	if cfg.Sync.PauseCommand != "" && cfg.Sync.ResumeCommand != "" {
		pauser = &syncclient.CommandPauser{
			Runner:        runner,
			PauseCommand:  cfg.Sync.PauseCommand,
			ResumeCommand: cfg.Sync.ResumeCommand,
			Timeout:       cfg.Workflow.PauseTimeout,
		}
	} else {
		p := syncclient.NewProcessPauser(procs, logger, cfg.Sync.Name, cfg.Sync.Paths, cfg.Sync.Args)
		p.GracefulTimeout = cfg.Workflow.GracefulTimeout
		p.ForceTimeout = cfg.Workflow.ForceTimeout
		pauser = p
	}

	// Without a status command there is nothing to poll, so the settle wait ends after the minimum.
	var probe syncclient.Probe = syncclient.StaticProbe(syncclient.StateUpToDate)
	if cfg.Sync.StatusCommand != "" {
		probe = &syncclient.CommandProbe{Runner: runner, Command: cfg.Sync.StatusCommand, Timeout: cfg.Workflow.SettlePoll}
	}
	return syncclient.New(pauser, probe)
}

func barkURL(cfg *config.Config) string {
	if !cfg.Notification.Bark.Enabled {
		return ""
	}
	return cfg.Notification.Bark.URL
}

// registerSchedules adds one task per trigger. Every task drives the same orchestrator, so they share a cooldown.
func registerSchedules(scheduler *core.Scheduler, orch *workflow.Orchestrator, schedules []string) error {
	for i, spec := range schedules {
		trigger, err := core.ParseTrigger(spec)
		if err != nil {
			return err
		}
		name := orch.TaskName()
		if i > 0 {
			name = fmt.Sprintf("%s-%d", name, i+1)
		}
		if _, err := scheduler.Add(name, trigger, orch.Bind(name)); err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	return nil
}

func (a *app) newAPIServer() *api.Server {
	return api.NewServer(a.ctx, a.cfg.Server.Addr, a.cfg.Server.AuthToken, api.Deps{
		Scheduler: a.scheduler,
		Workflow:  a.orch,
		Ledger:    a.ledger,
		Processes: a.procs,
		MCP:       a.mcp.Handler(),
	}, a.logger, a.location)
}

// runHTTPMode serves the HTTP API, which also carries MCP at /mcp.
func (a *app) runHTTPMode() {
	server := a.newAPIServer()
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	waitForExit(a.logger, serverErr, nil)
	a.drain(server)
}

// runMCPMode serves MCP on stdio only. ServeStdio returns on SIGINT/SIGTERM or when stdin closes.
func (a *app) runMCPMode() {
	if err := a.mcp.Run(); err != nil {
		a.logger.Error("mcp server error", "err", err)
	}
	a.drain(nil)
}

// runBothMode serves MCP on stdio and the HTTP API together.
func (a *app) runBothMode() {
	mcpErr := make(chan error, 1)
	go func() {
		mcpErr <- a.mcp.Run()
	}()

	server := a.newAPIServer()
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	waitForExit(a.logger, serverErr, mcpErr)
	a.drain(server)
}

// drain cancels every run, waits for an active workflow to restore both applications,
// then stops the HTTP server and the scheduler. It must finish before the store closes.
func (a *app) drain(server *api.Server) {
	a.cancel()

	budget := a.orch.RestoreBudget()
	a.logger.Info("waiting for active workflow to restore", "budget", budget)
	if !a.orch.WaitIdle(budget) {
		a.logger.Error("workflow did not restore within budget", "budget", budget)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown", "err", err)
		}
	}
	a.scheduler.Shutdown(a.cfg.ShutdownGrace)
}

func waitForExit(logger *slog.Logger, serverErr, mcpErr <-chan error) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		if err != nil {
			logger.Error("mcp server error", "err", err)
		} else {
			logger.Info("mcp stdio closed")
		}
	}
}
