package api

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"syncwarden/internal/core"
	"syncwarden/internal/process"
)

// Scheduler is the part of core.Scheduler the API exposes.
type Scheduler interface {
	List() iter.Seq[core.TaskSummary]
	Get(name string) (core.TaskSummary, bool)
	SetEnabled(name string, enabled bool) bool
	Remove(name string) bool
	RunNow(ctx context.Context, name string) (core.Result, error)
	NextFireTime() (time.Time, bool)
}

// Workflow is the orchestrator surface used for manual runs and status.
type Workflow interface {
	TaskName() string
	RunOnce(ctx context.Context) (core.Result, error)
	LastRun() (core.Run, bool)
	CooldownRemaining() time.Duration
}

// RunLedger reads recorded runs.
type RunLedger interface {
	RecentRuns(window time.Duration) []core.Run
	Get(runID string) (core.Run, bool)
}

// ProcessFinder enumerates processes by executable name.
type ProcessFinder interface {
	Find(ctx context.Context, name string) ([]process.Handle, error)
}

// Deps groups the collaborators served over HTTP.
type Deps struct {
	Scheduler Scheduler
	Workflow  Workflow
	Ledger    RunLedger
	Processes ProcessFinder
	// MCP is mounted at /mcp when set.
	MCP http.Handler
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	deps       Deps
	logger     *slog.Logger
	location   *time.Location
	authToken  string
	// baseCtx outlives requests so a disconnecting client cannot cancel a workflow run.
	baseCtx context.Context
}

// NewServer constructs the HTTP API server. Runs triggered over HTTP use ctx.
func NewServer(ctx context.Context, addr, authToken string, deps Deps, logger *slog.Logger, location *time.Location) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		deps:      deps,
		logger:    logger,
		location:  location,
		authToken: authToken,
		baseCtx:   ctx,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.deps.MCP != nil {
		var mcpHandler http.Handler = s.deps.MCP
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Post("/triggers/preview", s.handleTriggerPreview)
		r.Get("/schedule/next", s.handleNextFire)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Patch("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/run", s.handleRunTask)
			})
		})

		r.Route("/workflow", func(r chi.Router) {
			r.Post("/run", s.handleRunWorkflow)
			r.Get("/last", s.handleLastWorkflow)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{runID}", s.handleGetRun)
		})

		r.Get("/processes", s.handleListProcesses)
	})
}
