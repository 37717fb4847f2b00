package api

import (
	"errors"
	"net/http"

	"syncwarden/internal/workflow"
)

type workflowStatusResponse struct {
	Task              string       `json:"task"`
	LastRun           *runResponse `json:"last_run,omitempty"`
	CooldownRemaining float64      `json:"cooldown_remaining_s"`
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Workflow.RunOnce(s.baseCtx)
	if errors.Is(err, workflow.ErrBusy) {
		writeError(w, http.StatusConflict, "conflict", "workflow is already running")
		return
	}
	if err != nil {
		s.logger.Error("run workflow", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to run workflow")
		return
	}
	writeJSON(w, http.StatusOK, resultToResponse(res))
}

func (s *Server) handleLastWorkflow(w http.ResponseWriter, r *http.Request) {
	res := workflowStatusResponse{
		Task:              s.deps.Workflow.TaskName(),
		CooldownRemaining: s.deps.Workflow.CooldownRemaining().Seconds(),
	}
	if run, ok := s.deps.Workflow.LastRun(); ok {
		resp := runToResponse(run)
		res.LastRun = &resp
	}
	writeJSON(w, http.StatusOK, res)
}
