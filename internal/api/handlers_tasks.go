package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"syncwarden/internal/core"
)

type updateTaskRequest struct {
	Enabled *bool `json:"enabled"`
}

type taskResponse struct {
	Name        string  `json:"name"`
	Trigger     string  `json:"trigger"`
	Description string  `json:"description"`
	Enabled     bool    `json:"enabled"`
	LastRunAt   *string `json:"last_run_at,omitempty"`
	LastOutcome string  `json:"last_outcome"`
	NextRunAt   *string `json:"next_run_at,omitempty"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	res := []taskResponse{}
	for summary := range s.deps.Scheduler.List() {
		res = append(res, taskToResponse(summary))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.deps.Scheduler.Get(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(summary))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "enabled is required")
		return
	}
	if !s.deps.Scheduler.SetEnabled(name, *req.Enabled) {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	summary, _ := s.deps.Scheduler.Get(name)
	writeJSON(w, http.StatusOK, taskToResponse(summary))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.deps.Scheduler.Remove(name) {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	res, err := s.deps.Scheduler.RunNow(s.baseCtx, name)
	if err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		s.logger.Error("run task", "task", name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to run task")
		return
	}
	writeJSON(w, http.StatusOK, resultToResponse(res))
}

func (s *Server) handleNextFire(w http.ResponseWriter, r *http.Request) {
	next, ok := s.deps.Scheduler.NextFireTime()
	res := map[string]*string{"next_fire_time": nil}
	if ok {
		res["next_fire_time"] = formatTime(&next)
	}
	writeJSON(w, http.StatusOK, res)
}

func taskToResponse(summary core.TaskSummary) taskResponse {
	res := taskResponse{
		Name:        summary.Name,
		Trigger:     summary.Trigger,
		Description: summary.Trigger,
		Enabled:     summary.Enabled,
		LastRunAt:   formatTime(summary.LastRunAt),
		LastOutcome: string(summary.LastOutcome),
		NextRunAt:   formatTime(summary.NextRunAt),
	}
	if trigger, err := core.ParseTrigger(summary.Trigger); err == nil {
		res.Description = trigger.String()
	}
	return res
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
