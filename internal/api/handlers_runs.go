package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"syncwarden/internal/core"
)

type stepResponse struct {
	Name       string `json:"name"`
	Outcome    string `json:"outcome"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type runResponse struct {
	ID         string         `json:"id"`
	TaskID     string         `json:"task_id"`
	Outcome    string         `json:"outcome"`
	FinalState string         `json:"final_state,omitempty"`
	StartedAt  string         `json:"started_at"`
	EndedAt    *string        `json:"ended_at,omitempty"`
	Error      *string        `json:"error,omitempty"`
	Steps      []stepResponse `json:"steps,omitempty"`
}

type resultResponse struct {
	Outcome    string         `json:"outcome"`
	FinalState string         `json:"final_state,omitempty"`
	Error      string         `json:"error,omitempty"`
	Steps      []stepResponse `json:"steps,omitempty"`
}

// handleListRuns returns runs started within ?window= (a Go duration, default 24h; 0 for all).
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "window must be a non-negative duration such as 24h")
			return
		}
		window = parsed
	}
	taskID := r.URL.Query().Get("task")
	res := []runResponse{}
	for _, run := range s.deps.Ledger.RecentRuns(window) {
		if taskID != "" && run.TaskID != taskID {
			continue
		}
		res = append(res, runToResponse(run))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.deps.Ledger.Get(chi.URLParam(r, "runID"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

func runToResponse(run core.Run) runResponse {
	return runResponse{
		ID:         run.ID,
		TaskID:     run.TaskID,
		Outcome:    string(run.Outcome),
		FinalState: run.FinalState,
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:    formatTime(run.EndedAt),
		Error:      run.Error,
		Steps:      stepsToResponse(run.Steps),
	}
}

func resultToResponse(res core.Result) resultResponse {
	out := resultResponse{
		Outcome:    string(res.Outcome),
		FinalState: res.FinalState,
		Steps:      stepsToResponse(res.Steps),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func stepsToResponse(steps []core.Step) []stepResponse {
	if len(steps) == 0 {
		return nil
	}
	out := make([]stepResponse, len(steps))
	for i, step := range steps {
		out[i] = stepResponse{
			Name:       step.Name,
			Outcome:    string(step.Outcome),
			DurationMS: step.Duration.Milliseconds(),
			Error:      step.Error,
		}
	}
	return out
}
