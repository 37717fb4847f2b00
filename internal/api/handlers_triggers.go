package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"syncwarden/internal/core"
)

type triggerPreviewRequest struct {
	Trigger string `json:"trigger"`
	Now     string `json:"now,omitempty"`
	Count   int    `json:"count,omitempty"`
}

type triggerPreviewResponse struct {
	Valid       bool     `json:"valid"`
	Description string   `json:"description,omitempty"`
	NextTimes   []string `json:"next_times,omitempty"`
	Message     string   `json:"message,omitempty"`
}

func (s *Server) handleTriggerPreview(w http.ResponseWriter, r *http.Request) {
	var req triggerPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, triggerPreviewResponse{Valid: false, Message: "invalid JSON payload"})
		return
	}
	spec := strings.TrimSpace(req.Trigger)
	if spec == "" {
		writeJSON(w, http.StatusBadRequest, triggerPreviewResponse{Valid: false, Message: "trigger is required"})
		return
	}
	trigger, err := core.ParseTrigger(spec)
	if err != nil {
		writeJSON(w, http.StatusOK, triggerPreviewResponse{Valid: false, Message: err.Error()})
		return
	}

	count := req.Count
	if count <= 0 || count > 10 {
		count = 5
	}

	base := time.Now().In(s.location)
	if req.Now != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Now); err == nil {
			base = parsed.In(s.location)
		}
	}

	times := core.NextOccurrences(trigger, base, count)
	formatted := make([]string, 0, len(times))
	for _, t := range times {
		formatted = append(formatted, t.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, triggerPreviewResponse{Valid: true, Description: trigger.String(), NextTimes: formatted})
}
