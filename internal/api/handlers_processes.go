package api

import (
	"net/http"
	"strings"
)

type processResponse struct {
	PID   int32  `json:"pid"`
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	State string `json:"state"`
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "name is required")
		return
	}
	handles, err := s.deps.Processes.Find(r.Context(), name)
	if err != nil {
		s.logger.Error("find processes", "name", name, "err", err)
		writeError(w, http.StatusServiceUnavailable, "process_query_failed", err.Error())
		return
	}
	res := make([]processResponse, 0, len(handles))
	for _, h := range handles {
		res = append(res, processResponse{PID: h.PID, Name: h.Name, Path: h.Path, State: string(h.State)})
	}
	writeJSON(w, http.StatusOK, res)
}
