package httpapi

import (
	"net/http"
	"time"
)

func (s *Server) handlePerfSteps(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": time.Now().UTC(),
			"window_size":  0,
			"steps":        []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotSteps())
}
