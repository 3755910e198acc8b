package httpapi

import (
	"net/http"

	"github.com/antoniostano/hal/internal/observability"
)

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.StageSnapshot{Stages: []observability.StageStats{}})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.Window.Snapshot())
}
