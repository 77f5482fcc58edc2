package httpapi

import (
	"net/http"

	"github.com/docsage/docsage/internal/config"
)

func (s *Server) handleReloadSchedules(w http.ResponseWriter, r *http.Request) {
	s.ingest.Configure(s.cfg)
	s.sched.Reload()
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.ingest.Sources()})
}

func (s *Server) handleIngestionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.ingest.Status()})
}

// handleGetRuntime returns the runtime-changeable settings.
func (s *Server) handleGetRuntime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runtime.Snapshot())
}

// handleSetRuntime applies a partial update: zero-valued fields keep their
// current value. Changes take effect for subsequent turns.
func (s *Server) handleSetRuntime(w http.ResponseWriter, r *http.Request) {
	var req config.RuntimeSettings
	if !readJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.runtime.Apply(req))
}
