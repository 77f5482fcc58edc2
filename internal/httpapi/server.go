package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/docsage/docsage/internal/catalog"
	"github.com/docsage/docsage/internal/chatstore"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/ingest"
	"github.com/docsage/docsage/internal/pipeline"
)

// Server wires the HTTP surface to the stores, the executor, and the
// ingestion manager.
type Server struct {
	cfg     *config.Config
	runtime *config.Runtime
	store   *chatstore.Store
	cat     *catalog.Store
	idx     *index.Index
	exec    *pipeline.Executor
	ingest  *ingest.Manager
	sched   *ingest.Scheduler
}

func NewServer(cfg *config.Config, rt *config.Runtime, store *chatstore.Store, cat *catalog.Store, idx *index.Index, exec *pipeline.Executor, mgr *ingest.Manager, sched *ingest.Scheduler) *Server {
	return &Server{
		cfg:     cfg,
		runtime: rt,
		store:   store,
		cat:     cat,
		idx:     idx,
		exec:    exec,
		ingest:  mgr,
		sched:   sched,
	}
}

// Routes builds the full route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /chat/cancel", s.handleChatCancel)

	mux.HandleFunc("GET /trace/{trace_id}", s.handleGetTrace)
	mux.HandleFunc("GET /trace/by-message/{message_id}", s.handleGetTraceByMessage)
	mux.HandleFunc("GET /trace/{trace_id}/live", s.handleTraceLive)

	mux.HandleFunc("POST /conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /conversations", s.handleListConversations)
	mux.HandleFunc("POST /conversations/load", s.handleLoadConversation)
	mux.HandleFunc("POST /conversations/delete", s.handleDeleteConversation)

	mux.HandleFunc("POST /feedback", s.handleFeedback)
	mux.HandleFunc("POST /ab/preference", s.handleABPreference)

	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("POST /documents/enable", s.handleDocumentEnable(true, false))
	mux.HandleFunc("POST /documents/disable", s.handleDocumentEnable(false, false))
	mux.HandleFunc("POST /documents/bulk-enable", s.handleDocumentEnable(true, true))
	mux.HandleFunc("POST /documents/bulk-disable", s.handleDocumentEnable(false, true))

	mux.HandleFunc("POST /ingest/reload-schedules", s.handleReloadSchedules)
	mux.HandleFunc("GET /ingestion/status", s.handleIngestionStatus)

	mux.HandleFunc("GET /admin/runtime", s.adminAuth(s.handleGetRuntime))
	mux.HandleFunc("POST /admin/runtime", s.adminAuth(s.handleSetRuntime))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) adminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Global.AdminToken
		if token == "" || extractBearerToken(r) != token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func extractBearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

// writeStoreError maps store error kinds to HTTP statuses without leaking
// internals.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatstore.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, chatstore.ErrValidation),
		errors.Is(err, chatstore.ErrPreferenceSet),
		errors.Is(err, chatstore.ErrTraceTerminal),
		errors.Is(err, chatstore.ErrEventOrder):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Services.Host, s.cfg.Services.Port)
}
