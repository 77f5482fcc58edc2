package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/docsage/docsage/internal/pipeline"
	"github.com/docsage/docsage/internal/providers"
)

type chatStreamRequest struct {
	ConversationID int64                    `json:"conversation_id,omitempty"`
	ClientID       string                   `json:"client_id"`
	UserID         string                   `json:"user_id,omitempty"`
	Prompt         string                   `json:"prompt"`
	ConfigID       string                   `json:"config_id,omitempty"`
	Images         []providers.ImageContent `json:"images,omitempty"`
	AB             *pipeline.ABRequest      `json:"ab,omitempty"`
}

// handleChatStream runs one turn and streams its events as Server-Sent
// Events of newline-delimited JSON. The final event carries the committed
// ids.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatStreamRequest
	if !readJSON(w, r, &req) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	handle, err := s.exec.StartTurn(r.Context(), pipeline.TurnRequest{
		ConversationID: req.ConversationID,
		ClientID:       req.ClientID,
		UserID:         req.UserID,
		Prompt:         req.Prompt,
		Pipeline:       req.ConfigID,
		Images:         req.Images,
		AB:             req.AB,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range handle.Events {
		wire := wireEvent(ev, handle)
		data, err := json.Marshal(wire)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

// wireEvent flattens an event for the stream: type plus the payload fields
// at top level. The done event additionally carries user_message_id.
func wireEvent(ev pipeline.Event, handle *pipeline.TurnHandle) map[string]any {
	out := make(map[string]any, len(ev.Payload)+3)
	for k, v := range ev.Payload {
		out[k] = v
	}
	out["type"] = ev.Type
	if ev.Variant != "" {
		out["variant"] = ev.Variant
	}
	if ev.Type == "done" {
		out["user_message_id"] = handle.UserMessageID
	}
	return out
}

type chatCancelRequest struct {
	TraceID string `json:"trace_id"`
	Reason  string `json:"reason,omitempty"`
}

// handleChatCancel cancels a running turn. 204 means the cancel was
// accepted; the turn unwinds asynchronously.
func (s *Server) handleChatCancel(w http.ResponseWriter, r *http.Request) {
	var req chatCancelRequest
	if !readJSON(w, r, &req) {
		return
	}
	traceID, err := uuid.Parse(req.TraceID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid trace_id"})
		return
	}
	if !s.exec.Cancel(traceID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "trace not running"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
