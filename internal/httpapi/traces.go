package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/docsage/docsage/internal/chatstore"
)

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID, err := uuid.Parse(r.PathValue("trace_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid trace_id"})
		return
	}
	trace, err := s.store.GetTrace(r.Context(), traceID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (s *Server) handleGetTraceByMessage(w http.ResponseWriter, r *http.Request) {
	messageID, err := strconv.ParseInt(r.PathValue("message_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid message_id"})
		return
	}
	trace, err := s.store.GetTraceByMessage(r.Context(), messageID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

const traceLivePoll = 500 * time.Millisecond

// handleTraceLive tails a trace over a websocket: already-recorded events
// first, then new ones as they land, closing once the trace reaches a
// terminal status.
func (s *Server) handleTraceLive(w http.ResponseWriter, r *http.Request) {
	traceID, err := uuid.Parse(r.PathValue("trace_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid trace_id"})
		return
	}
	if _, err := s.store.GetTrace(r.Context(), traceID); err != nil {
		writeStoreError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	sent := 0
	ticker := time.NewTicker(traceLivePoll)
	defer ticker.Stop()

	for {
		trace, err := s.store.GetTrace(ctx, traceID)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "trace read failed")
			return
		}
		for _, ev := range trace.Events[sent:] {
			if err := writeTraceEvent(ctx, conn, ev); err != nil {
				return
			}
			sent++
		}
		if trace.Status != chatstore.TraceRunning {
			wsjson.Write(ctx, conn, map[string]any{"type": "trace_status", "status": trace.Status})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeTraceEvent(ctx context.Context, conn *websocket.Conn, ev chatstore.TraceEvent) error {
	out := make(map[string]any, len(ev.Payload)+1)
	for k, v := range ev.Payload {
		out[k] = v
	}
	out["type"] = ev.Type
	return wsjson.Write(ctx, conn, out)
}
