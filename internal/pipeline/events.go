package pipeline

import (
	"time"
)

// Event is one streamed record of a turn. Events flow through a bounded
// per-trace channel to the transport and are mirrored into the trace log.
// Payload field names are an external wire contract.
type Event struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"-"`

	// Variant tags A/B arm events ("model_a" or "model_b"); empty otherwise.
	Variant string `json:"variant,omitempty"`
}

// EmitFunc delivers one event to the turn's consumer. Implementations may
// block (bounded buffer); pipelines must tolerate that.
type EmitFunc func(Event)

func chunkEvent(content string, conversationID int64) Event {
	return Event{
		Type:      "chunk",
		Timestamp: time.Now().UTC(),
		Payload: map[string]any{
			"content":         content,
			"conversation_id": conversationID,
		},
	}
}

func toolCallEvent(callID, name string, args map[string]any) Event {
	now := time.Now().UTC()
	return Event{
		Type:      "tool_call",
		Timestamp: now,
		Payload: map[string]any{
			"tool_call_id": callID,
			"tool_name":    name,
			"tool_args":    args,
			"timestamp":    now.UnixMilli(),
		},
	}
}

func toolStartEvent(callID, name string, args map[string]any) Event {
	now := time.Now().UTC()
	return Event{
		Type:      "tool_start",
		Timestamp: now,
		Payload: map[string]any{
			"tool_call_id": callID,
			"tool_name":    name,
			"tool_args":    args,
			"timestamp":    now.UnixMilli(),
		},
	}
}

func toolOutputEvent(callID, output string, truncated bool, fullLength int) Event {
	return Event{
		Type:      "tool_output",
		Timestamp: time.Now().UTC(),
		Payload: map[string]any{
			"tool_call_id": callID,
			"output":       output,
			"truncated":    truncated,
			"full_length":  fullLength,
		},
	}
}

// Tool end statuses.
const (
	ToolStatusOK        = "ok"
	ToolStatusError     = "error"
	ToolStatusTimeout   = "timeout"
	ToolStatusCancelled = "cancelled"
)

func toolEndEvent(callID, status string, duration time.Duration) Event {
	return Event{
		Type:      "tool_end",
		Timestamp: time.Now().UTC(),
		Payload: map[string]any{
			"tool_call_id": callID,
			"status":       status,
			"duration_ms":  duration.Milliseconds(),
		},
	}
}

func comparisonEvent(comparisonID string, conversationID int64) Event {
	return Event{
		Type:      "comparison",
		Timestamp: time.Now().UTC(),
		Payload: map[string]any{
			"comparison_id":   comparisonID,
			"conversation_id": conversationID,
		},
	}
}

func errorEvent(status int, message string) Event {
	return Event{
		Type:      "error",
		Timestamp: time.Now().UTC(),
		Payload: map[string]any{
			"status":  status,
			"message": message,
		},
	}
}

func doneEvent(conversationID, messageID int64, traceID string) Event {
	return Event{
		Type:      "done",
		Timestamp: time.Now().UTC(),
		Payload: map[string]any{
			"conversation_id": conversationID,
			"message_id":      messageID,
			"trace_id":        traceID,
		},
	}
}
