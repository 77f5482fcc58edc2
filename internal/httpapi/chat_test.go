package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/docsage/docsage/internal/pipeline"
)

func TestWireEventFlattensPayload(t *testing.T) {
	handle := &pipeline.TurnHandle{UserMessageID: 7}
	ev := pipeline.Event{
		Type:      "chunk",
		Timestamp: time.Now(),
		Payload:   map[string]any{"content": "hi", "conversation_id": int64(3)},
	}

	wire := wireEvent(ev, handle)
	assert.Equal(t, "chunk", wire["type"])
	assert.Equal(t, "hi", wire["content"])
	assert.Equal(t, int64(3), wire["conversation_id"])
	_, hasUserMsg := wire["user_message_id"]
	assert.False(t, hasUserMsg)
	_, hasVariant := wire["variant"]
	assert.False(t, hasVariant)
}

func TestWireEventDoneCarriesUserMessageID(t *testing.T) {
	handle := &pipeline.TurnHandle{UserMessageID: 7}
	ev := pipeline.Event{
		Type:    "done",
		Payload: map[string]any{"conversation_id": int64(3), "message_id": int64(9), "trace_id": "t"},
	}

	wire := wireEvent(ev, handle)
	assert.Equal(t, int64(7), wire["user_message_id"])
	assert.Equal(t, int64(9), wire["message_id"])
}

func TestWireEventVariantTag(t *testing.T) {
	ev := pipeline.Event{Type: "chunk", Variant: "model_b", Payload: map[string]any{"content": "x"}}
	wire := wireEvent(ev, &pipeline.TurnHandle{})
	assert.Equal(t, "model_b", wire["variant"])
}

func TestExtractBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin/runtime", nil)
	assert.Equal(t, "", extractBearerToken(req))

	req.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", extractBearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", extractBearerToken(req))
}
