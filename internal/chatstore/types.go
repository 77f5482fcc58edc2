package chatstore

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Senders recognized on messages.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
	SenderExpert    = "expert"
)

// Trace statuses. Transitions only run → {completed, cancelled, failed}.
const (
	TraceRunning   = "running"
	TraceCompleted = "completed"
	TraceCancelled = "cancelled"
	TraceFailed    = "failed"
)

// Trace event types, ordered within a trace by non-decreasing timestamp.
const (
	EventChunk      = "chunk"
	EventToolCall   = "tool_call"
	EventToolStart  = "tool_start"
	EventToolOutput = "tool_output"
	EventToolEnd    = "tool_end"
	EventError      = "error"
	EventDone       = "done"
)

// Store errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	ErrTraceTerminal = errors.New("trace already terminal")
	ErrEventOrder    = errors.New("event timestamp precedes last event")
	ErrPreferenceSet = errors.New("preference already recorded")
)

// Conversation is one chat thread.
type Conversation struct {
	ID            int64     `json:"conversation_id"`
	ClientID      string    `json:"client_id"`
	UserID        string    `json:"user_id,omitempty"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Message is one immutable chat message.
type Message struct {
	ID             int64             `json:"message_id"`
	ConversationID int64             `json:"conversation_id"`
	Sender         string            `json:"sender"`
	Content        string            `json:"content"`
	ModelUsed      string            `json:"model_used,omitempty"`
	PipelineUsed   string            `json:"pipeline_used,omitempty"`
	Link           string            `json:"link,omitempty"`
	Context        map[string]any    `json:"context,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Feedback       []FeedbackSummary `json:"feedback,omitempty"`
}

// AppendMessage is the input for appending a message to a conversation.
type AppendMessage struct {
	Sender       string
	Content      string
	ModelUsed    string
	PipelineUsed string
	Link         string
	Context      map[string]any
}

// Feedback flags a message.
type Feedback struct {
	MessageID     int64     `json:"message_id"`
	Kind          string    `json:"kind"` // "like", "dislike", "comment"
	Incorrect     bool      `json:"incorrect"`
	Unhelpful     bool      `json:"unhelpful"`
	Inappropriate bool      `json:"inappropriate"`
	Text          string    `json:"text,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// FeedbackSummary is the per-message aggregation returned with loads.
type FeedbackSummary struct {
	Kind      string    `json:"kind"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Timing is the optional latency row for a message.
type Timing struct {
	MessageID    int64 `json:"message_id"`
	TotalMs      int64 `json:"total_ms"`
	FirstChunkMs int64 `json:"first_chunk_ms,omitempty"`
}

// TraceEvent is one typed record in a trace's ordered event list.
type TraceEvent struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Trace is the ordered event log of one turn.
type Trace struct {
	ID             uuid.UUID      `json:"trace_id"`
	ConversationID int64          `json:"conversation_id"`
	MessageID      *int64         `json:"message_id,omitempty"`
	Pipeline       string         `json:"pipeline_name"`
	Config         map[string]any `json:"config,omitempty"`
	Events         []TraceEvent   `json:"events"`
	Status         string         `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Totals         map[string]any `json:"totals,omitempty"`
}

// ABComparison pairs two responses to the same prompt. Preference, once set,
// is final.
type ABComparison struct {
	ID                  uuid.UUID `json:"comparison_id"`
	ConversationID      int64     `json:"conversation_id"`
	UserPromptMessageID int64     `json:"user_prompt_message_id"`
	ResponseAMessageID  *int64    `json:"response_a_message_id,omitempty"`
	ResponseBMessageID  *int64    `json:"response_b_message_id,omitempty"`
	ConfigA             string    `json:"config_a"`
	ConfigB             string    `json:"config_b"`
	IsAFirst            bool      `json:"is_a_first"`
	Preference          string    `json:"preference,omitempty"` // "a", "b", "tie", or ""
}

// DocumentSelection is one per-conversation override row.
type DocumentSelection struct {
	ConversationID int64  `json:"conversation_id"`
	DocumentID     string `json:"document_id"`
	Enabled        bool   `json:"enabled"`
}
