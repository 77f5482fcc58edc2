package chatstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "client-1", "")
	require.NoError(t, err)

	var last int64
	for i, content := range []string{"first", "second", "third"} {
		sender := SenderUser
		if i%2 == 1 {
			sender = SenderAssistant
		}
		m, err := s.Append(ctx, conv.ID, AppendMessage{Sender: sender, Content: content})
		require.NoError(t, err)
		assert.Greater(t, m.ID, last)
		last = m.ID
	}

	msgs, err := s.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "third", msgs[2].Content)
}

func TestAppendSetsTitleFromFirstUserMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "client-1", "")
	require.NoError(t, err)

	_, err = s.Append(ctx, conv.ID, AppendMessage{Sender: SenderUser, Content: "how do I reset the index?\nmore detail"})
	require.NoError(t, err)
	_, err = s.Append(ctx, conv.ID, AppendMessage{Sender: SenderUser, Content: "a different question"})
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "how do I reset the index?", got.Title)
}

func TestAppendUnknownConversation(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Append(context.Background(), 9999, AppendMessage{Sender: SenderUser, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageContextRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "client-1", "")
	require.NoError(t, err)

	m, err := s.Append(ctx, conv.ID, AppendMessage{
		Sender:  SenderAssistant,
		Content: "answer",
		Context: map[string]any{"source_documents": []any{"abc123"}, "partial": true},
	})
	require.NoError(t, err)

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, true, got.Context["partial"])
}

func TestFeedbackAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "client-1", "")
	require.NoError(t, err)
	m, err := s.Append(ctx, conv.ID, AppendMessage{Sender: SenderAssistant, Content: "answer"})
	require.NoError(t, err)

	require.NoError(t, s.AddFeedback(ctx, Feedback{MessageID: m.ID, Kind: "dislike", Incorrect: true}))
	require.NoError(t, s.AddFeedback(ctx, Feedback{MessageID: m.ID, Kind: "comment", Text: "misses the point"}))

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, got.Feedback, 2)

	err = s.AddFeedback(ctx, Feedback{MessageID: m.ID, Kind: "shrug"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTraceEventOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "client-1", "")
	require.NoError(t, err)
	tr, err := s.StartTrace(ctx, conv.ID, "qa", nil)
	require.NoError(t, err)

	base := time.Now()
	require.NoError(t, s.AppendTraceEvent(ctx, tr.ID, TraceEvent{Type: EventChunk, Timestamp: base}))
	require.NoError(t, s.AppendTraceEvent(ctx, tr.ID, TraceEvent{Type: EventChunk, Timestamp: base}))
	require.NoError(t, s.AppendTraceEvent(ctx, tr.ID, TraceEvent{Type: EventDone, Timestamp: base.Add(time.Second)}))

	err = s.AppendTraceEvent(ctx, tr.ID, TraceEvent{Type: EventChunk, Timestamp: base.Add(-time.Minute)})
	assert.ErrorIs(t, err, ErrEventOrder)

	got, err := s.GetTrace(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, got.Events, 3)
	assert.Equal(t, EventDone, got.Events[2].Type)
}

func TestTraceTerminalRejectsAppends(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "client-1", "")
	require.NoError(t, err)
	tr, err := s.StartTrace(ctx, conv.ID, "qa", nil)
	require.NoError(t, err)

	m, err := s.Append(ctx, conv.ID, AppendMessage{Sender: SenderAssistant, Content: "answer"})
	require.NoError(t, err)
	require.NoError(t, s.FinishTrace(ctx, tr.ID, TraceCompleted, &m.ID, map[string]any{"total_tokens": 42}))

	err = s.AppendTraceEvent(ctx, tr.ID, TraceEvent{Type: EventChunk, Timestamp: time.Now()})
	assert.ErrorIs(t, err, ErrTraceTerminal)

	err = s.FinishTrace(ctx, tr.ID, TraceCancelled, nil, nil)
	assert.ErrorIs(t, err, ErrTraceTerminal)

	byMsg, err := s.GetTraceByMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, byMsg.ID)
	assert.Equal(t, TraceCompleted, byMsg.Status)
}

func TestPreferenceWriteOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "client-1", "")
	require.NoError(t, err)
	prompt, err := s.Append(ctx, conv.ID, AppendMessage{Sender: SenderUser, Content: "q"})
	require.NoError(t, err)

	cmp, err := s.CreateComparison(ctx, ABComparison{
		ConversationID:      conv.ID,
		UserPromptMessageID: prompt.ID,
		ConfigA:             "model_a",
		ConfigB:             "model_b",
		IsAFirst:            true,
	})
	require.NoError(t, err)

	require.NoError(t, s.SetPreference(ctx, cmp.ID, "b"))
	err = s.SetPreference(ctx, cmp.ID, "a")
	assert.ErrorIs(t, err, ErrPreferenceSet)

	got, err := s.GetComparison(ctx, cmp.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Preference)
}

func TestPreferenceMarksWinningMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "client-1", "")
	require.NoError(t, err)
	prompt, err := s.Append(ctx, conv.ID, AppendMessage{Sender: SenderUser, Content: "q"})
	require.NoError(t, err)
	respA, err := s.Append(ctx, conv.ID, AppendMessage{
		Sender: SenderAssistant, Content: "answer a", Context: map[string]any{"question": "q"},
	})
	require.NoError(t, err)
	respB, err := s.Append(ctx, conv.ID, AppendMessage{Sender: SenderAssistant, Content: "answer b"})
	require.NoError(t, err)

	cmp, err := s.CreateComparison(ctx, ABComparison{
		ConversationID:      conv.ID,
		UserPromptMessageID: prompt.ID,
		ConfigA:             "model_a",
		ConfigB:             "model_b",
	})
	require.NoError(t, err)
	require.NoError(t, s.BindComparisonResponses(ctx, cmp.ID, respA.ID, respB.ID))

	require.NoError(t, s.SetPreference(ctx, cmp.ID, "a"))

	winner, err := s.GetMessage(ctx, respA.ID)
	require.NoError(t, err)
	assert.Equal(t, true, winner.Context["ab_preferred"])
	// Existing context keys survive the merge.
	assert.Equal(t, "q", winner.Context["question"])

	loser, err := s.GetMessage(ctx, respB.ID)
	require.NoError(t, err)
	_, marked := loser.Context["ab_preferred"]
	assert.False(t, marked)
}

func TestEffectiveEnabledLayering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "client-1", "user-1")
	require.NoError(t, err)

	all := []string{"doc-a", "doc-b", "doc-c"}
	require.NoError(t, s.SetUserDefault(ctx, "user-1", "doc-b", false))
	require.NoError(t, s.SetDocumentEnabled(ctx, conv.ID, "doc-a", false))
	// Conversation override wins over the user default.
	require.NoError(t, s.SetUserDefault(ctx, "user-1", "doc-c", false))
	require.NoError(t, s.SetDocumentEnabled(ctx, conv.ID, "doc-c", true))

	got, err := s.EffectiveEnabled(ctx, conv.ID, "user-1", all)
	require.NoError(t, err)
	assert.False(t, got["doc-a"])
	assert.False(t, got["doc-b"])
	assert.True(t, got["doc-c"])
}

func TestDeleteConversationCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "client-1", "")
	require.NoError(t, err)
	m, err := s.Append(ctx, conv.ID, AppendMessage{Sender: SenderUser, Content: "q"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))

	_, err = s.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMessage(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errors.Is(s.DeleteConversation(ctx, conv.ID), ErrNotFound))
}
