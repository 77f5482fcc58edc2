package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/docsage/internal/chatstore"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/index"
)

type fakePipeline struct {
	name string
	run  func(ctx context.Context, turn Turn, emit EmitFunc) (*Output, error)
}

func (p *fakePipeline) Name() string { return p.name }
func (p *fakePipeline) Run(ctx context.Context, turn Turn, emit EmitFunc) (*Output, error) {
	return p.run(ctx, turn, emit)
}

func testExecutor(t *testing.T, safety *SafetyHook, pipelines ...Pipeline) (*Executor, *chatstore.Store) {
	t.Helper()
	store, err := chatstore.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	idx, err := index.Open(config.DataManager{
		EmbeddingDim:    2,
		ChunkSize:       500,
		ChunkOverlap:    50,
		DistanceMetric:  "cosine",
		ParallelWorkers: 1,
		IndexPath:       filepath.Join(t.TempDir(), "index.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	cfg := config.Default()
	cfg.Assistant.DefaultPipeline = "qa"
	return NewExecutor(cfg, store, idx, safety, pipelines...), store
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream never closed")
		}
	}
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestStartTurnStreamsAndCommits(t *testing.T) {
	qa := &fakePipeline{name: "qa", run: func(ctx context.Context, turn Turn, emit EmitFunc) (*Output, error) {
		emit(chunkEvent("Hello ", turn.ConversationID))
		emit(chunkEvent("world", turn.ConversationID))
		return &Output{Text: "Hello world", Metadata: map[string]any{"question": turn.Question}}, nil
	}}
	exec, store := testExecutor(t, nil, qa)

	handle, err := exec.StartTurn(context.Background(), TurnRequest{ClientID: "c1", Prompt: "hi"})
	require.NoError(t, err)
	assert.NotZero(t, handle.UserMessageID)

	events := drain(t, handle.Events)
	assert.Equal(t, []string{"chunk", "chunk", "done"}, eventTypes(events))

	msgs, err := store.Messages(context.Background(), handle.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chatstore.SenderUser, msgs[0].Sender)
	assert.Equal(t, "Hello world", msgs[1].Content)
	assert.Equal(t, "qa", msgs[1].PipelineUsed)

	trace, err := store.GetTrace(context.Background(), handle.TraceID)
	require.NoError(t, err)
	assert.Equal(t, chatstore.TraceCompleted, trace.Status)
	require.NotNil(t, trace.MessageID)
	assert.Equal(t, msgs[1].ID, *trace.MessageID)

	timing, err := store.TimingFor(context.Background(), msgs[1].ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, timing.TotalMs, int64(0))
}

func TestStartTurnValidation(t *testing.T) {
	exec, _ := testExecutor(t, nil, &fakePipeline{name: "qa", run: nil})

	_, err := exec.StartTurn(context.Background(), TurnRequest{ClientID: "c1"})
	assert.ErrorIs(t, err, chatstore.ErrValidation)

	_, err = exec.StartTurn(context.Background(), TurnRequest{ClientID: "c1", Prompt: "hi", Pipeline: "nope"})
	assert.ErrorIs(t, err, chatstore.ErrValidation)
}

func TestCancelBeforeFirstChunkCommitsNothing(t *testing.T) {
	started := make(chan struct{})
	qa := &fakePipeline{name: "qa", run: func(ctx context.Context, turn Turn, emit EmitFunc) (*Output, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	exec, store := testExecutor(t, nil, qa)

	handle, err := exec.StartTurn(context.Background(), TurnRequest{ClientID: "c1", Prompt: "hi"})
	require.NoError(t, err)

	<-started
	assert.True(t, exec.Cancel(handle.TraceID))

	events := drain(t, handle.Events)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "error", last.Type)
	assert.Equal(t, 499, last.Payload["status"])

	// Nothing streamed, so no assistant message was committed.
	msgs, err := store.Messages(context.Background(), handle.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, chatstore.SenderUser, msgs[0].Sender)

	trace, err := store.GetTrace(context.Background(), handle.TraceID)
	require.NoError(t, err)
	assert.Equal(t, chatstore.TraceCancelled, trace.Status)
	assert.Nil(t, trace.MessageID)
}

func TestCancelAfterStreamingCommitsPartial(t *testing.T) {
	streamed := make(chan struct{})
	qa := &fakePipeline{name: "qa", run: func(ctx context.Context, turn Turn, emit EmitFunc) (*Output, error) {
		emit(chunkEvent("partial answer", turn.ConversationID))
		close(streamed)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	exec, store := testExecutor(t, nil, qa)

	handle, err := exec.StartTurn(context.Background(), TurnRequest{ClientID: "c1", Prompt: "hi"})
	require.NoError(t, err)

	<-streamed
	assert.True(t, exec.Cancel(handle.TraceID))
	drain(t, handle.Events)

	msgs, err := store.Messages(context.Background(), handle.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial answer", msgs[1].Content)
	assert.Equal(t, true, msgs[1].Context["partial"])

	trace, err := store.GetTrace(context.Background(), handle.TraceID)
	require.NoError(t, err)
	assert.Equal(t, chatstore.TraceCancelled, trace.Status)
	require.NotNil(t, trace.MessageID)
	assert.Equal(t, msgs[1].ID, *trace.MessageID)
}

func TestABTurnRunsArmsWithDistinctConfigs(t *testing.T) {
	qa := &fakePipeline{name: "qa", run: func(ctx context.Context, turn Turn, emit EmitFunc) (*Output, error) {
		emit(chunkEvent("answer from "+turn.ModelConfig, turn.ConversationID))
		return &Output{Text: "answer from " + turn.ModelConfig}, nil
	}}
	exec, store := testExecutor(t, nil, qa)

	handle, err := exec.StartTurn(context.Background(), TurnRequest{
		ClientID: "c1",
		Prompt:   "hi",
		AB:       &ABRequest{ConfigA: "gpt-large", ConfigB: "gpt-small"},
	})
	require.NoError(t, err)

	events := drain(t, handle.Events)

	var comparisonID string
	chunks := map[string]string{}
	dones := map[string]bool{}
	for _, ev := range events {
		switch ev.Type {
		case "comparison":
			comparisonID = ev.Payload["comparison_id"].(string)
		case "chunk":
			chunks[ev.Variant] = ev.Payload["content"].(string)
		case "done":
			dones[ev.Variant] = true
		}
	}
	// Each arm ran with its own config and tagged its events.
	assert.Equal(t, "answer from gpt-large", chunks["model_a"])
	assert.Equal(t, "answer from gpt-small", chunks["model_b"])
	assert.True(t, dones["model_a"])
	assert.True(t, dones["model_b"])
	require.NotEmpty(t, comparisonID)

	msgs, err := store.Messages(context.Background(), handle.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.ElementsMatch(t, []string{"gpt-large", "gpt-small"},
		[]string{msgs[1].ModelUsed, msgs[2].ModelUsed})

	cmp, err := store.GetComparison(context.Background(), uuid.MustParse(comparisonID))
	require.NoError(t, err)
	require.NotNil(t, cmp.ResponseAMessageID)
	require.NotNil(t, cmp.ResponseBMessageID)
	a, err := store.GetMessage(context.Background(), *cmp.ResponseAMessageID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-large", a.ModelUsed)
	b, err := store.GetMessage(context.Background(), *cmp.ResponseBMessageID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-small", b.ModelUsed)
}

func TestCancelUnknownTrace(t *testing.T) {
	exec, _ := testExecutor(t, nil, &fakePipeline{name: "qa", run: nil})
	assert.False(t, exec.Cancel(uuid.New()))
}

func TestSafetyBlockedPrompt(t *testing.T) {
	qa := &fakePipeline{name: "qa", run: func(ctx context.Context, turn Turn, emit EmitFunc) (*Output, error) {
		t.Error("pipeline must not run for a blocked prompt")
		return &Output{}, nil
	}}
	safety := NewSafetyHook(config.SafetyConfig{
		Enabled:       true,
		BlockedTerms:  []string{"forbidden"},
		CannedMessage: "I can't help with that.",
	})
	exec, store := testExecutor(t, safety, qa)

	handle, err := exec.StartTurn(context.Background(), TurnRequest{ClientID: "c1", Prompt: "tell me the FORBIDDEN thing"})
	require.NoError(t, err)

	events := drain(t, handle.Events)
	assert.Equal(t, []string{"chunk", "done"}, eventTypes(events))
	assert.Equal(t, "I can't help with that.", events[0].Payload["content"])

	msgs, err := store.Messages(context.Background(), handle.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "I can't help with that.", msgs[1].Content)
	assert.Equal(t, true, msgs[1].Context["safety_blocked"])
}

func TestPipelineFailureFailsTrace(t *testing.T) {
	qa := &fakePipeline{name: "qa", run: func(ctx context.Context, turn Turn, emit EmitFunc) (*Output, error) {
		return nil, assert.AnError
	}}
	exec, store := testExecutor(t, nil, qa)

	handle, err := exec.StartTurn(context.Background(), TurnRequest{ClientID: "c1", Prompt: "hi"})
	require.NoError(t, err)

	events := drain(t, handle.Events)
	require.NotEmpty(t, events)
	assert.Equal(t, "error", events[len(events)-1].Type)
	assert.Equal(t, 500, events[len(events)-1].Payload["status"])

	trace, err := store.GetTrace(context.Background(), handle.TraceID)
	require.NoError(t, err)
	assert.Equal(t, chatstore.TraceFailed, trace.Status)
}
