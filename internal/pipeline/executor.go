package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docsage/docsage/internal/chatstore"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/providers"
)

const (
	eventBuffer        = 64
	defaultTurnTimeout = 5 * time.Minute
)

// TurnRequest is one chat turn submitted to the executor.
type TurnRequest struct {
	ConversationID int64 // 0 creates a new conversation
	ClientID       string
	UserID         string
	Prompt         string
	Pipeline       string // empty selects the configured default
	Images         []providers.ImageContent
	AB             *ABRequest
}

// ABRequest enables paired generation for a turn.
type ABRequest struct {
	ConfigA string `json:"config_a"`
	ConfigB string `json:"config_b"`
}

// TurnHandle is returned when a turn starts: the bounded event stream plus
// the ids the transport needs up front.
type TurnHandle struct {
	ConversationID int64
	UserMessageID  int64
	TraceID        uuid.UUID
	Events         <-chan Event
}

// Executor owns turn execution: conversation locking, trace lifecycle,
// safety screening, cancellation, and commit of the assistant message.
type Executor struct {
	cfg       *config.Config
	store     *chatstore.Store
	idx       *index.Index
	pipelines map[string]Pipeline
	safety    *SafetyHook

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

func NewExecutor(cfg *config.Config, store *chatstore.Store, idx *index.Index, safety *SafetyHook, pipelines ...Pipeline) *Executor {
	byName := make(map[string]Pipeline, len(pipelines))
	for _, p := range pipelines {
		byName[p.Name()] = p
	}
	return &Executor{
		cfg:       cfg,
		store:     store,
		idx:       idx,
		pipelines: byName,
		safety:    safety,
		cancels:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Cancel aborts a running turn by trace id. Unknown or already-finished
// traces return false.
func (e *Executor) Cancel(traceID uuid.UUID) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[traceID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (e *Executor) register(traceID uuid.UUID, cancel context.CancelFunc) {
	e.mu.Lock()
	e.cancels[traceID] = cancel
	e.mu.Unlock()
}

func (e *Executor) unregister(traceID uuid.UUID) {
	e.mu.Lock()
	delete(e.cancels, traceID)
	e.mu.Unlock()
}

// StartTurn validates the request, commits the user message, opens the
// trace, and launches the turn. The caller consumes Events until close; a
// cancelled consumer context unwinds the turn.
func (e *Executor) StartTurn(ctx context.Context, req TurnRequest) (*TurnHandle, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", chatstore.ErrValidation)
	}
	name := req.Pipeline
	if name == "" {
		name = e.cfg.Assistant.DefaultPipeline
	}
	pl, ok := e.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown pipeline %q", chatstore.ErrValidation, name)
	}

	conv, err := e.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	unlock := e.store.LockConversation(conv.ID)

	history, err := e.store.Messages(ctx, conv.ID)
	if err != nil {
		unlock()
		return nil, err
	}
	userMsg, err := e.store.Append(ctx, conv.ID, chatstore.AppendMessage{
		Sender:  chatstore.SenderUser,
		Content: req.Prompt,
	})
	if err != nil {
		unlock()
		return nil, err
	}
	trace, err := e.store.StartTrace(ctx, conv.ID, pl.Name(), traceConfig(req))
	if err != nil {
		unlock()
		return nil, err
	}

	turn := Turn{
		ConversationID: conv.ID,
		Question:       req.Prompt,
		History:        toProviderMessages(history),
		Images:         req.Images,
		Filter:         e.documentFilter(ctx, conv.ID, req.UserID),
	}

	timeout := time.Duration(e.cfg.Assistant.TurnTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = defaultTurnTimeout
	}
	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	stop := context.AfterFunc(ctx, cancel)
	e.register(trace.ID, cancel)

	events := make(chan Event, eventBuffer)
	go func() {
		defer close(events)
		defer unlock()
		defer cancel()
		defer stop()
		defer e.unregister(trace.ID)

		if req.AB != nil {
			e.runABTurn(turnCtx, pl, turn, trace, userMsg.ID, *req.AB, events)
			return
		}
		e.runTurn(turnCtx, pl, turn, trace, events, "")
	}()

	return &TurnHandle{
		ConversationID: conv.ID,
		UserMessageID:  userMsg.ID,
		TraceID:        trace.ID,
		Events:         events,
	}, nil
}

// runTurn executes one pipeline instance against one trace and commits the
// outcome. Returns the committed assistant message id, 0 when none.
func (e *Executor) runTurn(ctx context.Context, pl Pipeline, turn Turn, trace *chatstore.Trace, events chan<- Event, variant string) int64 {
	start := time.Now()
	var (
		buffered   []byte
		firstChunk time.Duration
	)
	emit := func(ev Event) {
		ev.Variant = variant
		if ev.Type == "chunk" {
			if content, _ := ev.Payload["content"].(string); content != "" {
				if len(buffered) == 0 {
					firstChunk = time.Since(start)
				}
				buffered = append(buffered, content...)
			}
		}
		e.recordEvent(trace.ID, ev)
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	// Prompt-side safety screen.
	if e.safety != nil && e.safety.Enabled() {
		if v := e.safety.Check(turn.Question); v.Blocked {
			return e.commitBlocked(ctx, pl, turn, trace, events, emit, variant)
		}
	}

	out, err := pl.Run(ctx, turn, emit)
	if err != nil {
		return e.commitFailure(ctx, trace, events, emit, err, string(buffered), pl.Name(), variant)
	}

	// Output-side safety screen.
	safetyBlocked := false
	if e.safety != nil && e.safety.Enabled() {
		if v := e.safety.Check(out.Text); v.Blocked {
			out.Text = e.safety.CannedMessage()
			out.SourceDocuments = nil
			safetyBlocked = true
		}
	}

	msg, err := e.store.Append(context.WithoutCancel(ctx), turn.ConversationID, chatstore.AppendMessage{
		Sender:       chatstore.SenderAssistant,
		Content:      out.Text,
		ModelUsed:    turn.ModelConfig,
		PipelineUsed: pl.Name(),
		Context:      messageContext(out, safetyBlocked),
	})
	if err != nil {
		slog.Error("assistant message commit failed", "error", err)
		e.finishTrace(trace.ID, chatstore.TraceFailed, nil, nil)
		emit(errorEvent(500, "failed to persist response"))
		return 0
	}
	e.recordTiming(msg.ID, start, firstChunk)

	totals := map[string]any{"duration_ms": time.Since(start).Milliseconds()}
	if safetyBlocked {
		totals["safety_blocked"] = true
	}
	e.finishTrace(trace.ID, chatstore.TraceCompleted, &msg.ID, totals)

	done := doneEvent(turn.ConversationID, msg.ID, trace.ID.String())
	done.Variant = variant
	e.recordEvent(trace.ID, done)
	select {
	case events <- done:
	case <-ctx.Done():
	}
	return msg.ID
}

// commitFailure handles both cancellation and hard errors. On cancellation
// with streamed text, the buffered prefix is committed as a partial
// assistant message; with nothing streamed, no message is committed.
func (e *Executor) commitFailure(ctx context.Context, trace *chatstore.Trace, events chan<- Event, emit EmitFunc, runErr error, buffered, pipelineName, variant string) int64 {
	cancelled := errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) || ctx.Err() != nil

	if !cancelled {
		slog.Error("turn failed", "pipeline", pipelineName, "error", runErr)
		e.finishTrace(trace.ID, chatstore.TraceFailed, nil, map[string]any{"error": runErr.Error()})
		emit(errorEvent(500, "the assistant failed to produce a response"))
		return 0
	}

	bg := context.WithoutCancel(ctx)
	var msgID *int64
	if buffered != "" {
		msg, err := e.store.Append(bg, trace.ConversationID, chatstore.AppendMessage{
			Sender:       chatstore.SenderAssistant,
			Content:      buffered,
			PipelineUsed: pipelineName,
			Context:      map[string]any{"partial": true},
		})
		if err != nil {
			slog.Error("partial message commit failed", "error", err)
		} else {
			msgID = &msg.ID
		}
	}
	e.finishTrace(trace.ID, chatstore.TraceCancelled, msgID, nil)
	ev := errorEvent(499, "stream cancelled")
	ev.Variant = variant
	select {
	case events <- ev:
	default:
	}
	return 0
}

func (e *Executor) commitBlocked(ctx context.Context, pl Pipeline, turn Turn, trace *chatstore.Trace, events chan<- Event, emit EmitFunc, variant string) int64 {
	canned := e.safety.CannedMessage()
	emit(chunkEvent(canned, turn.ConversationID))
	msg, err := e.store.Append(context.WithoutCancel(ctx), turn.ConversationID, chatstore.AppendMessage{
		Sender:       chatstore.SenderAssistant,
		Content:      canned,
		PipelineUsed: pl.Name(),
		Context:      map[string]any{"safety_blocked": true},
	})
	if err != nil {
		slog.Error("canned message commit failed", "error", err)
		e.finishTrace(trace.ID, chatstore.TraceFailed, nil, nil)
		return 0
	}
	e.finishTrace(trace.ID, chatstore.TraceCompleted, &msg.ID, map[string]any{"safety_blocked": true})
	done := doneEvent(turn.ConversationID, msg.ID, trace.ID.String())
	done.Variant = variant
	e.recordEvent(trace.ID, done)
	select {
	case events <- done:
	case <-ctx.Done():
	}
	return msg.ID
}

// runABTurn executes two pipeline instances with distinct model configs in
// parallel on the same prompt. Each arm carries its own config through the
// turn, so the arms resolve different model handles. Arm events carry
// variant tags; each arm has its own trace, with arm A reusing the turn's
// announced trace.
func (e *Executor) runABTurn(ctx context.Context, pl Pipeline, turn Turn, traceA *chatstore.Trace, userMsgID int64, ab ABRequest, events chan<- Event) {
	cmp, err := e.store.CreateComparison(ctx, chatstore.ABComparison{
		ConversationID:      turn.ConversationID,
		UserPromptMessageID: userMsgID,
		ConfigA:             ab.ConfigA,
		ConfigB:             ab.ConfigB,
		IsAFirst:            time.Now().UnixNano()%2 == 0,
	})
	if err != nil {
		slog.Error("comparison create failed", "error", err)
		e.finishTrace(traceA.ID, chatstore.TraceFailed, nil, nil)
		return
	}

	// Announce the pending comparison so the client can submit a preference.
	cmpEv := comparisonEvent(cmp.ID.String(), turn.ConversationID)
	e.recordEvent(traceA.ID, cmpEv)
	select {
	case events <- cmpEv:
	case <-ctx.Done():
	}

	traceB, err := e.store.StartTrace(ctx, turn.ConversationID, pl.Name(), map[string]any{"config": ab.ConfigB})
	if err != nil {
		slog.Error("arm trace create failed", "error", err)
		e.finishTrace(traceA.ID, chatstore.TraceFailed, nil, nil)
		return
	}

	turnA, turnB := turn, turn
	turnA.ModelConfig = ab.ConfigA
	turnB.ModelConfig = ab.ConfigB

	var msgA, msgB int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		msgA = e.runTurn(gctx, pl, turnA, traceA, events, "model_a")
		return nil
	})
	g.Go(func() error {
		msgB = e.runTurn(gctx, pl, turnB, traceB, events, "model_b")
		return nil
	})
	g.Wait()

	if msgA != 0 && msgB != 0 {
		if err := e.store.BindComparisonResponses(context.WithoutCancel(ctx), cmp.ID, msgA, msgB); err != nil {
			slog.Error("comparison bind failed", "error", err)
		}
	}
}

func (e *Executor) resolveConversation(ctx context.Context, req TurnRequest) (*chatstore.Conversation, error) {
	if req.ConversationID != 0 {
		return e.store.GetConversation(ctx, req.ConversationID)
	}
	return e.store.CreateConversation(ctx, req.ClientID, req.UserID)
}

// documentFilter resolves the turn's enabled-document set. Failures fall
// back to no filter so retrieval still works.
func (e *Executor) documentFilter(ctx context.Context, conversationID int64, userID string) index.Filter {
	all := e.idx.IndexedResources()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	enabled, err := e.store.EffectiveEnabled(ctx, conversationID, userID, ids)
	if err != nil {
		slog.Warn("document selection load failed, retrieving unfiltered", "error", err)
		return nil
	}
	allowed := make(map[string]bool, len(enabled))
	for id, on := range enabled {
		if on {
			allowed[id] = true
		}
	}
	return index.AllowedSet(allowed)
}

func (e *Executor) recordEvent(traceID uuid.UUID, ev Event) {
	err := e.store.AppendTraceEvent(context.Background(), traceID, chatstore.TraceEvent{
		Type:      ev.Type,
		Payload:   ev.Payload,
		Timestamp: ev.Timestamp,
	})
	if err != nil && !errors.Is(err, chatstore.ErrTraceTerminal) {
		slog.Warn("trace event write failed", "trace", traceID, "type", ev.Type, "error", err)
	}
}

func (e *Executor) recordTiming(messageID int64, start time.Time, firstChunk time.Duration) {
	t := chatstore.Timing{
		MessageID: messageID,
		TotalMs:   time.Since(start).Milliseconds(),
	}
	if firstChunk > 0 {
		t.FirstChunkMs = firstChunk.Milliseconds()
	}
	if err := e.store.RecordTiming(context.Background(), t); err != nil {
		slog.Warn("timing write failed", "message", messageID, "error", err)
	}
}

func (e *Executor) finishTrace(traceID uuid.UUID, status string, messageID *int64, totals map[string]any) {
	err := e.store.FinishTrace(context.Background(), traceID, status, messageID, totals)
	if err != nil && !errors.Is(err, chatstore.ErrTraceTerminal) {
		slog.Warn("trace finish failed", "trace", traceID, "error", err)
	}
}

func traceConfig(req TurnRequest) map[string]any {
	cfg := map[string]any{}
	if req.AB != nil {
		cfg["ab"] = map[string]any{"config_a": req.AB.ConfigA, "config_b": req.AB.ConfigB}
	}
	if len(cfg) == 0 {
		return nil
	}
	return cfg
}

func toProviderMessages(msgs []chatstore.Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		switch m.Sender {
		case chatstore.SenderAssistant, chatstore.SenderExpert:
			role = "assistant"
		case chatstore.SenderSystem:
			role = "system"
		}
		out = append(out, providers.Message{Role: role, Content: m.Content})
	}
	return out
}

func messageContext(out *Output, safetyBlocked bool) map[string]any {
	hashes := make([]string, 0, len(out.SourceDocuments))
	seen := make(map[string]bool)
	for _, d := range out.SourceDocuments {
		if !seen[d.ResourceID] {
			seen[d.ResourceID] = true
			hashes = append(hashes, d.ResourceID)
		}
	}
	ctx := map[string]any{"source_documents": hashes}
	for k, v := range out.Metadata {
		ctx[k] = v
	}
	if len(out.IntermediateSteps) > 0 {
		ctx["intermediate_steps"] = out.IntermediateSteps
	}
	if safetyBlocked {
		ctx["safety_blocked"] = true
	}
	return ctx
}
