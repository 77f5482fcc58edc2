package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// StartTrace opens a running trace for one turn of a conversation.
func (s *Store) StartTrace(ctx context.Context, conversationID int64, pipeline string, config map[string]any) (*Trace, error) {
	if pipeline == "" {
		return nil, fmt.Errorf("%w: pipeline name is required", ErrValidation)
	}
	cfgJSON, err := encodeJSON(config)
	if err != nil {
		return nil, fmt.Errorf("encode trace config: %w", err)
	}
	id := uuid.New()
	now := nowMs()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO traces (id, conversation_id, pipeline, config, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id.String(), conversationID, pipeline, cfgJSON, TraceRunning, now)
	if err != nil {
		return nil, fmt.Errorf("start trace: %w", err)
	}
	return &Trace{
		ID:             id,
		ConversationID: conversationID,
		Pipeline:       pipeline,
		Config:         config,
		Status:         TraceRunning,
		StartedAt:      fromMs(now),
	}, nil
}

// AppendTraceEvent adds one event to a running trace. Events must arrive
// with non-decreasing timestamps; appends to a terminal trace are rejected.
func (s *Store) AppendTraceEvent(ctx context.Context, traceID uuid.UUID, ev TraceEvent) error {
	if ev.Type == "" {
		return fmt.Errorf("%w: event type is required", ErrValidation)
	}
	payload, err := encodeJSON(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	ts := ev.Timestamp.UTC().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append trace event: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM traces WHERE id = $1`, traceID.String()).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("append trace event: %w", err)
	}
	if status != TraceRunning {
		return fmt.Errorf("%w: trace %s is %s", ErrTraceTerminal, traceID, status)
	}

	var lastTs sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM trace_events WHERE trace_id = $1`, traceID.String()).Scan(&lastTs)
	if err != nil {
		return fmt.Errorf("append trace event: %w", err)
	}
	if lastTs.Valid && ts < lastTs.Int64 {
		return fmt.Errorf("%w: %d < %d", ErrEventOrder, ts, lastTs.Int64)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trace_events (trace_id, event_type, payload, ts) VALUES ($1, $2, $3, $4)`,
		traceID.String(), ev.Type, payload, ts); err != nil {
		return fmt.Errorf("append trace event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append trace event: %w", err)
	}
	return nil
}

// FinishTrace moves a running trace to a terminal status, optionally binding
// it to the committed assistant message and recording aggregate totals.
// Finishing an already terminal trace returns ErrTraceTerminal.
func (s *Store) FinishTrace(ctx context.Context, traceID uuid.UUID, status string, messageID *int64, totals map[string]any) error {
	switch status {
	case TraceCompleted, TraceCancelled, TraceFailed:
	default:
		return fmt.Errorf("%w: %q is not a terminal status", ErrValidation, status)
	}
	totalsJSON, err := encodeJSON(totals)
	if err != nil {
		return fmt.Errorf("encode trace totals: %w", err)
	}
	var msgID sql.NullInt64
	if messageID != nil {
		msgID = sql.NullInt64{Int64: *messageID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE traces SET status = $1, message_id = $2, totals = $3, completed_at = $4
		 WHERE id = $5 AND status = $6`,
		status, msgID, totalsJSON, nowMs(), traceID.String(), TraceRunning)
	if err != nil {
		return fmt.Errorf("finish trace: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish trace: %w", err)
	}
	if n == 0 {
		var cur string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM traces WHERE id = $1`, traceID.String()).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("finish trace: %w", err)
		}
		return fmt.Errorf("%w: trace %s is %s", ErrTraceTerminal, traceID, cur)
	}
	return nil
}

// GetTrace loads a trace with its full ordered event list.
func (s *Store) GetTrace(ctx context.Context, traceID uuid.UUID) (*Trace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, message_id, pipeline, config, status, started_at, completed_at, totals
		 FROM traces WHERE id = $1`, traceID.String())
	return s.scanTrace(ctx, row)
}

// GetTraceByMessage loads the trace bound to an assistant message.
func (s *Store) GetTraceByMessage(ctx context.Context, messageID int64) (*Trace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, message_id, pipeline, config, status, started_at, completed_at, totals
		 FROM traces WHERE message_id = $1`, messageID)
	return s.scanTrace(ctx, row)
}

func (s *Store) scanTrace(ctx context.Context, row rowScanner) (*Trace, error) {
	var (
		t           Trace
		idStr       string
		msgID       sql.NullInt64
		cfgJSON     sql.NullString
		startedMs   int64
		completedMs sql.NullInt64
		totalsJSON  sql.NullString
	)
	err := row.Scan(&idStr, &t.ConversationID, &msgID, &t.Pipeline, &cfgJSON, &t.Status, &startedMs, &completedMs, &totalsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trace: %w", err)
	}
	t.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("scan trace: %w", err)
	}
	if msgID.Valid {
		t.MessageID = &msgID.Int64
	}
	if cfgJSON.Valid && cfgJSON.String != "" {
		if err := json.Unmarshal([]byte(cfgJSON.String), &t.Config); err != nil {
			return nil, fmt.Errorf("decode trace config: %w", err)
		}
	}
	t.StartedAt = fromMs(startedMs)
	if completedMs.Valid {
		done := fromMs(completedMs.Int64)
		t.CompletedAt = &done
	}
	if totalsJSON.Valid && totalsJSON.String != "" {
		if err := json.Unmarshal([]byte(totalsJSON.String), &t.Totals); err != nil {
			return nil, fmt.Errorf("decode trace totals: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, payload, ts FROM trace_events WHERE trace_id = $1 ORDER BY id`,
		idStr)
	if err != nil {
		return nil, fmt.Errorf("load trace events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ev      TraceEvent
			payload sql.NullString
			ts      int64
		)
		if err := rows.Scan(&ev.Type, &payload, &ts); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		ev.Timestamp = fromMs(ts)
		t.Events = append(t.Events, ev)
	}
	return &t, rows.Err()
}
