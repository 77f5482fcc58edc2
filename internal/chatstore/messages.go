package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const titleMaxRunes = 80

// Append writes one message to a conversation inside a transaction, bumping
// last_message_at. The first user message also becomes the conversation
// title. Message ids are assigned by the database and are strictly
// increasing within a conversation.
func (s *Store) Append(ctx context.Context, conversationID int64, in AppendMessage) (*Message, error) {
	switch in.Sender {
	case SenderUser, SenderAssistant, SenderSystem, SenderExpert:
	default:
		return nil, fmt.Errorf("%w: unknown sender %q", ErrValidation, in.Sender)
	}

	ctxJSON, err := encodeJSON(in.Context)
	if err != nil {
		return nil, fmt.Errorf("encode message context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = $1`, conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	now := nowMs()
	var id int64
	if s.dialect == "postgres" {
		err = tx.QueryRowContext(ctx,
			`INSERT INTO messages (conversation_id, sender, content, model_used, pipeline_used, link, context, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			conversationID, in.Sender, in.Content, nullStr(in.ModelUsed), nullStr(in.PipelineUsed),
			nullStr(in.Link), ctxJSON, now).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("append message: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, sender, content, model_used, pipeline_used, link, context, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			conversationID, in.Sender, in.Content, nullStr(in.ModelUsed), nullStr(in.PipelineUsed),
			nullStr(in.Link), ctxJSON, now)
		if err != nil {
			return nil, fmt.Errorf("append message: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("append message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = $1 WHERE id = $2`, now, conversationID); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if in.Sender == SenderUser {
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET title = $1 WHERE id = $2 AND title = ''`,
			deriveTitle(in.Content), conversationID); err != nil {
			return nil, fmt.Errorf("append message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         in.Sender,
		Content:        in.Content,
		ModelUsed:      in.ModelUsed,
		PipelineUsed:   in.PipelineUsed,
		Link:           in.Link,
		Context:        in.Context,
		Timestamp:      fromMs(now),
	}, nil
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, sender, content, model_used, pipeline_used, link, context, created_at
		 FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	fb, err := s.feedbackFor(ctx, []int64{m.ID})
	if err != nil {
		return nil, err
	}
	m.Feedback = fb[m.ID]
	return m, nil
}

// Messages loads a conversation's messages in append order, with any
// feedback attached.
func (s *Store) Messages(ctx context.Context, conversationID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender, content, model_used, pipeline_used, link, context, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var (
		out []Message
		ids []int64
	)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	fb, err := s.feedbackFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Feedback = fb[out[i].ID]
	}
	return out, nil
}

// AddFeedback records one feedback row against a message. Multiple rows per
// message accumulate; nothing is overwritten.
func (s *Store) AddFeedback(ctx context.Context, f Feedback) error {
	switch f.Kind {
	case "like", "dislike", "comment":
	default:
		return fmt.Errorf("%w: unknown feedback kind %q", ErrValidation, f.Kind)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (message_id, kind, incorrect, unhelpful, inappropriate, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.MessageID, f.Kind, f.Incorrect, f.Unhelpful, f.Inappropriate, nullStr(f.Text), nowMs())
	if err != nil {
		return fmt.Errorf("add feedback: %w", err)
	}
	return nil
}

// RecordTiming stores (or replaces) the latency row for a message.
func (s *Store) RecordTiming(ctx context.Context, t Timing) error {
	var firstChunk sql.NullInt64
	if t.FirstChunkMs > 0 {
		firstChunk = sql.NullInt64{Int64: t.FirstChunkMs, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_timings (message_id, total_ms, first_chunk_ms)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id) DO UPDATE SET total_ms = $2, first_chunk_ms = $3`,
		t.MessageID, t.TotalMs, firstChunk)
	if err != nil {
		return fmt.Errorf("record timing: %w", err)
	}
	return nil
}

// TimingFor returns the timing row for a message, or ErrNotFound.
func (s *Store) TimingFor(ctx context.Context, messageID int64) (*Timing, error) {
	var (
		t          Timing
		firstChunk sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id, total_ms, first_chunk_ms FROM message_timings WHERE message_id = $1`,
		messageID).Scan(&t.MessageID, &t.TotalMs, &firstChunk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load timing: %w", err)
	}
	t.FirstChunkMs = firstChunk.Int64
	return &t, nil
}

func (s *Store) feedbackFor(ctx context.Context, messageIDs []int64) (map[int64][]FeedbackSummary, error) {
	placeholders := make([]string, len(messageIDs))
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, kind, text, created_at FROM feedback
		 WHERE message_id IN (`+strings.Join(placeholders, ", ")+`) ORDER BY created_at, id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]FeedbackSummary)
	for rows.Next() {
		var (
			msgID     int64
			kind      string
			text      sql.NullString
			createdMs int64
		)
		if err := rows.Scan(&msgID, &kind, &text, &createdMs); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out[msgID] = append(out[msgID], FeedbackSummary{
			Kind:      kind,
			Text:      text.String,
			CreatedAt: fromMs(createdMs),
		})
	}
	return out, rows.Err()
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m         Message
		model     sql.NullString
		pipeline  sql.NullString
		link      sql.NullString
		ctxJSON   sql.NullString
		createdMs int64
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Content, &model, &pipeline, &link, &ctxJSON, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.ModelUsed = model.String
	m.PipelineUsed = pipeline.String
	m.Link = link.String
	m.Timestamp = fromMs(createdMs)
	if ctxJSON.Valid && ctxJSON.String != "" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &m.Context); err != nil {
			return nil, fmt.Errorf("decode message context: %w", err)
		}
	}
	return &m, nil
}

// deriveTitle takes the first line of the first user message, capped at
// titleMaxRunes.
func deriveTitle(content string) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	runes := []rune(line)
	if len(runes) > titleMaxRunes {
		line = string(runes[:titleMaxRunes-1]) + "…"
	}
	return line
}

func encodeJSON(v map[string]any) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
