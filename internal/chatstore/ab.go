package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateComparison records a paired A/B turn before the responses resolve.
// The response message ids are bound later with BindComparisonResponses.
func (s *Store) CreateComparison(ctx context.Context, c ABComparison) (*ABComparison, error) {
	if c.ConfigA == "" || c.ConfigB == "" {
		return nil, fmt.Errorf("%w: both arm configs are required", ErrValidation)
	}
	c.ID = uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ab_comparisons (id, conversation_id, user_prompt_message_id, config_a, config_b, is_a_first)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID.String(), c.ConversationID, c.UserPromptMessageID, c.ConfigA, c.ConfigB, c.IsAFirst)
	if err != nil {
		return nil, fmt.Errorf("create comparison: %w", err)
	}
	return &c, nil
}

// BindComparisonResponses attaches the committed response message ids to a
// comparison once both arms have resolved.
func (s *Store) BindComparisonResponses(ctx context.Context, id uuid.UUID, responseA, responseB int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ab_comparisons SET response_a_message_id = $1, response_b_message_id = $2 WHERE id = $3`,
		responseA, responseB, id.String())
	if err != nil {
		return fmt.Errorf("bind comparison responses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bind comparison responses: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPreference records the user's pick for a comparison. The preference is
// write-once: a second attempt returns ErrPreferenceSet. A non-tie pick
// marks the winning response message with ab_preferred in its context, so
// conversation loads can surface it as the canonical answer.
func (s *Store) SetPreference(ctx context.Context, id uuid.UUID, preference string) error {
	switch preference {
	case "a", "b", "tie":
	default:
		return fmt.Errorf("%w: preference must be a, b, or tie", ErrValidation)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ab_comparisons SET preference = $1 WHERE id = $2 AND preference IS NULL`,
		preference, id.String())
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	if n == 0 {
		var existing sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT preference FROM ab_comparisons WHERE id = $1`, id.String()).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("set preference: %w", err)
		}
		return fmt.Errorf("%w: already %q", ErrPreferenceSet, existing.String)
	}
	if preference == "tie" {
		return nil
	}

	col := "response_a_message_id"
	if preference == "b" {
		col = "response_b_message_id"
	}
	var winner sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT `+col+` FROM ab_comparisons WHERE id = $1`, id.String()).Scan(&winner)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	if !winner.Valid {
		return nil
	}
	return s.markPreferred(ctx, winner.Int64)
}

// markPreferred merges ab_preferred into a message's context JSON.
func (s *Store) markPreferred(ctx context.Context, messageID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark preferred: %w", err)
	}
	defer tx.Rollback()

	var ctxJSON sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT context FROM messages WHERE id = $1`, messageID).Scan(&ctxJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("mark preferred: %w", err)
	}

	merged := map[string]any{}
	if ctxJSON.Valid && ctxJSON.String != "" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &merged); err != nil {
			return fmt.Errorf("mark preferred: %w", err)
		}
	}
	merged["ab_preferred"] = true
	encoded, err := encodeJSON(merged)
	if err != nil {
		return fmt.Errorf("mark preferred: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET context = $1 WHERE id = $2`, encoded, messageID); err != nil {
		return fmt.Errorf("mark preferred: %w", err)
	}
	return tx.Commit()
}

// GetComparison loads one comparison by id.
func (s *Store) GetComparison(ctx context.Context, id uuid.UUID) (*ABComparison, error) {
	var (
		c          ABComparison
		idStr      string
		respA      sql.NullInt64
		respB      sql.NullInt64
		preference sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, user_prompt_message_id, response_a_message_id, response_b_message_id,
		        config_a, config_b, is_a_first, preference
		 FROM ab_comparisons WHERE id = $1`, id.String()).
		Scan(&idStr, &c.ConversationID, &c.UserPromptMessageID, &respA, &respB,
			&c.ConfigA, &c.ConfigB, &c.IsAFirst, &preference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load comparison: %w", err)
	}
	c.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("load comparison: %w", err)
	}
	if respA.Valid {
		c.ResponseAMessageID = &respA.Int64
	}
	if respB.Valid {
		c.ResponseBMessageID = &respB.Int64
	}
	c.Preference = preference.String
	return &c, nil
}
