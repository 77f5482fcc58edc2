package chatstore

import (
	"context"
	"fmt"
)

// Document selection stores deviations only: a resource with no row is
// enabled. Per-conversation overrides shadow per-user defaults, which shadow
// the enabled-by-default baseline.

// SetDocumentEnabled sets one per-conversation override.
func (s *Store) SetDocumentEnabled(ctx context.Context, conversationID int64, documentID string, enabled bool) error {
	if documentID == "" {
		return fmt.Errorf("%w: document id is required", ErrValidation)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO doc_selection (conversation_id, document_id, enabled)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (conversation_id, document_id) DO UPDATE SET enabled = $3`,
		conversationID, documentID, enabled)
	if err != nil {
		return fmt.Errorf("set document selection: %w", err)
	}
	return nil
}

// SetDocumentsEnabled applies one enabled state to many documents in a
// single transaction.
func (s *Store) SetDocumentsEnabled(ctx context.Context, conversationID int64, documentIDs []string, enabled bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set document selection: %w", err)
	}
	defer tx.Rollback()
	for _, id := range documentIDs {
		if id == "" {
			return fmt.Errorf("%w: document id is required", ErrValidation)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO doc_selection (conversation_id, document_id, enabled)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (conversation_id, document_id) DO UPDATE SET enabled = $3`,
			conversationID, id, enabled); err != nil {
			return fmt.Errorf("set document selection: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set document selection: %w", err)
	}
	return nil
}

// SetUserDefault sets one per-user default override.
func (s *Store) SetUserDefault(ctx context.Context, userID, documentID string, enabled bool) error {
	if userID == "" || documentID == "" {
		return fmt.Errorf("%w: user id and document id are required", ErrValidation)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_doc_defaults (user_id, document_id, enabled)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, document_id) DO UPDATE SET enabled = $3`,
		userID, documentID, enabled)
	if err != nil {
		return fmt.Errorf("set user default: %w", err)
	}
	return nil
}

// ConversationOverrides returns the stored per-conversation deviations.
func (s *Store) ConversationOverrides(ctx context.Context, conversationID int64) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, enabled FROM doc_selection WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load document selection: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var (
			id      string
			enabled bool
		)
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, fmt.Errorf("scan document selection: %w", err)
		}
		out[id] = enabled
	}
	return out, rows.Err()
}

// UserDefaults returns the stored per-user default deviations.
func (s *Store) UserDefaults(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, enabled FROM user_doc_defaults WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("load user defaults: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var (
			id      string
			enabled bool
		)
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, fmt.Errorf("scan user defaults: %w", err)
		}
		out[id] = enabled
	}
	return out, rows.Err()
}

// EffectiveEnabled resolves the enabled set for a turn: every id in all
// starts enabled, user defaults apply next, and conversation overrides win.
// userID may be empty.
func (s *Store) EffectiveEnabled(ctx context.Context, conversationID int64, userID string, all []string) (map[string]bool, error) {
	out := make(map[string]bool, len(all))
	for _, id := range all {
		out[id] = true
	}
	if userID != "" {
		defaults, err := s.UserDefaults(ctx, userID)
		if err != nil {
			return nil, err
		}
		for id, enabled := range defaults {
			if _, ok := out[id]; ok {
				out[id] = enabled
			}
		}
	}
	overrides, err := s.ConversationOverrides(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for id, enabled := range overrides {
		if _, ok := out[id]; ok {
			out[id] = enabled
		}
	}
	return out, nil
}
