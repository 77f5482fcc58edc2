package chatstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateConversation starts a new thread owned by clientID. userID is
// optional and may be empty for anonymous sessions.
func (s *Store) CreateConversation(ctx context.Context, clientID, userID string) (*Conversation, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: client_id is required", ErrValidation)
	}
	now := nowMs()
	var id int64
	if s.dialect == "postgres" {
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO conversations (client_id, user_id, created_at, last_message_at)
			 VALUES ($1, $2, $3, $3) RETURNING id`,
			clientID, nullStr(userID), now).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
	} else {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO conversations (client_id, user_id, created_at, last_message_at)
			 VALUES ($1, $2, $3, $3)`,
			clientID, nullStr(userID), now)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
	}
	return &Conversation{
		ID:            id,
		ClientID:      clientID,
		UserID:        userID,
		CreatedAt:     fromMs(now),
		LastMessageAt: fromMs(now),
	}, nil
}

// GetConversation loads one conversation header.
func (s *Store) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, user_id, title, created_at, last_message_at
		 FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// ListConversations returns a client's conversations, most recent activity
// first.
func (s *Store) ListConversations(ctx context.Context, clientID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, user_id, title, created_at, last_message_at
		 FROM conversations WHERE client_id = $1
		 ORDER BY last_message_at DESC, id DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and, through cascading foreign
// keys, its messages, feedback, timings, traces, and document overrides.
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c          Conversation
		userID     sql.NullString
		createdMs  int64
		lastMsgMs  int64
	)
	err := row.Scan(&c.ID, &c.ClientID, &userID, &c.Title, &createdMs, &lastMsgMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.UserID = userID.String
	c.CreatedAt = fromMs(createdMs)
	c.LastMessageAt = fromMs(lastMsgMs)
	return &c, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
