package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/researchd/researchd/internals/schemas"
)

type Session struct {
	ID           string
	Title        string
	Conversation []schemas.ChatMessage
	CreatedAt    string
	UpdatedAt    string
}

var ErrNotFound = errors.New("not found")

// EnsureSession creates the session row if absent. Sessions are created
// lazily on first reference.
func (s *Store) EnsureSession(ctx context.Context, sessionID string) error {
	timestamp := now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, conversation, created_at, updated_at)
VALUES (?, '[]', ?, ?)
ON CONFLICT(id) DO NOTHING
`, sessionID, timestamp, timestamp)
	return err
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, title, conversation, created_at, updated_at
FROM sessions
WHERE id = ?
`, sessionID)
	return scanSession(row)
}

// ListSessions returns sessions ordered by last update, newest first,
// bounded at limit.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, conversation, created_at, updated_at
FROM sessions
ORDER BY updated_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// DeleteSession removes the session; tasks and output files cascade.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateSessionConversation(ctx context.Context, sessionID string, conversation []schemas.ChatMessage) error {
	data, err := json.Marshal(conversation)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE sessions
SET conversation = ?, updated_at = ?
WHERE id = ?
`, string(data), now(), sessionID)
	return err
}

func (s *Store) SetSessionTitle(ctx context.Context, sessionID string, title string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE sessions
SET title = ?, updated_at = ?
WHERE id = ?
`, nullIfEmpty(title), now(), sessionID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var session Session
	var title sql.NullString
	var conversation string
	if err := row.Scan(&session.ID, &title, &conversation, &session.CreatedAt, &session.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	session.Title = title.String
	if conversation != "" {
		if err := json.Unmarshal([]byte(conversation), &session.Conversation); err != nil {
			return nil, fmt.Errorf("failed to decode conversation: %w", err)
		}
	}
	return &session, nil
}
