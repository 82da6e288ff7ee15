package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mindsprite/mindsprite/internal/core"
)

// MessageStore handles the append-only chat history
type MessageStore struct {
	db *DB
}

// NewMessageStore creates a new message store
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append stores msg and fills in its ID. CreatedAt is raised to the latest
// timestamp already stored for the session so timestamps never go backwards.
func (s *MessageStore) Append(ctx context.Context, msg *core.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var id, ts int64
	err := s.db.conn.QueryRowContext(ctx, `
		INSERT INTO messages (session_id, role, content, created_at)
		SELECT ?, ?, ?, MAX(?, COALESCE((SELECT MAX(created_at) FROM messages WHERE session_id = ?), 0))
		RETURNING id, created_at
	`, msg.SessionID, string(msg.Role), msg.Content, toMillis(msg.CreatedAt), msg.SessionID).Scan(&id, &ts)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	msg.ID = id
	msg.CreatedAt = fromMillis(ts)
	return nil
}

// RecentContext returns the last 2*turns messages of a session, oldest first
func (s *MessageStore) RecentContext(ctx context.Context, sessionID string, turns int) ([]core.ContextTurn, error) {
	if turns <= 0 {
		return nil, nil
	}

	msgs, err := s.History(ctx, sessionID, turns*2)
	if err != nil {
		return nil, err
	}

	out := make([]core.ContextTurn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, core.ContextTurn{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// History returns up to limit of the most recent messages, oldest first
func (s *MessageStore) History(ctx context.Context, sessionID string, limit int) ([]*core.ChatMessage, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetByID returns a message by ID
func (s *MessageStore) GetByID(ctx context.Context, id int64) (*core.ChatMessage, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM messages WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, core.ErrRecordNotFound
	}
	return msgs[0], nil
}

// CountSince counts messages of any role stored for a session at or after since
func (s *MessageStore) CountSince(ctx context.Context, sessionID string, since time.Time) (int, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE session_id = ? AND created_at >= ?
	`, sessionID, toMillis(since)).Scan(&n)
	return n, err
}

func scanMessages(rows *sql.Rows) ([]*core.ChatMessage, error) {
	var msgs []*core.ChatMessage
	for rows.Next() {
		m := &core.ChatMessage{}
		var role string
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.Role = core.Role(role)
		m.CreatedAt = fromMillis(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
