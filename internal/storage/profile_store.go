package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mindsprite/mindsprite/internal/core"
)

// ProfileStore handles per-session intimacy profiles
type ProfileStore struct {
	db *DB
}

// NewProfileStore creates a new profile store
func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Get returns the profile of a session or core.ErrRecordNotFound
func (s *ProfileStore) Get(ctx context.Context, sessionID string) (*core.UserProfile, error) {
	p := &core.UserProfile{}
	var created, updated int64

	err := s.db.conn.QueryRowContext(ctx, `
		SELECT session_id, intimacy_level, intimacy_exp, total_interactions, created_at, updated_at
		FROM user_profiles WHERE session_id = ?
	`, sessionID).Scan(&p.SessionID, &p.IntimacyLevel, &p.IntimacyExp, &p.TotalInteractions, &created, &updated)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return p, nil
}

// Upsert inserts or replaces the counters of a profile. created_at is kept on update.
func (s *ProfileStore) Upsert(ctx context.Context, p *core.UserProfile) error {
	if p.IntimacyLevel < 1 || p.IntimacyExp < 0 || p.IntimacyExp >= p.IntimacyLevel*50 {
		return fmt.Errorf("%w: profile level=%d exp=%d", core.ErrInvalidInput, p.IntimacyLevel, p.IntimacyExp)
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO user_profiles (session_id, intimacy_level, intimacy_exp, total_interactions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			intimacy_level = excluded.intimacy_level,
			intimacy_exp = excluded.intimacy_exp,
			total_interactions = excluded.total_interactions,
			updated_at = excluded.updated_at
	`, p.SessionID, p.IntimacyLevel, p.IntimacyExp, p.TotalInteractions, toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	return err
}
