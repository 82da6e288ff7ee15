package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mindsprite/mindsprite/internal/core"
)

// CacheStore keeps model replies keyed by a hash of their input
type CacheStore struct {
	db *DB
}

// NewCacheStore creates a new cache store
func NewCacheStore(db *DB) *CacheStore {
	return &CacheStore{db: db}
}

// Get returns a cached response created at or after notBefore
func (s *CacheStore) Get(ctx context.Context, inputHash, model string, notBefore time.Time) (string, error) {
	var response string
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT response FROM ai_cache
		WHERE input_hash = ? AND model = ? AND created_at >= ?
	`, inputHash, model, toMillis(notBefore)).Scan(&response)

	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrRecordNotFound
	}
	return response, err
}

// Put stores or refreshes a cached response
func (s *CacheStore) Put(ctx context.Context, inputHash, model, response string, now time.Time) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO ai_cache (input_hash, model, response, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(input_hash, model) DO UPDATE SET
			response = excluded.response,
			created_at = excluded.created_at
	`, inputHash, model, response, toMillis(now))
	return err
}

// PurgeOlderThan drops cache rows created before cutoff
func (s *CacheStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.conn.ExecContext(ctx, `DELETE FROM ai_cache WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
