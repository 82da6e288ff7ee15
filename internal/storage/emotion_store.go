package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mindsprite/mindsprite/internal/core"
)

// EmotionStore handles emotion analysis records
type EmotionStore struct {
	db *DB
}

// NewEmotionStore creates a new emotion store
func NewEmotionStore(db *DB) *EmotionStore {
	return &EmotionStore{db: db}
}

// Insert writes rec and fills in its ID. A second record for the same
// message is rejected with core.ErrDuplicateRecord.
func (s *EmotionStore) Insert(ctx context.Context, rec *core.EmotionRecord) error {
	secondary, err := encodeJSON(rec.SecondaryEmotions)
	if err != nil {
		return fmt.Errorf("encode secondary emotions: %w", err)
	}
	triggers, err := encodeJSON(rec.TriggerKeywords)
	if err != nil {
		return fmt.Errorf("encode trigger keywords: %w", err)
	}

	res, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO emotion_records (
			session_id, message_id, primary_emotion, intensity, valence, arousal,
			secondary_emotions, confidence, trigger_keywords, empathy_strategy,
			response_tone, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING
	`,
		rec.SessionID, rec.MessageID, string(rec.PrimaryEmotion), rec.Intensity, rec.Valence, rec.Arousal,
		secondary, rec.Confidence, triggers, string(rec.EmpathyStrategy),
		string(rec.ResponseTone), toMillis(rec.CreatedAt),
	)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrDuplicateRecord
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// GetByMessage returns the record attached to a user message
func (s *EmotionStore) GetByMessage(ctx context.Context, messageID int64) (*core.EmotionRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx, emotionSelect+` WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs, err := scanEmotions(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, core.ErrRecordNotFound
	}
	return recs[0], nil
}

// ListBySession returns the most recent records of a session, newest first
func (s *EmotionStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]*core.EmotionRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx, emotionSelect+`
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEmotions(rows)
}

const emotionSelect = `
	SELECT id, session_id, message_id, primary_emotion, intensity, valence, arousal,
	       secondary_emotions, confidence, trigger_keywords, empathy_strategy,
	       response_tone, created_at
	FROM emotion_records`

func scanEmotions(rows *sql.Rows) ([]*core.EmotionRecord, error) {
	var recs []*core.EmotionRecord
	for rows.Next() {
		r := &core.EmotionRecord{}
		var primary, strategy, tone, secondary, triggers string
		var created int64

		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.MessageID, &primary, &r.Intensity, &r.Valence, &r.Arousal,
			&secondary, &r.Confidence, &triggers, &strategy,
			&tone, &created,
		); err != nil {
			return nil, err
		}

		r.PrimaryEmotion = core.Emotion(primary)
		r.EmpathyStrategy = core.EmpathyStrategy(strategy)
		r.ResponseTone = core.ResponseTone(tone)
		r.CreatedAt = fromMillis(created)
		if err := decodeJSON(secondary, &r.SecondaryEmotions); err != nil {
			return nil, fmt.Errorf("decode secondary emotions: %w", err)
		}
		if err := decodeJSON(triggers, &r.TriggerKeywords); err != nil {
			return nil, fmt.Errorf("decode trigger keywords: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
