package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/mindsprite/mindsprite/internal/core"
)

// CareStore handles scheduled care tasks
type CareStore struct {
	db *DB
}

// NewCareStore creates a new care store
func NewCareStore(db *DB) *CareStore {
	return &CareStore{db: db}
}

// Insert writes a pending task and fills in its ID. A pending task with the
// same (session, care_type, trigger_summary) yields core.ErrDuplicateRecord.
func (s *CareStore) Insert(ctx context.Context, task *core.CareTask) error {
	if task.Status == "" {
		task.Status = core.CareStatusPending
	}

	res, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO care_tasks (
			session_id, care_type, trigger_content, trigger_summary, care_message,
			scheduled_time, status, priority, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		task.SessionID, string(task.CareType), task.TriggerContent, task.TriggerSummary, task.CareMessage,
		toMillis(task.ScheduledTime), string(task.Status), string(task.Priority), toMillis(task.CreatedAt),
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
	task.ID = id
	return nil
}

// GetByID returns a task by ID
func (s *CareStore) GetByID(ctx context.Context, id int64) (*core.CareTask, error) {
	rows, err := s.db.conn.QueryContext(ctx, careSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks, err := scanCareTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, core.ErrRecordNotFound
	}
	return tasks[0], nil
}

// ListDue returns pending tasks with scheduled_time <= now,
// ordered by priority (high first) then scheduled_time.
func (s *CareStore) ListDue(ctx context.Context, sessionID string, now time.Time) ([]*core.CareTask, error) {
	rows, err := s.db.conn.QueryContext(ctx, careSelect+`
		WHERE session_id = ? AND status = 'pending' AND scheduled_time <= ?
		ORDER BY
			CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
			scheduled_time ASC,
			id ASC
	`, sessionID, toMillis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCareTasks(rows)
}

// ListBySession returns every task of a session, newest first
func (s *CareStore) ListBySession(ctx context.Context, sessionID string, status core.CareStatus, limit int) ([]*core.CareTask, error) {
	query := careSelect + ` WHERE session_id = ?`
	args := []interface{}{sessionID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCareTasks(rows)
}

// MarkCompleted flips a pending task to completed
func (s *CareStore) MarkCompleted(ctx context.Context, id int64, now time.Time) error {
	return s.finish(ctx, id, core.CareStatusCompleted, now)
}

// MarkCancelled flips a pending task to cancelled
func (s *CareStore) MarkCancelled(ctx context.Context, id int64, now time.Time) error {
	return s.finish(ctx, id, core.CareStatusCancelled, now)
}

// finish only touches pending rows; terminal tasks report core.ErrRecordNotFound.
func (s *CareStore) finish(ctx context.Context, id int64, status core.CareStatus, now time.Time) error {
	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE care_tasks SET status = ?, executed_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(status), toMillis(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrRecordNotFound
	}
	return nil
}

// CountCreatedSince counts tasks of one type created for a session at or after since
func (s *CareStore) CountCreatedSince(ctx context.Context, sessionID string, careType core.CareType, since time.Time) (int, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM care_tasks
		WHERE session_id = ? AND care_type = ? AND created_at >= ?
	`, sessionID, string(careType), toMillis(since)).Scan(&n)
	return n, err
}

// PurgeOlderThan removes completed and cancelled tasks finished before cutoff
func (s *CareStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.conn.ExecContext(ctx, `
		DELETE FROM care_tasks
		WHERE status IN ('completed', 'cancelled') AND executed_at < ?
	`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CareStats summarizes the care queue
type CareStats struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}

// GetStats counts tasks by status across all sessions
func (s *CareStore) GetStats(ctx context.Context) (*CareStats, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM care_tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &CareStats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch core.CareStatus(status) {
		case core.CareStatusPending:
			stats.Pending = n
		case core.CareStatusCompleted:
			stats.Completed = n
		case core.CareStatusCancelled:
			stats.Cancelled = n
		}
	}
	return stats, rows.Err()
}

const careSelect = `
	SELECT id, session_id, care_type, trigger_content, trigger_summary, care_message,
	       scheduled_time, status, priority, created_at, executed_at
	FROM care_tasks`

func scanCareTasks(rows *sql.Rows) ([]*core.CareTask, error) {
	var tasks []*core.CareTask
	for rows.Next() {
		t := &core.CareTask{}
		var careType, status, priority string
		var scheduled, created int64
		var executed sql.NullInt64

		if err := rows.Scan(
			&t.ID, &t.SessionID, &careType, &t.TriggerContent, &t.TriggerSummary, &t.CareMessage,
			&scheduled, &status, &priority, &created, &executed,
		); err != nil {
			return nil, err
		}

		t.CareType = core.CareType(careType)
		t.Status = core.CareStatus(status)
		t.Priority = core.ParsePriority(priority)
		t.ScheduledTime = fromMillis(scheduled)
		t.CreatedAt = fromMillis(created)
		t.ExecutedAt = fromNullMillis(executed)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
