package proactive

import (
	"context"
	"errors"
	"time"

	"github.com/mindsprite/mindsprite/internal/core"
	"github.com/mindsprite/mindsprite/internal/lexicon"
	"github.com/mindsprite/mindsprite/internal/logging"
	"github.com/mindsprite/mindsprite/internal/storage"
)

// CareScheduler materializes detected care opportunities and serves due tasks.
// Write failures are logged and reported as false; read failures yield empty lists.
type CareScheduler struct {
	detector *CareDetector
	tasks    *storage.CareStore
	messages *storage.MessageStore
	regular  lexicon.RegularCare
	now      func() time.Time
}

// NewCareScheduler creates a scheduler over the care and message stores
func NewCareScheduler(lex *lexicon.Lexicon, tasks *storage.CareStore, messages *storage.MessageStore) *CareScheduler {
	return &CareScheduler{
		detector: NewCareDetector(lex),
		tasks:    tasks,
		messages: messages,
		regular:  lex.Care.Regular,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source for the scheduler and its detector
func (s *CareScheduler) WithClock(now func() time.Time) *CareScheduler {
	s.now = now
	s.detector.WithClock(now)
	return s
}

// Detector returns the underlying detector
func (s *CareScheduler) Detector() *CareDetector {
	return s.detector
}

// Detect returns candidate tasks for text without writing them
func (s *CareScheduler) Detect(text, sessionID string) []*core.CareTask {
	return s.detector.Detect(text, sessionID)
}

// DetectAndSchedule detects care opportunities in text and schedules each one,
// returning only the tasks that were actually stored.
func (s *CareScheduler) DetectAndSchedule(ctx context.Context, sessionID, text string) []*core.CareTask {
	created := []*core.CareTask{}
	for _, task := range s.detector.Detect(text, sessionID) {
		if s.Schedule(ctx, task) {
			created = append(created, task)
		}
	}
	return created
}

// Schedule stores task. A pending task with the same signature is left alone.
func (s *CareScheduler) Schedule(ctx context.Context, task *core.CareTask) bool {
	err := s.tasks.Insert(ctx, task)
	switch {
	case err == nil:
		logging.WithFields(map[string]interface{}{
			"session":   task.SessionID,
			"task_id":   task.ID,
			"care_type": task.CareType,
		}).Debug("scheduled care task for %s", task.ScheduledTime.Format(time.RFC3339))
		return true
	case errors.Is(err, core.ErrDuplicateRecord):
		logging.WithFields(map[string]interface{}{
			"session":   task.SessionID,
			"care_type": task.CareType,
		}).Debug("care task already pending: %s", task.TriggerSummary)
		return false
	default:
		logging.WithFields(map[string]interface{}{
			"session":   task.SessionID,
			"care_type": task.CareType,
		}).Warn("failed to schedule care task: %v", err)
		return false
	}
}

// Due returns pending tasks with scheduled_time at or before now, high
// priority first, then oldest first.
func (s *CareScheduler) Due(ctx context.Context, sessionID string) []*core.CareTask {
	tasks, err := s.tasks.ListDue(ctx, sessionID, s.now())
	if err != nil {
		logging.WithField("session", sessionID).Warn("failed to list due care tasks: %v", err)
		return []*core.CareTask{}
	}
	if tasks == nil {
		tasks = []*core.CareTask{}
	}
	return tasks
}

// Get returns a task by ID
func (s *CareScheduler) Get(ctx context.Context, id int64) (*core.CareTask, error) {
	return s.tasks.GetByID(ctx, id)
}

// Complete marks a pending task completed
func (s *CareScheduler) Complete(ctx context.Context, id int64) bool {
	return s.finish(ctx, id, core.CareStatusCompleted)
}

// Cancel marks a pending task cancelled
func (s *CareScheduler) Cancel(ctx context.Context, id int64) bool {
	return s.finish(ctx, id, core.CareStatusCancelled)
}

func (s *CareScheduler) finish(ctx context.Context, id int64, status core.CareStatus) bool {
	var err error
	if status == core.CareStatusCompleted {
		err = s.tasks.MarkCompleted(ctx, id, s.now())
	} else {
		err = s.tasks.MarkCancelled(ctx, id, s.now())
	}

	if err != nil {
		if !errors.Is(err, core.ErrRecordNotFound) {
			logging.WithField("task_id", id).Warn("failed to mark care task %s: %v", status, err)
		}
		return false
	}
	return true
}

// Purge removes completed and cancelled tasks finished more than ageDays ago
func (s *CareScheduler) Purge(ctx context.Context, ageDays int) int {
	cutoff := s.now().Add(-time.Duration(ageDays) * day)
	n, err := s.tasks.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		logging.Warn("failed to purge care tasks: %v", err)
		return 0
	}
	if n > 0 {
		logging.WithField("removed", n).Info("purged finished care tasks older than %d days", ageDays)
	}
	return int(n)
}

// MaybeScheduleRegular schedules a low-priority check-in when the session has
// chatted before, had no regular care recently, and has been quiet. It
// returns nil otherwise.
func (s *CareScheduler) MaybeScheduleRegular(ctx context.Context, sessionID string) *core.CareTask {
	now := s.now()
	log := logging.WithField("session", sessionID)

	total, err := s.messages.CountSince(ctx, sessionID, time.Time{})
	if err != nil {
		log.Warn("failed to count messages: %v", err)
		return nil
	}
	if total == 0 {
		return nil
	}

	recent, err := s.tasks.CountCreatedSince(ctx, sessionID, core.CareRegular,
		now.Add(-time.Duration(s.regular.LookbackDays)*day))
	if err != nil {
		log.Warn("failed to count regular care tasks: %v", err)
		return nil
	}
	if recent > 0 {
		return nil
	}

	messages, err := s.messages.CountSince(ctx, sessionID, now.Add(-time.Duration(s.regular.QuietWindowDays)*day))
	if err != nil {
		log.Warn("failed to count recent messages: %v", err)
		return nil
	}
	if messages >= s.regular.MaxMessages {
		return nil
	}

	task := s.detector.regularTask(sessionID)
	if !s.Schedule(ctx, task) {
		return nil
	}
	return task
}

// Stats summarizes the care queue across sessions
func (s *CareScheduler) Stats(ctx context.Context) (*storage.CareStats, error) {
	return s.tasks.GetStats(ctx)
}
