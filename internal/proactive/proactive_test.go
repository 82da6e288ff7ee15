package proactive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mindsprite/mindsprite/internal/core"
	"github.com/mindsprite/mindsprite/internal/lexicon"
	"github.com/mindsprite/mindsprite/internal/storage"
	"github.com/mindsprite/mindsprite/internal/testutil"
)

// newScheduler creates a scheduler over a fresh database and a fake clock
func newScheduler(t *testing.T) (*CareScheduler, *storage.DB, *testutil.Clock) {
	t.Helper()
	db := testutil.TestDB(t)
	clock := testutil.NewClock(testutil.BaseTime)
	s := NewCareScheduler(lexicon.MustDefault(), storage.NewCareStore(db), storage.NewMessageStore(db)).
		WithClock(clock.Now)
	return s, db, clock
}

// =============================================================================
// Detection
// =============================================================================

func TestCareDetector_InterviewTomorrow(t *testing.T) {
	d := NewCareDetector(lexicon.MustDefault()).WithClock(func() time.Time { return testutil.BaseTime })

	tasks := d.Detect(testutil.InterviewText, testutil.SessionA)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}

	emotion := tasks[0]
	if emotion.CareType != core.CareEmotionFollowup {
		t.Errorf("first task type = %s, want emotion_followup", emotion.CareType)
	}
	if emotion.Priority != core.PriorityHigh {
		t.Errorf("emotion priority = %s, want high", emotion.Priority)
	}
	if !emotion.ScheduledTime.Equal(testutil.BaseTime.Add(24 * time.Hour)) {
		t.Errorf("emotion scheduled at %v, want +1 day", emotion.ScheduledTime)
	}
	if emotion.TriggerSummary != "negative_immediate:"+testutil.InterviewText {
		t.Errorf("emotion summary = %q", emotion.TriggerSummary)
	}
	if !strings.Contains(emotion.CareMessage, testutil.InterviewText) {
		t.Errorf("care message %q does not quote the utterance", emotion.CareMessage)
	}
	if strings.Contains(emotion.CareMessage, "{summary}") {
		t.Errorf("care message still has a placeholder: %q", emotion.CareMessage)
	}

	event := tasks[1]
	if event.CareType != core.CareEventFollowup {
		t.Errorf("second task type = %s, want event_followup", event.CareType)
	}
	if event.Priority != core.PriorityMedium {
		t.Errorf("event priority = %s, want medium", event.Priority)
	}
	if !event.ScheduledTime.Equal(testutil.BaseTime.Add(48 * time.Hour)) {
		t.Errorf("event scheduled at %v, want +2 days", event.ScheduledTime)
	}
	if !strings.HasPrefix(event.TriggerSummary, "exam_interview:") {
		t.Errorf("event summary = %q", event.TriggerSummary)
	}

	for _, task := range tasks {
		if task.Status != core.CareStatusPending {
			t.Errorf("task status = %s, want pending", task.Status)
		}
		if task.SessionID != testutil.SessionA || task.TriggerContent != testutil.InterviewText {
			t.Errorf("task not bound to its utterance: %+v", task)
		}
	}
}

func TestCareDetector_Despair(t *testing.T) {
	d := NewCareDetector(lexicon.MustDefault()).WithClock(func() time.Time { return testutil.BaseTime })

	tasks := d.Detect(testutil.DespairText, testutil.SessionB)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].CareType != core.CareEmotionFollowup || tasks[0].Priority != core.PriorityHigh {
		t.Errorf("unexpected task %+v", tasks[0])
	}
	if !tasks[0].ScheduledTime.Equal(testutil.BaseTime.Add(24 * time.Hour)) {
		t.Errorf("scheduled at %v, want +1 day", tasks[0].ScheduledTime)
	}
}

func TestCareDetector_Rules(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		types []string
	}{
		{"no opportunity", testutil.PlainText, nil},
		{"event needs future marker", "面试好紧张", []string{"negative_immediate"}},
		{"future marker alone", "明天见", nil},
		{"first band wins", "好难过，压力好大，还和他吵架了", []string{"negative_immediate"}},
		{"extended band", "最近压力有点大", []string{"negative_extended"}},
		{"conflict band", "昨天和室友闹翻了", []string{"conflict"}},
		{"several categories", "下周要去医院体检，然后出差", []string{"health", "travel"}},
		{"one task per category", "明天考试，后天还有面试", []string{"exam_interview"}},
		{"band plus event", "打算下个月去旅行，但是好焦虑", []string{"negative_immediate", "travel"}},
	}

	d := NewCareDetector(lexicon.MustDefault())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := d.Detect(tt.text, testutil.SessionA)
			var got []string
			for _, task := range tasks {
				got = append(got, strings.SplitN(task.TriggerSummary, ":", 2)[0])
			}
			if strings.Join(got, ",") != strings.Join(tt.types, ",") {
				t.Errorf("Detect(%q) = %v, want %v", tt.text, got, tt.types)
			}
		})
	}
}

func TestExtractSummary(t *testing.T) {
	delims := lexicon.MustDefault().Care.SentenceDelimiters

	tests := []struct {
		name    string
		text    string
		keyword string
		want    string
	}{
		{"single sentence", "好紧张", "紧张", "好紧张"},
		{"picks keyword sentence", "今天下雨了。明天要面试！晚安", "面试", "明天要面试"},
		{"commas do not split", "我明天有面试，好紧张", "紧张", "我明天有面试，好紧张"},
		{"newline splits", "第一行\n  第二行很焦虑  ", "焦虑", "第二行很焦虑"},
		{
			"long sentence truncated",
			"这是一个非常非常非常非常非常非常非常非常非常非常长的句子而且我真的很紧张",
			"紧张",
			"这是一个非常非常非常非常非常非常非常非常非常非常长的句子而且...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractSummary(tt.text, tt.keyword, delims, 30)
			if got != tt.want {
				t.Errorf("extractSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Scheduling
// =============================================================================

func TestCareScheduler_DedupWhilePending(t *testing.T) {
	s, _, _ := newScheduler(t)
	ctx := testutil.TestContext(t)

	first := s.DetectAndSchedule(ctx, testutil.SessionA, testutil.InterviewText)
	if len(first) != 2 {
		t.Fatalf("expected 2 tasks created, got %d", len(first))
	}
	for _, task := range first {
		if task.ID == 0 {
			t.Error("scheduled task has no ID")
		}
	}

	again := s.DetectAndSchedule(ctx, testutil.SessionA, testutil.InterviewText)
	if len(again) != 0 {
		t.Fatalf("expected duplicates to be skipped, got %d", len(again))
	}

	// Another session is independent
	other := s.DetectAndSchedule(ctx, testutil.SessionB, testutil.InterviewText)
	if len(other) != 2 {
		t.Fatalf("expected 2 tasks for other session, got %d", len(other))
	}

	// Once finished, the same signature may be scheduled again
	if !s.Complete(ctx, first[0].ID) {
		t.Fatal("complete failed")
	}
	if !s.Schedule(ctx, s.Detect(testutil.InterviewText, testutil.SessionA)[0]) {
		t.Error("expected reschedule after completion to succeed")
	}
}

func TestCareScheduler_DueLifecycle(t *testing.T) {
	s, _, clock := newScheduler(t)
	ctx := testutil.TestContext(t)

	s.DetectAndSchedule(ctx, testutil.SessionA, testutil.InterviewText)

	clock.Advance(2 * time.Millisecond)
	if due := s.Due(ctx, testutil.SessionA); len(due) != 0 {
		t.Fatalf("expected nothing due yet, got %d", len(due))
	}

	clock.Advance(25 * time.Hour)
	due := s.Due(ctx, testutil.SessionA)
	if len(due) != 1 || due[0].CareType != core.CareEmotionFollowup {
		t.Fatalf("expected the emotion follow-up, got %+v", due)
	}

	// Not completed yet, so it is surfaced again
	if again := s.Due(ctx, testutil.SessionA); len(again) != 1 {
		t.Fatalf("expected task to stay due until completed, got %d", len(again))
	}

	if !s.Complete(ctx, due[0].ID) {
		t.Fatal("complete failed")
	}
	if s.Complete(ctx, due[0].ID) {
		t.Error("second complete should report false")
	}
	if s.Cancel(ctx, due[0].ID) {
		t.Error("cancel after complete should report false")
	}

	task, err := s.Get(ctx, due[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != core.CareStatusCompleted || task.ExecutedAt == nil {
		t.Errorf("completed task = %+v", task)
	}
	if due := s.Due(ctx, testutil.SessionA); len(due) != 0 {
		t.Fatalf("expected nothing due after completion, got %d", len(due))
	}

	// Two days later the event follow-up becomes due
	clock.Advance(24 * time.Hour)
	due = s.Due(ctx, testutil.SessionA)
	if len(due) != 1 || due[0].CareType != core.CareEventFollowup {
		t.Fatalf("expected the event follow-up, got %+v", due)
	}
}

func TestCareScheduler_DueOrdering(t *testing.T) {
	s, _, clock := newScheduler(t)
	ctx := testutil.TestContext(t)

	// medium event (+2d), then high band (+1d) in a second utterance
	s.DetectAndSchedule(ctx, testutil.SessionA, "明天考试")
	s.DetectAndSchedule(ctx, testutil.SessionA, "最近压力有点大")
	s.DetectAndSchedule(ctx, testutil.SessionA, testutil.DespairText)

	clock.Advance(10 * 24 * time.Hour)
	due := s.Due(ctx, testutil.SessionA)
	if len(due) != 3 {
		t.Fatalf("expected 3 due tasks, got %d", len(due))
	}
	if due[0].Priority != core.PriorityHigh {
		t.Errorf("first due priority = %s, want high", due[0].Priority)
	}
	if !due[1].ScheduledTime.Before(due[2].ScheduledTime) {
		t.Errorf("medium tasks not ordered by scheduled time: %v then %v", due[1].ScheduledTime, due[2].ScheduledTime)
	}
}

func TestCareScheduler_Cancel(t *testing.T) {
	s, _, clock := newScheduler(t)
	ctx := testutil.TestContext(t)

	created := s.DetectAndSchedule(ctx, testutil.SessionB, testutil.DespairText)
	if len(created) != 1 {
		t.Fatalf("expected 1 task, got %d", len(created))
	}
	if !s.Cancel(ctx, created[0].ID) {
		t.Fatal("cancel failed")
	}

	clock.Advance(48 * time.Hour)
	if due := s.Due(ctx, testutil.SessionB); len(due) != 0 {
		t.Errorf("cancelled task surfaced: %+v", due)
	}
	if s.Cancel(ctx, 9999) {
		t.Error("cancel of unknown task should report false")
	}
}

func TestCareScheduler_Purge(t *testing.T) {
	s, _, clock := newScheduler(t)
	ctx := testutil.TestContext(t)

	created := s.DetectAndSchedule(ctx, testutil.SessionA, testutil.InterviewText)
	s.Complete(ctx, created[0].ID)

	clock.Advance(29 * 24 * time.Hour)
	if n := s.Purge(ctx, 30); n != 0 {
		t.Fatalf("purged %d tasks too early", n)
	}

	clock.Advance(2 * 24 * time.Hour)
	if n := s.Purge(ctx, 30); n != 1 {
		t.Fatalf("expected 1 purged task, got %d", n)
	}

	// Pending tasks are never purged
	if _, err := s.Get(ctx, created[1].ID); err != nil {
		t.Errorf("pending task was purged: %v", err)
	}
}

func TestCareScheduler_MaybeScheduleRegular(t *testing.T) {
	s, db, clock := newScheduler(t)
	ctx := testutil.TestContext(t)
	messages := storage.NewMessageStore(db)

	// A session that never chatted gets nothing
	if task := s.MaybeScheduleRegular(ctx, testutil.SessionA); task != nil {
		t.Fatalf("expected nil for a session without messages, got %+v", task)
	}
	stored, err := storage.NewCareStore(db).ListBySession(ctx, testutil.SessionA, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("expected no stored tasks, got %d", len(stored))
	}

	first := &core.ChatMessage{
		SessionID: testutil.SessionA,
		Role:      core.RoleUser,
		Content:   "hi",
		CreatedAt: clock.Now(),
	}
	if err := messages.Append(ctx, first); err != nil {
		t.Fatalf("append: %v", err)
	}

	task := s.MaybeScheduleRegular(ctx, testutil.SessionA)
	if task == nil {
		t.Fatal("expected a regular care task")
	}
	if task.CareType != core.CareRegular || task.Priority != core.PriorityLow {
		t.Errorf("unexpected task %+v", task)
	}
	if task.TriggerContent != core.RegularCareTrigger {
		t.Errorf("trigger content = %q", task.TriggerContent)
	}
	if !task.ScheduledTime.Equal(testutil.BaseTime.Add(7 * 24 * time.Hour)) {
		t.Errorf("scheduled at %v, want +7 days", task.ScheduledTime)
	}

	if again := s.MaybeScheduleRegular(ctx, testutil.SessionA); again != nil {
		t.Error("expected nil within the lookback window")
	}

	// Once the first one is surfaced and the lookback has passed, another is allowed
	clock.Advance(7*24*time.Hour + time.Minute)
	for _, due := range s.Due(ctx, testutil.SessionA) {
		s.Complete(ctx, due.ID)
	}
	if next := s.MaybeScheduleRegular(ctx, testutil.SessionA); next == nil {
		t.Error("expected a new regular care task after the lookback window")
	}

	// A chatty session gets no check-in
	for i := 0; i < 10; i++ {
		msg := &core.ChatMessage{
			SessionID: testutil.SessionB,
			Role:      core.RoleUser,
			Content:   "hi",
			CreatedAt: clock.Now(),
		}
		if err := messages.Append(ctx, msg); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if task := s.MaybeScheduleRegular(ctx, testutil.SessionB); task != nil {
		t.Error("expected nil for an active session")
	}
}

func TestCareScheduler_StorageFailures(t *testing.T) {
	s, db, _ := newScheduler(t)
	ctx := context.Background()
	db.Close()

	if due := s.Due(ctx, testutil.SessionA); due == nil || len(due) != 0 {
		t.Errorf("expected empty non-nil list on read failure, got %v", due)
	}
	if created := s.DetectAndSchedule(ctx, testutil.SessionA, testutil.InterviewText); len(created) != 0 {
		t.Errorf("expected no tasks on write failure, got %d", len(created))
	}
	if s.Complete(ctx, 1) {
		t.Error("complete should fail on a closed store")
	}
	if n := s.Purge(ctx, 30); n != 0 {
		t.Errorf("purge on closed store = %d", n)
	}
	if task := s.MaybeScheduleRegular(ctx, testutil.SessionA); task != nil {
		t.Error("regular care should not be scheduled on a closed store")
	}
}
