package companion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mindsprite/mindsprite/internal/core"
	"github.com/mindsprite/mindsprite/internal/intimacy"
	"github.com/mindsprite/mindsprite/internal/lexicon"
	"github.com/mindsprite/mindsprite/internal/storage"
	"github.com/mindsprite/mindsprite/internal/testutil"
)

type fixture struct {
	orch    *Orchestrator
	db      *storage.DB
	clock   *testutil.Clock
	replier *testutil.MockReplier
}

func newFixture(t *testing.T, db *storage.DB) *fixture {
	t.Helper()
	if db == nil {
		db = testutil.TestDB(t)
	}
	clock := testutil.NewClock(testutil.BaseTime)
	replier := &testutil.MockReplier{}

	orch := New(Config{
		DB:       db,
		Lexicon:  lexicon.MustDefault(),
		Replier:  replier,
		Intimacy: intimacy.DefaultConfig(),
		Now:      clock.Now,
		Rand:     func() float64 { return 0.99 },
	})
	return &fixture{orch: orch, db: db, clock: clock, replier: replier}
}

func TestHandle_InterviewTurn(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	res, err := f.orch.Handle(ctx, testutil.SessionA, testutil.InterviewText)
	require.NoError(t, err)

	assert.Equal(t, "收到："+testutil.InterviewText, res.Reply)
	assert.Equal(t, core.EmotionAnxiety, res.Emotion.PrimaryEmotion)
	assert.GreaterOrEqual(t, res.Emotion.Intensity, 5.0)
	assert.LessOrEqual(t, res.Emotion.Intensity, 7.0)
	assert.Equal(t, core.StrategyComfort, res.Emotion.EmpathyStrategy)

	require.Len(t, res.CareTasksCreated, 2)
	assert.Equal(t, core.CareEmotionFollowup, res.CareTasksCreated[0].CareType)
	assert.Equal(t, core.PriorityHigh, res.CareTasksCreated[0].Priority)
	assert.Equal(t, testutil.BaseTime.Add(24*time.Hour), res.CareTasksCreated[0].ScheduledTime)
	assert.Equal(t, core.CareEventFollowup, res.CareTasksCreated[1].CareType)
	assert.Equal(t, core.PriorityMedium, res.CareTasksCreated[1].Priority)
	assert.Equal(t, testutil.BaseTime.Add(48*time.Hour), res.CareTasksCreated[1].ScheduledTime)

	require.NotNil(t, res.Award)
	assert.Equal(t, 15, res.Award.CurrentExp)
	assert.Equal(t, 1, res.Award.NewLevel)
	assert.False(t, res.Award.LeveledUp)

	history, err := f.orch.History(ctx, testutil.SessionA, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, testutil.InterviewText, history[0].Content)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
	assert.Equal(t, res.MessageID, history[0].ID)

	calls := f.replier.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, lexicon.MustDefault().Replies.Persona)
	assert.Contains(t, calls[0].System, "anxiety")
	assert.Empty(t, calls[0].History)
}

func TestPendingCare_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	_, err := f.orch.Handle(ctx, testutil.SessionA, testutil.InterviewText)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Millisecond)
	msgs, err := f.orch.PendingCare(ctx, testutil.SessionA)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	f.clock.Advance(25 * time.Hour)
	msgs, err = f.orch.PendingCare(ctx, testutil.SessionA)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], testutil.InterviewText)

	msgs, err = f.orch.PendingCare(ctx, testutil.SessionA)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	f.clock.Advance(24 * time.Hour)
	msgs, err = f.orch.PendingCare(ctx, testutil.SessionA)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "event follow-up is due two days after the turn")
}

func TestPendingCare_CompletesSurfacedTasks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	res, err := f.orch.Handle(ctx, testutil.SessionB, testutil.DespairText)
	require.NoError(t, err)
	require.Len(t, res.CareTasksCreated, 1)
	assert.Equal(t, core.PriorityHigh, res.CareTasksCreated[0].Priority)

	f.clock.Advance(25 * time.Hour)
	_, err = f.orch.PendingCare(ctx, testutil.SessionB)
	require.NoError(t, err)

	task, err := f.orch.Care().Get(ctx, res.CareTasksCreated[0].ID)
	require.NoError(t, err)
	assert.Equal(t, core.CareStatusCompleted, task.Status)
	require.NotNil(t, task.ExecutedAt)
}

func TestPendingCare_SchedulesRegularCheckIn(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	require.NoError(t, storage.NewMessageStore(f.db).Append(ctx, &core.ChatMessage{
		SessionID: testutil.SessionA,
		Role:      core.RoleUser,
		Content:   testutil.PlainText,
		CreatedAt: f.clock.Now(),
	}))

	_, err := f.orch.PendingCare(ctx, testutil.SessionA)
	require.NoError(t, err)

	f.clock.Advance(7*24*time.Hour + time.Minute)
	msgs, err := f.orch.PendingCare(ctx, testutil.SessionA)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, lexicon.MustDefault().Care.Regular.Template, msgs[0])
}

func TestPendingCare_UnknownSessionStoresNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	msgs, err := f.orch.PendingCare(ctx, testutil.SessionB)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	tasks, err := storage.NewCareStore(f.db).ListBySession(ctx, testutil.SessionB, "", 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	f.clock.Advance(8 * 24 * time.Hour)
	msgs, err = f.orch.PendingCare(ctx, testutil.SessionB)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHandle_RejectsScript(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	_, err := f.orch.Handle(ctx, testutil.SessionA, testutil.ScriptText)
	require.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Equal(t, core.KindInvalidInput, core.KindOf(err))

	history, err := f.orch.History(ctx, testutil.SessionA, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	records, err := storage.NewEmotionStore(f.db).ListBySession(ctx, testutil.SessionA, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, f.replier.Calls())
}

func TestHandle_InvalidSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	for _, id := range []string{"", "short", "has spaces in it", "../../etc/passwd"} {
		_, err := f.orch.Handle(ctx, id, testutil.PlainText)
		assert.ErrorIs(t, err, core.ErrInvalidSession, "session %q", id)
	}

	_, err := f.orch.Handle(ctx, core.NewSessionID(), testutil.PlainText)
	assert.NoError(t, err)
}

func TestHandle_ModelFailureUsesFallback(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)
	f.replier.ReplyFunc = func(context.Context, string, []core.ContextTurn, string) (string, error) {
		return "", errors.New("connection refused")
	}

	res, err := f.orch.Handle(ctx, testutil.SessionA, testutil.PlainText)
	require.NoError(t, err)
	assert.Equal(t, lexicon.MustDefault().Replies.Fallback, res.Reply)
	assert.Equal(t, 15, res.Award.CurrentExp)

	history, err := f.orch.History(ctx, testutil.SessionA, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, res.Reply, history[1].Content)
}

func TestHandle_ModelTimeoutUsesFallback(t *testing.T) {
	db := testutil.TestDB(t)
	replier := &testutil.MockReplier{
		ReplyFunc: func(ctx context.Context, _ string, _ []core.ContextTurn, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	orch := New(Config{DB: db, Replier: replier, ReplyTimeout: 50 * time.Millisecond})

	res, err := orch.Handle(testutil.TestContext(t), testutil.SessionA, testutil.PlainText)
	require.NoError(t, err)
	assert.Equal(t, lexicon.MustDefault().Replies.Fallback, res.Reply)
}

func TestHandle_PassesRecentContext(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	_, err := f.orch.Handle(ctx, testutil.SessionA, "你好呀")
	require.NoError(t, err)
	_, err = f.orch.Handle(ctx, testutil.SessionA, "今天有点累")
	require.NoError(t, err)

	calls := f.replier.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []core.ContextTurn{
		{Role: core.RoleUser, Content: "你好呀"},
		{Role: core.RoleAssistant, Content: "收到：你好呀"},
	}, calls[1].History)
	assert.Equal(t, "今天有点累", calls[1].User)
}

func TestHandle_StorageUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.db.Close()

	_, err := f.orch.Handle(context.Background(), testutil.SessionA, testutil.PlainText)
	require.ErrorIs(t, err, core.ErrStorageUnavailable)
	assert.Equal(t, core.KindStorageUnavailable, core.KindOf(err))
	assert.Empty(t, f.replier.Calls())
}

func TestHandle_CancelledContext(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.replier.ReplyFunc = func(context.Context, string, []core.ContextTurn, string) (string, error) {
		cancel()
		return "", context.Canceled
	}

	_, err := f.orch.Handle(ctx, testutil.SessionA, testutil.PlainText)
	require.ErrorIs(t, err, context.Canceled)

	// The user message stays without a reply, which is a valid state
	history, err := f.orch.History(context.Background(), testutil.SessionA, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.RoleUser, history[0].Role)
}

func TestHandle_OneEmotionRecordPerUserMessage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	texts := []string{testutil.InterviewText, testutil.PlainText, "讨厌死了！！", testutil.DespairText}
	for _, text := range texts {
		_, err := f.orch.Handle(ctx, testutil.SessionA, text)
		require.NoError(t, err)
	}

	history, err := f.orch.History(ctx, testutil.SessionA, 0)
	require.NoError(t, err)
	records, err := storage.NewEmotionStore(f.db).ListBySession(ctx, testutil.SessionA, 100)
	require.NoError(t, err)

	byMessage := map[int64]int{}
	for _, rec := range records {
		byMessage[rec.MessageID]++
	}
	users := 0
	for _, msg := range history {
		if msg.Role != core.RoleUser {
			continue
		}
		users++
		assert.Equal(t, 1, byMessage[msg.ID], "message %d", msg.ID)
	}
	assert.Equal(t, len(texts), users)
	assert.Len(t, records, len(texts))
}

func TestHandle_ExpStaysBelowThreshold(t *testing.T) {
	db := testutil.TestDB(t)
	orch := New(Config{
		DB:       db,
		Replier:  &testutil.MockReplier{},
		Intimacy: intimacy.DefaultConfig(),
		Rand:     func() float64 { return 0 },
	})
	ctx := testutil.TestContext(t)

	for i := 0; i < 30; i++ {
		res, err := orch.Handle(ctx, testutil.SessionA, fmt.Sprintf("第%d句话", i))
		require.NoError(t, err)
		assert.Equal(t, 30, res.Award.ExpGained)
		assert.GreaterOrEqual(t, res.Award.CurrentExp, 0)
		assert.Less(t, res.Award.CurrentExp, res.Award.NewLevel*intimacy.ExpPerLevel)
		assert.Equal(t, i+1, res.Award.TotalInteractions)
	}
}

func TestHandle_NoDuplicatePendingCare(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	first, err := f.orch.Handle(ctx, testutil.SessionA, testutil.InterviewText)
	require.NoError(t, err)
	require.Len(t, first.CareTasksCreated, 2)

	second, err := f.orch.Handle(ctx, testutil.SessionA, testutil.InterviewText)
	require.NoError(t, err)
	assert.Empty(t, second.CareTasksCreated)

	other, err := f.orch.Handle(ctx, testutil.SessionB, testutil.InterviewText)
	require.NoError(t, err)
	assert.Len(t, other.CareTasksCreated, 2)
}

func TestHandle_MessageIDsIncrease(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	for i := 0; i < 5; i++ {
		_, err := f.orch.Handle(ctx, testutil.SessionA, fmt.Sprintf("消息%d", i))
		require.NoError(t, err)
	}

	history, err := f.orch.History(ctx, testutil.SessionA, 0)
	require.NoError(t, err)
	require.Len(t, history, 10)
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].ID, history[i-1].ID)
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
	}
}

func TestHandle_ConcurrentSessions(t *testing.T) {
	f := newFixture(t, testutil.FileDB(t))
	ctx := testutil.TestContext(t)

	sessions := []string{"session-aa", "session-bb"}
	const turns = 5

	g, gctx := errgroup.WithContext(ctx)
	for _, sid := range sessions {
		sid := sid
		g.Go(func() error {
			for i := 0; i < turns; i++ {
				if _, err := f.orch.Handle(gctx, sid, fmt.Sprintf("%s 第%d轮", sid, i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, sid := range sessions {
		history, err := f.orch.History(ctx, sid, 0)
		require.NoError(t, err)
		assert.Len(t, history, turns*2)

		profile, err := f.orch.Profile(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, turns, profile.TotalInteractions)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	res, err := f.orch.Handle(ctx, testutil.SessionA, testutil.InterviewText)
	require.NoError(t, err)
	id := res.CareTasksCreated[0].ID

	assert.ErrorIs(t, f.orch.Cancel(ctx, testutil.SessionB, id), core.ErrRecordNotFound)
	require.NoError(t, f.orch.Cancel(ctx, testutil.SessionA, id))
	assert.ErrorIs(t, f.orch.Cancel(ctx, testutil.SessionA, id), core.ErrRecordNotFound)
	assert.ErrorIs(t, f.orch.Cancel(ctx, testutil.SessionA, 9999), core.ErrRecordNotFound)

	f.clock.Advance(25 * time.Hour)
	msgs, err := f.orch.PendingCare(ctx, testutil.SessionA)
	require.NoError(t, err)
	assert.Empty(t, msgs, "cancelled task must not surface")
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	_, err := f.orch.Handle(ctx, testutil.SessionA, testutil.InterviewText)
	require.NoError(t, err)
	_, err = f.orch.Handle(ctx, testutil.SessionB, testutil.PlainText)
	require.NoError(t, err)

	require.NoError(t, f.orch.DeleteSession(ctx, testutil.SessionA))

	history, err := f.orch.History(ctx, testutil.SessionA, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	profile, err := f.orch.Profile(ctx, testutil.SessionA)
	require.NoError(t, err)
	assert.Equal(t, 1, profile.IntimacyLevel)
	assert.Equal(t, 0, profile.TotalInteractions)

	f.clock.Advance(3 * 24 * time.Hour)
	msgs, err := f.orch.PendingCare(ctx, testutil.SessionA)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	other, err := f.orch.History(ctx, testutil.SessionB, 0)
	require.NoError(t, err)
	assert.Len(t, other, 2)

	assert.ErrorIs(t, f.orch.DeleteSession(ctx, "bad id"), core.ErrInvalidSession)
}

func TestProfile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TestContext(t)

	fresh, err := f.orch.Profile(ctx, testutil.SessionA)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.IntimacyLevel)
	assert.Equal(t, 50, fresh.ExpNeeded)
	assert.Equal(t, lexicon.MustDefault().LevelTitle(1), fresh.Title)

	for i := 0; i < 4; i++ {
		_, err := f.orch.Handle(ctx, testutil.SessionA, fmt.Sprintf("第%d次聊天", i))
		require.NoError(t, err)
	}

	p, err := f.orch.Profile(ctx, testutil.SessionA)
	require.NoError(t, err)
	assert.Equal(t, 2, p.IntimacyLevel)
	assert.Equal(t, 10, p.IntimacyExp)
	assert.Equal(t, 100, p.ExpNeeded)
	assert.Equal(t, "点头之交", p.Title)
}
