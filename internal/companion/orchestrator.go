// Package companion ties the classifier, care scheduler, intimacy service and
// model client into the per-turn and per-page-load entry points.
package companion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mindsprite/mindsprite/internal/core"
	"github.com/mindsprite/mindsprite/internal/emotion"
	"github.com/mindsprite/mindsprite/internal/intimacy"
	"github.com/mindsprite/mindsprite/internal/lexicon"
	"github.com/mindsprite/mindsprite/internal/llm"
	"github.com/mindsprite/mindsprite/internal/logging"
	"github.com/mindsprite/mindsprite/internal/proactive"
	"github.com/mindsprite/mindsprite/internal/sanitize"
	"github.com/mindsprite/mindsprite/internal/storage"
)

const (
	// DefaultReplyTimeout bounds one model call
	DefaultReplyTimeout = 30 * time.Second
	// DefaultContextTurns is how many prior exchanges are sent to the model
	DefaultContextTurns = 5

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// TurnResult is returned by Handle
type TurnResult struct {
	MessageID        int64                 `json:"message_id"`
	Reply            string                `json:"reply"`
	Emotion          core.EmotionAnalysis  `json:"emotion"`
	CareTasksCreated []*core.CareTask      `json:"care_tasks_created"`
	Award            *intimacy.AwardResult `json:"award"`
}

// ProfileView is a profile plus its derived display fields
type ProfileView struct {
	*core.UserProfile
	Title     string `json:"title"`
	ExpNeeded int    `json:"exp_needed"`
}

// Config for the orchestrator
type Config struct {
	DB       *storage.DB
	Lexicon  *lexicon.Lexicon
	Replier  llm.Replier
	Intimacy intimacy.Config

	ReplyTimeout time.Duration
	ContextTurns int

	// Now and Rand replace the wall clock and the double-exp draw
	Now  func() time.Time
	Rand func() float64
}

// Orchestrator owns one turn end to end. It holds no per-session state;
// callers serialize turns of the same session.
type Orchestrator struct {
	db         *storage.DB
	lex        *lexicon.Lexicon
	messages   *storage.MessageStore
	sanitizer  *sanitize.Sanitizer
	classifier *emotion.Classifier
	care       *proactive.CareScheduler
	intimacy   *intimacy.Service
	replier    llm.Replier

	replyTimeout time.Duration
	contextTurns int
	now          func() time.Time
}

// New wires an orchestrator over cfg.DB
func New(cfg Config) *Orchestrator {
	lex := cfg.Lexicon
	if lex == nil {
		lex = lexicon.MustDefault()
	}
	replier := cfg.Replier
	if replier == nil {
		replier = llm.Offline{}
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = DefaultContextTurns
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	messages := storage.NewMessageStore(cfg.DB)
	intimacySvc := intimacy.NewService(storage.NewProfileStore(cfg.DB), lex, cfg.Intimacy).WithClock(now)
	if cfg.Rand != nil {
		intimacySvc.WithRand(cfg.Rand)
	}

	return &Orchestrator{
		db:           cfg.DB,
		lex:          lex,
		messages:     messages,
		sanitizer:    sanitize.New(),
		classifier:   emotion.NewClassifier(lex, storage.NewEmotionStore(cfg.DB)).WithClock(now),
		care:         proactive.NewCareScheduler(lex, storage.NewCareStore(cfg.DB), messages).WithClock(now),
		intimacy:     intimacySvc,
		replier:      replier,
		replyTimeout: cfg.ReplyTimeout,
		contextTurns: cfg.ContextTurns,
		now:          now,
	}
}

// Care exposes the care scheduler for background jobs and the care stream
func (o *Orchestrator) Care() *proactive.CareScheduler {
	return o.care
}

// Handle runs one user turn. Only invalid input and storage failures abort
// the turn; a model failure is replaced by the fallback reply.
func (o *Orchestrator) Handle(ctx context.Context, sessionID, raw string) (*TurnResult, error) {
	if err := core.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	text, err := o.sanitizer.Clean(raw)
	if err != nil {
		return nil, err
	}

	log := logging.WithField("session", sessionID)

	history, err := o.messages.RecentContext(ctx, sessionID, o.contextTurns)
	if err != nil {
		log.Warn("failed to load conversation context: %v", err)
		history = nil
	}

	userMsg := &core.ChatMessage{SessionID: sessionID, Role: core.RoleUser, Content: text, CreatedAt: o.now()}
	if err := o.messages.Append(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("%w: append user message: %v", core.ErrStorageUnavailable, err)
	}

	analysis := o.classifier.Classify(ctx, sessionID, userMsg.ID, text)
	created := o.care.DetectAndSchedule(ctx, sessionID, text)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reply := o.reply(ctx, sessionID, analysis, history, text)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	botMsg := &core.ChatMessage{SessionID: sessionID, Role: core.RoleAssistant, Content: reply, CreatedAt: o.now()}
	if err := o.messages.Append(ctx, botMsg); err != nil {
		return nil, fmt.Errorf("%w: append assistant message: %v", core.ErrStorageUnavailable, err)
	}

	award, err := o.intimacy.Award(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}

	log.Info("turn handled: emotion=%s intensity=%.1f care=%d level=%d",
		analysis.PrimaryEmotion, analysis.Intensity, len(created), award.NewLevel)

	return &TurnResult{
		MessageID:        userMsg.ID,
		Reply:            reply,
		Emotion:          analysis,
		CareTasksCreated: created,
		Award:            award,
	}, nil
}

func (o *Orchestrator) reply(ctx context.Context, sessionID string, analysis core.EmotionAnalysis, history []core.ContextTurn, text string) string {
	var title string
	profile, err := o.intimacy.Profile(ctx, sessionID)
	if err == nil {
		title = o.lex.LevelTitle(profile.IntimacyLevel)
	} else {
		profile = nil
	}
	system := llm.BuildSystemPrompt(o.lex.Replies.Persona, analysis, profile, title)

	replyCtx, cancel := context.WithTimeout(ctx, o.replyTimeout)
	defer cancel()

	reply, err := o.replier.Reply(replyCtx, system, history, text)
	if err != nil || reply == "" {
		if err == nil {
			err = fmt.Errorf("%w: empty reply", core.ErrModelUnavailable)
		}
		if !errors.Is(err, core.ErrModelUnavailable) {
			err = fmt.Errorf("%w: %v", core.ErrModelUnavailable, err)
		}
		logging.WithField("session", sessionID).Warn("using fallback reply: %v", err)
		return o.lex.Replies.Fallback
	}
	return reply
}

// PendingCare returns the care messages due for a session and marks them
// completed. It then considers a regular check-in for a later visit.
func (o *Orchestrator) PendingCare(ctx context.Context, sessionID string) ([]string, error) {
	if err := core.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	due := o.care.Due(ctx, sessionID)
	out := make([]string, 0, len(due))
	for _, task := range due {
		out = append(out, task.CareMessage)
		o.care.Complete(ctx, task.ID)
	}

	o.care.MaybeScheduleRegular(ctx, sessionID)
	return out, nil
}

// Cancel cancels a pending care task owned by the session
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string, taskID int64) error {
	if err := core.ValidateSessionID(sessionID); err != nil {
		return err
	}

	task, err := o.care.Get(ctx, taskID)
	if errors.Is(err, core.ErrRecordNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: get care task: %v", core.ErrStorageUnavailable, err)
	}
	if task.SessionID != sessionID || task.Status != core.CareStatusPending {
		return fmt.Errorf("%w: no pending care task %d", core.ErrRecordNotFound, taskID)
	}

	if !o.care.Cancel(ctx, taskID) {
		return fmt.Errorf("%w: cancel care task %d", core.ErrStorageUnavailable, taskID)
	}
	return nil
}

// DeleteSession removes every record of a session
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	if err := core.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := o.db.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	logging.WithField("session", sessionID).Info("session deleted")
	return nil
}

// Profile returns the intimacy profile of a session
func (o *Orchestrator) Profile(ctx context.Context, sessionID string) (*ProfileView, error) {
	if err := core.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	p, err := o.intimacy.Profile(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &ProfileView{
		UserProfile: p,
		Title:       o.lex.LevelTitle(p.IntimacyLevel),
		ExpNeeded:   p.IntimacyLevel * intimacy.ExpPerLevel,
	}, nil
}

// History returns up to limit recent messages, oldest first
func (o *Orchestrator) History(ctx context.Context, sessionID string, limit int) ([]*core.ChatMessage, error) {
	if err := core.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	msgs, err := o.messages.History(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	if msgs == nil {
		msgs = []*core.ChatMessage{}
	}
	return msgs, nil
}
