package proactive

import (
	"strings"
	"time"

	"github.com/mindsprite/mindsprite/internal/core"
	"github.com/mindsprite/mindsprite/internal/lexicon"
)

const day = 24 * time.Hour

// CareDetector turns a user utterance into candidate care tasks.
// It never writes; the only impure input is the clock.
type CareDetector struct {
	lex *lexicon.Lexicon
	now func() time.Time
}

// NewCareDetector creates a detector over the frozen care tables
func NewCareDetector(lex *lexicon.Lexicon) *CareDetector {
	return &CareDetector{
		lex: lex,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used for scheduled times
func (d *CareDetector) WithClock(now func() time.Time) *CareDetector {
	d.now = now
	return d
}

// Detect returns at most one emotion follow-up (first matching band) and at
// most one event follow-up per category. Event follow-ups require a future
// marker somewhere in the text.
func (d *CareDetector) Detect(text, sessionID string) []*core.CareTask {
	now := d.now()
	lower := strings.ToLower(text)
	care := d.lex.Care

	var tasks []*core.CareTask

	for _, band := range care.Bands {
		kw, ok := firstMatch(lower, band.Keywords)
		if !ok {
			continue
		}
		tasks = append(tasks, d.newTask(sessionID, core.CareEmotionFollowup, band, text, kw, now))
		break
	}

	if _, future := firstMatch(lower, care.FutureMarkers); future {
		for _, event := range care.Events {
			if kw, ok := firstMatch(lower, event.Keywords); ok {
				tasks = append(tasks, d.newTask(sessionID, core.CareEventFollowup, event, text, kw, now))
			}
		}
	}

	return tasks
}

func (d *CareDetector) newTask(sessionID string, careType core.CareType, rule lexicon.CareRule, text, keyword string, now time.Time) *core.CareTask {
	summary := extractSummary(text, keyword, d.lex.Care.SentenceDelimiters, d.lex.Care.SummaryMaxRunes)
	return &core.CareTask{
		SessionID:      sessionID,
		CareType:       careType,
		TriggerContent: text,
		TriggerSummary: signature(rule.Name, summary),
		CareMessage:    render(rule.Template, summary),
		ScheduledTime:  now.Add(time.Duration(rule.DelayDays) * day),
		Status:         core.CareStatusPending,
		Priority:       rule.Priority,
		CreatedAt:      now,
	}
}

// regularTask builds the periodic re-engagement task
func (d *CareDetector) regularTask(sessionID string) *core.CareTask {
	now := d.now()
	regular := d.lex.Care.Regular
	return &core.CareTask{
		SessionID:      sessionID,
		CareType:       core.CareRegular,
		TriggerContent: core.RegularCareTrigger,
		TriggerSummary: core.RegularCareTrigger,
		CareMessage:    regular.Template,
		ScheduledTime:  now.Add(time.Duration(regular.DelayDays) * day),
		Status:         core.CareStatusPending,
		Priority:       regular.Priority,
		CreatedAt:      now,
	}
}
