// Package core defines the fundamental types for Mind Sprite.
// Every record below is owned by exactly one session.
package core

import (
	"time"
)

// -----------------------------------------------------------------------------
// CHAT - append-only conversation history
// -----------------------------------------------------------------------------

// Role identifies who authored a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one stored utterance. IDs are strictly increasing.
type ChatMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ContextTurn is a (role, content) pair handed to the model client
type ContextTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// -----------------------------------------------------------------------------
// PROFILE - per-session intimacy progression
// -----------------------------------------------------------------------------

// UserProfile holds the intimacy counters for one session.
// After every update IntimacyExp < IntimacyLevel*50.
type UserProfile struct {
	SessionID         string    `json:"session_id"`
	IntimacyLevel     int       `json:"intimacy_level"`
	IntimacyExp       int       `json:"intimacy_exp"`
	TotalInteractions int       `json:"total_interactions"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewUserProfile returns the initial profile for a session
func NewUserProfile(sessionID string, now time.Time) *UserProfile {
	return &UserProfile{
		SessionID:     sessionID,
		IntimacyLevel: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// -----------------------------------------------------------------------------
// EMOTION - classifier output
// -----------------------------------------------------------------------------

// Emotion is a tag from the closed emotion set
type Emotion string

const (
	EmotionJoy         Emotion = "joy"
	EmotionExcitement  Emotion = "excitement"
	EmotionLove        Emotion = "love"
	EmotionGratitude   Emotion = "gratitude"
	EmotionPride       Emotion = "pride"
	EmotionRelief      Emotion = "relief"
	EmotionSerenity    Emotion = "serenity"
	EmotionSadness     Emotion = "sadness"
	EmotionAnger       Emotion = "anger"
	EmotionFear        Emotion = "fear"
	EmotionAnxiety     Emotion = "anxiety"
	EmotionDisgust     Emotion = "disgust"
	EmotionGuilt       Emotion = "guilt"
	EmotionShame       Emotion = "shame"
	EmotionLoneliness  Emotion = "loneliness"
	EmotionFrustration Emotion = "frustration"
	EmotionDespair     Emotion = "despair"
	EmotionSurprise    Emotion = "surprise"
	EmotionCuriosity   Emotion = "curiosity"
	EmotionConfusion   Emotion = "confusion"
	EmotionBoredom     Emotion = "boredom"
	EmotionNeutral     Emotion = "neutral"
)

// AllEmotions lists the closed set in its canonical order.
// Score ties are broken by position in this slice.
var AllEmotions = []Emotion{
	EmotionJoy, EmotionExcitement, EmotionLove, EmotionGratitude, EmotionPride,
	EmotionRelief, EmotionSerenity, EmotionSadness, EmotionAnger, EmotionFear,
	EmotionAnxiety, EmotionDisgust, EmotionGuilt, EmotionShame, EmotionLoneliness,
	EmotionFrustration, EmotionDespair, EmotionSurprise, EmotionCuriosity,
	EmotionConfusion, EmotionBoredom, EmotionNeutral,
}

// IsValid reports whether e belongs to the closed set
func (e Emotion) IsValid() bool {
	for _, known := range AllEmotions {
		if e == known {
			return true
		}
	}
	return false
}

// EmpathyStrategy is a reply-generation hint
type EmpathyStrategy string

const (
	StrategyCelebration EmpathyStrategy = "celebration"
	StrategyValidation  EmpathyStrategy = "validation"
	StrategyComfort     EmpathyStrategy = "comfort"
	StrategySolution    EmpathyStrategy = "solution"
	StrategyCompanion   EmpathyStrategy = "companion"
)

// ResponseTone is a reply-generation hint
type ResponseTone string

const (
	ToneJoyful        ResponseTone = "joyful"
	ToneWarm          ResponseTone = "warm"
	ToneGentle        ResponseTone = "gentle"
	ToneUnderstanding ResponseTone = "understanding"
	ToneEncouraging   ResponseTone = "encouraging"
	ToneCalming       ResponseTone = "calming"
	ToneSupportive    ResponseTone = "supportive"
)

// ScoredEmotion pairs a tag with its intensity
type ScoredEmotion struct {
	Emotion   Emotion `json:"emotion"`
	Intensity float64 `json:"intensity"`
}

// EmotionAnalysis is the deterministic output of the classifier
type EmotionAnalysis struct {
	PrimaryEmotion    Emotion         `json:"primary_emotion"`
	Intensity         float64         `json:"intensity"`
	Valence           float64         `json:"valence"`
	Arousal           float64         `json:"arousal"`
	SecondaryEmotions []ScoredEmotion `json:"secondary_emotions"`
	Confidence        float64         `json:"confidence"`
	TriggerKeywords   []string        `json:"trigger_keywords"`
	EmpathyStrategy   EmpathyStrategy `json:"empathy_strategy"`
	ResponseTone      ResponseTone    `json:"response_tone"`
}

// EmotionRecord is the persisted form of an analysis. Immutable once written.
type EmotionRecord struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	MessageID int64  `json:"message_id"`
	EmotionAnalysis
	CreatedAt time.Time `json:"created_at"`
}

// -----------------------------------------------------------------------------
// CARE - scheduled follow-up reminders
// -----------------------------------------------------------------------------

// CareType categorizes a care task
type CareType string

const (
	CareEmotionFollowup CareType = "emotion_followup"
	CareEventFollowup   CareType = "event_followup"
	CareRegular         CareType = "regular_care"
)

// CareStatus tracks the task lifecycle: pending -> completed | cancelled
type CareStatus string

const (
	CareStatusPending   CareStatus = "pending"
	CareStatusCompleted CareStatus = "completed"
	CareStatusCancelled CareStatus = "cancelled"
)

// CarePriority orders due tasks
type CarePriority string

const (
	PriorityHigh   CarePriority = "high"
	PriorityMedium CarePriority = "medium"
	PriorityLow    CarePriority = "low"
)

// Rank returns a sortable weight, higher first
func (p CarePriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ParsePriority maps a stored string back to a priority, defaulting to medium
func ParsePriority(s string) CarePriority {
	switch CarePriority(s) {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return CarePriority(s)
	default:
		return PriorityMedium
	}
}

// RegularCareTrigger is the sentinel trigger content of regular care tasks
const RegularCareTrigger = "__regular_care__"

// CareTask is a time-stamped reminder surfaced on a later page load.
// ExecutedAt is set iff Status is not pending.
type CareTask struct {
	ID             int64        `json:"id"`
	SessionID      string       `json:"session_id"`
	CareType       CareType     `json:"care_type"`
	TriggerContent string       `json:"trigger_content"`
	TriggerSummary string       `json:"trigger_summary"`
	CareMessage    string       `json:"care_message"`
	ScheduledTime  time.Time    `json:"scheduled_time"`
	Status         CareStatus   `json:"status"`
	Priority       CarePriority `json:"priority"`
	CreatedAt      time.Time    `json:"created_at"`
	ExecutedAt     *time.Time   `json:"executed_at,omitempty"`
}

// IsDue reports whether the task should be surfaced at now
func (t *CareTask) IsDue(now time.Time) bool {
	return t.Status == CareStatusPending && !t.ScheduledTime.After(now)
}
