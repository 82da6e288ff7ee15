// Package emotion implements the lexicon-and-rule emotion classifier.
package emotion

import (
	"context"
	"html"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mindsprite/mindsprite/internal/core"
	"github.com/mindsprite/mindsprite/internal/lexicon"
	"github.com/mindsprite/mindsprite/internal/logging"
	"github.com/mindsprite/mindsprite/internal/storage"
)

const (
	maxIntensity    = 10.0
	minIntensity    = 0.1
	maxSecondary    = 3
	secondaryCutoff = 0.5
	maxLengthFactor = 1.5
	exclaimBoost    = 0.2
	questionBoost   = 0.1
	keywordConfStep = 0.2
	keywordConfCap  = 0.8
	gapConfCap      = 0.5
	lengthConfCap   = 0.3
	emojiConfStep   = 0.1
	emojiConfCap    = 0.2
)

// Classifier scores utterances against a frozen lexicon and persists the result
type Classifier struct {
	lex   *lexicon.Lexicon
	store *storage.EmotionStore
	now   func() time.Time
}

// NewClassifier creates a classifier. store may be nil for analysis-only use.
func NewClassifier(lex *lexicon.Lexicon, store *storage.EmotionStore) *Classifier {
	return &Classifier{
		lex:   lex,
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used for record timestamps
func (c *Classifier) WithClock(now func() time.Time) *Classifier {
	c.now = now
	return c
}

// Classify analyzes text and writes one EmotionRecord for messageID.
// A failed write is logged and the analysis is still returned.
func (c *Classifier) Classify(ctx context.Context, sessionID string, messageID int64, text string) core.EmotionAnalysis {
	analysis := c.Analyze(text)
	if c.store == nil {
		return analysis
	}

	rec := &core.EmotionRecord{
		SessionID:       sessionID,
		MessageID:       messageID,
		EmotionAnalysis: analysis,
		CreatedAt:       c.now(),
	}
	if err := c.store.Insert(ctx, rec); err != nil {
		logging.WithFields(map[string]interface{}{
			"session":    sessionID,
			"message_id": messageID,
		}).Warn("failed to persist emotion record: %v", err)
	}
	return analysis
}

// Analyze is the pure part of classification
func (c *Classifier) Analyze(text string) core.EmotionAnalysis {
	return Analyze(c.lex, text)
}

// Analyze scores text against lex. Same input, same output.
// Sanitized text is HTML-escaped; scoring runs on the visible characters.
func Analyze(lex *lexicon.Lexicon, text string) core.EmotionAnalysis {
	text = html.UnescapeString(text)
	lower := strings.ToLower(text)
	runes := utf8.RuneCountInString(text)

	scores := make([]float64, len(core.AllEmotions))
	triggers := []string{}
	for _, kw := range lex.Keywords {
		if !strings.Contains(lower, strings.ToLower(kw.Word)) {
			continue
		}
		triggers = append(triggers, kw.Word)
		for i, e := range core.AllEmotions {
			scores[i] += kw.Weights[e]
		}
	}

	amp := lengthFactor(runes) * repetitionFactor(text)
	for i := range scores {
		scores[i] *= amp
	}

	// Stable sort keeps canonical order on ties
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	top := scores[order[0]]
	second := scores[order[1]]

	analysis := core.EmotionAnalysis{
		PrimaryEmotion:    core.EmotionNeutral,
		Intensity:         minIntensity,
		SecondaryEmotions: []core.ScoredEmotion{},
		TriggerKeywords:   triggers,
	}

	if top > 0 {
		analysis.PrimaryEmotion = core.AllEmotions[order[0]]
		analysis.Intensity = round(clamp(top, minIntensity, maxIntensity))

		for _, i := range order[1 : 1+maxSecondary] {
			if scores[i] <= secondaryCutoff {
				break
			}
			analysis.SecondaryEmotions = append(analysis.SecondaryEmotions, core.ScoredEmotion{
				Emotion:   core.AllEmotions[i],
				Intensity: round(math.Min(scores[i], maxIntensity)),
			})
		}
	}

	scale := math.Min(analysis.Intensity/maxIntensity, 1)
	analysis.Valence = round(lex.Valence[analysis.PrimaryEmotion] * scale)
	analysis.Arousal = round(clamp(lex.Arousal[analysis.PrimaryEmotion]*(0.5+0.5*scale), 0, 1))
	analysis.Confidence = round(confidence(len(triggers), top, second, runes, countEmoji(text)))

	analysis.EmpathyStrategy = core.EmpathyStrategy(decide(lex.StrategyRules, string(lex.DefaultStrategy), analysis))
	analysis.ResponseTone = core.ResponseTone(decide(lex.ToneRules, string(lex.DefaultTone), analysis))
	return analysis
}

func decide(rules []lexicon.Rule, fallback string, a core.EmotionAnalysis) string {
	for _, r := range rules {
		if result, ok := r.Match(a.PrimaryEmotion, a.Intensity, a.Valence, a.Arousal); ok {
			return result
		}
	}
	return fallback
}

func lengthFactor(runes int) float64 {
	return math.Min(float64(runes)/100, maxLengthFactor)
}

func repetitionFactor(text string) float64 {
	var exclaims, questions int
	for _, r := range text {
		switch r {
		case '!', '！':
			exclaims++
		case '?', '？':
			questions++
		}
	}
	return 1 + exclaimBoost*float64(exclaims) + questionBoost*float64(questions)
}

func confidence(triggers int, top, second float64, runes, emoji int) float64 {
	conf := math.Min(keywordConfStep*float64(triggers), keywordConfCap)
	if top > 0 {
		conf += math.Min((top-second)/top, gapConfCap)
	}
	conf += math.Min(float64(runes)/200, lengthConfCap)
	conf += math.Min(emojiConfStep*float64(emoji), emojiConfCap)
	return clamp(conf, 0, 1)
}

func countEmoji(text string) int {
	n := 0
	for _, r := range text {
		if (r >= 0x1F300 && r <= 0x1FAFF) || (r >= 0x2600 && r <= 0x27BF) {
			n++
		}
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

// round keeps stored values stable at three decimals
func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
