// Package lexicon loads the frozen keyword tables, decision rules, templates,
// and level rewards shared by the classifier, the care scheduler, and the
// intimacy service.
package lexicon

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mindsprite/mindsprite/internal/core"
)

//go:embed lexicon.yaml
var embedded []byte

// Keyword is one surface form with its per-emotion weights
type Keyword struct {
	Word    string                   `yaml:"word"`
	Weights map[core.Emotion]float64 `yaml:"weights"`
}

// Rule is one row of a first-match decision table
type Rule struct {
	Emotions        []core.Emotion `yaml:"emotions"`
	IntensityAbove  *float64       `yaml:"intensity_above"`
	IntensityAtMost *float64       `yaml:"intensity_at_most"`
	NegativeValence bool           `yaml:"negative_valence"`
	ArousalAbove    *float64       `yaml:"arousal_above"`
	Result          string         `yaml:"result"`
	Otherwise       string         `yaml:"otherwise"`
}

// Match evaluates the rule. ok is false when the next rule should be tried.
func (r Rule) Match(primary core.Emotion, intensity, valence, arousal float64) (result string, ok bool) {
	if len(r.Emotions) > 0 && !containsEmotion(r.Emotions, primary) {
		return "", false
	}
	if r.NegativeValence && valence >= 0 {
		return "", false
	}

	pass := (r.IntensityAbove == nil || intensity > *r.IntensityAbove) &&
		(r.IntensityAtMost == nil || intensity <= *r.IntensityAtMost) &&
		(r.ArousalAbove == nil || arousal > *r.ArousalAbove)
	if pass {
		return r.Result, true
	}
	if r.Otherwise != "" {
		return r.Otherwise, true
	}
	return "", false
}

func (r Rule) hasCondition() bool {
	return len(r.Emotions) > 0 || r.NegativeValence || r.IntensityAbove != nil ||
		r.IntensityAtMost != nil || r.ArousalAbove != nil
}

// CareRule maps keywords to a follow-up delay, priority, and message template.
// It describes both emotion bands and event categories.
type CareRule struct {
	Name      string            `yaml:"name"`
	DelayDays int               `yaml:"delay_days"`
	Priority  core.CarePriority `yaml:"priority"`
	Keywords  []string          `yaml:"keywords"`
	Template  string            `yaml:"template"`
}

// RegularCare configures periodic re-engagement
type RegularCare struct {
	DelayDays       int               `yaml:"delay_days"`
	Priority        core.CarePriority `yaml:"priority"`
	LookbackDays    int               `yaml:"lookback_days"`
	QuietWindowDays int               `yaml:"quiet_window_days"`
	MaxMessages     int               `yaml:"max_messages"`
	Template        string            `yaml:"template"`
}

// Care groups the care detection tables
type Care struct {
	SummaryMaxRunes    int         `yaml:"summary_max_runes"`
	SentenceDelimiters string      `yaml:"sentence_delimiters"`
	Bands              []CareRule  `yaml:"bands"`
	Events             []CareRule  `yaml:"events"`
	FutureMarkers      []string    `yaml:"future_markers"`
	Regular            RegularCare `yaml:"regular"`
}

// Intimacy holds the level title and reward tables
type Intimacy struct {
	ExpPerInteraction int              `yaml:"exp_per_interaction"`
	LevelTitles       []string         `yaml:"level_titles"`
	SpecialRewards    map[int][]string `yaml:"special_rewards"`
	MilestoneEvery    int              `yaml:"milestone_every"`
	MilestoneFrom     int              `yaml:"milestone_from"`
	MilestoneTemplate string           `yaml:"milestone_template"`
}

// Replies holds fixed reply strings
type Replies struct {
	Fallback string `yaml:"fallback"`
	Persona  string `yaml:"persona"`
}

// Lexicon is the full frozen table set. Treat it as read-only once loaded.
type Lexicon struct {
	Emotions        []core.Emotion           `yaml:"emotions"`
	Keywords        []Keyword                `yaml:"keywords"`
	Valence         map[core.Emotion]float64 `yaml:"valence"`
	Arousal         map[core.Emotion]float64 `yaml:"arousal"`
	StrategyRules   []Rule                   `yaml:"strategy_rules"`
	DefaultStrategy core.EmpathyStrategy     `yaml:"default_strategy"`
	ToneRules       []Rule                   `yaml:"tone_rules"`
	DefaultTone     core.ResponseTone        `yaml:"default_tone"`
	Care            Care                     `yaml:"care"`
	Intimacy        Intimacy                 `yaml:"intimacy"`
	Replies         Replies                  `yaml:"replies"`
}

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
	defaultErr  error
)

// Default returns the embedded lexicon, parsed once
func Default() (*Lexicon, error) {
	defaultOnce.Do(func() {
		defaultLex, defaultErr = Parse(embedded)
	})
	return defaultLex, defaultErr
}

// MustDefault is Default for callers that cannot proceed without tables
func MustDefault() *Lexicon {
	lex, err := Default()
	if err != nil {
		panic(err)
	}
	return lex
}

// Load reads a replacement lexicon from disk. An empty path yields the embedded one.
func Load(path string) (*Lexicon, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates lexicon YAML
func Parse(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrLexiconInvalid, err)
	}
	if err := lex.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrLexiconInvalid, err)
	}
	return &lex, nil
}

func (l *Lexicon) validate() error {
	if len(l.Emotions) != len(core.AllEmotions) {
		return fmt.Errorf("expected %d emotions, got %d", len(core.AllEmotions), len(l.Emotions))
	}
	for i, e := range l.Emotions {
		if e != core.AllEmotions[i] {
			return fmt.Errorf("emotion %d is %q, want %q", i, e, core.AllEmotions[i])
		}
		v, ok := l.Valence[e]
		if !ok || v < -0.9 || v > 0.9 {
			return fmt.Errorf("valence for %s missing or outside [-0.9, 0.9]", e)
		}
		a, ok := l.Arousal[e]
		if !ok || a < 0.1 || a > 0.9 {
			return fmt.Errorf("arousal for %s missing or outside [0.1, 0.9]", e)
		}
	}

	seen := make(map[string]bool, len(l.Keywords))
	for _, kw := range l.Keywords {
		if strings.TrimSpace(kw.Word) == "" {
			return fmt.Errorf("empty keyword")
		}
		if seen[kw.Word] {
			return fmt.Errorf("duplicate keyword %q", kw.Word)
		}
		seen[kw.Word] = true
		if len(kw.Weights) == 0 {
			return fmt.Errorf("keyword %q has no weights", kw.Word)
		}
		for e, w := range kw.Weights {
			if !e.IsValid() || e == core.EmotionNeutral {
				return fmt.Errorf("keyword %q scores unknown emotion %q", kw.Word, e)
			}
			if w <= 0 {
				return fmt.Errorf("keyword %q has non-positive weight", kw.Word)
			}
		}
	}

	for i, r := range append(append([]Rule{}, l.StrategyRules...), l.ToneRules...) {
		if !r.hasCondition() || r.Result == "" {
			return fmt.Errorf("decision rule %d is incomplete", i)
		}
		for _, e := range r.Emotions {
			if !e.IsValid() {
				return fmt.Errorf("decision rule %d names unknown emotion %q", i, e)
			}
		}
	}
	if l.DefaultStrategy == "" || l.DefaultTone == "" {
		return fmt.Errorf("default strategy and tone are required")
	}

	if l.Care.SummaryMaxRunes <= 0 {
		return fmt.Errorf("care.summary_max_runes must be positive")
	}
	for _, group := range [][]CareRule{l.Care.Bands, l.Care.Events} {
		for _, r := range group {
			if r.Name == "" || r.DelayDays <= 0 || len(r.Keywords) == 0 || r.Template == "" {
				return fmt.Errorf("care rule %q is incomplete", r.Name)
			}
			if r.Priority.Rank() == 0 {
				return fmt.Errorf("care rule %q has unknown priority %q", r.Name, r.Priority)
			}
		}
	}
	if len(l.Care.FutureMarkers) == 0 {
		return fmt.Errorf("care.future_markers is empty")
	}
	if l.Care.Regular.DelayDays <= 0 || l.Care.Regular.Template == "" {
		return fmt.Errorf("care.regular is incomplete")
	}

	if l.Intimacy.ExpPerInteraction <= 0 || len(l.Intimacy.LevelTitles) == 0 {
		return fmt.Errorf("intimacy tables are incomplete")
	}
	if l.Replies.Fallback == "" {
		return fmt.Errorf("replies.fallback is required")
	}
	return nil
}

// LevelTitle returns the title for a level. Levels past the table keep the last title.
func (l *Lexicon) LevelTitle(level int) string {
	titles := l.Intimacy.LevelTitles
	if level < 1 {
		level = 1
	}
	if level > len(titles) {
		return titles[len(titles)-1]
	}
	return titles[level-1]
}

func containsEmotion(list []core.Emotion, e core.Emotion) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}
