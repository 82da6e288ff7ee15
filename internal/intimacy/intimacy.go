// Package intimacy maintains the per-session intimacy progression.
package intimacy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/mindsprite/mindsprite/internal/core"
	"github.com/mindsprite/mindsprite/internal/lexicon"
	"github.com/mindsprite/mindsprite/internal/logging"
	"github.com/mindsprite/mindsprite/internal/storage"
)

// ExpPerLevel is the experience needed per level: level N needs N*ExpPerLevel
const ExpPerLevel = 50

// RewardKind categorizes a level reward
type RewardKind string

const (
	RewardTitle     RewardKind = "title"
	RewardSpecial   RewardKind = "special"
	RewardMilestone RewardKind = "milestone"
)

// Reward is granted when a level is reached
type Reward struct {
	Level   int        `json:"level"`
	Kind    RewardKind `json:"kind"`
	Content string     `json:"content"`
}

// AwardResult reports the outcome of one award
type AwardResult struct {
	LeveledUp         bool     `json:"leveled_up"`
	OldLevel          int      `json:"old_level"`
	NewLevel          int      `json:"new_level"`
	CurrentExp        int      `json:"current_exp"`
	ExpNeeded         int      `json:"exp_needed"`
	ExpGained         int      `json:"exp_gained"`
	LevelRewards      []Reward `json:"level_rewards"`
	TotalInteractions int      `json:"total_interactions"`
	Title             string   `json:"title"`
}

// Config configures the intimacy service
type Config struct {
	// ExpPerInteraction is granted when Award is called with exp <= 0
	ExpPerInteraction int `mapstructure:"exp_per_interaction" yaml:"exp_per_interaction"`
	// DoubleExpChance is the probability in [0,1] of doubling the grant
	DoubleExpChance float64 `mapstructure:"double_exp_chance" yaml:"double_exp_chance"`
}

// DefaultConfig returns the standard 15 exp grant with a 10% double-exp chance
func DefaultConfig() Config {
	return Config{
		ExpPerInteraction: 15,
		DoubleExpChance:   0.1,
	}
}

// Service awards experience and resolves level-ups
type Service struct {
	profiles *storage.ProfileStore
	lex      *lexicon.Lexicon
	config   Config
	rng      func() float64
	now      func() time.Time
}

// NewService creates an intimacy service
func NewService(profiles *storage.ProfileStore, lex *lexicon.Lexicon, config Config) *Service {
	if config.ExpPerInteraction <= 0 {
		config.ExpPerInteraction = lex.Intimacy.ExpPerInteraction
	}
	return &Service{
		profiles: profiles,
		lex:      lex,
		config:   config,
		rng:      rand.Float64,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source for profile timestamps
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithRand overrides the double-exp draw; fn must return values in [0,1)
func (s *Service) WithRand(fn func() float64) *Service {
	s.rng = fn
	return s
}

// Profile returns the stored profile, or a fresh unsaved one for new sessions
func (s *Service) Profile(ctx context.Context, sessionID string) (*core.UserProfile, error) {
	p, err := s.profiles.Get(ctx, sessionID)
	if errors.Is(err, core.ErrRecordNotFound) {
		return core.NewUserProfile(sessionID, s.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get profile: %v", core.ErrStorageUnavailable, err)
	}
	return p, nil
}

// Award grants exp to a session (the configured default when exp <= 0),
// cascades level-ups, and persists the profile with one more interaction.
func (s *Service) Award(ctx context.Context, sessionID string, exp int) (*AwardResult, error) {
	if exp <= 0 {
		exp = s.config.ExpPerInteraction
	}

	profile, err := s.Profile(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	granted := exp
	if s.config.DoubleExpChance > 0 && s.rng() < s.config.DoubleExpChance {
		granted *= 2
	}

	result := &AwardResult{
		OldLevel:     profile.IntimacyLevel,
		ExpGained:    granted,
		LevelRewards: []Reward{},
	}

	level := profile.IntimacyLevel
	current := profile.IntimacyExp + granted
	for current >= level*ExpPerLevel {
		current -= level * ExpPerLevel
		level++
		result.LevelRewards = append(result.LevelRewards, s.rewardsFor(level)...)
	}

	profile.IntimacyLevel = level
	profile.IntimacyExp = current
	profile.TotalInteractions++
	profile.UpdatedAt = s.now()

	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return nil, fmt.Errorf("%w: save profile: %v", core.ErrStorageUnavailable, err)
	}

	result.LeveledUp = level > result.OldLevel
	result.NewLevel = level
	result.CurrentExp = current
	result.ExpNeeded = level * ExpPerLevel
	result.TotalInteractions = profile.TotalInteractions
	result.Title = s.lex.LevelTitle(level)

	if result.LeveledUp {
		logging.WithFields(map[string]interface{}{
			"session": sessionID,
			"from":    result.OldLevel,
			"to":      level,
		}).Info("intimacy level up")
	}
	return result, nil
}

// rewardsFor returns the title, special, and milestone rewards of one level
func (s *Service) rewardsFor(level int) []Reward {
	table := s.lex.Intimacy
	rewards := []Reward{{Level: level, Kind: RewardTitle, Content: s.lex.LevelTitle(level)}}

	for _, special := range table.SpecialRewards[level] {
		rewards = append(rewards, Reward{Level: level, Kind: RewardSpecial, Content: special})
	}

	if table.MilestoneEvery > 0 && level >= table.MilestoneFrom && level%table.MilestoneEvery == 0 {
		rewards = append(rewards, Reward{
			Level:   level,
			Kind:    RewardMilestone,
			Content: strings.ReplaceAll(table.MilestoneTemplate, "{level}", strconv.Itoa(level)),
		})
	}
	return rewards
}
