package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/mindsprite/mindsprite/internal/core"
	"github.com/mindsprite/mindsprite/internal/logging"
	"github.com/mindsprite/mindsprite/internal/storage"
)

// CachingReplier serves repeated identical prompts from the ai_cache table
type CachingReplier struct {
	next  Replier
	cache *storage.CacheStore
	model string
	ttl   time.Duration
	now   func() time.Time
}

// NewCachingReplier wraps next. A zero ttl disables lookups but still stores replies.
func NewCachingReplier(next Replier, cache *storage.CacheStore, model string, ttl time.Duration) *CachingReplier {
	return &CachingReplier{
		next:  next,
		cache: cache,
		model: model,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source
func (c *CachingReplier) WithClock(now func() time.Time) *CachingReplier {
	c.now = now
	return c
}

// Reply returns a fresh cached reply when one exists, otherwise asks next and
// stores its answer. Cache errors never fail the call.
func (c *CachingReplier) Reply(ctx context.Context, system string, history []core.ContextTurn, user string) (string, error) {
	key := InputHash(system, history, user)
	now := c.now()

	if c.ttl > 0 {
		cached, err := c.cache.Get(ctx, key, c.model, now.Add(-c.ttl))
		if err == nil {
			logging.WithField("model", c.model).Debug("model cache hit")
			return cached, nil
		}
		if !errors.Is(err, core.ErrRecordNotFound) {
			logging.Warn("model cache lookup failed: %v", err)
		}
	}

	reply, err := c.next.Reply(ctx, system, history, user)
	if err != nil {
		return "", err
	}

	if err := c.cache.Put(ctx, key, c.model, reply, now); err != nil {
		logging.Warn("model cache write failed: %v", err)
	}
	return reply, nil
}

// InputHash is the hex sha256 of every prompt component, NUL separated
func InputHash(system string, history []core.ContextTurn, user string) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(system)
	for _, turn := range history {
		write(string(turn.Role))
		write(turn.Content)
	}
	write(user)
	return hex.EncodeToString(h.Sum(nil))
}
