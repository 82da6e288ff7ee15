package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mindsprite/mindsprite/internal/core"
	"github.com/mindsprite/mindsprite/internal/logging"
)

// Route is one named backend in a Router
type Route struct {
	Name    string
	Replier Replier
}

// RouterStats tracks router usage
type RouterStats struct {
	Requests         map[string]int64 `json:"requests"`
	Failures         map[string]int64 `json:"failures"`
	FallbackCount    int64            `json:"fallback_count"`
	AverageLatencyMs int64            `json:"average_latency_ms"`
}

// Router tries each route in order until one answers
type Router struct {
	routes []Route

	mu           sync.RWMutex
	stats        RouterStats
	totalLatency time.Duration
	answered     int64
}

// NewRouter creates a router over routes, primary first
func NewRouter(routes ...Route) *Router {
	return &Router{
		routes: routes,
		stats: RouterStats{
			Requests: make(map[string]int64),
			Failures: make(map[string]int64),
		},
	}
}

// Reply returns the first successful reply. A cancelled context stops the
// chain immediately.
func (r *Router) Reply(ctx context.Context, system string, history []core.ContextTurn, user string) (string, error) {
	if len(r.routes) == 0 {
		return "", fmt.Errorf("%w: no routes configured", core.ErrModelUnavailable)
	}

	var errs []error
	for i, route := range r.routes {
		if i > 0 {
			r.mu.Lock()
			r.stats.FallbackCount++
			r.mu.Unlock()
		}

		start := time.Now()
		reply, err := route.Replier.Reply(ctx, system, history, user)
		r.record(route.Name, time.Since(start), err)
		if err == nil {
			return reply, nil
		}

		logging.WithField("route", route.Name).Warn("model route failed: %v", err)
		errs = append(errs, fmt.Errorf("%s: %w", route.Name, err))
		if ctx.Err() != nil {
			break
		}
	}

	err := errors.Join(errs...)
	if !errors.Is(err, core.ErrModelUnavailable) {
		err = fmt.Errorf("%w: %v", core.ErrModelUnavailable, err)
	}
	return "", err
}

func (r *Router) record(name string, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Requests[name]++
	if err != nil {
		r.stats.Failures[name]++
		return
	}
	r.answered++
	r.totalLatency += latency
	r.stats.AverageLatencyMs = (r.totalLatency / time.Duration(r.answered)).Milliseconds()
}

// Stats returns a copy of the router statistics
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := RouterStats{
		Requests:         make(map[string]int64, len(r.stats.Requests)),
		Failures:         make(map[string]int64, len(r.stats.Failures)),
		FallbackCount:    r.stats.FallbackCount,
		AverageLatencyMs: r.stats.AverageLatencyMs,
	}
	for k, v := range r.stats.Requests {
		out.Requests[k] = v
	}
	for k, v := range r.stats.Failures {
		out.Failures[k] = v
	}
	return out
}
