package testutil

import (
	"context"
	"sync"

	"github.com/mindsprite/mindsprite/internal/core"
)

// ReplyCall records one invocation of MockReplier
type ReplyCall struct {
	System  string
	History []core.ContextTurn
	User    string
}

// MockReplier implements a mock model client for testing.
type MockReplier struct {
	ReplyFunc func(ctx context.Context, system string, history []core.ContextTurn, user string) (string, error)

	mu    sync.Mutex
	calls []ReplyCall
}

// Reply records the call and delegates to ReplyFunc, echoing the user text
// when ReplyFunc is nil.
func (m *MockReplier) Reply(ctx context.Context, system string, history []core.ContextTurn, user string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ReplyCall{System: system, History: history, User: user})
	m.mu.Unlock()

	if m.ReplyFunc != nil {
		return m.ReplyFunc(ctx, system, history, user)
	}
	return "收到：" + user, nil
}

// Calls returns a copy of the recorded calls
func (m *MockReplier) Calls() []ReplyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReplyCall, len(m.calls))
	copy(out, m.calls)
	return out
}
