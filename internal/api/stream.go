package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mindsprite/mindsprite/internal/companion"
	"github.com/mindsprite/mindsprite/internal/core"
	"github.com/mindsprite/mindsprite/internal/logging"
)

const writeWait = 10 * time.Second

// CareEvent is pushed to a connected page when care messages come due
type CareEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Messages  []string  `json:"messages"`
	Timestamp time.Time `json:"timestamp"`
}

// CareStream pushes due care messages to open pages over WebSocket.
// Each connection polls PendingCare for its own session.
type CareStream struct {
	orch     *companion.Orchestrator
	interval time.Duration
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewCareStream creates a stream polling every interval (default one minute)
func NewCareStream(orch *companion.Orchestrator, interval time.Duration) *CareStream {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CareStream{
		orch:     orch,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades GET /ws?session=<id> and runs the push loop
func (cs *CareStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if err := core.ValidateSessionID(sessionID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := cs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if !cs.track(conn) {
		conn.Close()
		return
	}
	defer cs.untrack(conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reader: the page never sends anything we act on, but reading is how
	// a close from the client is noticed.
	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := logging.WithField("session", sessionID)
	log.Debug("care stream connected")

	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()

	for {
		if !cs.push(ctx, conn, sessionID) {
			break
		}
		select {
		case <-ctx.Done():
			log.Debug("care stream closed")
			return
		case <-ticker.C:
		}
	}
}

func (cs *CareStream) push(ctx context.Context, conn *websocket.Conn, sessionID string) bool {
	msgs, err := cs.orch.PendingCare(ctx, sessionID)
	if err != nil || len(msgs) == 0 {
		return ctx.Err() == nil
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(CareEvent{
		Type:      "care",
		SessionID: sessionID,
		Messages:  msgs,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logging.WithField("session", sessionID).Warn("care stream write failed: %v", err)
		return false
	}
	return true
}

func (cs *CareStream) track(conn *websocket.Conn) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return false
	}
	cs.conns[conn] = struct{}{}
	cs.wg.Add(1)
	return true
}

func (cs *CareStream) untrack(conn *websocket.Conn) {
	cs.mu.Lock()
	delete(cs.conns, conn)
	cs.mu.Unlock()
	conn.Close()
	cs.wg.Done()
}

// Connections returns the number of open streams
func (cs *CareStream) Connections() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.conns)
}

// Close disconnects every stream and waits for their loops to exit
func (cs *CareStream) Close() {
	cs.mu.Lock()
	cs.closed = true
	for conn := range cs.conns {
		conn.Close()
	}
	cs.mu.Unlock()

	cs.wg.Wait()
}
