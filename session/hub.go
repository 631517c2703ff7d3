package session

import (
	"context"
	"sync"

	"github.com/mbolis/voiceform/dialogue"
)

// Broadcaster carries snapshots to whoever is watching a session.
type Broadcaster interface {
	Publish(ctx context.Context, snap dialogue.Snapshot) error
	Subscribe(ctx context.Context, sessionID string) (<-chan dialogue.Snapshot, func())
}

// Hub is an in-process Broadcaster.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan dialogue.Snapshot]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan dialogue.Snapshot]struct{}{}}
}

func (h *Hub) Publish(_ context.Context, snap dialogue.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[snap.SessionID] {
		select {
		case ch <- snap:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, sessionID string) (<-chan dialogue.Snapshot, func()) {
	ch := make(chan dialogue.Snapshot, 8)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = map[chan dialogue.Snapshot]struct{}{}
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sessionID], ch)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			close(ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel
}
