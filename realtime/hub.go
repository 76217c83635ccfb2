// Package realtime fans notifications out to live subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"wellnesskit/core"
)

type subscriber struct {
	ch   chan core.Notification
	user core.UserID
}

// Hub is a simple pub/sub for broadcasting notifications to channels.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

// Subscribe registers a channel receiving every notification.
func (h *Hub) Subscribe(buffer int) (int, <-chan core.Notification) {
	return h.SubscribeUser("", buffer)
}

// SubscribeUser registers a channel receiving only notifications for user.
// An empty user receives everything.
func (h *Hub) SubscribeUser(user core.UserID, buffer int) (int, <-chan core.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan core.Notification, buffer)
	h.subs[id] = subscriber{ch: ch, user: user}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Broadcast delivers n to every matching subscriber without blocking; full
// channels miss the notification.
func (h *Hub) Broadcast(_ context.Context, n core.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.user != "" && s.user != n.UserID {
			continue
		}
		select {
		case s.ch <- n:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped on full channels.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// MarshalJSON is a helper to convert notifications to JSON bytes for WebSocket/SSE.
func MarshalJSON(n core.Notification) []byte {
	b, _ := json.Marshal(n)
	return b
}
