package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type is a verification outcome event type.
type Type string

const (
	TypeVerified Type = "verified"
	TypeFailed   Type = "failed"
	TypeExpired  Type = "expired"
)

// Event is delivered to subscribers waiting on a verification outcome.
type Event struct {
	OwnerID  uuid.UUID `json:"owner_id"`
	Channel  string    `json:"channel"`
	Type     Type      `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Terminal bool      `json:"-"`
	At       time.Time `json:"at"`
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

type stream struct {
	subscribers map[*subscriber]struct{}
}

// Hub is a per-owner broadcast channel with bounded lifetime. Streams are
// created lazily on first subscription and torn down on the terminal event,
// the subscription's expiry, or when the last subscriber disconnects. There
// is no replay buffer: late subscribers receive nothing and should poll the
// status endpoint instead.
type Hub struct {
	mu      sync.Mutex
	streams map[uuid.UUID]*stream
}

func NewHub() *Hub {
	return &Hub{
		streams: make(map[uuid.UUID]*stream),
	}
}

// Subscribe attaches a consumer to the owner's stream. The subscription
// self-cancels at expiresAt (delivering a single expired event) or when ctx
// is done; the returned cancel func detaches early. The channel closes on
// teardown.
func (h *Hub) Subscribe(ctx context.Context, ownerID uuid.UUID, expiresAt time.Time) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, 4)}

	h.mu.Lock()
	st, ok := h.streams[ownerID]
	if !ok {
		st = &stream{subscribers: make(map[*subscriber]struct{})}
		h.streams[ownerID] = st
	}
	st.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	cancel := func() {
		select {
		case <-done:
			return
		default:
			close(done)
		}
	}

	go func() {
		timer := time.NewTimer(time.Until(expiresAt))
		defer timer.Stop()

		select {
		case <-timer.C:
			// the bound verification expired with no outcome event
			h.deliver(sub, Event{
				OwnerID:  ownerID,
				Type:     TypeExpired,
				Terminal: true,
				At:       time.Now().UTC(),
			})
		case <-ctx.Done():
		case <-done:
		}
		h.detach(ownerID, sub)
	}()

	return sub.ch, cancel
}

// Publish fans an event out to the owner's live subscribers. A terminal
// event tears the stream down so at most one outcome is ever delivered.
// Publishing to an owner with no stream is a no-op.
func (h *Hub) Publish(ownerID uuid.UUID, ev Event) {
	h.mu.Lock()
	st, ok := h.streams[ownerID]
	if !ok {
		h.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(st.subscribers))
	for sub := range st.subscribers {
		subs = append(subs, sub)
	}
	if ev.Terminal {
		delete(h.streams, ownerID)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.deliver(sub, ev)
		if ev.Terminal {
			sub.close()
		}
	}
}

func (h *Hub) deliver(sub *subscriber, ev Event) {
	select {
	case sub.ch <- ev:
	default:
		slog.Warn("Dropping event for slow subscriber", "owner_id", ev.OwnerID, "type", ev.Type)
	}
}

func (h *Hub) detach(ownerID uuid.UUID, sub *subscriber) {
	h.mu.Lock()
	if st, ok := h.streams[ownerID]; ok {
		delete(st.subscribers, sub)
		if len(st.subscribers) == 0 {
			delete(h.streams, ownerID)
		}
	}
	h.mu.Unlock()
	sub.close()
}
