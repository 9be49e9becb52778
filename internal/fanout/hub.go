package fanout

import (
	"sync"
	"time"

	"codepulse/internal/metrics"
	"codepulse/pkg/logger"
)

// MessageType tags a live update frame
type MessageType string

const (
	TypeSessionProgress  MessageType = "session_progress"
	TypeSessionFinalized MessageType = "session_finalized"
)

// Message is one frame delivered to live subscribers of a user
type Message struct {
	Type    MessageType `json:"type"`
	UserID  string      `json:"userId"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload"`
}

// Subscriber is one live consumer attached to a user's update feed.
// C delivers messages in publish order; when the subscriber cannot keep up
// the oldest undelivered message is dropped, never the newest.
type Subscriber struct {
	UserID string
	C      chan Message

	hub  *Hub
	once sync.Once
}

// Close detaches the subscriber from the hub and closes its channel
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// Hub routes session updates to the live subscribers of each user.
// Publishing never blocks: a full subscriber buffer sheds its oldest entry.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]struct{}
	buffer int
	closed bool
}

func NewHub(subscriberBuffer int) *Hub {
	if subscriberBuffer <= 0 {
		subscriberBuffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		buffer: subscriberBuffer,
	}
}

// Subscribe attaches a new consumer to the user's feed
func (h *Hub) Subscribe(userID string) *Subscriber {
	sub := &Subscriber{
		UserID: userID,
		C:      make(chan Message, h.buffer),
		hub:    h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.C)
		return sub
	}
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	metrics.Subscribers.Inc()
	return sub
}

func (h *Hub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.UserID]
	if !ok {
		return
	}
	if _, present := set[sub]; !present {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.UserID)
	}
	close(sub.C)
	metrics.Subscribers.Dec()
}

// Publish delivers a message to every subscriber of the user. Slow consumers
// lose their oldest buffered message so per-user ordering is preserved for
// what does get delivered.
func (h *Hub) Publish(userID string, typ MessageType, payload interface{}) {
	msg := Message{
		Type:    typ,
		UserID:  userID,
		At:      time.Now().UTC(),
		Payload: payload,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for sub := range h.subs[userID] {
		for {
			select {
			case sub.C <- msg:
				metrics.FanoutDelivered.WithLabelValues(string(typ)).Inc()
			default:
				// Buffer full: shed the oldest and retry.
				select {
				case <-sub.C:
					metrics.FanoutDropped.Inc()
				default:
				}
				continue
			}
			break
		}
	}
}

// SubscriberCount reports the live consumers attached to a user
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Close detaches every subscriber and rejects further publishes
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	n := 0
	for userID, set := range h.subs {
		for sub := range set {
			close(sub.C)
			metrics.Subscribers.Dec()
			n++
		}
		delete(h.subs, userID)
	}
	logger.Get().With("component", "fanout").Infow("hub closed", "subscribers_dropped", n)
}
