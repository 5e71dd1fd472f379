// Package hub implements the live delivery channel: a per-conversation
// publish/subscribe arena pushing newly written messages to open views.
// There is no history replay; subscribers load history from the store.
package hub

import (
	"sync"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// subscriptionBuffer bounds how far a subscriber may lag before events
// are dropped instead of back-pressuring the writer.
const subscriptionBuffer = 32

// Hub maintains the active subscription rooms, one per conversation id.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// room owns the subscriber set of a single conversation. Add/remove and
// fanout synchronize on the room lock, independent of other rooms.
type room struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Subscription is a cancellable handle receiving every message written
// to its conversation from the moment of subscription onward.
type Subscription struct {
	conversationID string
	hub            *Hub
	ch             chan models.Message
	once           sync.Once
}

// Events returns the stream of delivered messages. The channel is
// closed by Cancel.
func (s *Subscription) Events() <-chan models.Message {
	return s.ch
}

// ConversationID reports the conversation this handle listens on.
func (s *Subscription) ConversationID() string {
	return s.conversationID
}

// Cancel stops delivery and closes the event channel. Safe to call
// more than once and at any time relative to a concurrent publish.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s)
		observability.DecHubSubscribers()
	})
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// Subscribe registers a new subscriber on a conversation.
func (h *Hub) Subscribe(conversationID string) *Subscription {
	sub := &Subscription{
		conversationID: conversationID,
		hub:            h,
		ch:             make(chan models.Message, subscriptionBuffer),
	}

	// The hub lock is held across the room insert so remove cannot drop
	// an emptied room between the lookup and the add.
	h.mu.Lock()
	rm, ok := h.rooms[conversationID]
	if !ok {
		rm = &room{subs: make(map[*Subscription]struct{})}
		h.rooms[conversationID] = rm
	}
	rm.mu.Lock()
	rm.subs[sub] = struct{}{}
	rm.mu.Unlock()
	h.mu.Unlock()

	observability.IncHubSubscribers()
	return sub
}

// Publish offers a message to every current subscriber of the
// conversation. Sends never block: a subscriber whose buffer is full
// has the event dropped and counted instead.
func (h *Hub) Publish(conversationID string, msg models.Message) {
	h.mu.RLock()
	rm, ok := h.rooms[conversationID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	// Channel sends happen under the room read lock; Cancel closes the
	// channel only under the write lock, so a send after cancellation
	// is impossible rather than a recovered panic.
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for sub := range rm.subs {
		select {
		case sub.ch <- msg:
		default:
			observability.IncHubDropped()
		}
	}
}

// SubscriberCount reports the number of active subscribers for a
// conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	rm, ok := h.rooms[conversationID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.subs)
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	rm, ok := h.rooms[sub.conversationID]
	if !ok {
		h.mu.Unlock()
		close(sub.ch)
		return
	}
	rm.mu.Lock()
	delete(rm.subs, sub)
	if len(rm.subs) == 0 {
		delete(h.rooms, sub.conversationID)
	}
	close(sub.ch)
	rm.mu.Unlock()
	h.mu.Unlock()
}
