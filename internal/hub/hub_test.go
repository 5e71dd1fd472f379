package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
)

func receiveOne(t *testing.T, sub *Subscription) models.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return models.Message{}
	}
}

func TestSubscribeReceivesPublishedMessage(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("conv-1")
	defer sub.Cancel()

	h.Publish("conv-1", models.Message{ID: 1, ConversationID: "conv-1", Content: "hello"})

	msg := receiveOne(t, sub)
	assert.Equal(t, int64(1), msg.ID)
	assert.Equal(t, "hello", msg.Content)
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("conv-1")
	defer sub.Cancel()

	for i := 1; i <= 5; i++ {
		h.Publish("conv-1", models.Message{ID: int64(i)})
	}

	for i := 1; i <= 5; i++ {
		msg := receiveOne(t, sub)
		assert.Equal(t, int64(i), msg.ID)
	}
}

func TestPublishIsScopedToConversation(t *testing.T) {
	h := NewHub()
	sub1 := h.Subscribe("conv-1")
	defer sub1.Cancel()
	sub2 := h.Subscribe("conv-2")
	defer sub2.Cancel()

	h.Publish("conv-1", models.Message{ID: 7})

	msg := receiveOne(t, sub1)
	assert.Equal(t, int64(7), msg.ID)

	select {
	case msg := <-sub2.Events():
		t.Fatalf("unexpected delivery to other conversation: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub()
	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i] = h.Subscribe("conv-1")
	}

	h.Publish("conv-1", models.Message{ID: 9})

	for _, sub := range subs {
		msg := receiveOne(t, sub)
		assert.Equal(t, int64(9), msg.ID)
		sub.Cancel()
	}
}

func TestCancelStopsDeliveryAndClosesChannel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("conv-1")

	sub.Cancel()
	require.Equal(t, 0, h.SubscriberCount("conv-1"))

	// Publishing after cancel must be a no-op for this subscriber.
	h.Publish("conv-1", models.Message{ID: 3})

	_, ok := <-sub.Events()
	assert.False(t, ok, "channel should be closed after cancel")
}

func TestCancelIsIdempotent(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("conv-1")

	sub.Cancel()
	assert.NotPanics(t, func() { sub.Cancel() })
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("conv-1")
	defer sub.Cancel()

	// Overflow the buffer without anyone draining; publish must return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriptionBuffer*3; i++ {
			h.Publish("conv-1", models.Message{ID: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestConcurrentPublishAndCancel(t *testing.T) {
	h := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		conversationID := fmt.Sprintf("conv-%d", i%4)
		sub := h.Subscribe(conversationID)

		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Publish(conversationID, models.Message{ID: int64(j)})
			}
		}()
		go func() {
			defer wg.Done()
			sub.Cancel()
		}()
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		assert.Equal(t, 0, h.SubscriberCount(fmt.Sprintf("conv-%d", i)))
	}
}

func TestRoomRemovedWhenLastSubscriberLeaves(t *testing.T) {
	h := NewHub()
	sub1 := h.Subscribe("conv-1")
	sub2 := h.Subscribe("conv-1")
	require.Equal(t, 2, h.SubscriberCount("conv-1"))

	sub1.Cancel()
	assert.Equal(t, 1, h.SubscriberCount("conv-1"))

	sub2.Cancel()
	assert.Equal(t, 0, h.SubscriberCount("conv-1"))

	h.mu.RLock()
	_, ok := h.rooms["conv-1"]
	h.mu.RUnlock()
	assert.False(t, ok, "empty room should be dropped")
}
