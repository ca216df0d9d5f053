package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterScopesEventsByUser(t *testing.T) {
	b := NewBroadcaster()

	alice := b.Subscribe("alice")
	bob := b.Subscribe("bob")
	defer b.Unsubscribe(alice)
	defer b.Unsubscribe(bob)

	b.Publish("alice", EventBotStatusUpdate, map[string]interface{}{"botId": "bot-1"})

	select {
	case evt := <-alice.C:
		assert.Equal(t, EventBotStatusUpdate, evt.Event)
	case <-time.After(time.Second):
		t.Fatal("alice should have received the event")
	}

	select {
	case evt := <-bob.C:
		t.Fatalf("bob received an event scoped to alice: %v", evt)
	default:
	}
}

func TestBroadcasterDeliversToAllSubscribersOfUser(t *testing.T) {
	b := NewBroadcaster()

	first := b.Subscribe("alice")
	second := b.Subscribe("alice")
	defer b.Unsubscribe(first)
	defer b.Unsubscribe(second)

	b.Publish("alice", EventBotStatusUpdate, nil)

	require.Len(t, first.C, 1)
	require.Len(t, second.C, 1)
}

func TestBroadcasterNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBroadcaster()

	slow := b.Subscribe("alice")
	defer b.Unsubscribe(slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overflow the buffer; extra events are dropped, not queued
		for i := 0; i < 100; i++ {
			b.Publish("alice", EventBotStatusUpdate, i)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Equal(t, cap(slow.C), len(slow.C))
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()

	sub := b.Subscribe("alice")
	b.Unsubscribe(sub)

	_, open := <-sub.C
	assert.False(t, open)
	assert.Zero(t, b.SubscriberCount())

	// Publishing after unsubscribe must not panic
	assert.NotPanics(t, func() {
		b.Publish("alice", EventBotStatusUpdate, nil)
	})
}
