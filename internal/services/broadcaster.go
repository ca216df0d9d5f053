package services

import (
	"log"
	"sync"
)

// Broadcast event names, kept compatible with the dashboard
const (
	EventBotStatusUpdate   = "bot_status_update"
	EventBotSettingsUpdate = "bot_settings_update"
	EventBotDeleted        = "bot_deleted"
)

// Event is one dashboard notification
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Subscriber receives events for one user. Read from C until it is closed.
type Subscriber struct {
	UserID string
	C      chan Event

	closeOnce sync.Once
}

// Broadcaster fans session events out to dashboard subscribers, scoped by
// owning user. Delivery is best-effort and at-most-once: a subscriber whose
// buffer is full simply misses the event and re-fetches state on reconnect.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new dashboard connection for a user
func (b *Broadcaster) Subscribe(userID string) *Subscriber {
	sub := &Subscriber{
		UserID: userID,
		C:      make(chan Event, 16),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*Subscriber]struct{})
	}
	b.subs[userID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes a dashboard connection and closes its channel
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	if set, ok := b.subs[sub.UserID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.UserID)
		}
	}
	b.mu.Unlock()

	sub.closeOnce.Do(func() { close(sub.C) })
}

// Publish delivers an event to every subscriber of the user. Never blocks:
// slow subscribers are skipped.
func (b *Broadcaster) Publish(userID, event string, data interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[userID] {
		select {
		case sub.C <- Event{Event: event, Data: data}:
		default:
			log.Printf("Dropping %s event for slow subscriber of user %s", event, userID)
		}
	}
}

// SubscriberCount returns the number of live dashboard connections
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, set := range b.subs {
		total += len(set)
	}
	return total
}
