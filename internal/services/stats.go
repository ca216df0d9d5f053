package services

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/darkwinzo/queen-mini-go/internal/models"
	"github.com/darkwinzo/queen-mini-go/internal/storage"
)

// Stats counters
const (
	CounterMessagesReceived = "messagesReceived"
	CounterMessagesSent     = "messagesSent"
	CounterCommandsExecuted = "commandsExecuted"
)

// Stats accumulates per-bot counters. Increments from the message path and
// the command path race freely; atomics keep them lossless. Persistence is
// opportunistic through Flush, driven by the stats job.
type Stats struct {
	store    storage.Store
	counters sync.Map // botID -> *botCounters
}

type botCounters struct {
	received atomic.Int64
	sent     atomic.Int64
	executed atomic.Int64

	// uptimeBase accumulates completed connection intervals; connectedAt is
	// the unix start of the current interval, 0 while disconnected.
	uptimeBase  atomic.Int64
	connectedAt atomic.Int64
}

// NewStats creates a stats aggregator writing through to the given store
func NewStats(store storage.Store) *Stats {
	return &Stats{store: store}
}

func (s *Stats) get(botID string) *botCounters {
	if c, ok := s.counters.Load(botID); ok {
		return c.(*botCounters)
	}
	c, _ := s.counters.LoadOrStore(botID, &botCounters{})
	return c.(*botCounters)
}

// Seed initialises the in-memory counters from a persisted record. Called
// once when a session is first loaded; later seeds never lower a counter.
func (s *Stats) Seed(botID string, persisted models.BotStatistics) {
	c := s.get(botID)
	raiseTo(&c.received, persisted.MessagesReceived)
	raiseTo(&c.sent, persisted.MessagesSent)
	raiseTo(&c.executed, persisted.CommandsExecuted)
	raiseTo(&c.uptimeBase, persisted.UptimeSeconds)
}

func raiseTo(counter *atomic.Int64, floor int64) {
	for {
		cur := counter.Load()
		if cur >= floor || counter.CompareAndSwap(cur, floor) {
			return
		}
	}
}

// Increment adds delta to a counter for the bot
func (s *Stats) Increment(botID, counter string, delta int64) {
	c := s.get(botID)
	switch counter {
	case CounterMessagesReceived:
		c.received.Add(delta)
	case CounterMessagesSent:
		c.sent.Add(delta)
	case CounterCommandsExecuted:
		c.executed.Add(delta)
	}
}

// MarkConnected starts the uptime clock for a bot
func (s *Stats) MarkConnected(botID string, at time.Time) {
	s.get(botID).connectedAt.Store(at.Unix())
}

// MarkDisconnected folds the current connection interval into the uptime base
func (s *Stats) MarkDisconnected(botID string, at time.Time) {
	c := s.get(botID)
	started := c.connectedAt.Swap(0)
	if started > 0 {
		c.uptimeBase.Add(at.Unix() - started)
	}
}

// Snapshot returns the current counters, recomputing uptime from timestamps
func (s *Stats) Snapshot(botID string) models.BotStatistics {
	c := s.get(botID)
	uptime := c.uptimeBase.Load()
	if started := c.connectedAt.Load(); started > 0 {
		uptime += time.Now().Unix() - started
	}
	return models.BotStatistics{
		MessagesReceived: c.received.Load(),
		MessagesSent:     c.sent.Load(),
		CommandsExecuted: c.executed.Load(),
		UptimeSeconds:    uptime,
	}
}

// Flush persists the current counters for a bot
func (s *Stats) Flush(botID string) error {
	return s.store.UpdateBotStatistics(botID, s.Snapshot(botID))
}

// FlushAll persists counters for every tracked bot
func (s *Stats) FlushAll() {
	s.counters.Range(func(key, _ interface{}) bool {
		botID := key.(string)
		if err := s.Flush(botID); err != nil && err != storage.ErrBotNotFound {
			log.Printf("Failed to flush statistics for bot %s: %v", botID, err)
		}
		return true
	})
}

// Forget drops the in-memory counters for a deleted bot
func (s *Stats) Forget(botID string) {
	s.counters.Delete(botID)
}
