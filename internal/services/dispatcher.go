package services

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/darkwinzo/queen-mini-go/internal/models"
	"github.com/darkwinzo/queen-mini-go/internal/transport"
)

// statusReactEmojis is the palette auto-like picks from
var statusReactEmojis = []string{"❤️", "👍", "🔥", "💯", "🎉"}

const sendTimeout = 15 * time.Second

// SessionSnapshot is the read-only view of a session handed to command
// handlers.
type SessionSnapshot struct {
	BotID       string
	UserID      string
	BotName     string
	PhoneNumber string
	Status      string
	Settings    models.BotSettings
	ConnectedAt time.Time
	Online      bool
}

// Outcome reports what a command handler did
type Outcome struct {
	Replied bool
}

// Handler is one executable command
type Handler interface {
	Execute(ctx context.Context, client transport.Client, evt transport.MessageEvent, snap SessionSnapshot) (Outcome, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, client transport.Client, evt transport.MessageEvent, snap SessionSnapshot) (Outcome, error)

func (f HandlerFunc) Execute(ctx context.Context, client transport.Client, evt transport.MessageEvent, snap SessionSnapshot) (Outcome, error) {
	return f(ctx, client, evt, snap)
}

// Dispatcher routes inbound chat messages to registered command handlers.
// The handler map is replaced wholesale by Install and never mutated while
// dispatching, so a reload cannot race a running command.
type Dispatcher struct {
	stats    *Stats
	handlers atomicHandlers
}

// NewDispatcher creates a dispatcher with no handlers installed
func NewDispatcher(stats *Stats) *Dispatcher {
	d := &Dispatcher{stats: stats}
	d.handlers.store(map[string]Handler{})
	return d
}

// Install atomically swaps in a new command set. Names are matched
// case-insensitively.
func (d *Dispatcher) Install(handlers map[string]Handler) {
	normalized := make(map[string]Handler, len(handlers))
	for name, h := range handlers {
		normalized[strings.ToLower(name)] = h
	}
	d.handlers.store(normalized)
}

// Commands returns the installed command names
func (d *Dispatcher) Commands() []string {
	m := d.handlers.load()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}

// OnInboundMessage processes one inbound chat event for a bot. Called once
// per message by the lifecycle manager, already serialized per bot.
func (d *Dispatcher) OnInboundMessage(client transport.Client, snap SessionSnapshot, evt transport.MessageEvent) {
	if evt.IsStatusBroadcast {
		d.handleStatusBroadcast(client, snap, evt)
		return
	}

	prefix := snap.Settings.Prefix
	if prefix == "" {
		prefix = "."
	}
	if !strings.HasPrefix(evt.Text, prefix) {
		return
	}

	body := strings.TrimPrefix(evt.Text, prefix)
	name, _, _ := strings.Cut(body, " ")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return
	}

	handler, ok := d.handlers.load()[name]
	if !ok {
		// Unknown commands are ignored, not errors
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	outcome, err := d.invoke(ctx, handler, client, evt, snap)
	if err != nil {
		log.Printf("Command %s failed for bot %s: %v", name, snap.BotID, err)
		notifyCtx, notifyCancel := context.WithTimeout(context.Background(), sendTimeout)
		if sendErr := client.SendText(notifyCtx, evt.ChatID, "❌ Error executing "+name+" command"); sendErr != nil {
			log.Printf("Failed to send failure notice for bot %s: %v", snap.BotID, sendErr)
		}
		notifyCancel()
		return
	}

	d.stats.Increment(snap.BotID, CounterCommandsExecuted, 1)
	if outcome.Replied {
		d.stats.Increment(snap.BotID, CounterMessagesSent, 1)
	}
}

// invoke runs a handler with panic isolation so a broken command can never
// take the session down.
func (d *Dispatcher) invoke(ctx context.Context, handler Handler, client transport.Client, evt transport.MessageEvent, snap SessionSnapshot) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Command handler panicked for bot %s: %v", snap.BotID, r)
			outcome = Outcome{}
			err = ErrHandlerPanic
		}
	}()
	return handler.Execute(ctx, client, evt, snap)
}

// handleStatusBroadcast applies the auto-view / auto-like settings to a
// status update. Both are best-effort.
func (d *Dispatcher) handleStatusBroadcast(client transport.Client, snap SessionSnapshot, evt transport.MessageEvent) {
	if snap.Settings.AutoViewStatus {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := client.MarkRead(ctx, evt.ChatID, evt.SenderID, evt.MessageID); err != nil {
			log.Printf("Auto-view status failed for bot %s: %v", snap.BotID, err)
		}
		cancel()
	}

	if snap.Settings.AutoLikeStatus {
		emoji := statusReactEmojis[rand.Intn(len(statusReactEmojis))]
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := client.SendReaction(ctx, evt.ChatID, evt.SenderID, evt.MessageID, emoji); err != nil {
			log.Printf("Auto-like status failed for bot %s: %v", snap.BotID, err)
		} else {
			d.stats.Increment(snap.BotID, CounterMessagesSent, 1)
		}
		cancel()
	}
}

// atomicHandlers holds the current handler map behind a lock; Install swaps
// the whole map so dispatch always sees a consistent command set.
type atomicHandlers struct {
	mu sync.RWMutex
	m  map[string]Handler
}

func (a *atomicHandlers) load() map[string]Handler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.m
}

func (a *atomicHandlers) store(m map[string]Handler) {
	a.mu.Lock()
	a.m = m
	a.mu.Unlock()
}
