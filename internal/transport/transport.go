package transport

import (
	"context"
	"errors"
	"time"
)

// Connection states reported by a transport client
const (
	StateOpening = "opening"
	StateOpen    = "open"
	StateClosed  = "closed"
)

// ErrNotConnected is returned by send operations when the underlying socket
// is not connected.
var ErrNotConnected = errors.New("transport not connected")

// Session identifies the bot a transport connection belongs to
type Session struct {
	BotID       string
	PhoneNumber string
}

// ConnectionEvent describes a connection state change. AuthFailure marks
// closures where the remote service invalidated the session; the caller must
// not reconnect automatically.
type ConnectionEvent struct {
	State       string
	Reason      string
	AuthFailure bool
}

// MessageEvent describes one inbound chat message
type MessageEvent struct {
	ChatID            string
	SenderID          string
	MessageID         string
	Text              string
	IsStatusBroadcast bool
	Timestamp         time.Time
}

// EventHandler receives transport events for a bot. Implementations must be
// safe for concurrent calls across bots.
type EventHandler interface {
	HandleConnection(botID string, evt ConnectionEvent)
	HandleMessage(botID string, evt MessageEvent)
}

// Client is one live connection for a single bot
type Client interface {
	// Connect starts the socket. Events flow to the EventHandler passed to Open.
	Connect() error
	// Disconnect tears the socket down without invalidating credentials
	Disconnect()
	// Logout invalidates the stored credentials on the remote service
	Logout(ctx context.Context) error
	// IsLoggedIn reports whether the connection has paired credentials
	IsLoggedIn() bool
	// RequestPairingCode asks the service for a short pairing code the user
	// types on their phone. Valid only before the device is paired.
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	// QRChannel returns a channel emitting QR payloads to render for scanning.
	// Must be called before Connect.
	QRChannel(ctx context.Context) (<-chan string, error)
	SendText(ctx context.Context, chatID, text string) error
	SendReaction(ctx context.Context, chatID, senderID, messageID, emoji string) error
	MarkRead(ctx context.Context, chatID, senderID, messageID string) error
}

// Dialer opens transport clients. The lifecycle manager is the only caller.
type Dialer interface {
	Open(ctx context.Context, sess Session, handler EventHandler) (Client, error)
}
