package transport

import (
	"context"
	"fmt"
	"runtime"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// WhatsmeowDialer opens real WhatsApp connections through whatsmeow. Paired
// credentials live in the sqlstore container, so credential updates pushed by
// the service are persisted without any work on our side.
type WhatsmeowDialer struct {
	container *sqlstore.Container
	log       waLog.Logger
}

// NewWhatsmeowDialer creates a dialer backed by the given credential store.
// driver is "sqlite3" or "postgres".
func NewWhatsmeowDialer(ctx context.Context, driver, dsn string) (*WhatsmeowDialer, error) {
	dbLog := waLog.Stdout("WhatsmeowDB", "WARN", true)
	container, err := sqlstore.New(ctx, driver, dsn, dbLog)
	if err != nil {
		return nil, fmt.Errorf("open whatsmeow credential store: %w", err)
	}

	store.DeviceProps.Os = proto.String(runtime.GOOS)

	return &WhatsmeowDialer{
		container: container,
		log:       waLog.Stdout("Whatsmeow", "WARN", true),
	}, nil
}

// Open builds a client for the bot, reusing previously paired credentials for
// the same phone number when they exist.
func (d *WhatsmeowDialer) Open(ctx context.Context, sess Session, handler EventHandler) (Client, error) {
	device, err := d.findDevice(ctx, sess.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if device == nil {
		device = d.container.NewDevice()
	}

	cli := whatsmeow.NewClient(device, d.log)
	// Reconnection is owned by the lifecycle manager
	cli.EnableAutoReconnect = false
	cli.AutoTrustIdentity = true

	wc := &whatsmeowClient{cli: cli, botID: sess.BotID, handler: handler}
	cli.AddEventHandler(wc.handleEvent)
	return wc, nil
}

func (d *WhatsmeowDialer) findDevice(ctx context.Context, phone string) (*store.Device, error) {
	devices, err := d.container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list whatsmeow devices: %w", err)
	}
	for _, device := range devices {
		if device.ID != nil && device.ID.User == phone {
			return device, nil
		}
	}
	return nil, nil
}

type whatsmeowClient struct {
	cli     *whatsmeow.Client
	botID   string
	handler EventHandler
}

func (w *whatsmeowClient) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		w.handler.HandleConnection(w.botID, ConnectionEvent{State: StateOpen})
	case *events.Disconnected:
		w.handler.HandleConnection(w.botID, ConnectionEvent{
			State:  StateClosed,
			Reason: "socket disconnected",
		})
	case *events.LoggedOut:
		w.handler.HandleConnection(w.botID, ConnectionEvent{
			State:       StateClosed,
			Reason:      fmt.Sprintf("logged out (%s)", evt.Reason),
			AuthFailure: true,
		})
	case *events.StreamReplaced:
		w.handler.HandleConnection(w.botID, ConnectionEvent{
			State:       StateClosed,
			Reason:      "stream replaced by another session",
			AuthFailure: true,
		})
	case *events.Message:
		if evt.Info.IsFromMe {
			return
		}
		text := evt.Message.GetConversation()
		if text == "" {
			text = evt.Message.GetExtendedTextMessage().GetText()
		}
		w.handler.HandleMessage(w.botID, MessageEvent{
			ChatID:            evt.Info.Chat.String(),
			SenderID:          evt.Info.Sender.String(),
			MessageID:         evt.Info.ID,
			Text:              text,
			IsStatusBroadcast: evt.Info.Chat == types.StatusBroadcastJID,
			Timestamp:         evt.Info.Timestamp,
		})
	}
}

func (w *whatsmeowClient) Connect() error {
	return w.cli.Connect()
}

func (w *whatsmeowClient) Disconnect() {
	w.cli.Disconnect()
}

func (w *whatsmeowClient) Logout(ctx context.Context) error {
	return w.cli.Logout(ctx)
}

func (w *whatsmeowClient) IsLoggedIn() bool {
	return w.cli.Store.ID != nil
}

func (w *whatsmeowClient) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return w.cli.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome ("+runtime.GOOS+")")
}

func (w *whatsmeowClient) QRChannel(ctx context.Context) (<-chan string, error) {
	qrChan, err := w.cli.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan string, 1)
	go func() {
		defer close(out)
		for item := range qrChan {
			if item.Event == whatsmeow.QRChannelEventCode {
				out <- item.Code
			}
		}
	}()
	return out, nil
}

func (w *whatsmeowClient) SendText(ctx context.Context, chatID, text string) error {
	chat, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse chat id: %w", err)
	}
	if !w.cli.IsConnected() {
		return ErrNotConnected
	}
	_, err = w.cli.SendMessage(ctx, chat, &waE2E.Message{
		Conversation: proto.String(text),
	})
	return err
}

func (w *whatsmeowClient) SendReaction(ctx context.Context, chatID, senderID, messageID, emoji string) error {
	chat, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse chat id: %w", err)
	}
	sender, err := types.ParseJID(senderID)
	if err != nil {
		return fmt.Errorf("parse sender id: %w", err)
	}
	_, err = w.cli.SendMessage(ctx, chat, w.cli.BuildReaction(chat, sender, messageID, emoji))
	return err
}

func (w *whatsmeowClient) MarkRead(ctx context.Context, chatID, senderID, messageID string) error {
	chat, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse chat id: %w", err)
	}
	sender, err := types.ParseJID(senderID)
	if err != nil {
		return fmt.Errorf("parse sender id: %w", err)
	}
	return w.cli.MarkRead(ctx, []types.MessageID{messageID}, time.Now(), chat, sender)
}
