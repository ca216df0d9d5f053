package services

import (
	"context"
	"sync"

	"github.com/darkwinzo/queen-mini-go/internal/transport"
)

// fakeClient is a scriptable transport.Client
type fakeClient struct {
	mu sync.Mutex

	loggedIn   bool
	loggedOut  bool
	connectErr error
	sendErr    error

	pairResponses []pairResponse
	pairCalls     int
	pairBlock     chan struct{}

	qrPayloads chan string

	sentTexts []sentText
	reactions []sentReaction
	reads     []readReceipt

	connected    bool
	disconnected bool
}

type pairResponse struct {
	code string
	err  error
}

type sentText struct {
	chatID string
	text   string
}

type sentReaction struct {
	chatID string
	emoji  string
}

type readReceipt struct {
	chatID    string
	messageID string
}

func (f *fakeClient) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakeClient) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	f.loggedIn = false
	return nil
}

func (f *fakeClient) IsLoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn
}

func (f *fakeClient) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	f.mu.Lock()
	block := f.pairBlock
	f.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-block:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pairCalls >= len(f.pairResponses) {
		return "", context.DeadlineExceeded
	}
	resp := f.pairResponses[f.pairCalls]
	f.pairCalls++
	return resp.code, resp.err
}

func (f *fakeClient) QRChannel(ctx context.Context) (<-chan string, error) {
	return f.qrPayloads, nil
}

func (f *fakeClient) SendText(ctx context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentTexts = append(f.sentTexts, sentText{chatID: chatID, text: text})
	return nil
}

func (f *fakeClient) SendReaction(ctx context.Context, chatID, senderID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.reactions = append(f.reactions, sentReaction{chatID: chatID, emoji: emoji})
	return nil
}

func (f *fakeClient) MarkRead(ctx context.Context, chatID, senderID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, readReceipt{chatID: chatID, messageID: messageID})
	return nil
}

func (f *fakeClient) wasLoggedOut() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedOut
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentTexts)
}

func (f *fakeClient) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sentTexts) == 0 {
		return ""
	}
	return f.sentTexts[len(f.sentTexts)-1].text
}

// fakeDialer hands out a fresh scripted client per Open call
type fakeDialer struct {
	mu      sync.Mutex
	make    func() *fakeClient
	openErr error
	opened  []*fakeClient
}

func newFakeDialer(make func() *fakeClient) *fakeDialer {
	return &fakeDialer{make: make}
}

func (d *fakeDialer) Open(ctx context.Context, sess transport.Session, handler transport.EventHandler) (transport.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	client := d.make()
	d.opened = append(d.opened, client)
	return client, nil
}

func (d *fakeDialer) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opened)
}

func (d *fakeDialer) lastClient() *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.opened) == 0 {
		return nil
	}
	return d.opened[len(d.opened)-1]
}
