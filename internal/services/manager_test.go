package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkwinzo/queen-mini-go/internal/models"
	"github.com/darkwinzo/queen-mini-go/internal/storage"
	"github.com/darkwinzo/queen-mini-go/internal/transport"
)

type managerFixture struct {
	manager     *BotManager
	store       *storage.MemoryStore
	dialer      *fakeDialer
	registry    *Registry
	stats       *Stats
	broadcaster *Broadcaster
}

func newManagerFixture(t *testing.T, makeClient func() *fakeClient) *managerFixture {
	t.Helper()

	store := storage.NewMemoryStore()
	registry := NewRegistry()
	stats := NewStats(store)
	broadcaster := NewBroadcaster()
	dispatcher := NewDispatcher(stats)
	dialer := newFakeDialer(makeClient)

	manager := NewBotManager(store, dialer, registry, stats, dispatcher, broadcaster, nil)
	manager.reconnectDelay = 20 * time.Millisecond
	manager.pairingWarmup = time.Millisecond
	manager.pairingRetryGap = time.Millisecond
	manager.pairingTimeout = time.Second
	manager.connectTimeout = time.Second
	manager.qrWaitTimeout = 200 * time.Millisecond

	return &managerFixture{
		manager:     manager,
		store:       store,
		dialer:      dialer,
		registry:    registry,
		stats:       stats,
		broadcaster: broadcaster,
	}
}

func (f *managerFixture) createBot(t *testing.T) *models.Bot {
	t.Helper()
	bot, err := f.manager.CreateBot("user-1", "94771234567", "TestBot")
	require.NoError(t, err)
	return bot
}

func TestCreateBotRejectsDuplicatePhone(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient { return &fakeClient{} })
	f.createBot(t)

	_, err := f.manager.CreateBot("user-2", "94771234567", "OtherBot")
	assert.ErrorIs(t, err, ErrBotExists)
}

func TestStartPairingReturnsCode(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{pairResponses: []pairResponse{{code: "QWRT5678"}}}
	})
	bot := f.createBot(t)

	result, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(result.PairingCode), 6)
	assert.LessOrEqual(t, len(result.PairingCode), 8)

	_, ok := f.registry.Lookup(bot.ID)
	assert.True(t, ok, "live handle should be registered")

	record, err := f.store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnecting, record.Status)
	assert.Equal(t, "QWRT5678", record.PairingCode)
	assert.Empty(t, record.QRCode)
}

func TestStartPairingRetriesUntilSuccess(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{pairResponses: []pairResponse{
			{err: errors.New("rate limited")},
			{err: errors.New("rate limited")},
			{code: "ABCD1234"},
		}}
	})
	bot := f.createBot(t)

	result, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	require.NoError(t, err)
	assert.Equal(t, "ABCD1234", result.PairingCode)
	assert.Equal(t, 3, f.dialer.lastClient().pairCalls)
}

func TestStartPairingExhaustsRetries(t *testing.T) {
	boom := errors.New("service unavailable")
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{pairResponses: []pairResponse{{err: boom}, {err: boom}, {err: boom}}}
	})
	bot := f.createBot(t)

	_, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	assert.ErrorIs(t, err, ErrPairingFailed)

	_, ok := f.registry.Lookup(bot.ID)
	assert.False(t, ok, "handle must be torn down after pairing failure")

	record, err := f.store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, record.Status)
}

func TestStartPairingRejectedWhileConnecting(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{pairResponses: []pairResponse{{code: "ABCD1234"}}}
	})
	bot := f.createBot(t)

	_, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	require.NoError(t, err)

	_, err = f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, f.dialer.openCount(), "second attempt must not open another connection")
}

func TestStartPairingQRReturnsPayload(t *testing.T) {
	qr := make(chan string, 1)
	qr <- "2@AbCdEfGhIjKlMnOp"
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{qrPayloads: qr}
	})
	bot := f.createBot(t)

	result, err := f.manager.StartPairing(context.Background(), bot.ID, MethodQR)
	require.NoError(t, err)
	assert.Equal(t, "2@AbCdEfGhIjKlMnOp", result.QRCode)
	assert.True(t, strings.HasPrefix(result.QRImage, "data:image/png;base64,"))
	assert.Empty(t, result.PairingCode)
}

func TestConnectionOpenClearsPairingFields(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{pairResponses: []pairResponse{{code: "ABCD1234"}}}
	})
	bot := f.createBot(t)

	_, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	require.NoError(t, err)

	f.manager.HandleConnection(bot.ID, transport.ConnectionEvent{State: transport.StateOpen})

	record, err := f.store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, record.Status)
	assert.Empty(t, record.PairingCode)
	assert.Empty(t, record.QRCode)
	assert.NotNil(t, record.LastSeen)
}

func TestTransientCloseSchedulesReconnect(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{loggedIn: true}
	})
	bot := f.createBot(t)

	_, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	require.NoError(t, err)
	f.manager.HandleConnection(bot.ID, transport.ConnectionEvent{State: transport.StateOpen})

	f.manager.HandleConnection(bot.ID, transport.ConnectionEvent{
		State:  transport.StateClosed,
		Reason: "network drop",
	})

	record, err := f.store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnecting, record.Status)

	require.Eventually(t, func() bool {
		return f.dialer.openCount() == 2
	}, time.Second, 5*time.Millisecond, "reconnect should open a new connection after the delay")
}

func TestAuthRevokedNeverReconnects(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{loggedIn: true}
	})
	bot := f.createBot(t)

	_, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	require.NoError(t, err)
	f.manager.HandleConnection(bot.ID, transport.ConnectionEvent{State: transport.StateOpen})

	f.manager.HandleConnection(bot.ID, transport.ConnectionEvent{
		State:       transport.StateClosed,
		Reason:      "logged out (401)",
		AuthFailure: true,
	})

	record, err := f.store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisconnected, record.Status)

	_, ok := f.registry.Lookup(bot.ID)
	assert.False(t, ok)

	time.Sleep(4 * f.manager.reconnectDelay)
	assert.Equal(t, 1, f.dialer.openCount(), "no reconnect may fire after auth revocation")
}

func TestDeleteSessionCancelsPendingReconnect(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{loggedIn: true}
	})
	bot := f.createBot(t)

	_, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	require.NoError(t, err)
	f.manager.HandleConnection(bot.ID, transport.ConnectionEvent{State: transport.StateOpen})
	f.manager.HandleConnection(bot.ID, transport.ConnectionEvent{
		State:  transport.StateClosed,
		Reason: "network drop",
	})

	require.NoError(t, f.manager.DeleteSession(bot.ID))

	time.Sleep(4 * f.manager.reconnectDelay)
	assert.Equal(t, 1, f.dialer.openCount(), "reconnect must not fire for a deleted session")

	_, err = f.store.GetBot(bot.ID)
	assert.ErrorIs(t, err, storage.ErrBotNotFound)
}

func TestForceDisconnectPreemptsConnecting(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{pairResponses: []pairResponse{{code: "ABCD1234"}}}
	})
	bot := f.createBot(t)

	_, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	require.NoError(t, err)

	require.NoError(t, f.manager.ForceDisconnect(bot.ID))

	record, err := f.store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisconnected, record.Status)
	assert.Empty(t, record.PairingCode)

	_, ok := f.registry.Lookup(bot.ID)
	assert.False(t, ok)
	assert.True(t, f.dialer.lastClient().disconnected)

	time.Sleep(4 * f.manager.reconnectDelay)
	assert.Equal(t, 1, f.dialer.openCount())
}

func TestForceDisconnectPreemptsInFlightPairing(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{pairBlock: block}
	})
	bot := f.createBot(t)

	pairErr := make(chan error, 1)
	go func() {
		_, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
		pairErr <- err
	}()

	require.Eventually(t, func() bool {
		return f.dialer.openCount() == 1
	}, time.Second, time.Millisecond, "pairing attempt should be in flight")

	done := make(chan error, 1)
	go func() { done <- f.manager.ForceDisconnect(bot.ID) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("ForceDisconnect blocked behind the in-flight pairing attempt")
	}

	assert.Error(t, <-pairErr, "the aborted pairing attempt must surface an error")

	record, err := f.store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisconnected, record.Status)

	_, ok := f.registry.Lookup(bot.ID)
	assert.False(t, ok)
}

func TestDeleteSessionPreemptsInFlightPairing(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{pairBlock: block}
	})
	bot := f.createBot(t)

	pairErr := make(chan error, 1)
	go func() {
		_, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
		pairErr <- err
	}()

	require.Eventually(t, func() bool {
		return f.dialer.openCount() == 1
	}, time.Second, time.Millisecond, "pairing attempt should be in flight")

	done := make(chan error, 1)
	go func() { done <- f.manager.DeleteSession(bot.ID) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("DeleteSession blocked behind the in-flight pairing attempt")
	}

	assert.Error(t, <-pairErr)

	_, err := f.store.GetBot(bot.ID)
	assert.ErrorIs(t, err, storage.ErrBotNotFound)
}

func TestDeleteSessionLogsOutLiveClient(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{loggedIn: true}
	})
	bot := f.createBot(t)

	_, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	require.NoError(t, err)
	f.manager.HandleConnection(bot.ID, transport.ConnectionEvent{State: transport.StateOpen})

	require.NoError(t, f.manager.DeleteSession(bot.ID))

	assert.True(t, f.dialer.lastClient().wasLoggedOut(),
		"deleting a bot must unlink its paired credentials")
}

func TestForceDisconnectIgnoresStaleCloseEvent(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{loggedIn: true}
	})
	bot := f.createBot(t)

	_, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	require.NoError(t, err)
	f.manager.HandleConnection(bot.ID, transport.ConnectionEvent{State: transport.StateOpen})
	require.NoError(t, f.manager.ForceDisconnect(bot.ID))

	// The socket teardown may still emit a close event afterwards
	f.manager.HandleConnection(bot.ID, transport.ConnectionEvent{
		State:  transport.StateClosed,
		Reason: "socket disconnected",
	})

	time.Sleep(4 * f.manager.reconnectDelay)
	assert.Equal(t, 1, f.dialer.openCount(), "stale close must not trigger a reconnect")
}

func TestUpdateSettingsPublishesToOwner(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient { return &fakeClient{} })
	bot := f.createBot(t)

	sub := f.broadcaster.Subscribe("user-1")
	defer f.broadcaster.Unsubscribe(sub)

	settings := models.DefaultSettings()
	settings.AutoLikeStatus = false
	require.NoError(t, f.manager.UpdateSettings(bot.ID, settings))

	select {
	case evt := <-sub.C:
		assert.Equal(t, EventBotSettingsUpdate, evt.Event)
	case <-time.After(time.Second):
		t.Fatal("expected a settings event")
	}

	record, err := f.store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.False(t, record.Settings.AutoLikeStatus)
}

func TestStatusReportsLiveState(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{loggedIn: true}
	})
	bot := f.createBot(t)

	snap, err := f.manager.Status(bot.ID)
	require.NoError(t, err)
	assert.False(t, snap.Online)
	assert.Equal(t, models.StatusDisconnected, snap.Status)

	_, err = f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	require.NoError(t, err)
	f.manager.HandleConnection(bot.ID, transport.ConnectionEvent{State: transport.StateOpen})

	snap, err = f.manager.Status(bot.ID)
	require.NoError(t, err)
	assert.True(t, snap.Online)
	assert.Equal(t, models.StatusConnected, snap.Status)
}

func TestInboundMessageCountsReceived(t *testing.T) {
	f := newManagerFixture(t, func() *fakeClient {
		return &fakeClient{loggedIn: true}
	})
	bot := f.createBot(t)

	_, err := f.manager.StartPairing(context.Background(), bot.ID, MethodPair)
	require.NoError(t, err)
	f.manager.HandleConnection(bot.ID, transport.ConnectionEvent{State: transport.StateOpen})

	f.manager.HandleMessage(bot.ID, transport.MessageEvent{
		ChatID:   "123@s.whatsapp.net",
		SenderID: "123@s.whatsapp.net",
		Text:     "hello there",
	})

	assert.Equal(t, int64(1), f.stats.Snapshot(bot.ID).MessagesReceived)
}
