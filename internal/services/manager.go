package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/darkwinzo/queen-mini-go/internal/models"
	"github.com/darkwinzo/queen-mini-go/internal/storage"
	"github.com/darkwinzo/queen-mini-go/internal/transport"
)

// Pairing methods
const (
	MethodPair = "pair"
	MethodQR   = "qr"
)

const logoutTimeout = 10 * time.Second

// PairingResult is what StartPairing hands back to the dashboard
type PairingResult struct {
	PairingCode string `json:"pairing_code,omitempty"`
	QRCode      string `json:"qr_code,omitempty"`
	QRImage     string `json:"qr_image,omitempty"`
}

// BotManager drives the lifecycle state machine for every bot session. Each
// session has its own mutex, so lifecycle transitions and message dispatch
// for one bot are serialized while unrelated bots run fully in parallel.
type BotManager struct {
	store       storage.Store
	dialer      transport.Dialer
	registry    *Registry
	stats       *Stats
	dispatcher  *Dispatcher
	broadcaster *Broadcaster
	alerts      *AlertService

	mu       sync.RWMutex
	sessions map[string]*botSession

	reconnectDelay  time.Duration
	pairingAttempts int
	pairingWarmup   time.Duration
	pairingRetryGap time.Duration
	pairingTimeout  time.Duration
	connectTimeout  time.Duration
	qrWaitTimeout   time.Duration
}

type botSession struct {
	mu sync.Mutex

	// cancelMu guards attemptCancel separately from mu, so an in-flight
	// connect attempt can be aborted without waiting for the session lock
	cancelMu      sync.Mutex
	attemptCancel context.CancelFunc

	botID       string
	userID      string
	phoneNumber string
	botName     string

	status      string
	settings    models.BotSettings
	client      transport.Client
	pairingCode string
	qrCode      string
	errorReason string
	lastSeen    *time.Time
	connectedAt time.Time

	method         string
	reconnectTimer *time.Timer
	deleted        bool
	dirty          bool
}

func (s *botSession) storeAttemptCancel(cancel context.CancelFunc) {
	s.cancelMu.Lock()
	s.attemptCancel = cancel
	s.cancelMu.Unlock()
}

// cancelAttempt aborts the in-flight connect attempt, if any. Never takes the
// session lock, so callers blocked behind a long handshake can still preempt it.
func (s *botSession) cancelAttempt() {
	s.cancelMu.Lock()
	cancel := s.attemptCancel
	s.attemptCancel = nil
	s.cancelMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// NewBotManager wires the lifecycle manager. alerts may be nil.
func NewBotManager(store storage.Store, dialer transport.Dialer, registry *Registry, stats *Stats, dispatcher *Dispatcher, broadcaster *Broadcaster, alerts *AlertService) *BotManager {
	return &BotManager{
		store:       store,
		dialer:      dialer,
		registry:    registry,
		stats:       stats,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		alerts:      alerts,
		sessions:    make(map[string]*botSession),

		reconnectDelay:  5 * time.Second,
		pairingAttempts: 3,
		pairingWarmup:   1500 * time.Millisecond,
		pairingRetryGap: 2 * time.Second,
		pairingTimeout:  30 * time.Second,
		connectTimeout:  60 * time.Second,
		qrWaitTimeout:   60 * time.Second,
	}
}

// CreateBot registers a new bot record in the disconnected state
func (m *BotManager) CreateBot(userID, phoneNumber, botName string) (*models.Bot, error) {
	if _, err := m.store.GetBotByPhone(phoneNumber); err == nil {
		return nil, ErrBotExists
	}

	if botName == "" {
		botName = "QUEEN-MINI"
	}

	bot := &models.Bot{
		ID:          uuid.NewString(),
		UserID:      userID,
		PhoneNumber: phoneNumber,
		BotName:     botName,
		Status:      models.StatusDisconnected,
		IsActive:    true,
		Settings:    models.DefaultSettings(),
	}

	created, err := m.store.CreateBot(bot)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	log.Printf("🤖 Bot %s created for user %s (%s)", created.ID, userID, phoneNumber)
	return created, nil
}

// getSession returns the in-memory session for a bot, loading it from
// storage on first use.
func (m *BotManager) getSession(botID string) (*botSession, error) {
	m.mu.RLock()
	sess, ok := m.sessions[botID]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	bot, err := m.store.GetBot(botID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok = m.sessions[botID]; ok {
		return sess, nil
	}

	sess = &botSession{
		botID:       bot.ID,
		userID:      bot.UserID,
		phoneNumber: bot.PhoneNumber,
		botName:     bot.BotName,
		status:      bot.Status,
		settings:    bot.Settings,
		lastSeen:    bot.LastSeen,
	}
	// A session loaded from storage never has a live handle, whatever the
	// persisted status claims after a crash
	if sess.status == models.StatusConnected || sess.status == models.StatusConnecting {
		sess.status = models.StatusDisconnected
	}
	m.sessions[botID] = sess
	m.stats.Seed(botID, bot.Statistics)
	return sess, nil
}

// StartPairing opens a transport connection for the bot and begins the
// pairing flow. For MethodPair it returns a pairing code after at most three
// attempts; for MethodQR it returns the QR payload without waiting for the
// handshake to finish.
func (m *BotManager) StartPairing(ctx context.Context, botID, method string) (*PairingResult, error) {
	if method != MethodPair && method != MethodQR {
		return nil, fmt.Errorf("unknown pairing method %q", method)
	}

	sess, err := m.getSession(botID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.deleted {
		return nil, storage.ErrBotNotFound
	}
	if sess.status != models.StatusDisconnected && sess.status != models.StatusError {
		return nil, fmt.Errorf("%w: bot is %s", ErrInvalidState, sess.status)
	}

	sess.method = method
	sess.pairingCode = ""
	sess.qrCode = ""
	sess.errorReason = ""
	m.setStatusLocked(sess, models.StatusConnecting)

	attemptCtx, cancel := context.WithCancel(ctx)
	sess.storeAttemptCancel(cancel)
	defer sess.cancelAttempt()

	result, err := m.runAttemptLocked(attemptCtx, sess)
	if err != nil {
		m.teardownLocked(sess)
		sess.errorReason = err.Error()
		m.setStatusLocked(sess, models.StatusError)
		return nil, err
	}
	return result, nil
}

// runAttemptLocked opens the transport, connects, and completes whichever
// pairing flow the session uses. Caller holds the session lock.
func (m *BotManager) runAttemptLocked(ctx context.Context, sess *botSession) (*PairingResult, error) {
	openCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	client, err := m.dialer.Open(openCtx, transport.Session{
		BotID:       sess.botID,
		PhoneNumber: sess.phoneNumber,
	}, m)
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}

	if err := m.registry.Register(sess.botID, client); err != nil {
		client.Disconnect()
		return nil, err
	}
	sess.client = client

	needsPairing := !client.IsLoggedIn()

	// The QR channel must be requested before the socket connects
	var qrCh <-chan string
	if sess.method == MethodQR && needsPairing {
		qrCh, err = client.QRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("request qr channel: %w", err)
		}
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect transport: %w", err)
	}

	if !needsPairing {
		// Already paired, the handshake completes in the background
		return &PairingResult{}, nil
	}

	switch sess.method {
	case MethodPair:
		code, err := m.requestPairingCode(ctx, client, sess)
		if err != nil {
			return nil, err
		}
		sess.pairingCode = code
		sess.qrCode = ""
		m.persistLocked(sess)
		m.publishStatusLocked(sess)
		return &PairingResult{PairingCode: code}, nil

	case MethodQR:
		payload, err := m.awaitQR(ctx, qrCh)
		if err != nil {
			return nil, err
		}
		sess.qrCode = payload
		sess.pairingCode = ""
		m.persistLocked(sess)
		m.publishStatusLocked(sess)

		png, err := qrcode.Encode(payload, qrcode.Medium, 256)
		if err != nil {
			log.Printf("Failed to render QR image for bot %s: %v", sess.botID, err)
			return &PairingResult{QRCode: payload}, nil
		}
		return &PairingResult{
			QRCode:  payload,
			QRImage: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		}, nil
	}
	return nil, fmt.Errorf("unknown pairing method %q", sess.method)
}

// requestPairingCode asks the transport for a pairing code with bounded
// retry. First successful code wins.
func (m *BotManager) requestPairingCode(ctx context.Context, client transport.Client, sess *botSession) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= m.pairingAttempts; attempt++ {
		if err := sleepCtx(ctx, m.pairingWarmup); err != nil {
			return "", err
		}

		reqCtx, cancel := context.WithTimeout(ctx, m.pairingTimeout)
		code, err := client.RequestPairingCode(reqCtx, sess.phoneNumber)
		cancel()
		if err == nil {
			log.Printf("🔑 Pairing code issued for bot %s (attempt %d)", sess.botID, attempt)
			return code, nil
		}

		lastErr = err
		log.Printf("Failed to request pairing code for bot %s: %v, retries left: %d", sess.botID, err, m.pairingAttempts-attempt)
		if attempt < m.pairingAttempts {
			if err := sleepCtx(ctx, m.pairingRetryGap); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w: %v", ErrPairingFailed, lastErr)
}

func (m *BotManager) awaitQR(ctx context.Context, qrCh <-chan string) (string, error) {
	timer := time.NewTimer(m.qrWaitTimeout)
	defer timer.Stop()

	select {
	case payload, ok := <-qrCh:
		if !ok {
			return "", ErrQRTimeout
		}
		return payload, nil
	case <-timer.C:
		return "", ErrQRTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleConnection receives connection state changes from the transport
func (m *BotManager) HandleConnection(botID string, evt transport.ConnectionEvent) {
	sess, err := m.getSession(botID)
	if err != nil {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.deleted || sess.client == nil {
		// Stale event from a handle we already tore down
		return
	}

	switch evt.State {
	case transport.StateOpen:
		now := time.Now()
		sess.lastSeen = &now
		sess.connectedAt = now
		sess.pairingCode = ""
		sess.qrCode = ""
		sess.errorReason = ""
		m.stats.MarkConnected(sess.botID, now)
		m.setStatusLocked(sess, models.StatusConnected)
		log.Printf("✅ Bot %s connected successfully", sess.botID)

	case transport.StateClosed:
		m.stats.MarkDisconnected(sess.botID, time.Now())
		m.registry.Unregister(sess.botID)
		sess.client = nil

		if evt.AuthFailure {
			// Credentials are gone; the user must pair again
			sess.errorReason = evt.Reason
			m.setStatusLocked(sess, models.StatusDisconnected)
			log.Printf("🚫 Bot %s session invalidated: %s", sess.botID, evt.Reason)
			m.sendRepairAlert(sess, evt.Reason)
			return
		}

		sess.errorReason = evt.Reason
		m.setStatusLocked(sess, models.StatusConnecting)
		log.Printf("Bot %s disconnected (%s), attempting to reconnect...", sess.botID, evt.Reason)
		m.scheduleReconnectLocked(sess)
	}
}

// HandleMessage receives inbound messages from the transport and feeds them
// to the dispatcher, serialized under the session lock.
func (m *BotManager) HandleMessage(botID string, evt transport.MessageEvent) {
	sess, err := m.getSession(botID)
	if err != nil {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.deleted || sess.client == nil {
		return
	}
	if !evt.IsStatusBroadcast {
		m.stats.Increment(sess.botID, CounterMessagesReceived, 1)
	}
	m.dispatcher.OnInboundMessage(sess.client, m.snapshotLocked(sess), evt)
}

// scheduleReconnectLocked arms the reconnect timer. The pending task is
// cancelled by ForceDisconnect and DeleteSession.
func (m *BotManager) scheduleReconnectLocked(sess *botSession) {
	if sess.reconnectTimer != nil {
		sess.reconnectTimer.Stop()
	}
	botID := sess.botID
	sess.reconnectTimer = time.AfterFunc(m.reconnectDelay, func() {
		m.reconnect(botID)
	})
}

// reconnect re-runs the original pairing flow after the fixed delay
func (m *BotManager) reconnect(botID string) {
	sess, err := m.getSession(botID)
	if err != nil {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.deleted {
		return
	}
	if sess.status != models.StatusConnecting && sess.status != models.StatusError {
		// Force-disconnected while the timer was pending
		return
	}
	if sess.client != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.connectTimeout)
	sess.storeAttemptCancel(cancel)
	defer sess.cancelAttempt()

	if _, err := m.runAttemptLocked(ctx, sess); err != nil {
		log.Printf("Reconnect attempt failed for bot %s: %v", sess.botID, err)
		m.teardownLocked(sess)
		sess.errorReason = err.Error()
		m.setStatusLocked(sess, models.StatusError)
		m.scheduleReconnectLocked(sess)
	}
}

// ForceDisconnect closes the bot's connection and cancels any pending
// reconnect. Valid from any state; an in-flight pairing attempt is aborted
// rather than waited out.
func (m *BotManager) ForceDisconnect(botID string) error {
	sess, err := m.getSession(botID)
	if err != nil {
		return err
	}

	sess.cancelAttempt()
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.deleted {
		return storage.ErrBotNotFound
	}

	m.cancelReconnectLocked(sess)
	m.teardownLocked(sess)
	m.stats.MarkDisconnected(sess.botID, time.Now())
	sess.pairingCode = ""
	sess.qrCode = ""
	sess.errorReason = ""
	m.setStatusLocked(sess, models.StatusDisconnected)
	log.Printf("⏹️  Bot %s force-disconnected", sess.botID)
	return nil
}

// DeleteSession disconnects the bot, unlinks its credentials on the remote
// service and purges its record. A reconnect pending at the time of deletion
// never fires.
func (m *BotManager) DeleteSession(botID string) error {
	sess, err := m.getSession(botID)
	if err != nil {
		return err
	}

	sess.cancelAttempt()
	sess.mu.Lock()
	if sess.deleted {
		sess.mu.Unlock()
		return storage.ErrBotNotFound
	}
	m.cancelReconnectLocked(sess)
	if sess.client != nil {
		// Best-effort: drops the paired device so the phone is unlinked and a
		// future bot with the same number pairs fresh
		logoutCtx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
		if err := sess.client.Logout(logoutCtx); err != nil {
			log.Printf("Failed to log out bot %s: %v", botID, err)
		}
		cancel()
	}
	m.teardownLocked(sess)
	m.stats.MarkDisconnected(sess.botID, time.Now())
	sess.deleted = true
	userID := sess.userID
	sess.mu.Unlock()

	if err := m.store.DeleteBot(botID); err != nil && err != storage.ErrBotNotFound {
		return fmt.Errorf("delete bot record: %w", err)
	}

	m.mu.Lock()
	delete(m.sessions, botID)
	m.mu.Unlock()
	m.stats.Forget(botID)

	m.broadcaster.Publish(userID, EventBotDeleted, map[string]interface{}{
		"botId": botID,
	})
	log.Printf("🗑️  Bot %s deleted", botID)
	return nil
}

// UpdateSettings persists new settings and applies them to the live session
func (m *BotManager) UpdateSettings(botID string, settings models.BotSettings) error {
	sess, err := m.getSession(botID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.deleted {
		return storage.ErrBotNotFound
	}

	if settings.Prefix == "" {
		settings.Prefix = sess.settings.Prefix
	}
	sess.settings = settings

	if err := m.store.UpdateBotSettings(botID, settings); err != nil {
		log.Printf("Failed to persist settings for bot %s: %v", botID, err)
		sess.dirty = true
	}

	m.broadcaster.Publish(sess.userID, EventBotSettingsUpdate, map[string]interface{}{
		"botId":    botID,
		"settings": settings,
	})
	return nil
}

// Status returns a snapshot of the session including live-handle state
func (m *BotManager) Status(botID string) (SessionSnapshot, error) {
	sess, err := m.getSession(botID)
	if err != nil {
		return SessionSnapshot{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.deleted {
		return SessionSnapshot{}, storage.ErrBotNotFound
	}
	return m.snapshotLocked(sess), nil
}

// Sessions returns snapshots of every loaded session
func (m *BotManager) Sessions() []SessionSnapshot {
	m.mu.RLock()
	sessions := make([]*botSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	snaps := make([]SessionSnapshot, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		if !sess.deleted {
			snaps = append(snaps, m.snapshotLocked(sess))
		}
		sess.mu.Unlock()
	}
	return snaps
}

// Restore reconnects bots that were connected before the last shutdown
func (m *BotManager) Restore(ctx context.Context) {
	bots, err := m.store.GetConnectedBots()
	if err != nil {
		log.Printf("Failed to load bots for restore: %v", err)
		return
	}

	for _, bot := range bots {
		sess, err := m.getSession(bot.ID)
		if err != nil {
			continue
		}

		sess.mu.Lock()
		sess.method = MethodPair
		m.setStatusLocked(sess, models.StatusConnecting)
		m.scheduleReconnectLocked(sess)
		sess.mu.Unlock()

		log.Printf("🔄 Restoring session for bot %s (%s)", bot.ID, bot.PhoneNumber)
	}
}

// FlushDirty retries persistence for sessions whose last write failed
func (m *BotManager) FlushDirty() {
	m.mu.RLock()
	sessions := make([]*botSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		if sess.dirty && !sess.deleted {
			sess.dirty = false
			m.persistLocked(sess)
		}
		sess.mu.Unlock()
	}
}

// Shutdown closes every live connection without changing persisted state, so
// Restore can bring the bots back after a restart.
func (m *BotManager) Shutdown() {
	m.mu.RLock()
	sessions := make([]*botSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		m.cancelReconnectLocked(sess)
		if sess.client != nil {
			sess.client.Disconnect()
			m.registry.Unregister(sess.botID)
			sess.client = nil
		}
		sess.mu.Unlock()
	}
}

func (m *BotManager) cancelReconnectLocked(sess *botSession) {
	if sess.reconnectTimer != nil {
		sess.reconnectTimer.Stop()
		sess.reconnectTimer = nil
	}
}

func (m *BotManager) teardownLocked(sess *botSession) {
	if sess.client != nil {
		sess.client.Disconnect()
		m.registry.Unregister(sess.botID)
		sess.client = nil
	}
}

// setStatusLocked applies a state transition, persists it and publishes the
// change to the owning user's dashboard.
func (m *BotManager) setStatusLocked(sess *botSession, status string) {
	sess.status = status
	m.persistLocked(sess)
	m.publishStatusLocked(sess)
}

func (m *BotManager) persistLocked(sess *botSession) {
	err := m.store.UpdateBotState(sess.botID, &models.BotStateUpdate{
		Status:      sess.status,
		PairingCode: sess.pairingCode,
		QRCode:      sess.qrCode,
		LastSeen:    sess.lastSeen,
		ErrorReason: sess.errorReason,
	})
	if err != nil && err != storage.ErrBotNotFound {
		// Keep the in-memory state authoritative; the stats job retries
		log.Printf("Failed to persist state for bot %s: %v", sess.botID, err)
		sess.dirty = true
	}
}

func (m *BotManager) publishStatusLocked(sess *botSession) {
	data := map[string]interface{}{
		"botId":  sess.botID,
		"status": sess.status,
	}
	if sess.pairingCode != "" {
		data["pairingCode"] = sess.pairingCode
	}
	if sess.qrCode != "" {
		data["qrCode"] = sess.qrCode
	}
	if sess.errorReason != "" {
		data["reason"] = sess.errorReason
	}
	m.broadcaster.Publish(sess.userID, EventBotStatusUpdate, data)
}

func (m *BotManager) snapshotLocked(sess *botSession) SessionSnapshot {
	return SessionSnapshot{
		BotID:       sess.botID,
		UserID:      sess.userID,
		BotName:     sess.botName,
		PhoneNumber: sess.phoneNumber,
		Status:      sess.status,
		Settings:    sess.settings,
		ConnectedAt: sess.connectedAt,
		Online:      sess.client != nil && sess.status == models.StatusConnected,
	}
}

func (m *BotManager) sendRepairAlert(sess *botSession, reason string) {
	if m.alerts == nil {
		return
	}
	phone, name := sess.phoneNumber, sess.botName
	go func() {
		if err := m.alerts.SendRepairAlert(phone, name, reason); err != nil {
			log.Printf("Failed to send re-pair alert for bot %s: %v", name, err)
		}
	}()
}
