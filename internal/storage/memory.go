package storage

import (
	"sync"
	"time"

	"github.com/darkwinzo/queen-mini-go/internal/models"
)

// MemoryStore holds all bot records in memory for tests and local development
type MemoryStore struct {
	mu   sync.RWMutex
	bots map[string]*models.Bot
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bots: make(map[string]*models.Bot),
	}
}

func (m *MemoryStore) CreateBot(bot *models.Bot) (*models.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bot.CreatedAt = time.Now()
	bot.UpdatedAt = time.Now()

	cp := *bot
	m.bots[bot.ID] = &cp
	return bot, nil
}

func (m *MemoryStore) GetBot(id string) (*models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bot, exists := m.bots[id]
	if !exists {
		return nil, ErrBotNotFound
	}
	cp := *bot
	return &cp, nil
}

func (m *MemoryStore) GetBotByPhone(phone string) (*models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, bot := range m.bots {
		if bot.PhoneNumber == phone {
			cp := *bot
			return &cp, nil
		}
	}
	return nil, ErrBotNotFound
}

func (m *MemoryStore) GetBotsByUser(userID string) ([]*models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bots []*models.Bot
	for _, bot := range m.bots {
		if bot.UserID == userID {
			cp := *bot
			bots = append(bots, &cp)
		}
	}
	return bots, nil
}

func (m *MemoryStore) GetConnectedBots() ([]*models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bots []*models.Bot
	for _, bot := range m.bots {
		if bot.Status == models.StatusConnected && bot.IsActive {
			cp := *bot
			bots = append(bots, &cp)
		}
	}
	return bots, nil
}

func (m *MemoryStore) UpdateBotState(id string, update *models.BotStateUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bot, exists := m.bots[id]
	if !exists {
		return ErrBotNotFound
	}

	bot.Status = update.Status
	bot.PairingCode = update.PairingCode
	bot.QRCode = update.QRCode
	bot.ErrorReason = update.ErrorReason
	if update.LastSeen != nil {
		bot.LastSeen = update.LastSeen
	}
	bot.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpdateBotSettings(id string, settings models.BotSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bot, exists := m.bots[id]
	if !exists {
		return ErrBotNotFound
	}

	bot.Settings = settings
	bot.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpdateBotStatistics(id string, stats models.BotStatistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bot, exists := m.bots[id]
	if !exists {
		return ErrBotNotFound
	}

	// Counters never move backward even if a stale flush arrives
	if stats.MessagesReceived > bot.Statistics.MessagesReceived {
		bot.Statistics.MessagesReceived = stats.MessagesReceived
	}
	if stats.MessagesSent > bot.Statistics.MessagesSent {
		bot.Statistics.MessagesSent = stats.MessagesSent
	}
	if stats.CommandsExecuted > bot.Statistics.CommandsExecuted {
		bot.Statistics.CommandsExecuted = stats.CommandsExecuted
	}
	bot.Statistics.UptimeSeconds = stats.UptimeSeconds
	bot.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) DeleteBot(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bots[id]; !exists {
		return ErrBotNotFound
	}
	delete(m.bots, id)
	return nil
}
