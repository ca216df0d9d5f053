package storage

import (
	"errors"

	"github.com/darkwinzo/queen-mini-go/internal/models"
)

// ErrBotNotFound is returned when a bot record does not exist
var ErrBotNotFound = errors.New("bot not found")

// Store defines the interface for bot record storage
type Store interface {
	CreateBot(bot *models.Bot) (*models.Bot, error)
	GetBot(id string) (*models.Bot, error)
	GetBotByPhone(phone string) (*models.Bot, error)
	GetBotsByUser(userID string) ([]*models.Bot, error)
	GetConnectedBots() ([]*models.Bot, error)
	UpdateBotState(id string, update *models.BotStateUpdate) error
	UpdateBotSettings(id string, settings models.BotSettings) error
	UpdateBotStatistics(id string, stats models.BotStatistics) error
	DeleteBot(id string) error
}
