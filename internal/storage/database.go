package storage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/darkwinzo/queen-mini-go/internal/models"
)

// DatabaseStore persists bot records through GORM
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore creates a database-backed store
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

func (d *DatabaseStore) CreateBot(bot *models.Bot) (*models.Bot, error) {
	if err := d.db.Create(bot).Error; err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return bot, nil
}

func (d *DatabaseStore) GetBot(id string) (*models.Bot, error) {
	var bot models.Bot
	err := d.db.First(&bot, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func (d *DatabaseStore) GetBotByPhone(phone string) (*models.Bot, error) {
	var bot models.Bot
	err := d.db.First(&bot, "phone_number = ?", phone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func (d *DatabaseStore) GetBotsByUser(userID string) ([]*models.Bot, error) {
	var bots []*models.Bot
	err := d.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&bots).Error
	if err != nil {
		return nil, err
	}
	return bots, nil
}

func (d *DatabaseStore) GetConnectedBots() ([]*models.Bot, error) {
	var bots []*models.Bot
	err := d.db.Where("status = ? AND is_active = ?", models.StatusConnected, true).Find(&bots).Error
	if err != nil {
		return nil, err
	}
	return bots, nil
}

func (d *DatabaseStore) UpdateBotState(id string, update *models.BotStateUpdate) error {
	fields := map[string]interface{}{
		"status":       update.Status,
		"pairing_code": update.PairingCode,
		"qr_code":      update.QRCode,
		"error_reason": update.ErrorReason,
	}
	if update.LastSeen != nil {
		fields["last_seen"] = update.LastSeen
	}

	result := d.db.Model(&models.Bot{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBotNotFound
	}
	return nil
}

func (d *DatabaseStore) UpdateBotSettings(id string, settings models.BotSettings) error {
	result := d.db.Model(&models.Bot{}).Where("id = ?", id).Update("settings", settings)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBotNotFound
	}
	return nil
}

func (d *DatabaseStore) UpdateBotStatistics(id string, stats models.BotStatistics) error {
	// Read-modify-write so a stale flush can never roll counters backward
	return d.db.Transaction(func(tx *gorm.DB) error {
		var bot models.Bot
		err := tx.First(&bot, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBotNotFound
		}
		if err != nil {
			return err
		}

		merged := bot.Statistics
		if stats.MessagesReceived > merged.MessagesReceived {
			merged.MessagesReceived = stats.MessagesReceived
		}
		if stats.MessagesSent > merged.MessagesSent {
			merged.MessagesSent = stats.MessagesSent
		}
		if stats.CommandsExecuted > merged.CommandsExecuted {
			merged.CommandsExecuted = stats.CommandsExecuted
		}
		merged.UptimeSeconds = stats.UptimeSeconds

		return tx.Model(&models.Bot{}).Where("id = ?", id).Update("statistics", merged).Error
	})
}

func (d *DatabaseStore) DeleteBot(id string) error {
	result := d.db.Delete(&models.Bot{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBotNotFound
	}
	return nil
}
