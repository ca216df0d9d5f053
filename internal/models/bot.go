package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Bot statuses
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusError        = "error"
)

// Bot represents one managed WhatsApp bot instance
type Bot struct {
	ID          string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID      string         `json:"user_id" gorm:"index;not null"`
	PhoneNumber string         `json:"phone_number" gorm:"uniqueIndex;not null"`
	BotName     string         `json:"bot_name" gorm:"default:'QUEEN-MINI'"`
	Status      string         `json:"status" gorm:"default:'disconnected'"`
	IsActive    bool           `json:"is_active" gorm:"default:true"`
	QRCode      string         `json:"qr_code" gorm:"type:text"`
	PairingCode string         `json:"pairing_code"`
	LastSeen    *time.Time     `json:"last_seen"`
	ErrorReason string         `json:"error_reason"`
	Settings    BotSettings    `json:"settings" gorm:"type:text"`
	Statistics  BotStatistics  `json:"statistics" gorm:"type:text"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// BotSettings holds per-bot behaviour toggles, stored as a JSON column
type BotSettings struct {
	Prefix         string `json:"prefix"`
	AutoViewStatus bool   `json:"autoViewStatus"`
	AutoLikeStatus bool   `json:"autoLikeStatus"`
	AutoRecording  bool   `json:"autoRecording"`
	AutoReact      bool   `json:"autoReact"`
	AntiCall       bool   `json:"antiCall"`
	AntiDelete     bool   `json:"antiDelete"`
}

// DefaultSettings returns the settings a freshly created bot starts with
func DefaultSettings() BotSettings {
	return BotSettings{
		Prefix:         ".",
		AutoViewStatus: true,
		AutoLikeStatus: true,
		AutoRecording:  true,
		AutoReact:      false,
		AntiCall:       true,
		AntiDelete:     true,
	}
}

// BotStatistics holds per-bot counters, stored as a JSON column.
// All counters except UptimeSeconds only ever grow.
type BotStatistics struct {
	MessagesReceived int64 `json:"messagesReceived"`
	MessagesSent     int64 `json:"messagesSent"`
	CommandsExecuted int64 `json:"commandsExecuted"`
	UptimeSeconds    int64 `json:"uptime"`
}

func (s BotSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *BotSettings) Scan(value interface{}) error {
	return scanJSON(value, s)
}

func (s BotStatistics) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *BotStatistics) Scan(value interface{}) error {
	return scanJSON(value, s)
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported column type %T", value)
	}
}

// BotStateUpdate carries the fields the lifecycle manager persists on every
// state transition.
type BotStateUpdate struct {
	Status      string
	PairingCode string
	QRCode      string
	LastSeen    *time.Time
	ErrorReason string
}
