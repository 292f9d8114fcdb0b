package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Chat is the clarification exchange attached to one report generation.
type Chat struct {
	gorm.Model
	UserID     uuid.UUID `gorm:"type:uuid;index"`
	ReportID   uint      `gorm:"index"`
	SessionID  string    `gorm:"index;unique"`
	TokensUsed int64
	Messages   []Message
}

type Message struct {
	gorm.Model
	ChatID    uint `gorm:"index"`
	Type      string
	Content   string
	Timestamp time.Time
	Tokens    int64
}
