package services

import (
	"time"

	"sparlo_go_backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultChatStore implements ChatStore on GORM.
type DefaultChatStore struct {
	db *gorm.DB
}

func NewChatStore(db *gorm.DB) ChatStore {
	return &DefaultChatStore{db: db}
}

// SaveChat creates the clarification chat for a report, or leaves the
// existing one in place.
func (s *DefaultChatStore) SaveChat(userID uuid.UUID, reportID uint, sessionID string) error {
	chat := &models.Chat{
		UserID:    userID,
		ReportID:  reportID,
		SessionID: sessionID,
	}
	result := s.db.Where(models.Chat{SessionID: sessionID}).FirstOrCreate(chat)
	return result.Error
}

// SaveMessage appends a message to an existing chat and accumulates its
// token cost on the chat row.
func (s *DefaultChatStore) SaveMessage(sessionID, msgType, content string, tokens int64) error {
	var chat models.Chat
	if err := s.db.Where("session_id = ?", sessionID).First(&chat).Error; err != nil {
		return err
	}
	message := &models.Message{
		ChatID:    chat.ID,
		Type:      msgType,
		Content:   content,
		Timestamp: time.Now(),
		Tokens:    tokens,
	}
	if err := s.db.Create(message).Error; err != nil {
		return err
	}
	if tokens > 0 {
		return s.db.Model(&models.Chat{}).
			Where("id = ?", chat.ID).
			Update("tokens_used", gorm.Expr("tokens_used + ?", tokens)).Error
	}
	return nil
}

// GetChatByReportID retrieves a report's clarification transcript.
func (s *DefaultChatStore) GetChatByReportID(reportID uint) (*models.Chat, error) {
	var chat models.Chat
	result := s.db.Preload("Messages", func(db *gorm.DB) *gorm.DB {
		return db.Order("timestamp asc")
	}).Where("report_id = ?", reportID).First(&chat)
	if result.Error != nil {
		return nil, result.Error
	}
	return &chat, nil
}
