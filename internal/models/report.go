package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReportStatus is the lifecycle of one generation attempt. The token
// reservation held for the report counts against the account's budget in
// every non-terminal status.
type ReportStatus string

const (
	ReportStatusPending    ReportStatus = "pending"
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusClarifying ReportStatus = "clarifying"
	ReportStatusComplete   ReportStatus = "complete"
	ReportStatusFailed     ReportStatus = "failed"
	ReportStatusCancelled  ReportStatus = "cancelled"
)

// NonTerminalStatuses are the statuses whose reservations still count as
// in-flight budget.
var NonTerminalStatuses = []ReportStatus{
	ReportStatusPending,
	ReportStatusProcessing,
	ReportStatusClarifying,
}

func (s ReportStatus) Terminal() bool {
	switch s {
	case ReportStatusComplete, ReportStatusFailed, ReportStatusCancelled:
		return true
	}
	return false
}

type Report struct {
	gorm.Model
	UserID         uuid.UUID    `gorm:"type:uuid;index"`
	Challenge      string       `gorm:"not null"`
	Status         ReportStatus `gorm:"index;default:'pending'"`
	ReservedTokens int64
	ActualTokens   int64
	SanitizedChars int
	Payload        []byte // JSON-encoded StructuredReport
	FailureReason  string
}
