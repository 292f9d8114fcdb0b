package services

import (
	"context"

	"sparlo_go_backend/internal/models"

	"github.com/google/uuid"
)

// LLMClient is the black box that turns a prompt into raw text plus the
// measured token count. The pipeline never retries it and never trusts its
// output shape.
type LLMClient interface {
	GenerateAnalysis(ctx context.Context, prompt string) (raw string, tokens int64, err error)
}

// UsageLedger is the token accounting protocol one report generation runs
// against. Reserve before generating, then finalize or release exactly once.
type UsageLedger interface {
	GetOrCreateActivePeriod(ctx context.Context, userID uuid.UUID) (*models.UsagePeriod, error)
	CheckUsage(ctx context.Context, userID uuid.UUID, estimated int64) (*UsageSnapshot, error)
	ReserveTokens(ctx context.Context, userID uuid.UUID, estimated int64) (int64, error)
	FinalizeUsage(ctx context.Context, userID uuid.UUID, reserved, actual int64, reportFlag, chatFlag bool) (*UsageSnapshot, error)
	ReleaseTokens(ctx context.Context, userID uuid.UUID, amount int64) (*UsageSnapshot, error)
	IncrementUsageIdempotent(ctx context.Context, userID uuid.UUID, tokens int64, key string, reportID *uint) (*IncrementResult, error)
	IncrementChatTokensIdempotent(ctx context.Context, userID uuid.UUID, tokens int64, key string, reportID *uint) (*IncrementResult, error)
	Snapshot(ctx context.Context, userID uuid.UUID) (*UsageSnapshot, error)
}

// ChatStore persists the clarification transcript attached to a report.
type ChatStore interface {
	SaveChat(userID uuid.UUID, reportID uint, sessionID string) error
	SaveMessage(sessionID, msgType, content string, tokens int64) error
	GetChatByReportID(reportID uint) (*models.Chat, error)
}
