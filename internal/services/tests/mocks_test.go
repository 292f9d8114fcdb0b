package services_test

import (
	"context"

	"sparlo_go_backend/internal/models"
	"sparlo_go_backend/internal/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) GenerateAnalysis(ctx context.Context, prompt string) (string, int64, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Get(1).(int64), args.Error(2)
}

type MockUsageLedger struct {
	mock.Mock
}

func (m *MockUsageLedger) GetOrCreateActivePeriod(ctx context.Context, userID uuid.UUID) (*models.UsagePeriod, error) {
	args := m.Called(ctx, userID)
	if p, ok := args.Get(0).(*models.UsagePeriod); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsageLedger) CheckUsage(ctx context.Context, userID uuid.UUID, estimated int64) (*services.UsageSnapshot, error) {
	args := m.Called(ctx, userID, estimated)
	if s, ok := args.Get(0).(*services.UsageSnapshot); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsageLedger) ReserveTokens(ctx context.Context, userID uuid.UUID, estimated int64) (int64, error) {
	args := m.Called(ctx, userID, estimated)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUsageLedger) FinalizeUsage(ctx context.Context, userID uuid.UUID, reserved, actual int64, reportFlag, chatFlag bool) (*services.UsageSnapshot, error) {
	args := m.Called(ctx, userID, reserved, actual, reportFlag, chatFlag)
	if s, ok := args.Get(0).(*services.UsageSnapshot); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsageLedger) ReleaseTokens(ctx context.Context, userID uuid.UUID, amount int64) (*services.UsageSnapshot, error) {
	args := m.Called(ctx, userID, amount)
	if s, ok := args.Get(0).(*services.UsageSnapshot); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsageLedger) IncrementUsageIdempotent(ctx context.Context, userID uuid.UUID, tokens int64, key string, reportID *uint) (*services.IncrementResult, error) {
	args := m.Called(ctx, userID, tokens, key, reportID)
	if r, ok := args.Get(0).(*services.IncrementResult); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsageLedger) IncrementChatTokensIdempotent(ctx context.Context, userID uuid.UUID, tokens int64, key string, reportID *uint) (*services.IncrementResult, error) {
	args := m.Called(ctx, userID, tokens, key, reportID)
	if r, ok := args.Get(0).(*services.IncrementResult); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsageLedger) Snapshot(ctx context.Context, userID uuid.UUID) (*services.UsageSnapshot, error) {
	args := m.Called(ctx, userID)
	if s, ok := args.Get(0).(*services.UsageSnapshot); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockChatStore struct {
	mock.Mock
}

func (m *MockChatStore) SaveChat(userID uuid.UUID, reportID uint, sessionID string) error {
	args := m.Called(userID, reportID, sessionID)
	return args.Error(0)
}

func (m *MockChatStore) SaveMessage(sessionID, msgType, content string, tokens int64) error {
	args := m.Called(sessionID, msgType, content, tokens)
	return args.Error(0)
}

func (m *MockChatStore) GetChatByReportID(reportID uint) (*models.Chat, error) {
	args := m.Called(reportID)
	if c, ok := args.Get(0).(*models.Chat); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}
