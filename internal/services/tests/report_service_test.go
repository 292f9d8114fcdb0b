package services_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"sparlo_go_backend/internal/database"
	"sparlo_go_backend/internal/models"
	"sparlo_go_backend/internal/report"
	"sparlo_go_backend/internal/services"
	"sparlo_go_backend/internal/utils/broker"

	"github.com/glebarez/sqlite"
	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testEstimate = int64(5000)

func newReportTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func newReportService(t *testing.T) (*services.ReportService, *gorm.DB, *MockUsageLedger, *MockLLMClient, *MockChatStore) {
	t.Helper()
	db := newReportTestDB(t)
	ledger := new(MockUsageLedger)
	llm := new(MockLLMClient)
	chats := new(MockChatStore)
	events := broker.NewBroker[services.ReportEvent]()
	svc := services.NewReportService(db, ledger, llm, chats, events, testEstimate)
	return svc, db, ledger, llm, chats
}

func loadReportRow(t *testing.T, db *gorm.DB, id uint) models.Report {
	t.Helper()
	var rep models.Report
	require.NoError(t, db.First(&rep, id).Error)
	return rep
}

func TestCreateReportReservesEstimate(t *testing.T) {
	svc, db, ledger, _, _ := newReportService(t)
	userID := uuid.New()

	ledger.On("GetOrCreateActivePeriod", mock.Anything, userID).Return(&models.UsagePeriod{}, nil)
	ledger.On("ReserveTokens", mock.Anything, userID, testEstimate).Return(testEstimate, nil)

	rep, err := svc.CreateReport(context.Background(), userID, "reduce pump cavitation", 0)
	require.NoError(t, err)

	assert.Equal(t, models.ReportStatusPending, rep.Status)
	assert.Equal(t, testEstimate, rep.ReservedTokens)

	row := loadReportRow(t, db, rep.ID)
	assert.Equal(t, "reduce pump cavitation", row.Challenge)
	ledger.AssertExpectations(t)
}

func TestCreateReportRejectsEmptyChallenge(t *testing.T) {
	svc, _, _, _, _ := newReportService(t)

	_, err := svc.CreateReport(context.Background(), uuid.New(), "   ", 0)
	assert.Error(t, err)
}

func TestCreateReportBudgetExceeded(t *testing.T) {
	svc, db, ledger, _, _ := newReportService(t)
	userID := uuid.New()

	budgetErr := &services.InsufficientBudgetError{Requested: testEstimate, Limit: 1000, Remaining: 200}
	ledger.On("GetOrCreateActivePeriod", mock.Anything, userID).Return(&models.UsagePeriod{}, nil)
	ledger.On("ReserveTokens", mock.Anything, userID, testEstimate).Return(int64(0), budgetErr)

	_, err := svc.CreateReport(context.Background(), userID, "challenge", 0)
	var asBudget *services.InsufficientBudgetError
	require.ErrorAs(t, err, &asBudget)

	var count int64
	require.NoError(t, db.Model(&models.Report{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGenerateHappyPath(t *testing.T) {
	svc, db, ledger, llm, _ := newReportService(t)
	userID := uuid.New()

	ledger.On("GetOrCreateActivePeriod", mock.Anything, userID).Return(&models.UsagePeriod{}, nil)
	ledger.On("ReserveTokens", mock.Anything, userID, testEstimate).Return(testEstimate, nil)
	rep, err := svc.CreateReport(context.Background(), userID, "cool a battery pack faster", 0)
	require.NoError(t, err)

	raw := `{"title": "Battery cooling", "verdict": "good", "score": "8/10"}`
	llm.On("GenerateAnalysis", mock.Anything, mock.Anything).Return(raw, int64(3200), nil).Once()
	ledger.On("FinalizeUsage", mock.Anything, userID, testEstimate, int64(3200), true, false).
		Return(&services.UsageSnapshot{}, nil).Once()

	require.NoError(t, svc.Generate(context.Background(), rep.ID))

	row := loadReportRow(t, db, rep.ID)
	assert.Equal(t, models.ReportStatusComplete, row.Status)
	assert.Equal(t, int64(3200), row.ActualTokens)

	var decoded report.StructuredReport
	require.NoError(t, gojson.Unmarshal(row.Payload, &decoded))
	assert.Equal(t, "Battery cooling", decoded.Title)
	assert.Equal(t, report.VerdictPromising, decoded.Verdict)
	assert.InDelta(t, 8.0, decoded.OverallScore, 1e-9)

	ledger.AssertExpectations(t)
	llm.AssertExpectations(t)
}

func TestGenerateRunsAtMostOnce(t *testing.T) {
	svc, _, ledger, llm, _ := newReportService(t)
	userID := uuid.New()

	ledger.On("GetOrCreateActivePeriod", mock.Anything, userID).Return(&models.UsagePeriod{}, nil)
	ledger.On("ReserveTokens", mock.Anything, userID, testEstimate).Return(testEstimate, nil)
	rep, err := svc.CreateReport(context.Background(), userID, "challenge", 0)
	require.NoError(t, err)

	llm.On("GenerateAnalysis", mock.Anything, mock.Anything).Return(`{"title": "once"}`, int64(100), nil).Once()
	ledger.On("FinalizeUsage", mock.Anything, userID, testEstimate, int64(100), true, false).
		Return(&services.UsageSnapshot{}, nil).Once()

	require.NoError(t, svc.Generate(context.Background(), rep.ID))
	// a duplicate trigger loses the status transition and does nothing
	require.NoError(t, svc.Generate(context.Background(), rep.ID))

	llm.AssertNumberOfCalls(t, "GenerateAnalysis", 1)
	ledger.AssertNumberOfCalls(t, "FinalizeUsage", 1)
}

func TestGenerateGarbageOutputStillCompletes(t *testing.T) {
	svc, db, ledger, llm, _ := newReportService(t)
	userID := uuid.New()

	ledger.On("GetOrCreateActivePeriod", mock.Anything, userID).Return(&models.UsagePeriod{}, nil)
	ledger.On("ReserveTokens", mock.Anything, userID, testEstimate).Return(testEstimate, nil)
	rep, err := svc.CreateReport(context.Background(), userID, "challenge", 0)
	require.NoError(t, err)

	llm.On("GenerateAnalysis", mock.Anything, mock.Anything).Return("I am sorry, I cannot", int64(40), nil)
	ledger.On("FinalizeUsage", mock.Anything, userID, testEstimate, int64(40), true, false).
		Return(&services.UsageSnapshot{}, nil).Once()

	require.NoError(t, svc.Generate(context.Background(), rep.ID))

	row := loadReportRow(t, db, rep.ID)
	assert.Equal(t, models.ReportStatusComplete, row.Status)

	var decoded report.StructuredReport
	require.NoError(t, gojson.Unmarshal(row.Payload, &decoded))
	assert.Equal(t, report.VerdictMixed, decoded.Verdict)
}

func TestGenerateModelFailureReleasesReservation(t *testing.T) {
	svc, db, ledger, llm, _ := newReportService(t)
	userID := uuid.New()

	ledger.On("GetOrCreateActivePeriod", mock.Anything, userID).Return(&models.UsagePeriod{}, nil)
	ledger.On("ReserveTokens", mock.Anything, userID, testEstimate).Return(testEstimate, nil)
	rep, err := svc.CreateReport(context.Background(), userID, "challenge", 0)
	require.NoError(t, err)

	llm.On("GenerateAnalysis", mock.Anything, mock.Anything).Return("", int64(0), fmt.Errorf("upstream timeout"))
	ledger.On("ReleaseTokens", mock.Anything, userID, testEstimate).
		Return(&services.UsageSnapshot{}, nil).Once()

	err = svc.Generate(context.Background(), rep.ID)
	require.Error(t, err)

	row := loadReportRow(t, db, rep.ID)
	assert.Equal(t, models.ReportStatusFailed, row.Status)
	assert.Contains(t, row.FailureReason, "upstream timeout")
	ledger.AssertNumberOfCalls(t, "ReleaseTokens", 1)
	ledger.AssertNotCalled(t, "FinalizeUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelReleasesExactlyOnce(t *testing.T) {
	svc, db, ledger, _, _ := newReportService(t)
	userID := uuid.New()

	ledger.On("GetOrCreateActivePeriod", mock.Anything, userID).Return(&models.UsagePeriod{}, nil)
	ledger.On("ReserveTokens", mock.Anything, userID, testEstimate).Return(testEstimate, nil)
	rep, err := svc.CreateReport(context.Background(), userID, "challenge", 0)
	require.NoError(t, err)

	ledger.On("ReleaseTokens", mock.Anything, userID, testEstimate).
		Return(&services.UsageSnapshot{}, nil).Once()

	require.NoError(t, svc.Cancel(context.Background(), rep.ID, userID))
	assert.Error(t, svc.Cancel(context.Background(), rep.ID, userID))

	row := loadReportRow(t, db, rep.ID)
	assert.Equal(t, models.ReportStatusCancelled, row.Status)
	ledger.AssertNumberOfCalls(t, "ReleaseTokens", 1)
}

func TestClarifyFlow(t *testing.T) {
	svc, db, ledger, llm, chats := newReportService(t)
	userID := uuid.New()

	ledger.On("GetOrCreateActivePeriod", mock.Anything, userID).Return(&models.UsagePeriod{}, nil)
	ledger.On("ReserveTokens", mock.Anything, userID, testEstimate).Return(testEstimate, nil)
	rep, err := svc.CreateReport(context.Background(), userID, "vague challenge", 0)
	require.NoError(t, err)

	// First round: the model asks questions instead of delivering a report.
	questions := `{"clarifying_questions": ["What is the operating temperature?", "Which materials are allowed?"]}`
	llm.On("GenerateAnalysis", mock.Anything, mock.Anything).Return(questions, int64(500), nil).Once()
	chats.On("SaveChat", userID, rep.ID, mock.Anything).Return(nil)
	chats.On("SaveMessage", mock.Anything, "ai", mock.Anything, int64(0)).Return(nil)

	require.NoError(t, svc.Generate(context.Background(), rep.ID))

	row := loadReportRow(t, db, rep.ID)
	assert.Equal(t, models.ReportStatusClarifying, row.Status)
	chats.AssertNumberOfCalls(t, "SaveMessage", 2)
	ledger.AssertNotCalled(t, "FinalizeUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// Second round: the answer goes back and a full report comes out.
	final := `{"title": "Resolved", "verdict": "promising"}`
	llm.On("GenerateAnalysis", mock.Anything, mock.Anything).Return(final, int64(2100), nil).Once()
	chats.On("SaveMessage", mock.Anything, "user", "Room temperature, steel only", int64(0)).Return(nil)
	ledger.On("IncrementChatTokensIdempotent", mock.Anything, userID, int64(2100), fmt.Sprintf("report-%d-clarify", rep.ID), mock.Anything).
		Return(&services.IncrementResult{Tokens: 2100}, nil).Once()
	ledger.On("FinalizeUsage", mock.Anything, userID, testEstimate, int64(500), true, false).
		Return(&services.UsageSnapshot{}, nil).Once()

	require.NoError(t, svc.Clarify(context.Background(), rep.ID, userID, "Room temperature, steel only"))

	row = loadReportRow(t, db, rep.ID)
	assert.Equal(t, models.ReportStatusComplete, row.Status)

	var decoded report.StructuredReport
	require.NoError(t, gojson.Unmarshal(row.Payload, &decoded))
	assert.Equal(t, "Resolved", decoded.Title)
	assert.Empty(t, decoded.ClarifyingQuestions)

	ledger.AssertExpectations(t)
}

func TestClarifyRequiresClarifyingState(t *testing.T) {
	svc, _, ledger, _, _ := newReportService(t)
	userID := uuid.New()

	ledger.On("GetOrCreateActivePeriod", mock.Anything, userID).Return(&models.UsagePeriod{}, nil)
	ledger.On("ReserveTokens", mock.Anything, userID, testEstimate).Return(testEstimate, nil)
	rep, err := svc.CreateReport(context.Background(), userID, "challenge", 0)
	require.NoError(t, err)

	err = svc.Clarify(context.Background(), rep.ID, userID, "an answer")
	assert.Error(t, err)
}

func TestGetReportEnforcesOwnership(t *testing.T) {
	svc, _, ledger, _, _ := newReportService(t)
	owner := uuid.New()

	ledger.On("GetOrCreateActivePeriod", mock.Anything, owner).Return(&models.UsagePeriod{}, nil)
	ledger.On("ReserveTokens", mock.Anything, owner, testEstimate).Return(testEstimate, nil)
	rep, err := svc.CreateReport(context.Background(), owner, "challenge", 0)
	require.NoError(t, err)

	_, err = svc.GetReport(context.Background(), rep.ID, uuid.New())
	assert.ErrorIs(t, err, services.ErrNotReportOwner)

	_, err = svc.GetReport(context.Background(), 99999, owner)
	assert.ErrorIs(t, err, services.ErrReportNotFound)
}

func TestListReportsScopedToUser(t *testing.T) {
	svc, _, ledger, _, _ := newReportService(t)
	alice := uuid.New()
	bob := uuid.New()

	ledger.On("GetOrCreateActivePeriod", mock.Anything, mock.Anything).Return(&models.UsagePeriod{}, nil)
	ledger.On("ReserveTokens", mock.Anything, mock.Anything, testEstimate).Return(testEstimate, nil)

	_, err := svc.CreateReport(context.Background(), alice, "a1", 0)
	require.NoError(t, err)
	_, err = svc.CreateReport(context.Background(), alice, "a2", 0)
	require.NoError(t, err)
	_, err = svc.CreateReport(context.Background(), bob, "b1", 0)
	require.NoError(t, err)

	reports, err := svc.ListReports(context.Background(), alice)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}
