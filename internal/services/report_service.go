package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sparlo_go_backend/internal/decoder"
	"sparlo_go_backend/internal/models"
	"sparlo_go_backend/internal/report"
	"sparlo_go_backend/internal/utils/broker"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrReportNotFound = errors.New("report not found")
	ErrNotReportOwner = errors.New("report belongs to a different user")
)

// ReportEvent is published on the progress broker as a generation moves
// through its lifecycle. Topic: report ID as a string.
type ReportEvent struct {
	ReportID  uint                `json:"report_id"`
	Status    models.ReportStatus `json:"status"`
	Message   string              `json:"message,omitempty"`
	Questions []string            `json:"questions,omitempty"`
	At        time.Time           `json:"at"`
}

const analysisPrompt = `You are a senior engineering consultant with deep expertise in TRIZ
methodology, specialised in cross-domain solutions. Analyse the challenge below and respond
with a single JSON object containing: title, problem_summary, segment, verdict, score, notes,
analysis (contradiction, constraints, success_metrics, triz_principles), concepts (name,
mechanism, source_domain, feasibility, risks, first_test), cross_domain, recommendations
(top_picks, resources, timeline), scores (understanding, novelty, relevance, credibility,
actionability, citations), key_insight, would_pay. If the challenge is too ambiguous to
analyse, respond instead with clarifying_questions (at most 3).

Challenge:
`

// ReportService runs one report generation end to end: reserve budget, call
// the model, decode whatever comes back, settle the ledger. Every exit path
// resolves the reservation exactly once; the conditional status transition
// on the report row is the guard.
type ReportService struct {
	db              *gorm.DB
	usage           UsageLedger
	llm             LLMClient
	chats           ChatStore
	events          *broker.Broker[ReportEvent]
	defaultEstimate int64
}

func NewReportService(
	db *gorm.DB,
	usage UsageLedger,
	llm LLMClient,
	chats ChatStore,
	events *broker.Broker[ReportEvent],
	defaultEstimate int64,
) *ReportService {
	return &ReportService{
		db:              db,
		usage:           usage,
		llm:             llm,
		chats:           chats,
		events:          events,
		defaultEstimate: defaultEstimate,
	}
}

// CreateReport accepts a generation request: resolves the active period,
// reserves the token estimate and persists the pending report. The estimate
// is caller-supplied; the configured default applies when the client sends
// none.
func (s *ReportService) CreateReport(ctx context.Context, userID uuid.UUID, challenge string, estimate int64) (*models.Report, error) {
	challenge = strings.TrimSpace(challenge)
	if challenge == "" {
		return nil, errors.New("challenge text is required")
	}
	if estimate <= 0 {
		estimate = s.defaultEstimate
	}

	if _, err := s.usage.GetOrCreateActivePeriod(ctx, userID); err != nil {
		return nil, err
	}
	reserved, err := s.usage.ReserveTokens(ctx, userID, estimate)
	if err != nil {
		return nil, err
	}

	rep := models.Report{
		UserID:         userID,
		Challenge:      challenge,
		Status:         models.ReportStatusPending,
		ReservedTokens: reserved,
	}
	if err := s.db.WithContext(ctx).Create(&rep).Error; err != nil {
		if _, relErr := s.usage.ReleaseTokens(ctx, userID, reserved); relErr != nil {
			log.Error().Err(relErr).Msg("failed to release reservation after create failure")
		}
		return nil, err
	}
	return &rep, nil
}

// Generate runs the model call and decode for a pending report. Safe to call
// at most once per report; a report no longer pending is left untouched.
func (s *ReportService) Generate(ctx context.Context, reportID uint) error {
	rep, err := s.loadReport(ctx, reportID)
	if err != nil {
		return err
	}

	ok, err := s.transition(ctx, reportID, []models.ReportStatus{models.ReportStatusPending}, models.ReportStatusProcessing, nil)
	if err != nil || !ok {
		return err
	}
	s.publish(reportID, models.ReportStatusProcessing, "generating analysis", nil)

	raw, tokens, err := s.llm.GenerateAnalysis(ctx, analysisPrompt+rep.Challenge)
	if err != nil {
		return s.markFailed(ctx, rep, fmt.Errorf("model call failed: %w", err))
	}
	return s.ingestModelOutput(ctx, rep, raw, tokens, true)
}

// Clarify resumes a generation paused in the clarifying state with the
// user's answer. The clarify round's tokens are charged to the chat counter
// through the idempotent increment path.
func (s *ReportService) Clarify(ctx context.Context, reportID uint, userID uuid.UUID, answer string) error {
	rep, err := s.GetReport(ctx, reportID, userID)
	if err != nil {
		return err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return errors.New("clarification answer is required")
	}

	ok, err := s.transition(ctx, reportID, []models.ReportStatus{models.ReportStatusClarifying}, models.ReportStatusProcessing, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("report %d is not awaiting clarification", reportID)
	}
	s.publish(reportID, models.ReportStatusProcessing, "resuming with clarification", nil)

	if err := s.chats.SaveMessage(chatSessionID(reportID), "user", answer, 0); err != nil {
		log.Error().Err(err).Uint("report_id", reportID).Msg("failed to record clarification answer")
	}

	prompt := analysisPrompt + rep.Challenge + "\n\nClarification from the user:\n" + answer
	raw, tokens, err := s.llm.GenerateAnalysis(ctx, prompt)
	if err != nil {
		return s.markFailed(ctx, rep, fmt.Errorf("model call failed: %w", err))
	}

	key := fmt.Sprintf("report-%d-clarify", reportID)
	if _, err := s.usage.IncrementChatTokensIdempotent(ctx, userID, tokens, key, &reportID); err != nil {
		log.Error().Err(err).Uint("report_id", reportID).Msg("failed to account clarification tokens")
	}

	// One clarification round only; whatever comes back now is final.
	return s.ingestModelOutput(ctx, rep, raw, 0, false)
}

// ingestModelOutput decodes raw output and settles the report. When the
// decoded report asks clarifying questions (and a round is still allowed)
// the generation pauses with the reservation held; otherwise it completes
// and the reservation is finalized against the measured count.
func (s *ReportService) ingestModelOutput(ctx context.Context, rep *models.Report, raw string, tokens int64, allowClarify bool) error {
	_, sanitized := decoder.SanitizeControlChars(raw)
	decoded := report.DecodeReport(raw)

	actual := rep.ActualTokens + tokens

	if allowClarify && len(decoded.ClarifyingQuestions) > 0 {
		ok, err := s.transition(ctx, rep.ID,
			[]models.ReportStatus{models.ReportStatusProcessing},
			models.ReportStatusClarifying,
			map[string]interface{}{"actual_tokens": actual, "sanitized_chars": sanitized})
		if err != nil || !ok {
			return err
		}
		sessionID := chatSessionID(rep.ID)
		if err := s.chats.SaveChat(rep.UserID, rep.ID, sessionID); err != nil {
			log.Error().Err(err).Uint("report_id", rep.ID).Msg("failed to open clarification chat")
		} else {
			for _, q := range decoded.ClarifyingQuestions {
				if err := s.chats.SaveMessage(sessionID, "ai", q, 0); err != nil {
					log.Error().Err(err).Uint("report_id", rep.ID).Msg("failed to record clarifying question")
				}
			}
		}
		s.publish(rep.ID, models.ReportStatusClarifying, "clarification needed", decoded.ClarifyingQuestions)
		return nil
	}

	payload, err := gojson.Marshal(decoded)
	if err != nil {
		return s.markFailed(ctx, rep, fmt.Errorf("encode payload: %w", err))
	}

	ok, err := s.transition(ctx, rep.ID,
		[]models.ReportStatus{models.ReportStatusProcessing},
		models.ReportStatusComplete,
		map[string]interface{}{"payload": payload, "actual_tokens": actual, "sanitized_chars": sanitized})
	if err != nil || !ok {
		// lost the race against a cancel; its release already settled the hold
		return err
	}

	if _, err := s.usage.FinalizeUsage(ctx, rep.UserID, rep.ReservedTokens, actual, true, false); err != nil {
		log.Error().Err(err).Uint("report_id", rep.ID).Msg("failed to finalize usage")
	}
	s.publish(rep.ID, models.ReportStatusComplete, "report ready", nil)
	return nil
}

// Cancel moves a non-terminal report to cancelled and returns its
// reservation. The conditional transition guarantees the release runs once
// even when cancel races completion.
func (s *ReportService) Cancel(ctx context.Context, reportID uint, userID uuid.UUID) error {
	rep, err := s.GetReport(ctx, reportID, userID)
	if err != nil {
		return err
	}

	ok, err := s.transition(ctx, reportID, models.NonTerminalStatuses, models.ReportStatusCancelled, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("report %d already reached a terminal state", reportID)
	}

	if _, err := s.usage.ReleaseTokens(ctx, userID, rep.ReservedTokens); err != nil {
		return err
	}
	s.publish(reportID, models.ReportStatusCancelled, "generation cancelled", nil)
	return nil
}

// GetReport loads a report and enforces ownership. A foreign report is an
// authorization failure, raised immediately.
func (s *ReportService) GetReport(ctx context.Context, reportID uint, userID uuid.UUID) (*models.Report, error) {
	rep, err := s.loadReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if rep.UserID != userID {
		return nil, ErrNotReportOwner
	}
	return rep, nil
}

// ListReports returns the user's reports, newest first.
func (s *ReportService) ListReports(ctx context.Context, userID uuid.UUID) ([]models.Report, error) {
	var reports []models.Report
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&reports).Error
	return reports, err
}

func (s *ReportService) loadReport(ctx context.Context, reportID uint) (*models.Report, error) {
	var rep models.Report
	err := s.db.WithContext(ctx).First(&rep, reportID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (s *ReportService) markFailed(ctx context.Context, rep *models.Report, cause error) error {
	ok, err := s.transition(ctx, rep.ID,
		models.NonTerminalStatuses,
		models.ReportStatusFailed,
		map[string]interface{}{"failure_reason": cause.Error()})
	if err != nil {
		return err
	}
	if ok {
		if _, relErr := s.usage.ReleaseTokens(ctx, rep.UserID, rep.ReservedTokens); relErr != nil {
			log.Error().Err(relErr).Uint("report_id", rep.ID).Msg("failed to release reservation")
		}
		s.publish(rep.ID, models.ReportStatusFailed, cause.Error(), nil)
	}
	return cause
}

// transition is the single conditional UPDATE every status change goes
// through. RowsAffected reports whether this caller won; terminal
// transitions therefore double as the exactly-once guard for
// finalize/release.
func (s *ReportService) transition(ctx context.Context, reportID uint, from []models.ReportStatus, to models.ReportStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to

	res := s.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ? AND status IN ?", reportID, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (s *ReportService) publish(reportID uint, status models.ReportStatus, msg string, questions []string) {
	if s.events == nil {
		return
	}
	s.events.Publish(fmt.Sprintf("report_%d", reportID), ReportEvent{
		ReportID:  reportID,
		Status:    status,
		Message:   msg,
		Questions: questions,
		At:        time.Now(),
	})
}

func chatSessionID(reportID uint) string {
	return fmt.Sprintf("report-%d-clarify", reportID)
}
