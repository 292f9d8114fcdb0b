package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sparlo_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoActivePeriod signals a contract violation: a mutating ledger
// operation ran before the period manager resolved an active period. This is
// a caller bug, never a user-facing condition.
var ErrNoActivePeriod = errors.New("no active usage period for user")

// InsufficientBudgetError is the structured "not allowed" result of a failed
// reservation. It is an expected business outcome, not an internal failure.
type InsufficientBudgetError struct {
	Requested int64
	Used      int64
	Limit     int64
	Remaining int64
}

func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("token budget exceeded: requested %d with %d of %d remaining", e.Requested, e.Remaining, e.Limit)
}

// UsageSnapshot is the caller-visible view of one account's active period.
// Used counts finalized consumption only; in-flight reservations are broken
// out separately so the two never double-count.
type UsageSnapshot struct {
	Allowed          bool      `json:"allowed"`
	Used             int64     `json:"used"`
	Limit            int64     `json:"limit"`
	Remaining        int64     `json:"remaining"`
	ReservedByOthers int64     `json:"reserved_by_others"`
	PeriodEnd        time.Time `json:"period_end"`
}

// IncrementResult reports the outcome of an idempotent usage increment.
type IncrementResult struct {
	AlreadyProcessed bool  `json:"already_processed"`
	Tokens           int64 `json:"tokens"`
}

// UsageService owns the per-account token ledger: period rollover,
// reservations, finalization and idempotent increments. All mutation funnels
// through single conditional statements so concurrent requests for the same
// account cannot overspend.
type UsageService struct {
	db           *gorm.DB
	defaultQuota int64
	now          func() time.Time
}

func NewUsageService(db *gorm.DB, defaultQuota int64) *UsageService {
	return &UsageService{
		db:           db,
		defaultQuota: defaultQuota,
		now:          time.Now,
	}
}

// GetOrCreateActivePeriod resolves the single active period for a user,
// retiring an expired one and lazily creating the next. Creation is an
// upsert that no-ops when a concurrent caller won the race, so exactly one
// active period exists per user at any instant.
func (s *UsageService) GetOrCreateActivePeriod(ctx context.Context, userID uuid.UUID) (*models.UsagePeriod, error) {
	now := s.now()

	for attempt := 0; attempt < 3; attempt++ {
		var period models.UsagePeriod
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND status = ?", userID, models.PeriodStatusActive).
			First(&period).Error

		switch {
		case err == nil:
			if period.PeriodEnd.After(now) {
				return &period, nil
			}
			// Conditional completion: only the caller that still sees the
			// period active and expired retires it.
			res := s.db.WithContext(ctx).Model(&models.UsagePeriod{}).
				Where("id = ? AND status = ? AND period_end <= ?", period.ID, models.PeriodStatusActive, now).
				Update("status", models.PeriodStatusCompleted)
			if res.Error != nil {
				return nil, res.Error
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// fall through to creation
		default:
			return nil, err
		}

		start, end, quota, err := s.periodBounds(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		fresh := models.UsagePeriod{
			UserID:      userID,
			PeriodStart: start,
			PeriodEnd:   end,
			TokenLimit:  quota,
			Status:      models.PeriodStatusActive,
		}
		err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:     []clause.Column{{Name: "user_id"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{gorm.Expr("status = 'active'")}},
			DoNothing:   true,
		}).Create(&fresh).Error
		if err != nil {
			return nil, err
		}

		// Re-select: either our insert or the concurrent winner's row.
		err = s.db.WithContext(ctx).
			Where("user_id = ? AND status = ?", userID, models.PeriodStatusActive).
			First(&period).Error
		if err == nil && period.PeriodEnd.After(now) {
			return &period, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("could not resolve active usage period for user %s", userID)
}

// periodBounds prefers the boundaries of an active or trialing subscription;
// without one the period is the calendar month containing now.
func (s *UsageService) periodBounds(ctx context.Context, userID uuid.UUID, now time.Time) (time.Time, time.Time, int64, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []string{"active", "trialing"}).
		Order("current_period_end DESC").
		First(&sub).Error
	if err == nil && sub.CurrentPeriodEnd.After(now) {
		quota := sub.MonthlyTokenQuota
		if quota <= 0 {
			quota = s.defaultQuota
		}
		return sub.CurrentPeriodStart, sub.CurrentPeriodEnd, quota, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, time.Time{}, 0, err
	}

	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), s.defaultQuota, nil
}

// reservedInFlight sums the reservations of all non-terminal reports for a
// user. Always read fresh: correctness depends on seeing concurrent holds.
func (s *UsageService) reservedInFlight(ctx context.Context, userID uuid.UUID) (int64, error) {
	var reserved int64
	err := s.db.WithContext(ctx).Model(&models.Report{}).
		Where("user_id = ? AND status IN ?", userID, models.NonTerminalStatuses).
		Select("COALESCE(SUM(reserved_tokens), 0)").
		Scan(&reserved).Error
	return reserved, err
}

// CheckUsage pre-flights a request: would reserving estimated tokens fit the
// active period's budget right now?
func (s *UsageService) CheckUsage(ctx context.Context, userID uuid.UUID, estimated int64) (*UsageSnapshot, error) {
	period, err := s.GetOrCreateActivePeriod(ctx, userID)
	if err != nil {
		return nil, err
	}
	reserved, err := s.reservedInFlight(ctx, userID)
	if err != nil {
		return nil, err
	}

	committed := period.TokensUsed - reserved
	if committed < 0 {
		committed = 0
	}
	remaining := period.TokenLimit - period.TokensUsed
	if remaining < 0 {
		remaining = 0
	}

	return &UsageSnapshot{
		Allowed:          period.TokensUsed+estimated <= period.TokenLimit,
		Used:             committed,
		Limit:            period.TokenLimit,
		Remaining:        remaining,
		ReservedByOthers: reserved,
		PeriodEnd:        period.PeriodEnd,
	}, nil
}

// ReserveTokens places a hold of estimated tokens against the active period.
// The limit check and the increment are one conditional UPDATE, so two
// concurrent reservations can never jointly overshoot the quota. A failed
// condition returns *InsufficientBudgetError; a missing period returns
// ErrNoActivePeriod.
func (s *UsageService) ReserveTokens(ctx context.Context, userID uuid.UUID, estimated int64) (int64, error) {
	if estimated <= 0 {
		return 0, fmt.Errorf("reservation estimate must be positive, got %d", estimated)
	}
	if err := s.addUsage(ctx, userID, estimated, true); err != nil {
		return 0, err
	}
	return estimated, nil
}

// addUsage is the shared direct-increment path. With enforceLimit the WHERE
// clause re-checks the quota at mutation time; without it the tokens are
// applied unconditionally (completion accounting for work already done).
func (s *UsageService) addUsage(ctx context.Context, userID uuid.UUID, tokens int64, enforceLimit bool) error {
	q := s.db.WithContext(ctx).Model(&models.UsagePeriod{}).
		Where("user_id = ? AND status = ?", userID, models.PeriodStatusActive)
	if enforceLimit {
		q = q.Where("tokens_used + ? <= token_limit", tokens)
	}
	res := q.Update("tokens_used", gorm.Expr("tokens_used + ?", tokens))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var period models.UsagePeriod
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.PeriodStatusActive).
		First(&period).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNoActivePeriod
	}
	if err != nil {
		return err
	}

	remaining := period.TokenLimit - period.TokensUsed
	if remaining < 0 {
		remaining = 0
	}
	return &InsufficientBudgetError{
		Requested: tokens,
		Used:      period.TokensUsed,
		Limit:     period.TokenLimit,
		Remaining: remaining,
	}
}

// FinalizeUsage settles a reservation against the measured token count,
// applying the signed difference and bumping the report and chat counters.
// Must be called exactly once per report, after the period manager has run.
func (s *UsageService) FinalizeUsage(ctx context.Context, userID uuid.UUID, reserved, actual int64, reportFlag, chatFlag bool) (*UsageSnapshot, error) {
	delta := actual - reserved

	updates := map[string]interface{}{
		"tokens_used": gorm.Expr("CASE WHEN tokens_used + ? < 0 THEN 0 ELSE tokens_used + ? END", delta, delta),
	}
	if reportFlag {
		updates["report_count"] = gorm.Expr("report_count + 1")
	}
	if chatFlag {
		updates["chat_tokens_used"] = gorm.Expr("chat_tokens_used + ?", actual)
	}

	res := s.db.WithContext(ctx).Model(&models.UsagePeriod{}).
		Where("user_id = ? AND status = ?", userID, models.PeriodStatusActive).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNoActivePeriod
	}
	return s.Snapshot(ctx, userID)
}

// ReleaseTokens returns a reservation to the budget after a failed or
// cancelled generation. Floored at zero so a double release cannot drive the
// balance negative.
func (s *UsageService) ReleaseTokens(ctx context.Context, userID uuid.UUID, amount int64) (*UsageSnapshot, error) {
	res := s.db.WithContext(ctx).Model(&models.UsagePeriod{}).
		Where("user_id = ? AND status = ?", userID, models.PeriodStatusActive).
		Update("tokens_used", gorm.Expr("CASE WHEN tokens_used > ? THEN tokens_used - ? ELSE 0 END", amount, amount))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNoActivePeriod
	}
	return s.Snapshot(ctx, userID)
}

// IncrementUsageIdempotent applies a token increment at most once per
// idempotency key. The uniquely-keyed insert happens before the ledger
// update; a conflict means a previous attempt already got through, so the
// retry succeeds without double-counting.
func (s *UsageService) IncrementUsageIdempotent(ctx context.Context, userID uuid.UUID, tokens int64, key string, reportID *uint) (*IncrementResult, error) {
	return s.incrementIdempotent(ctx, userID, tokens, key, reportID, "report")
}

// IncrementChatTokensIdempotent is the chat-token variant: same at-most-once
// ledger path, plus the chat counter.
func (s *UsageService) IncrementChatTokensIdempotent(ctx context.Context, userID uuid.UUID, tokens int64, key string, reportID *uint) (*IncrementResult, error) {
	return s.incrementIdempotent(ctx, userID, tokens, key, reportID, "chat")
}

func (s *UsageService) incrementIdempotent(ctx context.Context, userID uuid.UUID, tokens int64, key string, reportID *uint, kind string) (*IncrementResult, error) {
	if key == "" {
		return nil, errors.New("idempotency key is required")
	}

	event := models.UsageEvent{
		IdempotencyKey: key,
		UserID:         userID,
		ReportID:       reportID,
		Tokens:         tokens,
		Kind:           kind,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&event)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		log.Debug().Str("idempotency_key", key).Msg("usage increment already processed")
		return &IncrementResult{AlreadyProcessed: true, Tokens: 0}, nil
	}

	if err := s.addUsage(ctx, userID, tokens, false); err != nil {
		return nil, err
	}
	if kind == "chat" {
		err := s.db.WithContext(ctx).Model(&models.UsagePeriod{}).
			Where("user_id = ? AND status = ?", userID, models.PeriodStatusActive).
			Update("chat_tokens_used", gorm.Expr("chat_tokens_used + ?", tokens)).Error
		if err != nil {
			return nil, err
		}
	}
	return &IncrementResult{AlreadyProcessed: false, Tokens: tokens}, nil
}

// Snapshot reads the current ledger state for a user without creating or
// rolling over periods.
func (s *UsageService) Snapshot(ctx context.Context, userID uuid.UUID) (*UsageSnapshot, error) {
	var period models.UsagePeriod
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.PeriodStatusActive).
		First(&period).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActivePeriod
	}
	if err != nil {
		return nil, err
	}

	reserved, err := s.reservedInFlight(ctx, userID)
	if err != nil {
		return nil, err
	}
	committed := period.TokensUsed - reserved
	if committed < 0 {
		committed = 0
	}
	remaining := period.TokenLimit - period.TokensUsed
	if remaining < 0 {
		remaining = 0
	}

	return &UsageSnapshot{
		Allowed:          period.TokensUsed < period.TokenLimit,
		Used:             committed,
		Limit:            period.TokenLimit,
		Remaining:        remaining,
		ReservedByOthers: reserved,
		PeriodEnd:        period.PeriodEnd,
	}, nil
}
