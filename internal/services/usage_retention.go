package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	defaultEventRetentionDays  = 30
	defaultEventCleanupEvery   = 6 * time.Hour
	defaultEventDeleteBatchLen = 5000
	maxDeleteBatchesPerRun     = 200
)

// UsageEventCleaner periodically deletes idempotency records older than the
// retention window. The window must outlive any plausible retry storm; after
// that the rows only cost storage.
type UsageEventCleaner struct {
	db            *gorm.DB
	interval      time.Duration
	retentionDays int
	batchSize     int
}

func NewUsageEventCleaner(db *gorm.DB, retentionDays int) *UsageEventCleaner {
	if db == nil {
		return nil
	}
	if retentionDays <= 0 {
		retentionDays = defaultEventRetentionDays
	}
	return &UsageEventCleaner{
		db:            db,
		interval:      defaultEventCleanupEvery,
		retentionDays: retentionDays,
		batchSize:     defaultEventDeleteBatchLen,
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *UsageEventCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	go c.run(ctx)
	log.Info().Dur("interval", c.interval).Int("retention_days", c.retentionDays).
		Msg("usage event cleaner started")
}

func (c *UsageEventCleaner) run(ctx context.Context) {
	for {
		c.CleanupOnce(ctx)
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// CleanupOnce deletes expired events in bounded batches so a backlog never
// turns into one long transaction holding table locks.
func (c *UsageEventCleaner) CleanupOnce(ctx context.Context) int64 {
	if c == nil || c.db == nil {
		return 0
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -c.retentionDays)

	var deletedTotal int64
	for i := 0; i < maxDeleteBatchesPerRun; i++ {
		if ctx.Err() != nil {
			return deletedTotal
		}
		res := c.db.WithContext(ctx).Exec(`
			DELETE FROM usage_events
			WHERE id IN (
				SELECT id FROM usage_events
				WHERE created_at < ?
				ORDER BY created_at ASC
				LIMIT ?
			)
		`, cutoff, c.batchSize)
		if res.Error != nil {
			log.Warn().Err(res.Error).Msg("usage event cleaner: delete batch failed")
			break
		}
		if res.RowsAffected <= 0 {
			break
		}
		deletedTotal += res.RowsAffected
	}

	if deletedTotal > 0 {
		log.Info().Int64("deleted", deletedTotal).Time("cutoff", cutoff).
			Msg("usage event cleaner: purged expired idempotency records")
	}
	return deletedTotal
}
