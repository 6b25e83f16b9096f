package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/rs/zerolog"
)

// RetentionScheduler prunes old ledger days once a day
type RetentionScheduler struct {
	usageStore    storage.UsageStore
	clock         clock.Clock
	pruneTime     time.Time // only hour and minute are used
	retentionDays int
	logger        zerolog.Logger
	stopChan      chan struct{}
}

// NewRetentionScheduler creates a new scheduler. pruneTime is HH:MM local time.
func NewRetentionScheduler(usageStore storage.UsageStore, retentionDays int, pruneTime string, clk clock.Clock, logger zerolog.Logger) (*RetentionScheduler, error) {
	parsedTime, err := time.Parse("15:04", pruneTime)
	if err != nil {
		return nil, fmt.Errorf("invalid prune time %q: %w", pruneTime, err)
	}
	if clk == nil {
		clk = clock.New()
	}

	return &RetentionScheduler{
		usageStore:    usageStore,
		clock:         clk,
		pruneTime:     parsedTime,
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "retention-scheduler").Logger(),
		stopChan:      make(chan struct{}),
	}, nil
}

// Start begins the scheduler. Retention of 0 days keeps everything.
func (rs *RetentionScheduler) Start() {
	if rs.retentionDays <= 0 {
		rs.logger.Info().Msg("Usage retention disabled")
		return
	}
	go rs.run()
	rs.logger.Info().
		Str("prune_time", rs.pruneTime.Format("15:04")).
		Int("retention_days", rs.retentionDays).
		Msg("Usage retention scheduler started")
}

// Stop stops the scheduler
func (rs *RetentionScheduler) Stop() {
	close(rs.stopChan)
	rs.logger.Info().Msg("Usage retention scheduler stopped")
}

func (rs *RetentionScheduler) run() {
	for {
		next := rs.nextPrune()
		wait := next.Sub(rs.clock.Now())

		rs.logger.Debug().
			Time("next_prune", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next prune")

		select {
		case <-rs.clock.After(wait):
			if _, err := rs.Prune(context.Background()); err != nil {
				rs.logger.Error().Err(err).Msg("Failed to prune usage ledger")
			}
		case <-rs.stopChan:
			return
		}
	}
}

// nextPrune returns the next occurrence of the prune time
func (rs *RetentionScheduler) nextPrune() time.Time {
	now := rs.clock.Now()
	today := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.pruneTime.Hour(), rs.pruneTime.Minute(), 0, 0,
		now.Location(),
	)
	if !now.Before(today) {
		return today.AddDate(0, 0, 1)
	}
	return today
}

// Cutoff returns the oldest date key that is kept.
func (rs *RetentionScheduler) Cutoff() string {
	return storage.DateKey(rs.clock.Now().AddDate(0, 0, -rs.retentionDays))
}

// Prune deletes ledger cells dated before the retention cutoff. It does
// nothing when retention is disabled.
func (rs *RetentionScheduler) Prune(ctx context.Context) (int, error) {
	if rs.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := rs.Cutoff()
	deleted, err := rs.usageStore.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	rs.logger.Info().
		Int("cells_deleted", deleted).
		Str("cutoff_date", cutoff).
		Msg("Usage ledger pruned")
	return deleted, nil
}
