package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/ledger"
)

var housekeepingMu sync.Mutex

// HousekeepingPolicy says what a housekeeping pass may touch. Zero CompactAfter or
// StaleAfter skips that step.
type HousekeepingPolicy struct {
	WebhookRetention time.Duration
	CompactAfter     time.Duration
	// StaleAfter releases runs and refund claims untouched for this long; keep it well above
	// the process timeout so a live run is never interrupted
	StaleAfter time.Duration
}

// HousekeepingResult reports what one housekeeping pass removed
type HousekeepingResult struct {
	WebhooksPruned   int `json:"webhooks_pruned"`
	RecordsCompacted int `json:"records_compacted"`
	OrdersRecovered  int `json:"orders_recovered"`
}

// Housekeep prunes expired webhook fingerprints, releases interrupted runs and compacts
// settled ledger records
func Housekeep(ctx context.Context, l ledger.Ledger, now time.Time, policy HousekeepingPolicy) (*HousekeepingResult, error) {
	housekeepingMu.Lock()
	defer housekeepingMu.Unlock()

	res := &HousekeepingResult{}
	pruned, err := l.PruneWebhooks(ctx, now.Add(-policy.WebhookRetention))
	if err != nil {
		return res, err
	}
	res.WebhooksPruned = pruned

	if policy.StaleAfter > 0 {
		recovered, err := l.RecoverInterrupted(ctx, now.Add(-policy.StaleAfter))
		if err != nil {
			return res, err
		}
		res.OrdersRecovered = len(recovered)
	}

	if policy.CompactAfter > 0 {
		compacted, err := l.Compact(ctx, now.Add(-policy.CompactAfter))
		if err != nil {
			return res, err
		}
		res.RecordsCompacted = compacted
	}
	return res, nil
}

// RunHousekeepingLoop runs Housekeep once, then every interval until ctx is cancelled
func RunHousekeepingLoop(ctx context.Context, l ledger.Ledger, interval time.Duration, policy HousekeepingPolicy, logger *zap.Logger) {
	run := func() {
		res, err := Housekeep(ctx, l, time.Now(), policy)
		if err != nil {
			logger.Error("Ledger housekeeping failed", zap.Error(err))
			return
		}
		logger.Info("Ledger housekeeping completed",
			zap.Int("webhooks_pruned", res.WebhooksPruned),
			zap.Int("orders_recovered", res.OrdersRecovered),
			zap.Int("records_compacted", res.RecordsCompacted),
		)
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Ledger housekeeping stopped")
			return
		case <-ticker.C:
			run()
		}
	}
}
