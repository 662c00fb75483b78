package service

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
)

// SweepResult summarizes one pass over pending orders
type SweepResult struct {
	Checked   int `json:"checked"`
	Processed int `json:"processed"`
	Cancelled int `json:"cancelled"`
	Remaining int `json:"remaining"`
	Errors    int `json:"errors"`
}

// SweepPending checks every PENDING_CONFIRMATION order once, acting on those that were
// confirmed or cancelled since they were registered. Per-order errors are logged and counted.
func (o *Orchestrator) SweepPending(ctx context.Context, trigger domain.Trigger) (*SweepResult, error) {
	if !o.sweepMu.TryLock() {
		o.logger.Debug("Pending sweep already running, skipping")
		return &SweepResult{}, nil
	}
	defer o.sweepMu.Unlock()

	ids, err := o.PendingOrders(ctx)
	if err != nil {
		return nil, err
	}

	var processed, cancelled, remaining, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.PollConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			order, err := o.shop.FetchOrder(gctx, id)
			if err != nil {
				failed.Add(1)
				o.logger.Warn("Failed to fetch pending order", zap.String("order_id", id.String()), zap.Error(err))
				return nil
			}
			switch {
			case order.IsCancelled():
				_, err = o.Cancel(gctx, id, order, trigger)
				if err == nil {
					cancelled.Add(1)
				}
			case order.IsConfirmed():
				var res *Result
				res, err = o.Confirm(gctx, id, trigger, false)
				if err == nil && res.Outcome == OutcomeFulfilled {
					processed.Add(1)
				}
			default:
				remaining.Add(1)
			}
			if err != nil {
				failed.Add(1)
				o.logger.Warn("Pending order check failed", zap.String("order_id", id.String()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := &SweepResult{
		Checked:   len(ids),
		Processed: int(processed.Load()),
		Cancelled: int(cancelled.Load()),
		Remaining: int(remaining.Load()),
		Errors:    int(failed.Load()),
	}
	return res, ctx.Err()
}

// RunPollLoop sweeps pending orders once, then at every interval until ctx is cancelled
func (o *Orchestrator) RunPollLoop(ctx context.Context, interval time.Duration) {
	sweep := func() {
		res, err := o.SweepPending(ctx, domain.TriggerPoll)
		if err != nil {
			o.logger.Warn("Pending sweep failed", zap.Error(err))
			return
		}
		if res.Checked > 0 {
			o.logger.Info("Pending sweep completed",
				zap.Int("checked", res.Checked),
				zap.Int("processed", res.Processed),
				zap.Int("cancelled", res.Cancelled),
				zap.Int("remaining", res.Remaining),
				zap.Int("errors", res.Errors),
			)
		}
	}

	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Pending order poller stopped")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
