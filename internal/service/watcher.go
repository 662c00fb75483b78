package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
)

// Watch starts a background confirmation watcher for a pending order. At most one
// watcher runs per order; it stops at the wait ceiling, on Shutdown, or once the order
// leaves PENDING_CONFIRMATION.
func (o *Orchestrator) Watch(id domain.OrderID) {
	o.watchMu.Lock()
	if _, ok := o.watching[id]; ok || o.baseCtx.Err() != nil {
		o.watchMu.Unlock()
		return
	}
	o.watching[id] = struct{}{}
	o.wg.Add(1)
	o.watchMu.Unlock()

	go func() {
		defer o.wg.Done()
		defer func() {
			o.watchMu.Lock()
			delete(o.watching, id)
			o.watchMu.Unlock()
		}()
		o.watch(id)
	}()
}

// Watching reports whether a watcher is active for the order
func (o *Orchestrator) Watching(id domain.OrderID) bool {
	o.watchMu.Lock()
	defer o.watchMu.Unlock()
	_, ok := o.watching[id]
	return ok
}

func (o *Orchestrator) watch(id domain.OrderID) {
	logger := o.logger.With(zap.String("order_id", id.String()))
	ctx, cancel := context.WithTimeout(o.baseCtx, o.opts.WatchCeiling)
	defer cancel()

	ticker := time.NewTicker(o.opts.WatchEvery)
	defer ticker.Stop()

	logger.Debug("Confirmation watcher started", zap.Duration("ceiling", o.opts.WatchCeiling))
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Confirmation watcher stopped")
			return
		case <-ticker.C:
			done, err := o.checkPending(ctx, id, domain.TriggerWatcher)
			if err != nil {
				logger.Warn("Confirmation check failed", zap.Error(err))
				continue
			}
			if done {
				return
			}
		}
	}
}

// checkPending looks at a pending order once. It reports true when the order no longer
// needs watching (acted upon, or moved on by another trigger).
func (o *Orchestrator) checkPending(ctx context.Context, id domain.OrderID, trigger domain.Trigger) (bool, error) {
	rec, err := o.ledger.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if rec.State != domain.StatePendingConfirmation {
		return true, nil
	}

	order, err := o.shop.FetchOrder(ctx, id)
	if err != nil {
		return false, err
	}
	switch {
	case order.IsCancelled():
		_, err = o.Cancel(ctx, id, order, trigger)
		return err == nil, err
	case order.IsConfirmed():
		_, err = o.Confirm(ctx, id, trigger, false)
		// a failed run lands in FAILED and waits for an explicit retry
		return true, err
	}
	return false, nil
}
