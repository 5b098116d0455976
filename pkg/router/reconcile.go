package router

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/apexhq/apex/pkg/types"
)

const defaultReconcileInterval = 30 * time.Second

// Reconcile pulls the broker's view of our working orders and folds any
// drift back into the local store. Live brokers fill orders out of band;
// without this loop a missed update would leave an order working forever.
func (r *Router) Reconcile(ctx context.Context) error {
	r.mu.RLock()
	working := 0
	for _, order := range r.orders {
		if !order.Status.Terminal() {
			working++
		}
	}
	r.mu.RUnlock()

	if working == 0 {
		return nil
	}

	var brokerOrders []types.Order
	op := func() (err error) {
		queryCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		brokerOrders, err = r.broker.QueryOrders(queryCtx, types.OrderQuery{})
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return err
	}

	for _, brokerOrder := range brokerOrders {
		r.handleOrderUpdate(brokerOrder)
	}

	return nil
}

// RunReconciler reconciles on a fixed interval until the context is done.
func (r *Router) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				log.WithError(err).Warn("order reconcile failed")
			}
		}
	}
}
