// Package realtime keeps consumers in step with the authoritative store. A
// change notification never carries truth by itself: every event triggers a
// re-fetch of the order it names. When the channel degrades the syncer falls
// back to polling the same authoritative query at a fixed interval, and
// returns to push as soon as the channel delivers again.
package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/jayjaytrn/cash-delivery/internal/apperr"
	"github.com/jayjaytrn/cash-delivery/internal/db"
	"github.com/jayjaytrn/cash-delivery/internal/notify"
	"github.com/jayjaytrn/cash-delivery/models"
	"go.uber.org/zap"
)

const OrdersChannel = "orders:changed"

// Handler receives the re-fetched authoritative order after each observed
// change or poll pass.
type Handler func(ctx context.Context, order *models.Order)

type Syncer struct {
	Database     db.Database
	Notifier     notify.ChangeNotifier
	Logger       *zap.SugaredLogger
	PollInterval time.Duration
	OnOrder      Handler
}

func NewSyncer(database db.Database, notifier notify.ChangeNotifier, logger *zap.SugaredLogger, pollInterval time.Duration, onOrder Handler) *Syncer {
	return &Syncer{
		Database:     database,
		Notifier:     notifier,
		Logger:       logger,
		PollInterval: pollInterval,
		OnOrder:      onOrder,
	}
}

// Run blocks until the context is done. If the initial subscribe fails the
// syncer starts degraded and keeps polling while retrying the subscription.
func (s *Syncer) Run(ctx context.Context) error {
	sub, err := s.Notifier.Subscribe(ctx, OrdersChannel)
	for err != nil {
		s.Logger.Warnw("change channel unavailable, polling", "error", err)
		if pollErr := s.pollOnce(ctx); pollErr != nil {
			s.Logger.Warnw("poll pass failed", "error", pollErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.PollInterval):
		}
		sub, err = s.Notifier.Subscribe(ctx, OrdersChannel)
	}
	defer sub.Close()

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	degraded := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-sub.Events():
			if !ok {
				return ctx.Err()
			}
			if degraded {
				degraded = false
				s.Logger.Info("change channel healthy again")
			}
			s.reconcile(ctx, event.OrderUUID)

		case chErr := <-sub.Err():
			// Logged once per degradation episode; polling covers the gap.
			if !degraded {
				degraded = true
				s.Logger.Warnw("falling back to polling", "error", fmt.Errorf("%w: %w", apperr.ErrChannelDegraded, chErr))
			}

		case <-ticker.C:
			if !degraded {
				continue
			}
			if err := s.pollOnce(ctx); err != nil {
				s.Logger.Warnw("poll pass failed", "error", err)
			}
		}
	}
}

// reconcile re-derives the view of one order from current persisted state.
func (s *Syncer) reconcile(ctx context.Context, orderUUID string) {
	order, err := s.Database.GetOrder(ctx, orderUUID)
	if err != nil {
		s.Logger.Warnw("failed to re-fetch order after change event", "order", orderUUID, "error", err)
		return
	}
	s.OnOrder(ctx, order)
}

// pollOnce runs the same authoritative query the push path reconciles with.
func (s *Syncer) pollOnce(ctx context.Context) error {
	orders, err := s.Database.ListPendingOrders(ctx)
	if err != nil {
		return err
	}
	for _, order := range orders {
		s.OnOrder(ctx, order)
	}
	return nil
}
