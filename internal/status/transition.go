package status

import (
	"context"
	"fmt"
	"time"

	"github.com/jayjaytrn/cash-delivery/internal/apperr"
	"github.com/jayjaytrn/cash-delivery/internal/db"
	"github.com/jayjaytrn/cash-delivery/models"
	"go.uber.org/zap"
)

// Transitioner applies status changes through the store's conditional update.
// The legality check happens locally; the staleness check is the store's
// WHERE clause, so two actors racing on the same edge cannot both win.
type Transitioner struct {
	Database db.Database
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

func NewTransitioner(database db.Database, logger *zap.SugaredLogger) *Transitioner {
	return &Transitioner{
		Database: database,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (t *Transitioner) Attempt(ctx context.Context, orderUUID string, from, to models.OrderStatus, actor models.Actor) error {
	if !Legal(from, to) {
		return fmt.Errorf("%w: %s -> %s", apperr.ErrIllegalTransition, from, to)
	}

	now := t.Now()
	if err := t.Database.UpdateOrderStatus(ctx, orderUUID, from, to, now); err != nil {
		return err
	}

	t.audit(ctx, orderUUID, from, to, actor, now)
	return nil
}

// CancelByCustomer enforces the customer cancellation window on top of the
// ordinary staleness guard.
func (t *Transitioner) CancelByCustomer(ctx context.Context, orderUUID string, from models.OrderStatus, reason string) error {
	if !CustomerMayCancel(from) {
		return fmt.Errorf("%w: customer cancel from %s", apperr.ErrIllegalTransition, from)
	}

	now := t.Now()
	if err := t.Database.CancelOrder(ctx, orderUUID, from, models.ActorCustomer, reason, now); err != nil {
		return err
	}

	t.audit(ctx, orderUUID, from, models.OrderCancelled, models.ActorCustomer, now)
	return nil
}

func (t *Transitioner) audit(ctx context.Context, orderUUID string, from, to models.OrderStatus, actor models.Actor, at time.Time) {
	err := t.Database.AppendAuditEvent(ctx, models.AuditEvent{
		OrderUUID: orderUUID,
		From:      from,
		To:        to,
		Actor:     actor,
		At:        at,
	})
	if err != nil {
		t.Logger.Warnw("failed to append audit event", "order", orderUUID, "error", err)
	}
}
