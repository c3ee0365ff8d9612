package db

import (
	"context"
	"time"

	"github.com/jayjaytrn/cash-delivery/models"
)

// Database is the authoritative order store. Every mutation that can race is
// expressed as a single conditional statement so the guard is enforced by the
// store, never by a client-side read-then-write.
type Database interface {
	PutUniqueUserData(userData models.User) error
	GetUserData(login string) (models.User, error)

	GetOrder(ctx context.Context, orderUUID string) (*models.Order, error)
	ListPendingOrders(ctx context.Context) ([]*models.Order, error)

	ClaimOrder(ctx context.Context, orderUUID string, runnerUUID string, at time.Time) error
	UpdateOrderStatus(ctx context.Context, orderUUID string, expected, next models.OrderStatus, at time.Time) error
	CancelOrder(ctx context.Context, orderUUID string, expected models.OrderStatus, actor models.Actor, reason string, at time.Time) error

	SetHandoffCode(ctx context.Context, orderUUID string, codeHash string, expiresAt time.Time) error
	BumpHandoffAttempts(ctx context.Context, orderUUID string) (int, error)
	MarkHandoffVerified(ctx context.Context, orderUUID string, at time.Time) error

	AppendAuditEvent(ctx context.Context, event models.AuditEvent) error
	GetAuditTrail(ctx context.Context, orderUUID string) ([]*models.AuditEvent, error)

	RecordSkipEvent(ctx context.Context, event models.SkipEvent) error
	HasSkipped(ctx context.Context, runnerUUID string, orderUUID string) (bool, error)

	Close() error
}
