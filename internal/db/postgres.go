package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jayjaytrn/cash-delivery/config"
	"github.com/jayjaytrn/cash-delivery/internal/apperr"
	_ "github.com/jayjaytrn/cash-delivery/internal/db/migrations"
	"github.com/jayjaytrn/cash-delivery/models"
	"github.com/pressly/goose/v3"
)

type Manager struct {
	Db *sql.DB
}

func NewManager(cfg *config.Config) (*Manager, error) {
	db, err := sql.Open("pgx", cfg.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	manager := &Manager{
		Db: db,
	}

	if err = goose.Up(db, "./internal/db/migrations"); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	return manager, nil
}

func (m *Manager) PutUniqueUserData(user models.User) error {
	_, err := m.Db.Exec(`
        INSERT INTO users (uuid, login, password, role)
        VALUES ($1, $2, $3, $4)
    `, user.UUID, user.Login, user.Password, user.Role)
	if err != nil {
		return fmt.Errorf("failed to insert user data: %v", err)
	}

	return nil
}

func (m *Manager) GetUserData(login string) (models.User, error) {
	var user models.User

	err := m.Db.QueryRow(`
		SELECT uuid, login, password, role
		FROM users
		WHERE login = $1
	`, login).Scan(&user.UUID, &user.Login, &user.Password, &user.Role)

	if err != nil {
		return user, fmt.Errorf("failed to get user data: %v", err)
	}

	return user, nil
}

const orderColumns = `uuid, customer_uuid, runner_uuid, amount_cents, fee_cents, payout_cents, status,
		pickup_name, pickup_address, delivery_address, delivery_area,
		handoff_code_hash, handoff_code_expires_at, handoff_attempts, handoff_verified_at,
		created_at, accepted_at, at_pickup_at, cash_secured_at, completed_at, cancelled_at,
		cancelled_by, cancel_reason, rating`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.UUID, &o.CustomerUUID, &o.RunnerUUID, &o.AmountCents, &o.FeeCents, &o.PayoutCents, &o.Status,
		&o.PickupName, &o.PickupAddress, &o.DeliveryAddress, &o.DeliveryArea,
		&o.HandoffCodeHash, &o.HandoffCodeExpiresAt, &o.HandoffAttempts, &o.HandoffVerifiedAt,
		&o.CreatedAt, &o.AcceptedAt, &o.AtPickupAt, &o.CashSecuredAt, &o.CompletedAt, &o.CancelledAt,
		&o.CancelledBy, &o.CancelReason, &o.Rating,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (m *Manager) GetOrder(ctx context.Context, orderUUID string) (*models.Order, error) {
	row := m.Db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE uuid = $1
	`, orderUUID)

	order, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return order, nil
}

func (m *Manager) ListPendingOrders(ctx context.Context) ([]*models.Order, error) {
	rows, err := m.Db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND runner_uuid IS NULL
		ORDER BY created_at
	`, models.OrderPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending order: %w", err)
		}
		orders = append(orders, order)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending orders: %w", err)
	}

	return orders, nil
}

// ClaimOrder is the at-most-one-winner accept. The condition lives in the
// statement itself; zero affected rows means another runner already won.
func (m *Manager) ClaimOrder(ctx context.Context, orderUUID string, runnerUUID string, at time.Time) error {
	res, err := m.Db.ExecContext(ctx, `
		UPDATE orders
		SET runner_uuid = $1, status = $2, accepted_at = $3
		WHERE uuid = $4 AND status = $5 AND runner_uuid IS NULL
	`, runnerUUID, models.OrderRunnerAccepted, at, orderUUID, models.OrderPending)
	if err != nil {
		return fmt.Errorf("failed to claim order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result: %w", err)
	}
	if affected == 0 {
		return apperr.ErrAlreadyClaimed
	}

	return nil
}

// stampColumn maps a target status to the lifecycle timestamp written in the
// same statement as the status change.
func stampColumn(next models.OrderStatus) string {
	switch next {
	case models.OrderRunnerAccepted:
		return "accepted_at"
	case models.OrderRunnerAtPickup:
		return "at_pickup_at"
	case models.OrderCashSecured:
		return "cash_secured_at"
	case models.OrderCompleted:
		return "completed_at"
	case models.OrderCancelled:
		return "cancelled_at"
	default:
		return ""
	}
}

func (m *Manager) UpdateOrderStatus(ctx context.Context, orderUUID string, expected, next models.OrderStatus, at time.Time) error {
	query := `UPDATE orders SET status = $1 WHERE uuid = $2 AND status = $3`
	args := []any{next, orderUUID, expected}
	if col := stampColumn(next); col != "" {
		query = `UPDATE orders SET status = $1, ` + col + ` = $2 WHERE uuid = $3 AND status = $4`
		args = []any{next, at, orderUUID, expected}
	}

	res, err := m.Db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return apperr.ErrStaleState
	}

	return nil
}

func (m *Manager) CancelOrder(ctx context.Context, orderUUID string, expected models.OrderStatus, actor models.Actor, reason string, at time.Time) error {
	res, err := m.Db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, cancelled_at = $2, cancelled_by = $3, cancel_reason = $4
		WHERE uuid = $5 AND status = $6
	`, models.OrderCancelled, at, actor, reason, orderUUID, expected)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read cancel result: %w", err)
	}
	if affected == 0 {
		return apperr.ErrStaleState
	}

	return nil
}

// SetHandoffCode performs the CASH_SECURED -> PENDING_HANDOFF transition and
// stores the code hash in the same statement.
func (m *Manager) SetHandoffCode(ctx context.Context, orderUUID string, codeHash string, expiresAt time.Time) error {
	res, err := m.Db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, handoff_code_hash = $2, handoff_code_expires_at = $3, handoff_attempts = 0
		WHERE uuid = $4 AND status = $5
	`, models.OrderPendingHandoff, codeHash, expiresAt, orderUUID, models.OrderCashSecured)
	if err != nil {
		return fmt.Errorf("failed to set handoff code: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read handoff code result: %w", err)
	}
	if affected == 0 {
		return apperr.ErrStaleState
	}

	return nil
}

func (m *Manager) BumpHandoffAttempts(ctx context.Context, orderUUID string) (int, error) {
	var attempts int
	err := m.Db.QueryRowContext(ctx, `
		UPDATE orders
		SET handoff_attempts = handoff_attempts + 1
		WHERE uuid = $1
		RETURNING handoff_attempts
	`, orderUUID).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to bump handoff attempts: %w", err)
	}

	return attempts, nil
}

// MarkHandoffVerified completes the order and clears the code so the hash
// never outlives the handoff.
func (m *Manager) MarkHandoffVerified(ctx context.Context, orderUUID string, at time.Time) error {
	res, err := m.Db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, handoff_verified_at = $2, completed_at = $2,
		    handoff_code_hash = NULL, handoff_code_expires_at = NULL
		WHERE uuid = $3 AND status = $4
	`, models.OrderCompleted, at, orderUUID, models.OrderPendingHandoff)
	if err != nil {
		return fmt.Errorf("failed to mark handoff verified: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read verify result: %w", err)
	}
	if affected == 0 {
		return apperr.ErrStaleState
	}

	return nil
}

func (m *Manager) AppendAuditEvent(ctx context.Context, event models.AuditEvent) error {
	_, err := m.Db.ExecContext(ctx, `
		INSERT INTO audit_events (order_uuid, from_status, to_status, actor, at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.OrderUUID, event.From, event.To, event.Actor, event.At)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	return nil
}

func (m *Manager) GetAuditTrail(ctx context.Context, orderUUID string) ([]*models.AuditEvent, error) {
	rows, err := m.Db.QueryContext(ctx, `
		SELECT order_uuid, from_status, to_status, actor, at
		FROM audit_events
		WHERE order_uuid = $1
		ORDER BY at
	`, orderUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit trail: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		if err = rows.Scan(&e.OrderUUID, &e.From, &e.To, &e.Actor, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, &e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}

	return events, nil
}

func (m *Manager) RecordSkipEvent(ctx context.Context, event models.SkipEvent) error {
	_, err := m.Db.ExecContext(ctx, `
		INSERT INTO skip_events (runner_uuid, order_uuid, reason, skipped_at)
		VALUES ($1, $2, $3, $4)
	`, event.RunnerUUID, event.OrderUUID, event.Reason, event.SkippedAt)
	if err != nil {
		return fmt.Errorf("failed to record skip event: %w", err)
	}

	return nil
}

func (m *Manager) HasSkipped(ctx context.Context, runnerUUID string, orderUUID string) (bool, error) {
	var exists bool
	err := m.Db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM skip_events WHERE runner_uuid = $1 AND order_uuid = $2
		)
	`, runnerUUID, orderUUID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check skip events: %w", err)
	}

	return exists, nil
}

func (m *Manager) Close() error {
	return m.Db.Close()
}
