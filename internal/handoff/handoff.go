// Package handoff governs the last two transitions of an order: generating
// the one-time code when the runner secures the cash, and verifying it in
// person to complete the handoff. The plaintext code is returned once to the
// caller for display to the customer and is never logged or stored.
package handoff

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/jayjaytrn/cash-delivery/internal/apperr"
	"github.com/jayjaytrn/cash-delivery/internal/db"
	"github.com/jayjaytrn/cash-delivery/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const codeDigits = 4

type Verifier struct {
	Database    db.Database
	Logger      *zap.SugaredLogger
	CodeTTL     time.Duration
	MaxAttempts int
	Now         func() time.Time

	mu        sync.Mutex
	exhausted map[string]bool
}

func NewVerifier(database db.Database, logger *zap.SugaredLogger, codeTTL time.Duration, maxAttempts int) *Verifier {
	return &Verifier{
		Database:    database,
		Logger:      logger,
		CodeTTL:     codeTTL,
		MaxAttempts: maxAttempts,
		Now:         time.Now,
		exhausted:   make(map[string]bool),
	}
}

// GenerateCode moves the order CASH_SECURED -> PENDING_HANDOFF and stores the
// bcrypt hash of a fresh numeric code in the same conditional statement. The
// plaintext is returned to the caller and nowhere else.
func (v *Verifier) GenerateCode(ctx context.Context, orderUUID string, actor models.Actor) (string, error) {
	code, err := randomCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate handoff code: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash handoff code: %w", err)
	}

	now := v.Now()
	if err = v.Database.SetHandoffCode(ctx, orderUUID, string(hash), now.Add(v.CodeTTL)); err != nil {
		return "", err
	}

	v.audit(ctx, orderUUID, models.OrderCashSecured, models.OrderPendingHandoff, actor, now)
	return code, nil
}

// Verify checks a code submitted by the runner. It fails closed: once the
// attempt limit is reached the order is remembered as exhausted and further
// submissions are rejected without consulting the store.
func (v *Verifier) Verify(ctx context.Context, orderUUID string, code string) (time.Time, error) {
	v.mu.Lock()
	if v.exhausted[orderUUID] {
		v.mu.Unlock()
		return time.Time{}, apperr.ErrAttemptsExhausted
	}
	v.mu.Unlock()

	order, err := v.Database.GetOrder(ctx, orderUUID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load order for verification: %w", err)
	}

	if order.Status != models.OrderPendingHandoff || !order.HasHandoffCode() {
		return time.Time{}, fmt.Errorf("%w: order not awaiting handoff", apperr.ErrIllegalTransition)
	}
	if order.HandoffAttempts >= v.MaxAttempts {
		v.markExhausted(orderUUID)
		return time.Time{}, apperr.ErrAttemptsExhausted
	}
	if order.HandoffCodeExpiresAt != nil && !v.Now().Before(*order.HandoffCodeExpiresAt) {
		return time.Time{}, apperr.ErrCodeExpired
	}

	if bcrypt.CompareHashAndPassword([]byte(*order.HandoffCodeHash), []byte(code)) != nil {
		attempts, bumpErr := v.Database.BumpHandoffAttempts(ctx, orderUUID)
		if bumpErr != nil {
			v.Logger.Warnw("failed to bump handoff attempts", "order", orderUUID, "error", bumpErr)
		}
		if attempts >= v.MaxAttempts {
			v.markExhausted(orderUUID)
			return time.Time{}, fmt.Errorf("%w: %w", apperr.ErrVerificationFailed, apperr.ErrAttemptsExhausted)
		}
		return time.Time{}, apperr.ErrVerificationFailed
	}

	now := v.Now()
	if err = v.Database.MarkHandoffVerified(ctx, orderUUID, now); err != nil {
		return time.Time{}, err
	}

	v.audit(ctx, orderUUID, models.OrderPendingHandoff, models.OrderCompleted, models.ActorRunner, now)
	return now, nil
}

func (v *Verifier) markExhausted(orderUUID string) {
	v.mu.Lock()
	v.exhausted[orderUUID] = true
	v.mu.Unlock()
}

func (v *Verifier) audit(ctx context.Context, orderUUID string, from, to models.OrderStatus, actor models.Actor, at time.Time) {
	err := v.Database.AppendAuditEvent(ctx, models.AuditEvent{
		OrderUUID: orderUUID,
		From:      from,
		To:        to,
		Actor:     actor,
		At:        at,
	})
	if err != nil {
		v.Logger.Warnw("failed to append audit event", "order", orderUUID, "error", err)
	}
}

func randomCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
