// Package dispatch owns the live offer of one runner session: which pending
// order is currently on screen, which candidates wait in line behind it, and
// when the current one times out. All expiry decisions are recomputed from the
// offer's absolute ExpiresAt so a suspended process picks up with correct
// remaining time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jayjaytrn/cash-delivery/internal/apperr"
	"github.com/jayjaytrn/cash-delivery/internal/db"
	"github.com/jayjaytrn/cash-delivery/models"
	"go.uber.org/zap"
)

var ErrClaimInFlight = errors.New("claim already in flight")

// Session is the offer state machine for one online runner. A session owns its
// offer and queue exclusively; the only shared resource it touches is the
// order record, always through the store's conditional statements.
type Session struct {
	RunnerUUID string
	Database   db.Database
	Logger     *zap.SugaredLogger
	OfferTTL   time.Duration
	Now        func() time.Time

	mu            sync.Mutex
	online        bool
	current       *models.Offer
	queue         []*models.Order
	active        *models.Order
	claimInFlight bool
}

func NewSession(runnerUUID string, database db.Database, logger *zap.SugaredLogger, offerTTL time.Duration) *Session {
	return &Session{
		RunnerUUID: runnerUUID,
		Database:   database,
		Logger:     logger,
		OfferTTL:   offerTTL,
		Now:        time.Now,
	}
}

func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// CurrentOffer returns a copy of the live offer, if any.
func (s *Session) CurrentOffer() *models.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	offer := *s.current
	return &offer
}

func (s *Session) ActiveJob() *models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) GoOnline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = true
}

// GoOffline withdraws eligibility. The live offer is skipped as a timeout and
// the queue is dropped without presenting anything further.
func (s *Session) GoOffline(ctx context.Context) {
	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return
	}
	s.online = false
	current := s.current
	s.current = nil
	s.queue = nil
	s.mu.Unlock()

	if current != nil {
		s.recordSkip(ctx, current.OrderUUID, models.SkipTimeout)
	}
}

// OnOrderBecamePending feeds a newly observed pending order into the session.
// Orders this runner skipped or timed out before are silently ignored so
// rejected work does not resurface.
func (s *Session) OnOrderBecamePending(ctx context.Context, order *models.Order) {
	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return
	}
	if s.holdsOrder(order.UUID) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	skipped, err := s.Database.HasSkipped(ctx, s.RunnerUUID, order.UUID)
	if err != nil {
		s.Logger.Warnw("failed to check skip history", "order", order.UUID, "error", err)
		return
	}
	if skipped {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online || s.holdsOrder(order.UUID) {
		return
	}
	if s.current == nil && s.active == nil {
		s.present(order)
		return
	}
	s.queue = append(s.queue, order)
}

// Accept claims the current offer. Duplicate accepts while one is outstanding
// are rejected locally. A lost or failed claim behaves exactly like an expiry:
// the offer is retracted and the next queued candidate is presented, with no
// retry.
func (s *Session) Accept(ctx context.Context) (*models.Order, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("no offer to accept")
	}
	if s.claimInFlight {
		s.mu.Unlock()
		return nil, ErrClaimInFlight
	}
	if s.current.Expired(s.Now()) {
		offer := s.current
		s.mu.Unlock()
		s.expire(ctx, offer)
		return nil, apperr.ErrAlreadyClaimed
	}
	offer := *s.current
	s.claimInFlight = true
	s.mu.Unlock()

	claimID := uuid.New().String()
	err := s.Database.ClaimOrder(ctx, offer.OrderUUID, s.RunnerUUID, s.Now())

	s.mu.Lock()
	s.claimInFlight = false
	s.mu.Unlock()

	if err != nil {
		if !errors.Is(err, apperr.ErrAlreadyClaimed) {
			s.Logger.Warnw("claim attempt failed", "order", offer.OrderUUID, "claim_id", claimID, "error", err)
		}
		s.retract(offer.OrderUUID)
		// The order stays or re-enters general circulation; locally the
		// runner must not believe they have the job.
		return nil, apperr.ErrAlreadyClaimed
	}

	order, err := s.Database.GetOrder(ctx, offer.OrderUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed order: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = order
	if s.current != nil && s.current.OrderUUID == offer.OrderUUID {
		s.current = nil
	}
	s.dropQueued(offer.OrderUUID)
	return order, nil
}

// Skip records the immutable skip event before the next candidate is shown.
func (s *Session) Skip(ctx context.Context, reason models.SkipReason) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return fmt.Errorf("no offer to skip")
	}
	offer := s.current
	s.mu.Unlock()

	s.recordSkip(ctx, offer.OrderUUID, reason)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.OrderUUID == offer.OrderUUID {
		s.current = nil
		s.presentNext()
	}
	return nil
}

// FinishActiveJob clears the active job once its order reached a terminal
// status and lets queued candidates surface again.
func (s *Session) FinishActiveJob() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	if s.online && s.current == nil {
		s.presentNext()
	}
}

// Tick checks the live offer against the wall clock. Remaining time is always
// ExpiresAt minus now, never a decremented counter, so ticks lost to process
// suspension do not stretch the window.
func (s *Session) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if s.current == nil || !s.current.Expired(now) {
		s.mu.Unlock()
		return
	}
	offer := s.current
	s.mu.Unlock()

	s.expire(ctx, offer)
}

// Run drives expiry ticks until the context is done.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("dispatch session stopped")
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

func (s *Session) expire(ctx context.Context, offer *models.Offer) {
	s.recordSkip(ctx, offer.OrderUUID, models.SkipTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.OrderUUID == offer.OrderUUID {
		s.current = nil
		s.presentNext()
	}
}

func (s *Session) retract(orderUUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.OrderUUID == orderUUID {
		s.current = nil
	}
	s.dropQueued(orderUUID)
	s.presentNext()
}

// present synthesizes the offer projection. The exact amount and the exact
// delivery address never enter an offer.
func (s *Session) present(order *models.Order) {
	s.current = &models.Offer{
		OrderUUID:    order.UUID,
		PayoutCents:  order.PayoutCents,
		PickupName:   order.PickupName,
		DeliveryArea: order.DeliveryArea,
		ExpiresAt:    s.Now().Add(s.OfferTTL),
	}
}

// presentNext pops the queue. Callers hold the lock.
func (s *Session) presentNext() {
	if !s.online || s.active != nil || s.current != nil {
		return
	}
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.present(next)
		return
	}
}

func (s *Session) holdsOrder(orderUUID string) bool {
	if s.current != nil && s.current.OrderUUID == orderUUID {
		return true
	}
	if s.active != nil && s.active.UUID == orderUUID {
		return true
	}
	for _, queued := range s.queue {
		if queued.UUID == orderUUID {
			return true
		}
	}
	return false
}

func (s *Session) dropQueued(orderUUID string) {
	kept := s.queue[:0]
	for _, queued := range s.queue {
		if queued.UUID != orderUUID {
			kept = append(kept, queued)
		}
	}
	s.queue = kept
}

func (s *Session) recordSkip(ctx context.Context, orderUUID string, reason models.SkipReason) {
	err := s.Database.RecordSkipEvent(ctx, models.SkipEvent{
		RunnerUUID: s.RunnerUUID,
		OrderUUID:  orderUUID,
		Reason:     reason,
		SkippedAt:  s.Now(),
	})
	if err != nil {
		s.Logger.Warnw("failed to record skip event", "order", orderUUID, "error", err)
	}
}
