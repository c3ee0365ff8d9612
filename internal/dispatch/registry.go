package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/jayjaytrn/cash-delivery/internal/db"
	"github.com/jayjaytrn/cash-delivery/models"
	"go.uber.org/zap"
)

// Registry holds one Session per runner. The online flag lives on the session
// itself, never in ambient state, so a second device gets its own session
// instead of clobbering the first.
type Registry struct {
	Database db.Database
	Logger   *zap.SugaredLogger
	OfferTTL time.Duration

	mu       sync.Mutex
	ctx      context.Context
	sessions map[string]*Session
}

func NewRegistry(ctx context.Context, database db.Database, logger *zap.SugaredLogger, offerTTL time.Duration) *Registry {
	return &Registry{
		Database: database,
		Logger:   logger,
		OfferTTL: offerTTL,
		ctx:      ctx,
		sessions: make(map[string]*Session),
	}
}

// Session returns the runner's session, creating it and starting its expiry
// loop on first use.
func (r *Registry) Session(runnerUUID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[runnerUUID]
	if !ok {
		session = NewSession(runnerUUID, r.Database, r.Logger, r.OfferTTL)
		r.sessions[runnerUUID] = session
		go session.Run(r.ctx)
	}
	return session
}

// OnOrderChanged routes a re-fetched order to every session. Pending unclaimed
// orders become offer candidates; orders that left Pending are retracted from
// sessions still showing them; terminal orders release the active job.
func (r *Registry) OnOrderChanged(ctx context.Context, order *models.Order) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	for _, session := range sessions {
		switch {
		case order.Status == models.OrderPending && order.RunnerUUID == nil:
			session.OnOrderBecamePending(ctx, order)

		case order.Status.Terminal():
			if active := session.ActiveJob(); active != nil && active.UUID == order.UUID {
				session.FinishActiveJob()
			}
			session.retract(order.UUID)

		default:
			// Claimed by someone; anyone still showing it drops it.
			if session.RunnerUUID != runnerOf(order) {
				session.retract(order.UUID)
			}
		}
	}
}

func runnerOf(order *models.Order) string {
	if order.RunnerUUID == nil {
		return ""
	}
	return *order.RunnerUUID
}
