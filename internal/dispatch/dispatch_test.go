package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jayjaytrn/cash-delivery/internal/apperr"
	"github.com/jayjaytrn/cash-delivery/internal/db"
	"github.com/jayjaytrn/cash-delivery/logging"
	"github.com/jayjaytrn/cash-delivery/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDB implements the subset of db.Database the dispatch engine touches.
// Claiming is guarded by a mutex the same way the real store guards it with a
// conditional statement.
type fakeDB struct {
	db.Database

	mu        sync.Mutex
	orders    map[string]*models.Order
	skips     []models.SkipEvent
	skipPairs map[string]bool
	claimGate chan struct{}
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		orders:    make(map[string]*models.Order),
		skipPairs: make(map[string]bool),
	}
}

func (f *fakeDB) addPending(orderUUID string, payout uint64) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	order := &models.Order{
		UUID:         orderUUID,
		CustomerUUID: "customer-1",
		Status:       models.OrderPending,
		PayoutCents:  payout,
		PickupName:   "Sparkasse Mitte",
		DeliveryArea: "Mitte",
	}
	f.orders[orderUUID] = order
	return order
}

func (f *fakeDB) GetOrder(_ context.Context, orderUUID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderUUID]
	if !ok {
		return nil, errors.New("order not found")
	}
	copied := *order
	return &copied, nil
}

func (f *fakeDB) ClaimOrder(_ context.Context, orderUUID string, runnerUUID string, at time.Time) error {
	if f.claimGate != nil {
		<-f.claimGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderUUID]
	if !ok || order.Status != models.OrderPending || order.RunnerUUID != nil {
		return apperr.ErrAlreadyClaimed
	}
	order.Status = models.OrderRunnerAccepted
	order.RunnerUUID = &runnerUUID
	order.AcceptedAt = &at
	return nil
}

func (f *fakeDB) RecordSkipEvent(_ context.Context, event models.SkipEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips = append(f.skips, event)
	f.skipPairs[event.RunnerUUID+"|"+event.OrderUUID] = true
	return nil
}

func (f *fakeDB) HasSkipped(_ context.Context, runnerUUID string, orderUUID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skipPairs[runnerUUID+"|"+orderUUID], nil
}

func (f *fakeDB) skipEvents() []models.SkipEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SkipEvent(nil), f.skips...)
}

func newTestSession(runner string, database *fakeDB, now *time.Time) *Session {
	session := NewSession(runner, database, logging.GetSugaredLogger(), 30*time.Second)
	session.Now = func() time.Time { return *now }
	return session
}

func TestOfferPresentedWhenOnline(t *testing.T) {
	database := newFakeDB()
	now := time.Now()
	session := newTestSession("runner-1", database, &now)
	session.GoOnline()

	order := database.addPending("order-1", 700)
	session.OnOrderBecamePending(context.Background(), order)

	offer := session.CurrentOffer()
	require.NotNil(t, offer)
	assert.Equal(t, "order-1", offer.OrderUUID)
	assert.Equal(t, uint64(700), offer.PayoutCents)
	assert.Equal(t, "Mitte", offer.DeliveryArea)
	assert.Equal(t, now.Add(30*time.Second), offer.ExpiresAt)
}

func TestOfferIgnoredWhenOffline(t *testing.T) {
	database := newFakeDB()
	now := time.Now()
	session := newTestSession("runner-1", database, &now)

	order := database.addPending("order-1", 700)
	session.OnOrderBecamePending(context.Background(), order)

	assert.Nil(t, session.CurrentOffer())
}

func TestPreviouslySkippedOrderNotReoffered(t *testing.T) {
	database := newFakeDB()
	now := time.Now()
	session := newTestSession("runner-1", database, &now)
	session.GoOnline()

	order := database.addPending("order-1", 700)
	database.skipPairs["runner-1|order-1"] = true

	session.OnOrderBecamePending(context.Background(), order)
	assert.Nil(t, session.CurrentOffer())
}

func TestQueueIsFIFO(t *testing.T) {
	database := newFakeDB()
	now := time.Now()
	session := newTestSession("runner-1", database, &now)
	session.GoOnline()

	for _, id := range []string{"order-1", "order-2", "order-3"} {
		session.OnOrderBecamePending(context.Background(), database.addPending(id, 700))
	}

	require.Equal(t, "order-1", session.CurrentOffer().OrderUUID)

	require.NoError(t, session.Skip(context.Background(), models.SkipManual))
	require.Equal(t, "order-2", session.CurrentOffer().OrderUUID)

	require.NoError(t, session.Skip(context.Background(), models.SkipManual))
	require.Equal(t, "order-3", session.CurrentOffer().OrderUUID)

	events := database.skipEvents()
	require.Len(t, events, 2)
	assert.Equal(t, models.SkipManual, events[0].Reason)
	assert.Equal(t, "order-1", events[0].OrderUUID)
}

// Expiry is recomputed from the absolute timestamp, so the number of
// intermediate ticks is irrelevant and a tick just before the boundary never
// expires the offer.
func TestExpiryDeterminism(t *testing.T) {
	database := newFakeDB()
	start := time.Now()
	now := start
	session := newTestSession("runner-1", database, &now)
	session.GoOnline()

	session.OnOrderBecamePending(context.Background(), database.addPending("order-1", 700))

	for i := 0; i < 10; i++ {
		session.Tick(context.Background(), start.Add(time.Duration(i)*time.Second))
	}
	session.Tick(context.Background(), start.Add(30*time.Second-time.Millisecond))
	require.NotNil(t, session.CurrentOffer(), "offer must survive until the boundary")

	session.Tick(context.Background(), start.Add(30*time.Second+time.Millisecond))
	assert.Nil(t, session.CurrentOffer())

	events := database.skipEvents()
	require.Len(t, events, 1)
	assert.Equal(t, models.SkipTimeout, events[0].Reason)
}

func TestGoOfflineSkipsCurrentAndDrainsQueue(t *testing.T) {
	database := newFakeDB()
	now := time.Now()
	session := newTestSession("runner-1", database, &now)
	session.GoOnline()

	session.OnOrderBecamePending(context.Background(), database.addPending("order-1", 700))
	session.OnOrderBecamePending(context.Background(), database.addPending("order-2", 700))

	session.GoOffline(context.Background())

	assert.Nil(t, session.CurrentOffer())
	assert.False(t, session.Online())

	// Only the live offer gets a timeout skip; the queue is just dropped.
	events := database.skipEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "order-1", events[0].OrderUUID)
	assert.Equal(t, models.SkipTimeout, events[0].Reason)
}

// Two runners race for the same order: exactly one wins, the other sees the
// claim loss and is left with no offer.
func TestConcurrentAcceptSingleWinner(t *testing.T) {
	database := newFakeDB()
	now := time.Now()
	order := database.addPending("order-1", 700)

	r1 := newTestSession("runner-1", database, &now)
	r2 := newTestSession("runner-2", database, &now)
	r1.GoOnline()
	r2.GoOnline()
	r1.OnOrderBecamePending(context.Background(), order)
	r2.OnOrderBecamePending(context.Background(), order)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, session := range []*Session{r1, r2} {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			_, results[i] = s.Accept(context.Background())
		}(i, session)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.True(t, errors.Is(err, apperr.ErrAlreadyClaimed))
		}
	}
	assert.Equal(t, 1, winners)

	stored, err := database.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, stored.RunnerUUID)
	assert.Equal(t, models.OrderRunnerAccepted, stored.Status)

	// The loser must have retracted its local offer.
	for i, session := range []*Session{r1, r2} {
		if results[i] != nil {
			assert.Nil(t, session.CurrentOffer())
		}
	}
}

func TestAcceptLossAdvancesQueue(t *testing.T) {
	database := newFakeDB()
	now := time.Now()
	session := newTestSession("runner-2", database, &now)
	session.GoOnline()

	order := database.addPending("order-1", 700)
	session.OnOrderBecamePending(context.Background(), order)
	session.OnOrderBecamePending(context.Background(), database.addPending("order-2", 900))

	// runner-1 wins out of band.
	require.NoError(t, database.ClaimOrder(context.Background(), "order-1", "runner-1", now))

	_, err := session.Accept(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrAlreadyClaimed))

	offer := session.CurrentOffer()
	require.NotNil(t, offer)
	assert.Equal(t, "order-2", offer.OrderUUID)
}

func TestAcceptKeepsOtherQueuedOffers(t *testing.T) {
	database := newFakeDB()
	now := time.Now()
	session := newTestSession("runner-1", database, &now)
	session.GoOnline()

	session.OnOrderBecamePending(context.Background(), database.addPending("order-1", 700))
	session.OnOrderBecamePending(context.Background(), database.addPending("order-2", 900))

	won, err := session.Accept(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "order-1", won.UUID)
	assert.Nil(t, session.CurrentOffer(), "no offer while holding an active job")

	session.FinishActiveJob()
	offer := session.CurrentOffer()
	require.NotNil(t, offer)
	assert.Equal(t, "order-2", offer.OrderUUID)
}

func TestDuplicateAcceptRejectedWhileInFlight(t *testing.T) {
	database := newFakeDB()
	database.claimGate = make(chan struct{})
	now := time.Now()
	session := newTestSession("runner-1", database, &now)
	session.GoOnline()

	session.OnOrderBecamePending(context.Background(), database.addPending("order-1", 700))

	done := make(chan error, 1)
	go func() {
		_, err := session.Accept(context.Background())
		done <- err
	}()

	// Wait until the first accept is blocked inside the claim call.
	time.Sleep(50 * time.Millisecond)
	_, err := session.Accept(context.Background())
	assert.True(t, errors.Is(err, ErrClaimInFlight))

	close(database.claimGate)
	assert.NoError(t, <-done)
}
