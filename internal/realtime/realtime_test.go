package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jayjaytrn/cash-delivery/internal/db"
	"github.com/jayjaytrn/cash-delivery/internal/notify"
	"github.com/jayjaytrn/cash-delivery/logging"
	"github.com/jayjaytrn/cash-delivery/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscription struct {
	events chan notify.Event
	errs   chan error
}

func (s *fakeSubscription) Events() <-chan notify.Event { return s.events }
func (s *fakeSubscription) Err() <-chan error           { return s.errs }
func (s *fakeSubscription) Close() error                { return nil }

type fakeNotifier struct {
	sub *fakeSubscription
}

func (n *fakeNotifier) Subscribe(_ context.Context, _ string) (notify.Subscription, error) {
	return n.sub, nil
}

func (n *fakeNotifier) Publish(_ context.Context, _ string, _ notify.Event) error {
	return nil
}

type fakeDB struct {
	db.Database

	mu        sync.Mutex
	order     *models.Order
	getCalls  int
	listCalls int
}

func (f *fakeDB) GetOrder(_ context.Context, orderUUID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.order == nil || f.order.UUID != orderUUID {
		return nil, errors.New("order not found")
	}
	copied := *f.order
	return &copied, nil
}

func (f *fakeDB) ListPendingOrders(_ context.Context) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.order == nil {
		return nil, nil
	}
	copied := *f.order
	return []*models.Order{&copied}, nil
}

func (f *fakeDB) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls, f.listCalls
}

type recorder struct {
	mu     sync.Mutex
	orders []*models.Order
}

func (r *recorder) handle(_ context.Context, order *models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order)
}

func (r *recorder) seen() []*models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Order(nil), r.orders...)
}

func TestEventTriggersRefetch(t *testing.T) {
	database := &fakeDB{order: &models.Order{UUID: "order-1", Status: models.OrderPending}}
	sub := &fakeSubscription{events: make(chan notify.Event), errs: make(chan error, 1)}
	rec := &recorder{}

	syncer := NewSyncer(database, &fakeNotifier{sub: sub}, logging.GetSugaredLogger(), 20*time.Millisecond, rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go syncer.Run(ctx)

	sub.events <- notify.Event{OrderUUID: "order-1", Kind: notify.KindOrderChanged}

	require.Eventually(t, func() bool {
		return len(rec.seen()) == 1
	}, time.Second, 5*time.Millisecond)

	// The handler got the re-fetched authoritative record, not the payload.
	assert.Equal(t, models.OrderPending, rec.seen()[0].Status)
	gets, lists := database.calls()
	assert.Equal(t, 1, gets)
	assert.Equal(t, 0, lists, "no polling while the channel is healthy")
}

func TestDegradedChannelFallsBackToPolling(t *testing.T) {
	database := &fakeDB{order: &models.Order{UUID: "order-1", Status: models.OrderPending}}
	sub := &fakeSubscription{events: make(chan notify.Event), errs: make(chan error, 4)}
	rec := &recorder{}

	syncer := NewSyncer(database, &fakeNotifier{sub: sub}, logging.GetSugaredLogger(), 20*time.Millisecond, rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go syncer.Run(ctx)

	sub.errs <- errors.New("connection reset")

	require.Eventually(t, func() bool {
		_, lists := database.calls()
		return lists >= 2
	}, time.Second, 5*time.Millisecond, "degraded channel must poll repeatedly")

	// Recovery: a delivered event means the channel is healthy again.
	sub.events <- notify.Event{OrderUUID: "order-1", Kind: notify.KindOrderChanged}

	require.Eventually(t, func() bool {
		gets, _ := database.calls()
		return gets >= 1
	}, time.Second, 5*time.Millisecond)

	_, listsAfterRecovery := database.calls()
	time.Sleep(100 * time.Millisecond)
	_, listsLater := database.calls()
	assert.Equal(t, listsAfterRecovery, listsLater, "polling must stop once the channel is healthy")
}

func TestStopsOnContextCancel(t *testing.T) {
	database := &fakeDB{}
	sub := &fakeSubscription{events: make(chan notify.Event), errs: make(chan error, 1)}

	syncer := NewSyncer(database, &fakeNotifier{sub: sub}, logging.GetSugaredLogger(), 20*time.Millisecond, func(context.Context, *models.Order) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- syncer.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("syncer did not stop on context cancel")
	}
}
