package notify

import (
	"context"
)

// Event says that an order row changed. It is a hint, not a delta: delivery
// order is best-effort, so consumers re-fetch authoritative state instead of
// trusting the payload.
type Event struct {
	OrderUUID string `json:"order_uuid"`
	Kind      string `json:"kind"`
}

const KindOrderChanged = "order_changed"

// Subscription is one open change feed. Errors on Err signal a degraded
// channel; the feed keeps trying to recover and delivers on Events again once
// it does.
type Subscription interface {
	Events() <-chan Event
	Err() <-chan error
	Close() error
}

type ChangeNotifier interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Publish(ctx context.Context, channel string, event Event) error
}

// Notifier is the outbound user-notification hook. Transport, batching and
// platform specifics live outside this module.
type Notifier interface {
	Notify(ctx context.Context, userUUID string, eventType string, payload any) error
}
