package models

import (
	"time"
)

// Offer is the projection of a pending order shown to one online runner.
// It lives only in the memory of the dispatch session that produced it and
// deliberately carries the coarse delivery area instead of the exact address
// and the runner payout instead of the cash amount.
type Offer struct {
	OrderUUID    string    `json:"order_uuid"`
	PayoutCents  uint64    `json:"payout_cents"`
	PickupName   string    `json:"pickup_name"`
	DeliveryArea string    `json:"delivery_area"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Remaining is always recomputed from the absolute expiry so it stays correct
// across process suspension.
func (of *Offer) Remaining(now time.Time) time.Duration {
	d := of.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (of *Offer) Expired(now time.Time) bool {
	return !now.Before(of.ExpiresAt)
}

type SkipReason string

const (
	SkipManual  SkipReason = "manual"
	SkipTimeout SkipReason = "timeout"
)

func (r SkipReason) String() string {
	return string(r)
}

type SkipEvent struct {
	RunnerUUID string     `json:"runner_uuid"`
	OrderUUID  string     `json:"order_uuid"`
	Reason     SkipReason `json:"reason"`
	SkippedAt  time.Time  `json:"skipped_at"`
}
