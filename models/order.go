package models

import (
	"time"
)

type OrderStatus string

const (
	OrderPending        OrderStatus = "PENDING"
	OrderRunnerAccepted OrderStatus = "RUNNER_ACCEPTED"
	OrderRunnerAtPickup OrderStatus = "RUNNER_AT_PICKUP"
	OrderCashSecured    OrderStatus = "CASH_SECURED"
	OrderPendingHandoff OrderStatus = "PENDING_HANDOFF"
	OrderCompleted      OrderStatus = "COMPLETED"
	OrderCancelled      OrderStatus = "CANCELLED"
)

func (s OrderStatus) String() string {
	return string(s)
}

// Rank returns the position of the status in the forward lifecycle, used to
// compare progress. Cancelled sits outside the forward order.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderPending:
		return 0
	case OrderRunnerAccepted:
		return 1
	case OrderRunnerAtPickup:
		return 2
	case OrderCashSecured:
		return 3
	case OrderPendingHandoff:
		return 4
	case OrderCompleted:
		return 5
	default:
		return -1
	}
}

func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorRunner   Actor = "runner"
	ActorSystem   Actor = "system"
)

type Order struct {
	UUID         string      `json:"uuid"`
	CustomerUUID string      `json:"customer_uuid"`
	RunnerUUID   *string     `json:"runner_uuid,omitempty"`
	AmountCents  uint64      `json:"amount_cents"`
	FeeCents     uint64      `json:"fee_cents"`
	PayoutCents  uint64      `json:"payout_cents"`
	Status       OrderStatus `json:"status"`

	PickupName      string `json:"pickup_name"`
	PickupAddress   string `json:"pickup_address"`
	DeliveryAddress string `json:"delivery_address"`
	DeliveryArea    string `json:"delivery_area"`

	HandoffCodeHash      *string    `json:"-"`
	HandoffCodeExpiresAt *time.Time `json:"-"`
	HandoffAttempts      int        `json:"-"`
	HandoffVerifiedAt    *time.Time `json:"handoff_verified_at,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`
	AtPickupAt    *time.Time `json:"at_pickup_at,omitempty"`
	CashSecuredAt *time.Time `json:"cash_secured_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`

	CancelledBy  *Actor  `json:"cancelled_by,omitempty"`
	CancelReason *string `json:"cancel_reason,omitempty"`
	Rating       *int    `json:"rating,omitempty"`
}

func (o *Order) HasHandoffCode() bool {
	return o.HandoffCodeHash != nil
}
