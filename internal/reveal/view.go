package reveal

import (
	"time"

	"github.com/jayjaytrn/cash-delivery/internal/status"
	"github.com/jayjaytrn/cash-delivery/models"
)

// OrderView is the order record filtered through the disclosure policy for
// one viewer. Handlers return views, never raw orders, so a withheld field
// cannot leak through a forgotten render check.
type OrderView struct {
	UUID       string             `json:"uuid"`
	Status     models.OrderStatus `json:"status"`
	Stage      status.Stage       `json:"stage"`
	Disclosure Disclosure         `json:"disclosure"`

	AmountCents *uint64 `json:"amount_cents,omitempty"`
	FeeCents    *uint64 `json:"fee_cents,omitempty"`
	PayoutCents *uint64 `json:"payout_cents,omitempty"`

	PickupName      string `json:"pickup_name"`
	DeliveryArea    string `json:"delivery_area"`
	DeliveryAddress string `json:"delivery_address,omitempty"`

	RunnerUUID   *string `json:"runner_uuid,omitempty"`
	CustomerUUID string  `json:"customer_uuid,omitempty"`

	CreatedAt         time.Time  `json:"created_at"`
	HandoffVerifiedAt *time.Time `json:"handoff_verified_at,omitempty"`
}

// BuildView is recomputed on every read; views are never cached across a
// status change.
func BuildView(order *models.Order, viewer models.Actor) OrderView {
	d := Reveal(order.Status, order.HasHandoffCode(), viewer)

	view := OrderView{
		UUID:              order.UUID,
		Status:            order.Status,
		Stage:             status.DeriveStage(order.Status, order.HasHandoffCode()),
		Disclosure:        d,
		PickupName:        order.PickupName,
		DeliveryArea:      order.DeliveryArea,
		CreatedAt:         order.CreatedAt,
		HandoffVerifiedAt: order.HandoffVerifiedAt,
	}

	switch viewer {
	case models.ActorCustomer:
		// The customer always sees their own amounts and address; what the
		// policy gates is the runner's identity and position.
		view.AmountCents = &order.AmountCents
		view.FeeCents = &order.FeeCents
		view.DeliveryAddress = order.DeliveryAddress
		if d.Tier >= TierPartial {
			view.RunnerUUID = order.RunnerUUID
		}

	case models.ActorRunner:
		view.PayoutCents = &order.PayoutCents
		if d.ExactAmount {
			view.AmountCents = &order.AmountCents
		}
		if d.ExactDeliveryAddress {
			view.DeliveryAddress = order.DeliveryAddress
		}
		if d.Tier >= TierPartial {
			view.CustomerUUID = order.CustomerUUID
		}
	}

	return view
}
