package reveal

import (
	"testing"
	"time"

	"github.com/jayjaytrn/cash-delivery/models"
	"github.com/stretchr/testify/assert"
)

var lifecycle = []models.OrderStatus{
	models.OrderPending,
	models.OrderRunnerAccepted,
	models.OrderRunnerAtPickup,
	models.OrderCashSecured,
	models.OrderPendingHandoff,
	models.OrderCompleted,
}

func TestCustomerTiers(t *testing.T) {
	t.Run("NothingWhilePending", func(t *testing.T) {
		d := Reveal(models.OrderPending, false, models.ActorCustomer)
		assert.Equal(t, TierNone, d.Tier)
		assert.False(t, d.RunnerFirstName)
		assert.False(t, d.RunnerLivePosition)
	})

	t.Run("FirstNameOnlyBeforeCashSecured", func(t *testing.T) {
		for _, s := range []models.OrderStatus{models.OrderRunnerAccepted, models.OrderRunnerAtPickup} {
			d := Reveal(s, false, models.ActorCustomer)
			assert.True(t, d.RunnerFirstName, "status %s", s)
			assert.True(t, d.RunnerBlurredPhoto, "status %s", s)
			assert.False(t, d.RunnerLivePosition, "status %s", s)
			assert.False(t, d.RunnerFullIdentity, "status %s", s)
		}
	})

	t.Run("FullFromCashSecured", func(t *testing.T) {
		for _, s := range []models.OrderStatus{models.OrderCashSecured, models.OrderPendingHandoff, models.OrderCompleted} {
			d := Reveal(s, true, models.ActorCustomer)
			assert.True(t, d.RunnerLivePosition, "status %s", s)
			assert.True(t, d.RunnerFullIdentity, "status %s", s)
			assert.True(t, d.Route, "status %s", s)
		}
	})
}

func TestRunnerTiers(t *testing.T) {
	t.Run("OnlyPayoutBeforeAtPickup", func(t *testing.T) {
		d := Reveal(models.OrderRunnerAccepted, false, models.ActorRunner)
		assert.False(t, d.ExactAmount)
		assert.True(t, d.CustomerFirstInitial)
		assert.False(t, d.CustomerFirstName)
		assert.False(t, d.ExactDeliveryAddress)
	})

	t.Run("ExactAmountFromAtPickup", func(t *testing.T) {
		d := Reveal(models.OrderRunnerAtPickup, false, models.ActorRunner)
		assert.True(t, d.ExactAmount)
		assert.False(t, d.ExactDeliveryAddress)
	})

	t.Run("ExactAddressOnlyWithCode", func(t *testing.T) {
		withoutCode := Reveal(models.OrderCashSecured, false, models.ActorRunner)
		assert.False(t, withoutCode.ExactDeliveryAddress)

		withCode := Reveal(models.OrderPendingHandoff, true, models.ActorRunner)
		assert.True(t, withCode.ExactDeliveryAddress)
		assert.True(t, withCode.CustomerFirstName)
	})
}

// Disclosure never regresses as the order progresses, for a fixed code flag
// and role.
func TestTierMonotonicity(t *testing.T) {
	for _, role := range []models.Actor{models.ActorCustomer, models.ActorRunner} {
		for _, hasCode := range []bool{false, true} {
			previous := TierNone
			for _, s := range lifecycle {
				d := Reveal(s, hasCode, role)
				assert.GreaterOrEqual(t, int(d.Tier), int(previous),
					"tier regressed at %s (role=%s hasCode=%v)", s, role, hasCode)
				previous = d.Tier
			}
		}
	}
}

// The position flips from withheld to visible in the same observation that
// sees the status change; there is no intermediate state.
func TestPositionFlipsAtCashSecured(t *testing.T) {
	before := Reveal(models.OrderRunnerAtPickup, false, models.ActorCustomer)
	after := Reveal(models.OrderCashSecured, false, models.ActorCustomer)

	assert.False(t, before.RunnerLivePosition)
	assert.True(t, after.RunnerLivePosition)
}

func TestBuildViewWithholdsFromRunner(t *testing.T) {
	runner := "runner-1"
	order := &models.Order{
		UUID:            "order-1",
		CustomerUUID:    "customer-1",
		RunnerUUID:      &runner,
		AmountCents:     50000,
		PayoutCents:     700,
		DeliveryArea:    "Mitte",
		DeliveryAddress: "Torstr. 99",
		Status:          models.OrderRunnerAccepted,
		CreatedAt:       time.Now(),
	}

	view := BuildView(order, models.ActorRunner)
	assert.Nil(t, view.AmountCents)
	assert.Empty(t, view.DeliveryAddress)
	assert.Equal(t, "Mitte", view.DeliveryArea)
	assert.NotNil(t, view.PayoutCents)

	order.Status = models.OrderRunnerAtPickup
	view = BuildView(order, models.ActorRunner)
	assert.NotNil(t, view.AmountCents)
	assert.Empty(t, view.DeliveryAddress)

	hash := "x"
	order.Status = models.OrderPendingHandoff
	order.HandoffCodeHash = &hash
	view = BuildView(order, models.ActorRunner)
	assert.Equal(t, "Torstr. 99", view.DeliveryAddress)
}

func TestBuildViewCustomerAlwaysSeesOwnData(t *testing.T) {
	order := &models.Order{
		UUID:            "order-1",
		CustomerUUID:    "customer-1",
		AmountCents:     50000,
		FeeCents:        900,
		DeliveryAddress: "Torstr. 99",
		Status:          models.OrderPending,
		CreatedAt:       time.Now(),
	}

	view := BuildView(order, models.ActorCustomer)
	assert.NotNil(t, view.AmountCents)
	assert.NotNil(t, view.FeeCents)
	assert.Equal(t, "Torstr. 99", view.DeliveryAddress)
	assert.Nil(t, view.RunnerUUID)
}
