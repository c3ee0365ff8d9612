// Package reveal decides what each party may see about the other at a given
// point of the order lifecycle. Nothing here is cached or stored: presentation
// code calls Reveal on every read so a status change can never leave a stale
// disclosure behind. The safety rule is that neither party learns the precise
// location or full identity of the other before the cash is physically in the
// runner's possession.
package reveal

import (
	"github.com/jayjaytrn/cash-delivery/models"
)

type Tier int

const (
	TierNone Tier = iota
	TierPartial
	TierElevated
	TierFull
)

// Disclosure lists the sensitive fields the viewer is allowed to see.
// Fields not listed here (own payout for the runner, own order data for the
// customer) are always visible to their owner.
type Disclosure struct {
	Tier Tier

	// Customer-side view of the runner.
	RunnerFirstName    bool
	RunnerBlurredPhoto bool
	RunnerFullIdentity bool
	RunnerLivePosition bool
	Route              bool

	// Runner-side view of the job.
	ExactAmount          bool
	ExactDeliveryAddress bool
	CustomerFirstInitial bool
	CustomerFirstName    bool
}

func Reveal(status models.OrderStatus, hasHandoffCode bool, viewer models.Actor) Disclosure {
	switch viewer {
	case models.ActorCustomer:
		return customerView(status)
	case models.ActorRunner:
		return runnerView(status, hasHandoffCode)
	default:
		return Disclosure{Tier: TierNone}
	}
}

func customerView(status models.OrderStatus) Disclosure {
	rank := status.Rank()

	switch {
	case rank >= models.OrderCashSecured.Rank():
		return Disclosure{
			Tier:               TierFull,
			RunnerFirstName:    true,
			RunnerBlurredPhoto: true,
			RunnerFullIdentity: true,
			RunnerLivePosition: true,
			Route:              true,
		}
	case rank >= models.OrderRunnerAccepted.Rank():
		return Disclosure{
			Tier:               TierPartial,
			RunnerFirstName:    true,
			RunnerBlurredPhoto: true,
		}
	default:
		return Disclosure{Tier: TierNone}
	}
}

func runnerView(status models.OrderStatus, hasHandoffCode bool) Disclosure {
	rank := status.Rank()
	d := Disclosure{Tier: TierNone}

	if rank >= models.OrderRunnerAccepted.Rank() {
		d.Tier = TierPartial
		d.CustomerFirstInitial = true
	}
	if rank >= models.OrderRunnerAtPickup.Rank() {
		d.Tier = TierElevated
		d.ExactAmount = true
	}
	if hasHandoffCode {
		d.Tier = TierFull
		d.ExactDeliveryAddress = true
		d.CustomerFirstName = true
	}

	return d
}
