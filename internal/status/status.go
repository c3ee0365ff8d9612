package status

import (
	"github.com/jayjaytrn/cash-delivery/models"
)

// successors is the whole transition table. Forward edges only advance one
// step; Cancelled is reachable from every non-terminal state.
var successors = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPending:        {models.OrderRunnerAccepted, models.OrderCancelled},
	models.OrderRunnerAccepted: {models.OrderRunnerAtPickup, models.OrderCancelled},
	models.OrderRunnerAtPickup: {models.OrderCashSecured, models.OrderCancelled},
	models.OrderCashSecured:    {models.OrderPendingHandoff, models.OrderCancelled},
	models.OrderPendingHandoff: {models.OrderCompleted, models.OrderCancelled},
	models.OrderCompleted:      {},
	models.OrderCancelled:      {},
}

func Legal(from, to models.OrderStatus) bool {
	for _, next := range successors[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CustomerMayCancel limits customer cancellation to the window before the
// runner reaches the pickup point.
func CustomerMayCancel(from models.OrderStatus) bool {
	return from == models.OrderPending || from == models.OrderRunnerAccepted
}

// Stage is the derived sub-status shown to users. It is computed from the
// persisted status plus the handoff-code flag and is never stored, so the two
// cannot drift apart.
type Stage string

const (
	StageSearchingRunner Stage = "searching_runner"
	StageRunnerEnRoute   Stage = "runner_en_route"
	StageRunnerAtPickup  Stage = "runner_at_pickup"
	StageCashInTransit   Stage = "cash_in_transit"
	StageHandoffReady    Stage = "handoff_ready"
	StageCompleted       Stage = "completed"
	StageCancelled       Stage = "cancelled"
)

func DeriveStage(s models.OrderStatus, hasCode bool) Stage {
	switch s {
	case models.OrderPending:
		return StageSearchingRunner
	case models.OrderRunnerAccepted:
		return StageRunnerEnRoute
	case models.OrderRunnerAtPickup:
		return StageRunnerAtPickup
	case models.OrderCashSecured:
		if hasCode {
			return StageHandoffReady
		}
		return StageCashInTransit
	case models.OrderPendingHandoff:
		return StageHandoffReady
	case models.OrderCompleted:
		return StageCompleted
	default:
		return StageCancelled
	}
}
