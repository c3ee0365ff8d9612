package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrIllegalTransition means the requested status change has no edge in the
	// transition table. It indicates a logic bug in the caller, not a race.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrStaleState means the order advanced under us; the optimistic guard on
	// the conditional update matched zero rows.
	ErrStaleState = errors.New("stale order state")

	// ErrAlreadyClaimed means another runner won the claim race.
	ErrAlreadyClaimed = errors.New("order already claimed")

	ErrVerificationFailed = errors.New("handoff code verification failed")
	ErrAttemptsExhausted  = errors.New("handoff code attempts exhausted")
	ErrCodeExpired        = errors.New("handoff code expired")

	ErrWindowClosed = errors.New("guardrail window already closed")

	// ErrChannelDegraded means the change-notification channel is unhealthy and
	// consumers should poll until it recovers.
	ErrChannelDegraded = errors.New("change notification channel degraded")
)

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"

	case errors.Is(err, ErrStaleState):
		return "stale_state"

	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"

	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"

	case errors.Is(err, ErrAttemptsExhausted):
		return "attempts_exhausted"

	case errors.Is(err, ErrCodeExpired):
		return "code_expired"

	case errors.Is(err, ErrWindowClosed):
		return "window_closed"

	case errors.Is(err, ErrChannelDegraded):
		return "channel_degraded"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrIllegalTransition):
		return http.StatusUnprocessableEntity

	case errors.Is(err, ErrStaleState),
		errors.Is(err, ErrAlreadyClaimed):
		return http.StatusConflict

	case errors.Is(err, ErrVerificationFailed),
		errors.Is(err, ErrCodeExpired):
		return http.StatusBadRequest

	case errors.Is(err, ErrAttemptsExhausted):
		return http.StatusLocked

	case errors.Is(err, ErrWindowClosed):
		return http.StatusConflict

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}
