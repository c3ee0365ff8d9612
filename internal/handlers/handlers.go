package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jayjaytrn/cash-delivery/config"
	"github.com/jayjaytrn/cash-delivery/internal/apperr"
	"github.com/jayjaytrn/cash-delivery/internal/auth"
	"github.com/jayjaytrn/cash-delivery/internal/db"
	"github.com/jayjaytrn/cash-delivery/internal/dispatch"
	"github.com/jayjaytrn/cash-delivery/internal/guardrail"
	"github.com/jayjaytrn/cash-delivery/internal/handoff"
	"github.com/jayjaytrn/cash-delivery/internal/notify"
	"github.com/jayjaytrn/cash-delivery/internal/realtime"
	"github.com/jayjaytrn/cash-delivery/internal/reveal"
	"github.com/jayjaytrn/cash-delivery/internal/status"
	"github.com/jayjaytrn/cash-delivery/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type Handler struct {
	Config      *config.Config
	Database    db.Database
	Logger      *zap.SugaredLogger
	Transitions *status.Transitioner
	Dispatch    *dispatch.Registry
	Verifier    *handoff.Verifier
	Guardrail   *guardrail.Store
	Notifier    notify.Notifier
	Changes     notify.ChangeNotifier
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var credentials models.Credentials

	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		h.Logger.Error("error reading decoded credentials", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if credentials.Role != models.ActorCustomer && credentials.Role != models.ActorRunner {
		http.Error(w, "role must be customer or runner", http.StatusBadRequest)
		return
	}

	passwordBytes, err := bcrypt.GenerateFromPassword([]byte(credentials.Password), 14)
	if err != nil {
		h.Logger.Info("password encryption error", zap.Error(err))
		http.Error(w, "internal error", http.StatusBadRequest)
		return
	}

	userData := models.User{
		UUID:     uuid.New().String(),
		Login:    credentials.Login,
		Password: string(passwordBytes),
		Role:     credentials.Role,
	}

	if err = h.Database.PutUniqueUserData(userData); err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			h.Logger.Debug("duplicate key value violates unique constraint", zap.Error(err))
			http.Error(w, "login already exists", http.StatusConflict)
			return
		}
		h.Logger.Error("error when trying to put credentials to database", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	token, err := auth.BuildJWT(userData.UUID, userData.Role)
	if err != nil {
		h.Logger.Error("error building JWT", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Authorization", "Bearer "+token)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var credentials models.Credentials

	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		h.Logger.Error("error reading decoded credentials", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	userData, err := h.Database.GetUserData(credentials.Login)
	if err != nil {
		if strings.Contains(err.Error(), "no rows in result set") {
			h.Logger.Error("login does not exist", zap.Error(err))
			http.Error(w, "login does not exist", http.StatusUnauthorized)
			return
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	err = bcrypt.CompareHashAndPassword([]byte(userData.Password), []byte(credentials.Password))
	if err != nil {
		h.Logger.Error("invalid login or password", zap.Error(err))
		http.Error(w, "invalid login or password", http.StatusUnauthorized)
		return
	}

	token, err := auth.BuildJWT(userData.UUID, userData.Role)
	if err != nil {
		h.Logger.Error("error building JWT", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Authorization", "Bearer "+token)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) RunnerOnline(w http.ResponseWriter, r *http.Request) {
	session := h.Dispatch.Session(r.Header.Get("UUID"))
	session.GoOnline()
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) RunnerOffline(w http.ResponseWriter, r *http.Request) {
	session := h.Dispatch.Session(r.Header.Get("UUID"))
	session.GoOffline(r.Context())
	w.WriteHeader(http.StatusOK)
}

type offerResponse struct {
	Offer            *models.Offer `json:"offer,omitempty"`
	RemainingSeconds int           `json:"remaining_seconds"`
}

func (h *Handler) RunnerOffer(w http.ResponseWriter, r *http.Request) {
	session := h.Dispatch.Session(r.Header.Get("UUID"))
	offer := session.CurrentOffer()
	if offer == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, offerResponse{
		Offer:            offer,
		RemainingSeconds: int(offer.Remaining(time.Now()) / time.Second),
	})
}

func (h *Handler) RunnerAccept(w http.ResponseWriter, r *http.Request) {
	session := h.Dispatch.Session(r.Header.Get("UUID"))

	order, err := session.Accept(r.Context())
	if err != nil {
		if errors.Is(err, dispatch.ErrClaimInFlight) {
			http.Error(w, "accept already in progress", http.StatusConflict)
			return
		}
		// Claim loss is an expected race; the runner just sees the offer go.
		http.Error(w, "offer no longer available", http.StatusConflict)
		return
	}

	h.announce(r, order.UUID)
	h.notifyUser(r, order.CustomerUUID, "runner_accepted", order.UUID)
	h.writeJSON(w, reveal.BuildView(order, models.ActorRunner))
}

func (h *Handler) RunnerSkip(w http.ResponseWriter, r *http.Request) {
	session := h.Dispatch.Session(r.Header.Get("UUID"))

	if err := session.Skip(r.Context(), models.SkipManual); err != nil {
		http.Error(w, "no offer to skip", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// OrderAtPickup marks the runner arrived at the pickup point.
func (h *Handler) OrderAtPickup(w http.ResponseWriter, r *http.Request) {
	h.runnerTransition(w, r, models.OrderRunnerAccepted, models.OrderRunnerAtPickup, "runner_at_pickup")
}

// OrderCashSecured confirms the cash is physically with the runner. This is
// the safety precondition the disclosure policy hinges on.
func (h *Handler) OrderCashSecured(w http.ResponseWriter, r *http.Request) {
	h.runnerTransition(w, r, models.OrderRunnerAtPickup, models.OrderCashSecured, "cash_secured")
}

func (h *Handler) runnerTransition(w http.ResponseWriter, r *http.Request, from, to models.OrderStatus, event string) {
	orderUUID := chi.URLParam(r, "uuid")
	runnerUUID := r.Header.Get("UUID")

	order, err := h.Database.GetOrder(r.Context(), orderUUID)
	if err != nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if order.RunnerUUID == nil || *order.RunnerUUID != runnerUUID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if err = h.Transitions.Attempt(r.Context(), orderUUID, from, to, models.ActorRunner); err != nil {
		h.Logger.Infow("transition rejected", "order", orderUUID, "kind", apperr.Kind(err))
		http.Error(w, apperr.Kind(err), apperr.HTTPStatus(err))
		return
	}

	h.announce(r, orderUUID)
	h.notifyUser(r, order.CustomerUUID, event, orderUUID)
	w.WriteHeader(http.StatusOK)
}

type handoffCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandoffCode moves the order to PENDING_HANDOFF and hands the plaintext code
// to the customer. The code appears in this response and nowhere else.
func (h *Handler) HandoffCode(w http.ResponseWriter, r *http.Request) {
	orderUUID := chi.URLParam(r, "uuid")
	customerUUID := r.Header.Get("UUID")

	order, err := h.Database.GetOrder(r.Context(), orderUUID)
	if err != nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if order.CustomerUUID != customerUUID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	code, err := h.Verifier.GenerateCode(r.Context(), orderUUID, models.ActorCustomer)
	if err != nil {
		h.Logger.Infow("handoff code rejected", "order", orderUUID, "kind", apperr.Kind(err))
		http.Error(w, apperr.Kind(err), apperr.HTTPStatus(err))
		return
	}

	h.announce(r, orderUUID)
	if order.RunnerUUID != nil {
		h.notifyUser(r, *order.RunnerUUID, "handoff_ready", orderUUID)
	}
	h.writeJSON(w, handoffCodeResponse{Code: code, ExpiresAt: time.Now().Add(h.Config.HandoffCodeTTL)})
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (h *Handler) HandoffVerify(w http.ResponseWriter, r *http.Request) {
	orderUUID := chi.URLParam(r, "uuid")
	runnerUUID := r.Header.Get("UUID")

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "error decoding request", http.StatusBadRequest)
		return
	}

	order, err := h.Database.GetOrder(r.Context(), orderUUID)
	if err != nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if order.RunnerUUID == nil || *order.RunnerUUID != runnerUUID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	verifiedAt, err := h.Verifier.Verify(r.Context(), orderUUID, req.Code)
	if err != nil {
		h.Logger.Infow("handoff verification failed", "order", orderUUID, "kind", apperr.Kind(err))
		http.Error(w, apperr.Kind(err), apperr.HTTPStatus(err))
		return
	}

	session := h.Dispatch.Session(runnerUUID)
	session.FinishActiveJob()

	h.announce(r, orderUUID)
	h.notifyUser(r, order.CustomerUUID, "handoff_completed", orderUUID)
	h.writeJSON(w, map[string]any{"verified_at": verifiedAt})
}

func (h *Handler) OrderGet(w http.ResponseWriter, r *http.Request) {
	orderUUID := chi.URLParam(r, "uuid")
	viewerUUID := r.Header.Get("UUID")
	role := models.Actor(r.Header.Get("Role"))

	order, err := h.Database.GetOrder(r.Context(), orderUUID)
	if err != nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	switch role {
	case models.ActorCustomer:
		if order.CustomerUUID != viewerUUID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	case models.ActorRunner:
		if order.RunnerUUID == nil || *order.RunnerUUID != viewerUUID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	default:
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	h.writeJSON(w, reveal.BuildView(order, role))
}

func (h *Handler) OrderAudit(w http.ResponseWriter, r *http.Request) {
	orderUUID := chi.URLParam(r, "uuid")
	viewerUUID := r.Header.Get("UUID")

	order, err := h.Database.GetOrder(r.Context(), orderUUID)
	if err != nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	if order.CustomerUUID != viewerUUID && (order.RunnerUUID == nil || *order.RunnerUUID != viewerUUID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	trail, err := h.Database.GetAuditTrail(r.Context(), orderUUID)
	if err != nil {
		h.Logger.Error("error reading audit trail", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, trail)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) OrderCancel(w http.ResponseWriter, r *http.Request) {
	orderUUID := chi.URLParam(r, "uuid")
	customerUUID := r.Header.Get("UUID")

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "error decoding request", http.StatusBadRequest)
		return
	}

	order, err := h.Database.GetOrder(r.Context(), orderUUID)
	if err != nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if order.CustomerUUID != customerUUID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if err = h.Transitions.CancelByCustomer(r.Context(), orderUUID, order.Status, req.Reason); err != nil {
		h.Logger.Infow("cancel rejected", "order", orderUUID, "kind", apperr.Kind(err))
		http.Error(w, apperr.Kind(err), apperr.HTTPStatus(err))
		return
	}

	h.announce(r, orderUUID)
	if order.RunnerUUID != nil {
		h.notifyUser(r, *order.RunnerUUID, "order_cancelled", orderUUID)
	}
	w.WriteHeader(http.StatusOK)
}

type guardrailResponse struct {
	Window           guardrail.Window `json:"window"`
	RemainingSeconds int              `json:"remaining_seconds"`
}

// GuardrailGet opens the window on first sight of a verified handoff and
// returns it afterwards without resetting or extending it.
func (h *Handler) GuardrailGet(w http.ResponseWriter, r *http.Request) {
	orderUUID := chi.URLParam(r, "uuid")
	customerUUID := r.Header.Get("UUID")

	order, err := h.Database.GetOrder(r.Context(), orderUUID)
	if err != nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if order.CustomerUUID != customerUUID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if order.HandoffVerifiedAt == nil {
		http.Error(w, "handoff not verified", http.StatusConflict)
		return
	}

	window, err := h.Guardrail.Open(orderUUID, *order.HandoffVerifiedAt)
	if err != nil {
		h.Logger.Error("failed to open guardrail window", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, guardrailResponse{
		Window:           window,
		RemainingSeconds: int(window.Remaining(time.Now()) / time.Second),
	})
}

func (h *Handler) GuardrailConfirm(w http.ResponseWriter, r *http.Request) {
	h.dismissGuardrail(w, r, false)
}

func (h *Handler) GuardrailFlag(w http.ResponseWriter, r *http.Request) {
	h.dismissGuardrail(w, r, true)
}

func (h *Handler) dismissGuardrail(w http.ResponseWriter, r *http.Request, dispute bool) {
	orderUUID := chi.URLParam(r, "uuid")
	customerUUID := r.Header.Get("UUID")

	order, err := h.Database.GetOrder(r.Context(), orderUUID)
	if err != nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if order.CustomerUUID != customerUUID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var window guardrail.Window
	if dispute {
		window, err = h.Guardrail.FlagIncorrect(orderUUID)
	} else {
		window, err = h.Guardrail.ConfirmCount(orderUUID)
	}
	if err != nil {
		h.Logger.Infow("guardrail dismissal rejected", "order", orderUUID, "kind", apperr.Kind(err))
		http.Error(w, apperr.Kind(err), apperr.HTTPStatus(err))
		return
	}

	if dispute && window.Outcome == guardrail.OutcomeDisputed {
		// Hands off to the dispute flow, which lives outside this core.
		h.notifyUser(r, order.CustomerUUID, "dispute_opened", orderUUID)
	}
	h.writeJSON(w, window)
}

func (h *Handler) announce(r *http.Request, orderUUID string) {
	err := h.Changes.Publish(r.Context(), realtime.OrdersChannel, notify.Event{
		OrderUUID: orderUUID,
		Kind:      notify.KindOrderChanged,
	})
	if err != nil {
		h.Logger.Warnw("failed to publish change event", "order", orderUUID, "error", err)
	}
}

func (h *Handler) notifyUser(r *http.Request, userUUID string, eventType string, orderUUID string) {
	err := h.Notifier.Notify(r.Context(), userUUID, eventType, map[string]string{"order_uuid": orderUUID})
	if err != nil {
		h.Logger.Warnw("failed to notify user", "user", userUUID, "event", eventType, "error", err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("error encoding response", zap.Error(err))
	}
}
