package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/jayjaytrn/cash-delivery/config"
	"github.com/jayjaytrn/cash-delivery/internal/db"
	"github.com/jayjaytrn/cash-delivery/internal/dispatch"
	"github.com/jayjaytrn/cash-delivery/internal/guardrail"
	"github.com/jayjaytrn/cash-delivery/internal/handlers"
	"github.com/jayjaytrn/cash-delivery/internal/handoff"
	"github.com/jayjaytrn/cash-delivery/internal/middleware"
	"github.com/jayjaytrn/cash-delivery/internal/notify"
	"github.com/jayjaytrn/cash-delivery/internal/realtime"
	"github.com/jayjaytrn/cash-delivery/internal/status"
	"github.com/jayjaytrn/cash-delivery/logging"
	"github.com/jayjaytrn/cash-delivery/models"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logging.GetSugaredLogger()
	defer logger.Sync()

	cfg := config.GetConfig()

	database, err := db.NewManager(cfg)
	if err != nil {
		logger.Fatal(err)
	}
	defer database.Close()

	guardrailStore, err := guardrail.NewStore(cfg.GuardrailStatePath, cfg.GuardrailTTL)
	if err != nil {
		logger.Fatal(err)
	}
	defer guardrailStore.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	changes := notify.NewRedisNotifier(cfg.RedisAddress, logger)
	registry := dispatch.NewRegistry(ctx, database, logger, cfg.OfferTTL)
	syncer := realtime.NewSyncer(database, changes, logger, cfg.PollInterval, registry.OnOrderChanged)

	h := handlers.Handler{
		Config:      cfg,
		Database:    database,
		Logger:      logger,
		Transitions: status.NewTransitioner(database, logger),
		Dispatch:    registry,
		Verifier:    handoff.NewVerifier(database, logger, cfg.HandoffCodeTTL, cfg.MaxCodeAttempts),
		Guardrail:   guardrailStore,
		Notifier:    &notify.LogNotifier{Logger: logger},
		Changes:     changes,
	}

	r := initRouter(h)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return syncer.Run(ctx)
	})
	g.Go(func() error {
		server := &http.Server{Addr: cfg.RunAddress, Handler: r}
		go func() {
			<-ctx.Done()
			server.Shutdown(context.Background())
		}()
		return server.ListenAndServe()
	})

	if err = g.Wait(); err != nil {
		logger.Fatalw("dispatcher stopped", "error", err)
	}
}

func initRouter(h handlers.Handler) *chi.Mux {
	r := chi.NewRouter()

	public := func(handler http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware.Conveyor(
				handler,
				h.Logger,
				middleware.WriteWithCompression,
				middleware.ReadWithCompression,
			).ServeHTTP(w, r)
		}
	}
	asRunner := func(handler http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware.Conveyor(
				handler,
				h.Logger,
				middleware.WriteWithCompression,
				middleware.ReadWithCompression,
				middleware.RequireRole(models.ActorRunner),
				middleware.ValidateAuth,
			).ServeHTTP(w, r)
		}
	}
	asCustomer := func(handler http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware.Conveyor(
				handler,
				h.Logger,
				middleware.WriteWithCompression,
				middleware.ReadWithCompression,
				middleware.RequireRole(models.ActorCustomer),
				middleware.ValidateAuth,
			).ServeHTTP(w, r)
		}
	}
	asAny := func(handler http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware.Conveyor(
				handler,
				h.Logger,
				middleware.WriteWithCompression,
				middleware.ReadWithCompression,
				middleware.ValidateAuth,
			).ServeHTTP(w, r)
		}
	}

	r.Post(`/api/user/register`, public(h.Register))
	r.Post(`/api/user/login`, public(h.Login))

	r.Post(`/api/runner/online`, asRunner(h.RunnerOnline))
	r.Post(`/api/runner/offline`, asRunner(h.RunnerOffline))
	r.Get(`/api/runner/offer`, asRunner(h.RunnerOffer))
	r.Post(`/api/runner/offer/accept`, asRunner(h.RunnerAccept))
	r.Post(`/api/runner/offer/skip`, asRunner(h.RunnerSkip))

	r.Get(`/api/orders/{uuid}`, asAny(h.OrderGet))
	r.Get(`/api/orders/{uuid}/audit`, asAny(h.OrderAudit))
	r.Post(`/api/orders/{uuid}/at-pickup`, asRunner(h.OrderAtPickup))
	r.Post(`/api/orders/{uuid}/cash-secured`, asRunner(h.OrderCashSecured))
	r.Post(`/api/orders/{uuid}/handoff-code`, asCustomer(h.HandoffCode))
	r.Post(`/api/orders/{uuid}/verify`, asRunner(h.HandoffVerify))
	r.Post(`/api/orders/{uuid}/cancel`, asCustomer(h.OrderCancel))

	r.Get(`/api/orders/{uuid}/guardrail`, asCustomer(h.GuardrailGet))
	r.Post(`/api/orders/{uuid}/guardrail/confirm`, asCustomer(h.GuardrailConfirm))
	r.Post(`/api/orders/{uuid}/guardrail/flag`, asCustomer(h.GuardrailFlag))

	return r
}
