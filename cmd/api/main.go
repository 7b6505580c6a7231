package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/orderflow-backend/api/routes"
	"github.com/angelmondragon/orderflow-backend/internal/bootstrap"
	"github.com/angelmondragon/orderflow-backend/internal/cart"
	squarewebhook "github.com/angelmondragon/orderflow-backend/internal/webhooks/square"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, logg, err := bootstrap.Load("api")
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx, stop := bootstrap.SignalContext(cfg, logg, "local")
	defer stop()

	stack, err := bootstrap.Open(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap api", err)
		os.Exit(1)
	}
	defer stack.Close(context.Background())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	webhookService, err := squarewebhook.NewService(squarewebhook.ServiceParams{
		Records:          squarewebhook.NewRecordRepository(stack.DB.DB()),
		Orders:           stack.OrderRepo,
		Payments:         stack.PaymentRepo,
		Lifecycle:        stack.Orders,
		Outbox:           stack.Outbox,
		Tx:               stack.DB,
		Alerts:           stack.Alerts,
		Metrics:          metrics.NewWebhookMetrics(registry),
		Logger:           logg,
		AllowAmountMatch: cfg.Webhook.AllowAmountMatch,
	})
	if err != nil {
		logg.Error(ctx, "failed to create square webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:          stack.DB,
			Redis:       stack.Redis,
			Idempotency: stack.Redis,
			Orders:      stack.Orders,
			Cart:        cart.NewSnapshotter(cart.NewRepository(stack.DB.DB()), cfg.Checkout),
			Webhooks:    webhookService,
			Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}),
	}

	// In-flight checkouts finish before the pools close.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown", err)
		}
	}()

	logg.Info(logg.WithField(ctx, "addr", server.Addr), "starting api server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	<-drained
	logg.Info(ctx, "api server shutting down gracefully")
}
