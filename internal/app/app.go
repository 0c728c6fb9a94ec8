// Package app wires configuration, storage, domain services, and the HTTP
// server into a runnable application.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/freshcart/internal/domain/cart"
	"github.com/xenking/freshcart/internal/domain/checkout"
	"github.com/xenking/freshcart/internal/handler"
	"github.com/xenking/freshcart/internal/payment"
	"github.com/xenking/freshcart/internal/repository"
	"github.com/xenking/freshcart/pkg/health"
	"github.com/xenking/freshcart/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Storage.
	productRepo := repository.NewProductRepository(pool)
	cartStore := repository.NewCartStore(pool)
	orderLedger := repository.NewOrderLedger(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Domain services.
	cartSvc := cart.NewService(cartStore, productRepo)
	checkoutSvc := checkout.NewService(orderLedger)
	gateway := payment.NewGateway(payment.GatewayConfig{
		BaseURL:        cfg.Payment.BaseURL,
		SecretKey:      cfg.Payment.SecretKey,
		Currency:       cfg.Payment.Currency,
		RequestTimeout: cfg.Payment.Timeout,
		MaxAttempts:    cfg.Payment.MaxAttempts,
	}, &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}, orderLedger)
	webhookProc := payment.NewProcessor(payment.ProcessorConfig{
		Secret: []byte(cfg.Payment.WebhookSecret),
	}, orderLedger, lg.Named("webhook"))

	// HTTP handlers.
	sec := handler.NewSecurity(apikeyRepo, []byte(cfg.APIKeyPepper))
	h := handler.New(productRepo, cartSvc, checkoutSvc, orderLedger, gateway, webhookProc, sec, lg.Named("http"))

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, "freshcart-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "X-Session-Token"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
