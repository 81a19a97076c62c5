package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-scheduler/cmd/mainconfig"
	"github.com/wolfman30/clinic-scheduler/internal/api/router"
	"github.com/wolfman30/clinic-scheduler/internal/app/bootstrap"
	"github.com/wolfman30/clinic-scheduler/internal/availability"
	"github.com/wolfman30/clinic-scheduler/internal/bookings"
	"github.com/wolfman30/clinic-scheduler/internal/clinic"
	appconfig "github.com/wolfman30/clinic-scheduler/internal/config"
	"github.com/wolfman30/clinic-scheduler/internal/conversation"
	httpmiddleware "github.com/wolfman30/clinic-scheduler/internal/http/middleware"
	"github.com/wolfman30/clinic-scheduler/internal/messaging"
	"github.com/wolfman30/clinic-scheduler/internal/observability/tracing"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

func main() {
	appconfig.LoadDotEnv()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-scheduler API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := bootstrap.SetupTracing(ctx, cfg, "clinic-api")
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pool, err := mainconfig.OpenPostgres(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	m := bootstrap.NewMetrics(prometheus.DefaultRegisterer)
	sched, err := bootstrap.BuildScheduling(cfg, pool, redisClient, m, logger)
	if err != nil {
		logger.Error("failed to build scheduling", "error", err)
		os.Exit(1)
	}

	queue, err := bootstrap.BuildQueue(ctx, cfg)
	if err != nil {
		logger.Error("failed to build conversation queue", "error", err)
		os.Exit(1)
	}

	clinicMap, err := messaging.ParseClinicMap(cfg.WhatsAppClinicMapJSON)
	if err != nil {
		logger.Error("invalid WHATSAPP_CLINIC_MAP_JSON", "error", err)
		os.Exit(1)
	}
	if cfg.IsProduction() && cfg.WhatsAppAppSecret == "" {
		logger.Error("WHATSAPP_APP_SECRET is required in production")
		os.Exit(1)
	}

	// The in-process queue has no other consumer, so the API runs the worker itself.
	var worker *conversation.Worker
	if cfg.UseMemoryQueue {
		worker, err = bootstrap.BuildConversationWorker(ctx, cfg, sched, redisClient, queue, m, logger)
		if err != nil {
			logger.Error("failed to build in-process worker", "error", err)
			os.Exit(1)
		}
		worker.Start(ctx)

		deliverer, err := bootstrap.BuildDeliverer(ctx, cfg, pool, logger)
		if err != nil {
			logger.Error("failed to build outbox deliverer", "error", err)
			os.Exit(1)
		}
		go deliverer.Start(ctx)
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.WebhookRatePerSec, cfg.WebhookBurst)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				limiter.Evict(now.Add(-10 * time.Minute))
			}
		}
	}()

	r := router.New(&router.Config{
		Logger: logger,
		MessagingHandler: messaging.NewHandler(
			cfg.WhatsAppVerifyToken,
			cfg.WhatsAppAppSecret,
			conversation.NewPublisher(queue, logger),
			messaging.NewStaticClinicResolver(clinicMap),
			m.Messaging,
			logger,
		),
		AvailabilityRoutes: availability.NewHandler(sched.Engine, cfg.CalendarDays, logger),
		BookingsHandler:    bookings.NewHandler(sched.Writer, sched.Store, logger),
		ClinicHandler:      clinic.NewHandler(sched.Clinics, logger),
		ClinicStatsHandler: clinic.NewStatsHandler(clinic.NewStatsRepository(pool), logger),
		ClinicDashboard:    clinic.NewDashboardHandler(clinic.NewDashboardRepository(pool), prometheus.DefaultGatherer, logger),
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookLimiter:     limiter,
		HealthChecks: map[string]router.HealthCheck{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      tracing.Handler(r, "clinic-api"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	if worker != nil {
		worker.Wait()
	}
	logger.Info("server stopped")
}
