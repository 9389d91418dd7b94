package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-orders/internal/config"
	"storefront-orders/internal/database"
	"storefront-orders/internal/domain"
	"storefront-orders/internal/handlers"
	"storefront-orders/internal/infrastructure/payment"
	"storefront-orders/internal/lock"
	"storefront-orders/internal/logging"
	"storefront-orders/internal/notify"
	"storefront-orders/internal/observability"
	"storefront-orders/internal/repo"
	"storefront-orders/internal/service"
	"storefront-orders/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("invalid configuration", zap.Error(err))
	}

	logger := logging.MustNew(cfg.ServiceName, cfg.Env)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server_exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.Env, cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer flush(logger, "tracing", shutdownTracing)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	tel := observability.NewTelemetry(logger, metrics, otel.Tracer(cfg.ServiceName))

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	dbService := database.New(db, cfg.Database.Database, logger)
	defer dbService.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}
	store := repo.NewPostgresStore(db)

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		rdb, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.ServiceName+":lock:", cfg.Gateway.Timeout+15*time.Second)
		logger.Info("redis_lock_enabled")
	}

	bus := notify.NewBus(logger, metrics)
	var sink domain.EventHandler = notify.LogSink
	if cfg.KafkaBroker != "" {
		kafkaSink := notify.NewKafkaSink(notify.NewKafkaWriter(cfg.KafkaBroker, cfg.KafkaTopic))
		defer kafkaSink.Close()
		sink = kafkaSink.Handle
		logger.Info("kafka_notifications_enabled", zap.String("topic", cfg.KafkaTopic))
	}
	notify.SubscribeAll(bus, sink)
	bus.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := bus.Stop(stopCtx); err != nil {
			logger.Warn("event_bus_stop_timeout", zap.Error(err))
		}
	}()

	var gateway payment.Gateway
	switch cfg.Gateway.Provider {
	case "paystack":
		gateway = payment.NewPaystackGateway(payment.PaystackConfig{
			BaseURL:   cfg.Gateway.BaseURL,
			SecretKey: cfg.Gateway.SecretKey,
			Timeout:   cfg.Gateway.Timeout,
		}, metrics)
	default:
		gateway = payment.NewMockGateway(cfg.Gateway.SecretKey)
		logger.Warn("mock_gateway_enabled")
	}

	pricing := domain.PricingPolicy{
		ShippingFlat:          cfg.Pricing.ShippingFlat,
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		TaxRate:               cfg.Pricing.TaxRatePercent,
	}
	ledger := service.NewInventoryLedger()
	discounts := service.NewDiscountCalculator()
	orders := service.NewOrderService(store, ledger, discounts, pricing, bus, tel)
	recon := service.NewReconciliationService(store, gateway, ledger, discounts, locker, bus, tel, service.ReconciliationConfig{
		Currency:    cfg.Currency,
		CallbackURL: cfg.Gateway.CallbackURL,
		Pricing:     pricing,
	})

	repos := store.Repos()
	sweeper := worker.NewReconciliationWorker(repos.Payments, repos.Refunds, recon, worker.Config{
		Interval:    cfg.Reconcile.Interval,
		StaleAfter:  cfg.Reconcile.StaleAfter,
		ExpireAfter: cfg.Reconcile.ExpireAfter,
		BatchSize:   cfg.Reconcile.BatchSize,
	}, logger)
	go sweeper.Run(ctx)

	if cfg.Env != "local" && cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handlers.NewHandler(orders, recon, logger, handlers.Options{
		Health:         dbService,
		Metrics:        reg,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown_started")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func flush(logger *zap.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("flush_failed", zap.String("component", name), zap.Error(err))
	}
}
