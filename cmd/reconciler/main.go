package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"order-fulfillment/internal/core/cache"
	"order-fulfillment/internal/core/config"
	"order-fulfillment/internal/core/lock"
	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/core/metrics"
	"order-fulfillment/internal/core/mongodb"
	carrieradapters "order-fulfillment/internal/features/carriers/adapters"
	carrierservice "order-fulfillment/internal/features/carriers/service"
	notifyadapters "order-fulfillment/internal/features/notifications/adapters"
	notifyports "order-fulfillment/internal/features/notifications/ports"
	notifyservice "order-fulfillment/internal/features/notifications/service"
	orderadapters "order-fulfillment/internal/features/orders/adapters"
	orderservice "order-fulfillment/internal/features/orders/service"
	trackingadapters "order-fulfillment/internal/features/tracking/adapters"
	trackingservice "order-fulfillment/internal/features/tracking/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const jobLockKey = "tracking-reconciler"

// The reconciler polls carriers for shipments whose webhooks went quiet. Run
// any number of replicas; a Redis lock keeps one sweep active at a time.
func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()
	l := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoClient, err := mongodb.Connect(ctx, cfg.Mongo.URI)
	if err != nil {
		l.Fatal("MongoDB connection failed", zap.Error(err))
	}
	defer mongodb.Disconnect(mongoClient)
	db := mongoClient.Database(cfg.Mongo.Database)

	redisCache, err := cache.NewRedisAdapter(cfg.Redis.URL)
	if err != nil {
		l.Fatal("Redis configuration invalid", zap.Error(err))
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		l.Fatal("Redis Health Check Failed", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	carriers := carrierservice.NewRegistry(redisCache, cfg.Carriers.ServiceabilityCacheTTL, m, carrieradapters.FromConfig(cfg)...)
	orderRepo := orderadapters.NewMongoRepository(db)
	trackingRepo := trackingadapters.NewMongoRepository(db)
	notifier := orderservice.NewAsyncListener(notifyservice.NewShipmentNotifier(newSender(cfg)), 0)
	machine := orderservice.NewStateMachine(orderRepo, m, notifier)

	trackingSvc := trackingservice.NewTrackingService(trackingservice.Deps{
		Repo:     trackingRepo,
		Gateways: carriers,
		Orders:   orderRepo,
		Machine:  machine,
		Locker:   lock.NewKeyedLocker(redisCache.Client(), cfg.Delivery.OrderLockTTL, cfg.Delivery.OrderLockWait),
		Guard:    trackingadapters.NewRedisIdempotencyGuard(redisCache, cfg.Delivery.WebhookDedupeTTL),
		Metrics:  m,
	})

	// The lock outlives one sweep so a slow carrier cannot let a second replica in.
	jobLock, err := lock.NewRedisLock(redisCache.Client(), jobLockKey, cfg.Reconcile.Interval)
	if err != nil {
		l.Fatal("Failed to create job lock", zap.Error(err))
	}

	reconciler, err := trackingservice.NewReconciler(trackingservice.ReconcilerParams{
		Tracking:   trackingSvc,
		Repo:       trackingRepo,
		Orders:     orderRepo,
		Gateways:   carriers,
		Lock:       jobLock,
		Metrics:    m,
		Interval:   cfg.Reconcile.Interval,
		StaleAfter: cfg.Reconcile.StaleAfter,
	})
	if err != nil {
		l.Fatal("Failed to create reconciler", zap.Error(err))
	}

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Reconcile.MetricsPort),
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("Metrics server failed", zap.Error(err))
		}
	}()

	l.Info("Reconciler starting",
		zap.Duration("interval", cfg.Reconcile.Interval),
		zap.Duration("stale_after", cfg.Reconcile.StaleAfter),
	)
	if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("Reconciler stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := notifier.Close(shutdownCtx); err != nil {
		l.Warn("Pending shipment notifications abandoned", zap.Error(err))
	}
	l.Info("Reconciler stopped")
}

func newSender(cfg *config.AppConfig) notifyports.Sender {
	if cfg.Notifications.PostmarkServerToken == "" {
		return notifyadapters.LogSender{}
	}
	return notifyadapters.NewPostmarkSender(cfg.Notifications.PostmarkServerToken, cfg.Notifications.FromEmail)
}
