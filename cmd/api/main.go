package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"order-fulfillment/internal/core/auth"
	"order-fulfillment/internal/core/cache"
	"order-fulfillment/internal/core/config"
	"order-fulfillment/internal/core/lock"
	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/core/metrics"
	"order-fulfillment/internal/core/mongodb"
	"order-fulfillment/internal/core/server"
	carrieradapters "order-fulfillment/internal/features/carriers/adapters"
	carrierservice "order-fulfillment/internal/features/carriers/service"
	catalogadapters "order-fulfillment/internal/features/catalog/adapters"
	deliveryhandler "order-fulfillment/internal/features/delivery/handler"
	deliveryservice "order-fulfillment/internal/features/delivery/service"
	notifyadapters "order-fulfillment/internal/features/notifications/adapters"
	notifyports "order-fulfillment/internal/features/notifications/ports"
	notifyservice "order-fulfillment/internal/features/notifications/service"
	orderadapters "order-fulfillment/internal/features/orders/adapters"
	orderhandler "order-fulfillment/internal/features/orders/handler"
	orderservice "order-fulfillment/internal/features/orders/service"
	paymentadapters "order-fulfillment/internal/features/payments/adapters"
	paymenthandler "order-fulfillment/internal/features/payments/handler"
	paymentservice "order-fulfillment/internal/features/payments/service"
	trackingadapters "order-fulfillment/internal/features/tracking/adapters"
	trackinghandler "order-fulfillment/internal/features/tracking/handler"
	trackingservice "order-fulfillment/internal/features/tracking/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const shutdownTimeout = 20 * time.Second

// @title Order Fulfillment API
// @version 1.0
// @description Order lifecycle, delivery assignment and carrier tracking.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
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
	l.Info("Application starting",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoClient, err := mongodb.Connect(ctx, cfg.Mongo.URI)
	if err != nil {
		l.Fatal("MongoDB connection failed", zap.Error(err))
	}
	defer mongodb.Disconnect(mongoClient)
	db := mongoClient.Database(cfg.Mongo.Database)
	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		l.Fatal("Failed to ensure indexes", zap.Error(err))
	}

	redisCache, err := cache.NewRedisAdapter(cfg.Redis.URL)
	if err != nil {
		l.Fatal("Redis configuration invalid", zap.Error(err))
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		l.Fatal("Redis Health Check Failed", zap.Error(err))
	}
	l.Info("Redis connection verified")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Carriers
	carriers := carrierservice.NewRegistry(redisCache, cfg.Carriers.ServiceabilityCacheTTL, m, carrieradapters.FromConfig(cfg)...)

	// Orders
	orderRepo := orderadapters.NewMongoRepository(db)
	locker := lock.NewKeyedLocker(redisCache.Client(), cfg.Delivery.OrderLockTTL, cfg.Delivery.OrderLockWait)
	notifier := orderservice.NewAsyncListener(notifyservice.NewShipmentNotifier(newSender(cfg)), 0)
	machine := orderservice.NewStateMachine(orderRepo, m, notifier)

	// Tracking
	trackingRepo := trackingadapters.NewMongoRepository(db)
	trackingSvc := trackingservice.NewTrackingService(trackingservice.Deps{
		Repo:     trackingRepo,
		Gateways: carriers,
		Orders:   orderRepo,
		Machine:  machine,
		Locker:   locker,
		Guard:    trackingadapters.NewRedisIdempotencyGuard(redisCache, cfg.Delivery.WebhookDedupeTTL),
		Metrics:  m,
	})
	trackingHdl := trackinghandler.NewTrackingHandler(trackingSvc)

	// Catalog, checkout and payment gate
	store := catalogadapters.NewMongoStore(db)
	orderSvc := orderservice.NewOrderService(orderRepo, machine, locker, store, trackingSvc)
	orderHdl := orderhandler.NewOrderHandler(orderSvc)

	checkoutSvc := paymentservice.NewCheckoutService(paymentservice.Deps{
		Carts:    store,
		Catalog:  store,
		Stock:    store,
		Orders:   orderRepo,
		Machine:  machine,
		Locker:   locker,
		Sequence: orderadapters.NewRedisSequence(redisCache),
		Verifier: paymentadapters.NewRazorpayVerifier(cfg.Payments.RazorpayKeySecret),
		Pricing:  cfg.Pricing,
	})
	paymentHdl := paymenthandler.NewPaymentHandler(checkoutSvc)

	// Delivery assignment
	assignmentSvc := deliveryservice.NewAssignmentService(deliveryservice.Deps{
		Orders:           orderRepo,
		Machine:          machine,
		Locker:           locker,
		Carriers:         carriers,
		Tracking:         trackingRepo,
		AllowAbandon:     cfg.Delivery.AllowAbandon,
		OriginPostalCode: cfg.Carriers.OriginPostalCode,
	})
	deliveryHdl := deliveryhandler.NewDeliveryHandler(assignmentSvc)

	srv := server.New(cfg, registry, map[string]server.HealthCheck{
		"mongo": func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) },
		"redis": redisCache.Ping,
	})

	// Public routes
	srv.App.Post("/delivery/webhook/:carrier", trackingHdl.Webhook)
	srv.App.Get("/delivery/track/:trackingNumber", trackingHdl.Track)

	authMW := auth.Middleware(auth.Config{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	adminOnly := auth.RequireRole(auth.RoleAdmin)

	// Admin order routes must precede /orders/:id.
	orders := srv.App.Group("/orders", authMW)
	orders.Post("/", paymentHdl.Checkout)
	orders.Get("/admin", adminOnly, orderHdl.ListOrders)
	orders.Patch("/admin/:id/status", adminOnly, orderHdl.UpdateStatus)
	orders.Patch("/admin/:id/notes", adminOnly, orderHdl.UpdateNotes)
	orders.Get("/:id", orderHdl.GetOrder)
	orders.Post("/:id/cancel", orderHdl.CancelOrder)
	orders.Post("/:id/payment/confirm", paymentHdl.ConfirmPayment)

	delivery := srv.App.Group("/delivery", authMW, adminOnly)
	delivery.Get("/methods", deliveryHdl.Methods)
	delivery.Get("/quote", deliveryHdl.Quote)
	delivery.Get("/orders/assignable", deliveryHdl.ListAssignable)
	delivery.Post("/orders/:id/assign", deliveryHdl.Assign)
	delivery.Put("/orders/:id/method", deliveryHdl.Reassign)
	delivery.Get("/orders/:id/shipments", trackingHdl.OrderShipments)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			l.Fatal("Server failed to start", zap.Error(err))
		}
	case <-ctx.Done():
		l.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		l.Error("Graceful shutdown failed", zap.Error(err))
	}
	if err := notifier.Close(shutdownCtx); err != nil {
		l.Warn("Pending shipment notifications abandoned", zap.Error(err))
	}
	l.Info("Server stopped")
}

func newSender(cfg *config.AppConfig) notifyports.Sender {
	if cfg.Notifications.PostmarkServerToken == "" {
		logger.Get().Warn("POSTMARK_SERVER_TOKEN not set, shipment notifications are logged only")
		return notifyadapters.LogSender{}
	}
	return notifyadapters.NewPostmarkSender(cfg.Notifications.PostmarkServerToken, cfg.Notifications.FromEmail)
}
