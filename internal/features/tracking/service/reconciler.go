package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/core/metrics"
	orderports "order-fulfillment/internal/features/orders/ports"
	"order-fulfillment/internal/features/tracking/domain"
	"order-fulfillment/internal/features/tracking/ports"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	reconcileJob      = "tracking_reconcile"
	defaultInterval   = 15 * time.Minute
	defaultStaleAfter = 6 * time.Hour
	defaultBatchSize  = 200
)

// ReconcilerParams configure the Reconciler.
type ReconcilerParams struct {
	Tracking   *TrackingService
	Repo       ports.Repository
	Orders     orderports.Repository
	Gateways   ports.GatewayResolver
	Lock       ports.JobLock
	Metrics    *metrics.Metrics
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int64
}

// Reconciler polls carriers for active shipments whose last event is stale
// and feeds the results through the webhook ingestion path.
type Reconciler struct {
	tracking   *TrackingService
	repo       ports.Repository
	orders     orderports.Repository
	gateways   ports.GatewayResolver
	lock       ports.JobLock
	metrics    *metrics.Metrics
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int64
	now        func() time.Time
}

// NewReconciler builds a Reconciler.
func NewReconciler(p ReconcilerParams) (*Reconciler, error) {
	if p.Tracking == nil || p.Repo == nil || p.Orders == nil || p.Gateways == nil {
		return nil, errors.New("reconciler: tracking service, repositories and gateways are required")
	}
	if p.Lock == nil {
		return nil, errors.New("reconciler: lock required")
	}
	r := &Reconciler{
		tracking:   p.Tracking,
		repo:       p.Repo,
		orders:     p.Orders,
		gateways:   p.Gateways,
		lock:       p.Lock,
		metrics:    p.Metrics,
		interval:   p.Interval,
		staleAfter: p.StaleAfter,
		batchSize:  p.BatchSize,
		now:        time.Now,
	}
	if r.interval <= 0 {
		r.interval = defaultInterval
	}
	if r.staleAfter <= 0 {
		r.staleAfter = defaultStaleAfter
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	return r, nil
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.runCycle(ctx); err != nil {
		logger.Get().Error("Reconciliation run failed", zap.Error(err))
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Get().Info("Reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.runCycle(ctx); err != nil {
				logger.Get().Error("Reconciliation run failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) runCycle(ctx context.Context) error {
	locked, err := r.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		logger.Get().Info("Another reconciler instance is running, skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := r.lock.Release(ctx); relErr != nil {
			logger.Get().Error("Failed to release reconciler lock", zap.Error(relErr))
		}
	}()

	start := time.Now()
	sum, err := r.Sweep(ctx)
	duration := time.Since(start)
	r.metrics.ObserveJob(reconcileJob, duration, err)

	fields := []zap.Field{
		zap.Duration("duration", duration),
		zap.Int("received", sum.Received),
		zap.Int("applied", sum.Applied),
		zap.Int("duplicates", sum.Duplicates),
	}
	if err != nil {
		logger.Get().Error("Reconciliation completed with errors", append(fields, zap.Error(err))...)
		return nil
	}
	logger.Get().Info("Reconciliation completed", fields...)
	return nil
}

// Sweep polls one batch of stale shipments. Per-shipment failures are
// collected and do not stop the batch.
func (r *Reconciler) Sweep(ctx context.Context) (domain.IngestSummary, error) {
	var (
		total domain.IngestSummary
		errs  error
	)

	now := r.now().UTC()
	recs, err := r.repo.ListStale(ctx, now.Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return total, fmt.Errorf("list stale shipments: %w", err)
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			return total, multierr.Append(errs, ctx.Err())
		}
		sum, err := r.poll(ctx, rec, now)
		total.Add(sum)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", rec.Carrier, rec.TrackingNumber, err))
		}
	}
	return total, errs
}

func (r *Reconciler) poll(ctx context.Context, rec *domain.ShipmentTracking, now time.Time) (domain.IngestSummary, error) {
	order, err := r.orders.GetByID(ctx, rec.OrderID)
	if err != nil {
		return domain.IngestSummary{}, err
	}
	if order.Status.IsTerminal() {
		return domain.IngestSummary{}, r.repo.MarkPolled(ctx, rec.ID, now)
	}

	gw, err := r.gateways.Get(rec.Carrier)
	if err != nil {
		return domain.IngestSummary{}, err
	}
	raws, err := gw.FetchTracking(ctx, rec.TrackingNumber)
	if err != nil {
		// Left unmarked so the next cycle retries.
		return domain.IngestSummary{}, err
	}

	sum, err := r.tracking.Ingest(ctx, gw, raws, domain.SourcePoll)
	if err != nil {
		return sum, err
	}
	return sum, r.repo.MarkPolled(ctx, rec.ID, now)
}
