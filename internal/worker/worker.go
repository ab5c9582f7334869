package worker

import (
	"context"
	"fmt"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// EventStore records which events were already applied.
type EventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// CacheInvalidator drops cached catalog pages. Implemented by service.ProductService.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context) error
}

// CatalogWorker keeps the product page cache in step with stock and catalog
// changes published by any instance.
type CatalogWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	events       EventStore
	cache        CacheInvalidator
	logger       *zap.Logger
}

// NewCatalogWorker creates a new catalog worker
func NewCatalogWorker(consumer *broker.Consumer, events EventStore, cache CacheInvalidator) *CatalogWorker {
	w := &CatalogWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		events:       events,
		cache:        cache,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	w.eventHandler.OnProductCreated(w.handleProductCreated)
	w.eventHandler.OnUnhandled(func(_ context.Context, e models.BaseEvent) {
		w.logger.Debug("Ignoring event", zap.String("event_type", e.EventType), zap.String("event_id", e.EventID))
	})
	return w
}

// Start consumes until ctx is done
func (w *CatalogWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting catalog worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the underlying consumer
func (w *CatalogWorker) Stop() error {
	w.logger.Info("Stopping catalog worker")
	return w.consumer.Close()
}

func (w *CatalogWorker) handleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return w.apply(ctx, event.BaseEvent, zap.Int64("order_id", event.OrderID))
}

func (w *CatalogWorker) handleProductCreated(ctx context.Context, event *models.ProductCreatedEvent) error {
	return w.apply(ctx, event.BaseEvent, zap.Int64("product_id", event.ProductID))
}

// apply invalidates the cache once per event id. An error makes the
// consumer retry the message; the event is marked only after it succeeds.
func (w *CatalogWorker) apply(ctx context.Context, base models.BaseEvent, field zap.Field) error {
	if base.EventID != "" {
		done, err := w.events.IsEventProcessed(ctx, base.EventID)
		if err != nil {
			return fmt.Errorf("failed to check event %s: %w", base.EventID, err)
		}
		if done {
			w.logger.Debug("Event already processed", zap.String("event_id", base.EventID))
			return nil
		}
	}

	if err := w.cache.InvalidateCache(ctx); err != nil {
		return fmt.Errorf("failed to invalidate product cache: %w", err)
	}

	if base.EventID != "" {
		if err := w.events.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
			return fmt.Errorf("failed to mark event %s: %w", base.EventID, err)
		}
	}

	util.CatalogEventsHandledTotal.WithLabelValues(base.EventType).Inc()
	w.logger.Info("Catalog event applied",
		zap.String("event_type", base.EventType),
		zap.String("event_id", base.EventID),
		field)
	return nil
}
