package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService places orders and reads them back
type OrderService struct {
	store    OrderStore
	receipts ReceiptCache
	events   OrderEvents
	timeout  time.Duration
	logger   *zap.Logger
}

// NewOrderService creates a new order service. receipts and events may be
// nil, which disables idempotency replay and event publishing.
func NewOrderService(
	store OrderStore,
	receipts ReceiptCache,
	events OrderEvents,
	timeout time.Duration,
) *OrderService {
	return &OrderService{
		store:    store,
		receipts: receipts,
		events:   events,
		timeout:  timeout,
		logger:   util.GetLogger(),
	}
}

// PlaceOrderRequest represents a checkout request
type PlaceOrderRequest struct {
	Status         string             `json:"status"`
	Items          []OrderLineRequest `json:"items"`
	IdempotencyKey string             `json:"-"`
}

// OrderLineRequest represents one requested product and quantity
type OrderLineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// PlaceOrder creates an order with one line item per requested line and
// decrements stock, all in one transaction. Nothing is persisted on failure.
func (s *OrderService) PlaceOrder(ctx context.Context, userID int64, req *PlaceOrderRequest) (*models.OrderReceipt, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	status, err := validatePlaceOrder(req)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" && s.receipts != nil {
		receipt, release, err := s.claimIdempotencyKey(ctx, userID, req.IdempotencyKey)
		if err != nil || receipt != nil {
			return receipt, err
		}
		defer release()
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		order models.Order
		items []models.OrderItem
	)
	err = s.store.RunInTx(ctx, func(tx store.Tx) error {
		order = models.Order{UserID: userID, Status: status}
		items = items[:0]

		if err := tx.CreateOrder(ctx, &order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		total := decimal.Zero
		for _, line := range req.Items {
			item, err := placeLine(ctx, tx, order.ID, line)
			if err != nil {
				return err
			}
			total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
			items = append(items, *item)
		}

		order.TotalPrice = total
		if err := tx.UpdateOrderTotal(ctx, order.ID, total); err != nil {
			return fmt.Errorf("failed to update order total: %w", err)
		}
		return nil
	})
	util.OrderPlacementLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		err = classifyTxError(ctx, err)
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(span, err)
		if apperr.KindOf(err) == apperr.KindInternal {
			s.logger.Error("Order placement failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	util.OrderItemsTotal.Add(float64(len(items)))
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.Int("items", len(items)),
		zap.String("total_price", order.TotalPrice.StringFixed(2)))

	receipt := &models.OrderReceipt{OrderID: order.ID, TotalPrice: order.TotalPrice}
	s.afterCommit(ctx, &order, items, req.IdempotencyKey, receipt)
	return receipt, nil
}

// placeLine locks the product, checks stock, records the line at the price
// read under the lock and decrements stock.
func placeLine(ctx context.Context, tx store.Tx, orderID int64, line OrderLineRequest) (*models.OrderItem, error) {
	product, err := tx.GetProductForUpdate(ctx, line.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ProductNotFound(line.ProductID)
	}
	if err != nil {
		return nil, err
	}

	if product.Stock < line.Quantity {
		return nil, apperr.InsufficientStock(product.ID, product.Name)
	}

	item := &models.OrderItem{
		OrderID:   orderID,
		ProductID: product.ID,
		Quantity:  line.Quantity,
		UnitPrice: product.Price,
	}
	if err := tx.CreateOrderItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create order item: %w", err)
	}

	if err := tx.DecrementStock(ctx, product.ID, line.Quantity); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			return nil, apperr.InsufficientStock(product.ID, product.Name)
		}
		return nil, err
	}
	return item, nil
}

func validatePlaceOrder(req *PlaceOrderRequest) (string, error) {
	if req == nil || len(req.Items) == 0 {
		return "", &apperr.Error{
			Kind:    apperr.KindValidation,
			Code:    apperr.CodeInvalidLineItem,
			Message: "order must contain at least one item",
		}
	}

	status := req.Status
	if status == "" {
		status = models.OrderStatusPending
	}
	if !models.ValidOrderStatus(status) {
		return "", apperr.Newf(apperr.KindValidation, "unknown order status %q", status)
	}

	for i, line := range req.Items {
		if line.ProductID <= 0 {
			return "", apperr.InvalidLineItem(i, line.ProductID, "product_id is required")
		}
		if line.Quantity <= 0 {
			return "", apperr.InvalidLineItem(i, line.ProductID, "quantity must be a positive integer")
		}
	}
	return status, nil
}

// classifyTxError turns aborted contexts and database conflicts into
// retryable errors.
func classifyTxError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperr.Wrap(apperr.KindUnavailable, "order placement timed out, please retry", ctxErr)
	}
	if errors.Is(err, store.ErrTxConflict) {
		return apperr.Wrap(apperr.KindConflict, "order conflicted with a concurrent update, please retry", err)
	}
	return err
}

// claimIdempotencyKey returns a stored receipt if the key was already used.
// Otherwise it takes the in-flight lock and returns its release func.
func (s *OrderService) claimIdempotencyKey(ctx context.Context, userID int64, key string) (*models.OrderReceipt, func(), error) {
	noop := func() {}

	receipt, ok, err := s.receipts.GetOrderReceipt(ctx, userID, key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed, placing order without replay",
			zap.Int64("user_id", userID), zap.Error(err))
		return nil, noop, nil
	}
	if ok {
		util.OrderIdempotentReplaysTotal.Inc()
		s.logger.Info("Duplicate order request detected",
			zap.Int64("user_id", userID),
			zap.Int64("order_id", receipt.OrderID))
		return receipt, noop, nil
	}

	locked, err := s.receipts.AcquireOrderLock(ctx, userID, key)
	if err != nil {
		s.logger.Warn("Idempotency lock failed", zap.Int64("user_id", userID), zap.Error(err))
		return nil, noop, nil
	}
	if !locked {
		return nil, noop, apperr.Conflict("an order with this idempotency key is already in progress")
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.receipts.ReleaseOrderLock(releaseCtx, userID, key); err != nil {
			s.logger.Warn("Failed to release idempotency lock", zap.Error(err))
		}
	}

	// A request holding the lock may have committed and released it between
	// the lookup above and our SetNX.
	receipt, ok, err = s.receipts.GetOrderReceipt(ctx, userID, key)
	if err != nil {
		release()
		return nil, noop, apperr.Wrap(apperr.KindUnavailable, "could not verify idempotency key, please retry", err)
	}
	if ok {
		release()
		util.OrderIdempotentReplaysTotal.Inc()
		s.logger.Info("Duplicate order request detected after lock",
			zap.Int64("user_id", userID),
			zap.Int64("order_id", receipt.OrderID))
		return receipt, noop, nil
	}

	return nil, release, nil
}

// afterCommit runs best-effort side effects once the order is durable.
func (s *OrderService) afterCommit(ctx context.Context, order *models.Order, items []models.OrderItem, key string, receipt *models.OrderReceipt) {
	ctx = context.WithoutCancel(ctx)

	if key != "" && s.receipts != nil {
		if err := s.receipts.SetOrderReceipt(ctx, order.UserID, key, receipt); err != nil {
			s.logger.Warn("Failed to store order receipt", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	if s.events == nil {
		return
	}

	data := make([]models.OrderItemData, 0, len(items))
	for _, it := range items {
		data = append(data, models.OrderItemData{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	event := &models.OrderPlacedEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalPrice: order.TotalPrice,
		Items:      data,
	}
	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// ListOrderItems returns the line items of the user's most recent order
func (s *OrderService) ListOrderItems(ctx context.Context, userID int64) ([]models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrderItems")
	defer span.End()

	orderID, err := s.store.GetLatestOrderIDForUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNoOrdersFound
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to resolve order for user %d: %w", userID, err)
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	return items, nil
}

func failureReason(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		if ae.Code != "" {
			return ae.Code
		}
		return ae.Kind.String()
	}
	return "db_error"
}
