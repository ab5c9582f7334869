package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	MaxPageLimit     = 100
	DefaultPageLimit = 10

	// Column limits of products.price NUMERIC(12,2) and products.stock INTEGER.
	priceScale = 2
	maxStock   = math.MaxInt32
)

var maxPrice = decimal.RequireFromString("9999999999.99")

// ProductService manages the catalog
type ProductService struct {
	store  ProductStore
	cache  ProductCache
	events ProductEvents
	logger *zap.Logger
}

// NewProductService creates a new product service. cache and events may be nil.
func NewProductService(store ProductStore, cache ProductCache, events ProductEvents) *ProductService {
	return &ProductService{
		store:  store,
		cache:  cache,
		events: events,
		logger: util.GetLogger(),
	}
}

// CreateProductRequest represents a new catalog entry
type CreateProductRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock *int            `json:"stock"`
}

// CreateProduct validates and stores a product, returning its id
func (s *ProductService) CreateProduct(ctx context.Context, req *CreateProductRequest) (int64, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.CreateProduct")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return 0, apperr.Validation("name is required")
	}
	if !req.Price.IsPositive() {
		return 0, apperr.Validation("price must be greater than zero")
	}
	if req.Price.Exponent() < -priceScale && !req.Price.Equal(req.Price.Truncate(priceScale)) {
		return 0, apperr.Newf(apperr.KindValidation, "price must have at most %d decimal places", priceScale)
	}
	if req.Price.GreaterThan(maxPrice) {
		return 0, apperr.Newf(apperr.KindValidation, "price must not exceed %s", maxPrice.StringFixed(priceScale))
	}
	if req.Stock == nil {
		return 0, apperr.Validation("stock is required")
	}
	if *req.Stock < 0 {
		return 0, apperr.Validation("stock must not be negative")
	}
	if *req.Stock > maxStock {
		return 0, apperr.Newf(apperr.KindValidation, "stock must not exceed %d", maxStock)
	}

	product := &models.Product{Name: name, Price: req.Price.Truncate(priceScale), Stock: *req.Stock}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		util.RecordError(span, err)
		return 0, fmt.Errorf("failed to create product: %w", err)
	}

	util.ProductsCreatedTotal.Inc()
	s.logger.Info("Product created", zap.Int64("product_id", product.ID), zap.String("name", product.Name))

	s.invalidate(ctx)
	if s.events != nil {
		event := &models.ProductCreatedEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeProductCreated),
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Stock:     product.Stock,
		}
		if err := s.events.PublishProductCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish ProductCreated event", zap.Error(err))
		}
	}
	return product.ID, nil
}

// GetProduct returns a single product
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	product, err := s.store.GetProductByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ProductNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

// ListProducts returns page (1-based) of at most limit products
func (s *ProductService) ListProducts(ctx context.Context, page, limit int) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.ListProducts")
	defer span.End()

	if page < 1 {
		return nil, apperr.Validation("page must be at least 1")
	}
	if limit < 1 || limit > MaxPageLimit {
		return nil, apperr.Newf(apperr.KindValidation, "limit must be between 1 and %d", MaxPageLimit)
	}

	if s.cache != nil {
		products, ok, err := s.cache.GetProductPage(ctx, page, limit)
		switch {
		case err != nil:
			util.ProductCacheRequestsTotal.WithLabelValues("error").Inc()
			s.logger.Warn("Product cache read failed", zap.Error(err))
		case ok:
			util.ProductCacheRequestsTotal.WithLabelValues("hit").Inc()
			return products, nil
		default:
			util.ProductCacheRequestsTotal.WithLabelValues("miss").Inc()
		}
	}

	products, err := s.store.ListProducts(ctx, limit, (page-1)*limit)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetProductPage(ctx, page, limit, products); err != nil {
			s.logger.Warn("Product cache write failed", zap.Error(err))
		}
	}
	return products, nil
}

// InvalidateCache drops cached catalog pages
func (s *ProductService) InvalidateCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateProducts(ctx)
}

func (s *ProductService) invalidate(ctx context.Context) {
	if err := s.InvalidateCache(ctx); err != nil {
		s.logger.Warn("Product cache invalidation failed", zap.Error(err))
	}
}
