package service

import (
	"context"

	"storefront/internal/models"
	"storefront/internal/store"
)

// OrderStore is what OrderService needs from persistence.
type OrderStore interface {
	RunInTx(ctx context.Context, fn func(store.Tx) error) error
	GetLatestOrderIDForUser(ctx context.Context, userID int64) (int64, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

// ProductStore is what ProductService needs from persistence.
type ProductStore interface {
	CreateProduct(ctx context.Context, product *models.Product) error
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, limit, offset int) ([]models.Product, error)
}

// UserStore is what UserService needs from persistence.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id int64) error
}

// ProductCache caches catalog pages. Implemented by redisclient.Client.
type ProductCache interface {
	GetProductPage(ctx context.Context, page, limit int) ([]models.Product, bool, error)
	SetProductPage(ctx context.Context, page, limit int, products []models.Product) error
	InvalidateProducts(ctx context.Context) error
}

// ReceiptCache stores idempotent order results. Implemented by redisclient.Client.
type ReceiptCache interface {
	GetOrderReceipt(ctx context.Context, userID int64, key string) (*models.OrderReceipt, bool, error)
	SetOrderReceipt(ctx context.Context, userID int64, key string, receipt *models.OrderReceipt) error
	AcquireOrderLock(ctx context.Context, userID int64, key string) (bool, error)
	ReleaseOrderLock(ctx context.Context, userID int64, key string) error
}

// OrderEvents publishes order events. Implemented by broker.EventPublisher.
type OrderEvents interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
}

// ProductEvents publishes catalog events. Implemented by broker.EventPublisher.
type ProductEvents interface {
	PublishProductCreated(ctx context.Context, event *models.ProductCreatedEvent) error
}

// TokenIssuer issues bearer tokens. Implemented by auth.TokenManager.
type TokenIssuer interface {
	Issue(userID int64) (string, error)
}
