package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/go-redis/redis/v8"
)

const orderLockTTL = 30 * time.Second

type Client struct {
	rdb            *redis.Client
	productTTL     time.Duration
	idempotencyTTL time.Duration
}

// NewClient creates a new Redis client and checks connectivity
func NewClient(addr, password string, db int, productTTL, idempotencyTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:            rdb,
		productTTL:     productTTL,
		idempotencyTTL: idempotencyTTL,
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection is still usable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) productsVersion(ctx context.Context) (int64, error) {
	v, err := c.rdb.Get(ctx, keyProductsVersion).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// GetProductPage returns a cached product page, if present for the current
// catalog version.
func (c *Client) GetProductPage(ctx context.Context, page, limit int) ([]models.Product, bool, error) {
	version, err := c.productsVersion(ctx)
	if err != nil {
		return nil, false, err
	}

	raw, err := c.rdb.Get(ctx, fmt.Sprintf(keyProductPage, version, page, limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var products []models.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, false, fmt.Errorf("corrupt product page cache: %w", err)
	}
	return products, true, nil
}

// SetProductPage caches a product page under the current catalog version
func (c *Client) SetProductPage(ctx context.Context, page, limit int, products []models.Product) error {
	version, err := c.productsVersion(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(products)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(keyProductPage, version, page, limit), raw, c.productTTL).Err()
}

// InvalidateProducts bumps the catalog version so every cached page is
// ignored; old pages expire on their own TTL.
func (c *Client) InvalidateProducts(ctx context.Context) error {
	return c.rdb.Incr(ctx, keyProductsVersion).Err()
}

// GetOrderReceipt returns the stored result of an earlier keyed order
func (c *Client) GetOrderReceipt(ctx context.Context, userID int64, key string) (*models.OrderReceipt, bool, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(keyOrderReceipt, userID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var receipt models.OrderReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, false, fmt.Errorf("corrupt order receipt: %w", err)
	}
	return &receipt, true, nil
}

// SetOrderReceipt stores the result of a keyed order with the idempotency TTL
func (c *Client) SetOrderReceipt(ctx context.Context, userID int64, key string, receipt *models.OrderReceipt) error {
	raw, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(keyOrderReceipt, userID, key), raw, c.idempotencyTTL).Err()
}

// AcquireOrderLock marks a keyed order as in flight. It returns false if
// another request holds the lock.
func (c *Client) AcquireOrderLock(ctx context.Context, userID int64, key string) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf(keyOrderLock, userID, key), "1", orderLockTTL).Result()
}

// ReleaseOrderLock releases a lock taken by AcquireOrderLock
func (c *Client) ReleaseOrderLock(ctx context.Context, userID int64, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(keyOrderLock, userID, key)).Err()
}
