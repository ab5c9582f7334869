package memstore

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInTxDiscardsOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := &models.Product{Name: "cup", Price: decimal.NewFromInt(3), Stock: 4}
	require.NoError(t, s.CreateProduct(ctx, p))

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(tx store.Tx) error {
		order := &models.Order{UserID: 1, Status: models.OrderStatusPending}
		require.NoError(t, tx.CreateOrder(ctx, order))
		require.NoError(t, tx.CreateOrderItem(ctx, &models.OrderItem{OrderID: order.ID, ProductID: p.ID, Quantity: 1}))
		require.NoError(t, tx.DecrementStock(ctx, p.ID, 1))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetProductByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)
	assert.Equal(t, 0, s.CountOrders())
	assert.Equal(t, 0, s.CountOrderItems())
}

func TestRunInTxAbortsOnCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.CreateOrder(ctx, &models.Order{UserID: 1}))
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.CountOrders())
}

func TestDecrementStockConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := &models.Product{Name: "pen", Price: decimal.NewFromInt(1), Stock: 1}
	require.NoError(t, s.CreateProduct(ctx, p))

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.DecrementStock(ctx, p.ID, 2)
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestListProductsPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateProduct(ctx, &models.Product{Name: "p", Price: decimal.NewFromInt(1)}))
	}

	page, err := s.ListProducts(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].ID)

	empty, err := s.ListProducts(ctx, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLatestOrderForUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetLatestOrderIDForUser(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.RunInTx(ctx, func(tx store.Tx) error {
			return tx.CreateOrder(ctx, &models.Order{UserID: 1})
		}))
	}

	id, err := s.GetLatestOrderIDForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestUsersEmailUnique(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := &models.User{Name: "a", Email: "a@x.io"}
	require.NoError(t, s.CreateUser(ctx, a))
	assert.ErrorIs(t, s.CreateUser(ctx, &models.User{Name: "b", Email: "A@X.io"}), store.ErrDuplicate)

	b := &models.User{Name: "b", Email: "b@x.io"}
	require.NoError(t, s.CreateUser(ctx, b))
	b.Email = "a@x.io"
	assert.ErrorIs(t, s.UpdateUser(ctx, b), store.ErrDuplicate)

	require.NoError(t, s.DeleteUser(ctx, a.ID))
	_, err := s.GetUserByEmail(ctx, "a@x.io")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
