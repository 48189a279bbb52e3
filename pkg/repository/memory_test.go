package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/freshmart/pkg/apperrors"
	"github.com/example/freshmart/pkg/models"
	"github.com/example/freshmart/pkg/store"
)

func newTestProduct(id, name string, price string, qty int) models.Product {
	p := models.Product{
		ID:       id,
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Category: "Fruits",
		Unit:     "kg",
		Quantity: qty,
	}
	p.SyncStock()
	return p
}

func TestMemoryDecrementStock(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(newTestProduct("p1", "Apples", "2.99", 3))

	require.NoError(t, repo.DecrementStock(ctx, "p1", 2))
	stock, err := repo.GetProductStock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, stock)

	err = repo.DecrementStock(ctx, "p1", 2)
	var ise *apperrors.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, 1, ise.Items[0].Available)

	require.NoError(t, repo.DecrementStock(ctx, "p1", 1))
	p, err := repo.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Quantity)
	assert.False(t, p.InStock)

	assert.True(t, apperrors.IsNotFound(repo.DecrementStock(ctx, "nope", 1)))
}

func TestMemoryAtomicallyRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(
		newTestProduct("p1", "Apples", "2.99", 5),
		newTestProduct("p2", "Milk", "1.49", 1),
	)

	err := repo.Atomically(ctx, func(tx store.Persistence) error {
		if err := tx.DecrementStock(ctx, "p1", 2); err != nil {
			return err
		}
		if err := tx.CreateOrder(ctx, &models.Order{ID: "o1", Status: models.StatusPending}); err != nil {
			return err
		}
		return tx.DecrementStock(ctx, "p2", 3)
	})
	require.True(t, apperrors.IsInsufficientStock(err))

	stock, err := repo.GetProductStock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, stock)
	_, err = repo.GetOrder(ctx, "o1")
	assert.True(t, apperrors.IsNotFound(err))

	boom := errors.New("boom")
	err = repo.Atomically(ctx, func(tx store.Persistence) error {
		return tx.Atomically(ctx, func(inner store.Persistence) error {
			require.NoError(t, inner.DecrementStock(ctx, "p1", 1))
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)
	stock, _ = repo.GetProductStock(ctx, "p1")
	assert.Equal(t, 5, stock)
}

func TestMemoryOrders(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	order := &models.Order{
		ID:     "o1",
		UserID: "u1",
		Items:  []models.OrderItem{{ProductID: "p1", Quantity: 1, Price: decimal.RequireFromString("2.99")}},
		Status: models.StatusPending,
	}
	require.NoError(t, repo.CreateOrder(ctx, order))
	require.NoError(t, repo.CreateOrder(ctx, &models.Order{ID: "o2", UserID: "u2", Status: models.StatusPending}))

	// stored orders do not alias the caller's value
	order.Items[0].Quantity = 42
	got, err := repo.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Items[0].Quantity)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	updated, err := repo.UpdateOrderStatus(ctx, "o1", models.StatusPending, models.StatusConfirmed, at)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, updated.Status)
	assert.Equal(t, at, updated.UpdatedAt)

	// the stored status moved on, so a writer expecting pending loses
	_, err = repo.UpdateOrderStatus(ctx, "o1", models.StatusPending, models.StatusDelivered, at.Add(time.Hour))
	var ite *apperrors.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, "confirmed", ite.From)
	got, err = repo.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, at, got.UpdatedAt)

	_, err = repo.UpdateOrderStatus(ctx, "missing", models.StatusPending, models.StatusConfirmed, at)
	assert.True(t, apperrors.IsNotFound(err))

	mine, err := repo.ListOrders(ctx, models.OrderFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "o1", mine[0].ID)

	pending, err := repo.ListOrders(ctx, models.OrderFilter{Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "o2", pending[0].ID)
}

func TestMemoryProducts(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	p := newTestProduct("p1", "Apples", "2.99", 0)
	require.NoError(t, repo.CreateProduct(ctx, &p))
	assert.Error(t, repo.CreateProduct(ctx, &p))

	qty := 7
	updated, err := repo.UpdateProduct(ctx, "p1", models.ProductUpdate{Quantity: &qty})
	require.NoError(t, err)
	assert.True(t, updated.InStock)

	require.NoError(t, repo.DeleteProduct(ctx, "p1"))
	assert.True(t, apperrors.IsNotFound(repo.DeleteProduct(ctx, "p1")))

	list, err := repo.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryCartStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCartStorage()

	_, ok, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "s1", []byte(`{"lines":[]}`)))
	data, ok, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"lines":[]}`, string(data))

	require.NoError(t, s.Delete(ctx, "s1"))
	_, ok, _ = s.Load(ctx, "s1")
	assert.False(t, ok)
}
