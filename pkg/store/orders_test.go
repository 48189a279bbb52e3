package store_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/freshmart/pkg/apperrors"
	"github.com/example/freshmart/pkg/models"
	"github.com/example/freshmart/pkg/repository"
	"github.com/example/freshmart/pkg/store"
)

func TestCheckoutPlacesOrder(t *testing.T) {
	ctx := context.Background()
	s := newShop(t,
		product("apples", "Apples", "2.99", 10, 0),
		product("milk", "Milk", "3.49", 5, 0),
	)
	sess := s.open(t, "user-1")
	require.NoError(t, sess.Cart().UpdateQuantity(ctx, "apples", 2))
	require.NoError(t, sess.Cart().Add(ctx, "milk"))

	order, err := sess.Checkout(ctx, customer, janeInfo)
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, "user-1", order.UserID)
	assert.Equal(t, "Jane Doe", order.CustomerName)
	assert.Equal(t, "9.47", order.Total.StringFixed(2))
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Apples", order.Items[0].ProductName)

	assert.Equal(t, 8, s.stock(t, "apples"))
	assert.Equal(t, 4, s.stock(t, "milk"))
	assert.Empty(t, sess.Cart().Lines())

	// prices are snapshotted at placement
	price := decimal.RequireFromString("5.00")
	_, err = s.catalog.Update(ctx, admin, "apples", models.ProductUpdate{Price: &price})
	require.NoError(t, err)

	stored, err := s.orders.Get(ctx, customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "9.47", stored.Total.StringFixed(2))
	assert.Equal(t, "2.99", stored.Items[0].Price.StringFixed(2))
}

func TestCheckoutAddsDeliveryFee(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository(product("apples", "Apples", "2.99", 10, 0))
	orders := store.NewOrders(repo, nil, zap.NewNop(), decimal.RequireFromString("4.99"))

	order, err := orders.Place(ctx, customer, janeInfo, []store.CartLine{{ProductID: "apples", Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, "2.99", order.Subtotal.StringFixed(2))
	assert.Equal(t, "4.99", order.DeliveryFee.StringFixed(2))
	assert.Equal(t, "7.98", order.Total.StringFixed(2))
}

func TestCheckoutValidation(t *testing.T) {
	ctx := context.Background()
	s := newShop(t, product("apples", "Apples", "2.99", 10, 0))
	sess := s.open(t, "user-1")

	_, err := sess.Checkout(ctx, customer, janeInfo)
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"cart"}, ve.Fields)

	require.NoError(t, sess.Cart().Add(ctx, "apples"))

	_, err = sess.Checkout(ctx, customer, store.CustomerInfo{Name: "  ", Email: "jane@example.com"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"name", "phone"}, ve.Fields)

	_, err = sess.Checkout(ctx, nil, janeInfo)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))

	assert.Len(t, sess.Cart().Lines(), 1)
	assert.Equal(t, 10, s.stock(t, "apples"))
}

func TestCheckoutRechecksStock(t *testing.T) {
	ctx := context.Background()
	s := newShop(t,
		product("apples", "Apples", "2.99", 10, 0),
		product("milk", "Milk", "3.49", 3, 0),
	)
	sess := s.open(t, "user-1")
	require.NoError(t, sess.Cart().UpdateQuantity(ctx, "apples", 2))
	require.NoError(t, sess.Cart().UpdateQuantity(ctx, "milk", 3))

	// another shopper buys the milk first
	_, err := s.orders.Place(ctx, stranger, janeInfo, []store.CartLine{{ProductID: "milk", Quantity: 2}})
	require.NoError(t, err)

	_, err = sess.Checkout(ctx, customer, janeInfo)
	var ise *apperrors.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	require.Len(t, ise.Items, 1)
	assert.Equal(t, apperrors.StockShortage{ProductID: "milk", Name: "Milk", Requested: 3, Available: 1}, ise.Items[0])

	assert.Equal(t, 10, s.stock(t, "apples"))
	assert.Equal(t, 1, s.stock(t, "milk"))
	assert.Len(t, sess.Cart().Lines(), 2)

	history, err := s.orders.History(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestOrderStatusTransitions(t *testing.T) {
	ctx := context.Background()
	s := newShop(t, product("apples", "Apples", "2.99", 10, 0))
	order, err := s.orders.Place(ctx, customer, janeInfo, []store.CartLine{{ProductID: "apples", Quantity: 1}})
	require.NoError(t, err)

	_, err = s.orders.UpdateStatus(ctx, customer, order.ID, "confirmed")
	assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))

	_, err = s.orders.UpdateStatus(ctx, admin, order.ID, "shipped")
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	updated, err := s.orders.UpdateStatus(ctx, admin, order.ID, "confirmed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, updated.Status)

	again, err := s.orders.UpdateStatus(ctx, admin, order.ID, "confirmed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, again.Status)
	assert.False(t, again.UpdatedAt.Before(updated.UpdatedAt))

	_, err = s.orders.UpdateStatus(ctx, admin, order.ID, "pending")
	var ite *apperrors.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, "confirmed", ite.From)

	delivered, err := s.orders.UpdateStatus(ctx, admin, order.ID, "delivered")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, delivered.Status)
	assert.Equal(t, order.Total, delivered.Total)

	_, err = s.orders.UpdateStatus(ctx, admin, "no-such-order", "confirmed")
	assert.True(t, apperrors.IsNotFound(err))

	// the failed update left the existing order alone
	stored, err := s.repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, stored.Status)
	assert.True(t, stored.UpdatedAt.Equal(delivered.UpdatedAt))
	all, err := s.orders.List(ctx, admin, models.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStaleStatusUpdateCannotMoveOrderBackwards(t *testing.T) {
	ctx := context.Background()
	s := newShop(t, product("apples", "Apples", "2.99", 10, 0))
	order, err := s.orders.Place(ctx, customer, janeInfo, []store.CartLine{{ProductID: "apples", Quantity: 1}})
	require.NoError(t, err)

	db := newHeldStatusWrite(s.repo, models.StatusConfirmed)
	orders := store.NewOrders(db, nil, zap.NewNop(), decimal.Zero)

	stale := make(chan error, 1)
	go func() {
		_, err := orders.UpdateStatus(ctx, admin, order.ID, "confirmed")
		stale <- err
	}()
	<-db.reached

	delivered, err := orders.UpdateStatus(ctx, admin, order.ID, "delivered")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, delivered.Status)

	close(db.release)
	err = <-stale
	var ite *apperrors.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, "delivered", ite.From)
	assert.Equal(t, "confirmed", ite.To)

	stored, err := s.repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, stored.Status)
}

func TestOrderVisibility(t *testing.T) {
	ctx := context.Background()
	s := newShop(t, product("apples", "Apples", "2.99", 10, 0))
	order, err := s.orders.Place(ctx, customer, janeInfo, []store.CartLine{{ProductID: "apples", Quantity: 1}})
	require.NoError(t, err)

	_, err = s.orders.Get(ctx, stranger, order.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = s.orders.Get(ctx, admin, order.ID)
	require.NoError(t, err)

	_, err = s.orders.Get(ctx, admin, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = s.orders.Get(ctx, nil, order.ID)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))

	mine, err := s.orders.History(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := s.orders.History(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestOrderListAndStats(t *testing.T) {
	ctx := context.Background()
	s := newShop(t,
		product("apples", "Apples", "2.99", 10, 0),
		product("milk", "Milk", "3.49", 5, 0),
	)
	line := []store.CartLine{{ProductID: "apples", Quantity: 1}}
	first, err := s.orders.Place(ctx, customer, janeInfo, line)
	require.NoError(t, err)
	_, err = s.orders.Place(ctx, stranger, janeInfo, line)
	require.NoError(t, err)
	_, err = s.orders.UpdateStatus(ctx, admin, first.ID, "confirmed")
	require.NoError(t, err)

	_, err = s.orders.List(ctx, customer, models.OrderFilter{})
	assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))

	all, err := s.orders.List(ctx, admin, models.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[0].CreatedAt.Before(all[1].CreatedAt))

	pending, err := s.orders.List(ctx, admin, models.OrderFilter{Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "user-2", pending[0].UserID)

	_, err = s.orders.List(ctx, admin, models.OrderFilter{Status: "lost"})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	stats, err := s.orders.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, store.Stats{Products: 2, Orders: 2, PendingOrders: 1}, *stats)
}

func TestOrderAudit(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository(product("apples", "Apples", "2.99", 10, 0))
	audit := &recordingAudit{}
	orders := store.NewOrders(repo, audit, zap.NewNop(), decimal.Zero)

	order, err := orders.Place(ctx, customer, janeInfo, []store.CartLine{{ProductID: "apples", Quantity: 1}})
	require.NoError(t, err)
	_, err = orders.UpdateStatus(ctx, admin, order.ID, "confirmed")
	require.NoError(t, err)

	require.Len(t, audit.events, 2)
	assert.Equal(t, "order.placed", audit.events[0].Action)
	assert.Equal(t, "user-1", audit.events[0].ActorID)
	assert.Equal(t, "order.status", audit.events[1].Action)
	assert.Equal(t, order.ID, audit.events[1].EntityID)
}
