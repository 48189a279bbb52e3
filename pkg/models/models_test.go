package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	testCases := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusDelivered, true},
		{StatusConfirmed, StatusDelivered, true},
		{StatusConfirmed, StatusConfirmed, true},
		{StatusConfirmed, StatusPending, false},
		{StatusDelivered, StatusConfirmed, false},
		{StatusDelivered, StatusPending, false},
		{StatusPending, OrderStatus("shipped"), false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.from.CanMoveTo(tc.to))
		})
	}
}

func TestParseOrderStatus(t *testing.T) {
	st, err := ParseOrderStatus("confirmed")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, st)

	_, err = ParseOrderStatus("cancelled")
	assert.Error(t, err)
}

func TestProductUpdateApply(t *testing.T) {
	p := &Product{Name: "Apples", Price: decimal.RequireFromString("2.99"), Quantity: 4, InStock: true}

	zero := 0
	price := decimal.RequireFromString("3.49")
	ProductUpdate{Price: &price, Quantity: &zero}.Apply(p)

	assert.Equal(t, "Apples", p.Name)
	assert.True(t, p.Price.Equal(price))
	assert.Equal(t, 0, p.Quantity)
	assert.False(t, p.InStock)

	assert.True(t, ProductUpdate{}.Empty())
	cols := ProductUpdate{Quantity: &zero}.Columns()
	assert.Equal(t, map[string]interface{}{"quantity": 0, "in_stock": false}, cols)
}

func TestOrderItemLineTotalAndClone(t *testing.T) {
	item := OrderItem{ProductID: "p1", Quantity: 3, Price: decimal.RequireFromString("1.10")}
	assert.Equal(t, "3.3", item.LineTotal().String())

	o := &Order{ID: "o1", Items: []OrderItem{item}}
	cp := o.Clone()
	cp.Items[0].Quantity = 9
	assert.Equal(t, 3, o.Items[0].Quantity)

	assert.True(t, OrderFilter{Status: StatusPending}.Matches(&Order{Status: StatusPending}))
	assert.False(t, OrderFilter{UserID: "u1"}.Matches(&Order{UserID: "u2"}))
}
