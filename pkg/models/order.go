package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusDelivered OrderStatus = "delivered"
)

var statusRank = map[OrderStatus]int{
	StatusPending:   0,
	StatusConfirmed: 1,
	StatusDelivered: 2,
}

// ParseOrderStatus validates a raw status string.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if _, ok := statusRank[st]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanMoveTo reports whether an order may go from s to next. Statuses only
// move forward; re-applying the current status is allowed.
func (s OrderStatus) CanMoveTo(next OrderStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// Order is a placed order. Everything except Status and UpdatedAt is
// immutable once created.
type Order struct {
	ID            string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID        string          `gorm:"type:varchar(64);not null;index" json:"user_id"`
	CustomerName  string          `gorm:"type:varchar(200);not null" json:"customer_name"`
	CustomerEmail string          `gorm:"type:varchar(200);not null" json:"customer_email"`
	CustomerPhone string          `gorm:"type:varchar(40);not null" json:"customer_phone"`
	Items         []OrderItem     `gorm:"foreignKey:OrderID" json:"items"`
	Subtotal      decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"subtotal"`
	DeliveryFee   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"delivery_fee"`
	Total         decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total"`
	Status        OrderStatus     `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderItem is the snapshot of one cart line at placement time.
type OrderItem struct {
	ID          uint            `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID     string          `gorm:"type:varchar(36);not null;index" json:"-"`
	ProductID   string          `gorm:"type:varchar(36);not null;index" json:"product_id"`
	ProductName string          `gorm:"type:varchar(200)" json:"product_name"`
	Quantity    int             `gorm:"not null" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

// LineTotal is quantity times the snapshot price.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderFilter narrows ListOrders. Zero values mean "any".
type OrderFilter struct {
	UserID string
	Status OrderStatus
}

// Matches reports whether o passes the filter.
func (f OrderFilter) Matches(o *Order) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	return true
}

// Clone returns a deep copy so callers cannot alter stored snapshots.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	return &cp
}
