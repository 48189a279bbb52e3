package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/freshmart/pkg/apperrors"
	"github.com/example/freshmart/pkg/metrics"
	"github.com/example/freshmart/pkg/models"
)

// CustomerInfo is the contact data required to place an order.
type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Stats summarises the shop for the admin dashboard.
type Stats struct {
	Products      int `json:"total_products"`
	Orders        int `json:"total_orders"`
	PendingOrders int `json:"pending_orders"`
}

const statusUpdateAttempts = 3

// Orders turns cart snapshots into persisted orders and moves them through
// their lifecycle.
type Orders struct {
	db          Persistence
	audit       AuditSink
	logger      *zap.Logger
	deliveryFee decimal.Decimal
	now         func() time.Time
}

func NewOrders(db Persistence, audit AuditSink, logger *zap.Logger, deliveryFee decimal.Decimal) *Orders {
	if audit == nil {
		audit = nopAudit{}
	}
	return &Orders{
		db:          db,
		audit:       audit,
		logger:      logger.Named("orders"),
		deliveryFee: deliveryFee,
		now:         time.Now,
	}
}

// Place validates the request, re-checks stock and then creates the order
// and decrements stock in one atomic step. On error nothing is written.
func (o *Orders) Place(ctx context.Context, actor *models.Identity, info CustomerInfo, lines []CartLine) (*models.Order, error) {
	order, err := o.place(ctx, actor, info, lines)
	if err != nil {
		metrics.OrderFailures.WithLabelValues(string(apperrors.CodeOf(err))).Inc()
		o.logger.Info("Order rejected", zap.String("user_id", actorID(actor)), zap.Error(err))
		return nil, err
	}
	metrics.OrdersPlaced.Inc()
	return order, nil
}

func (o *Orders) place(ctx context.Context, actor *models.Identity, info CustomerInfo, lines []CartLine) (*models.Order, error) {
	info.Name = strings.TrimSpace(info.Name)
	info.Email = strings.TrimSpace(info.Email)
	info.Phone = strings.TrimSpace(info.Phone)

	var missing []string
	if len(lines) == 0 {
		missing = append(missing, "cart")
	}
	if info.Name == "" {
		missing = append(missing, "name")
	}
	if info.Email == "" {
		missing = append(missing, "email")
	}
	if info.Phone == "" {
		missing = append(missing, "phone")
	}
	if len(missing) > 0 {
		return nil, apperrors.Validation(missing...)
	}

	if actor == nil || actor.ID == "" {
		return nil, &apperrors.AuthenticationError{Reason: "sign in to place an order"}
	}

	// Stock may have moved since the lines were added.
	var short []apperrors.StockShortage
	for _, l := range lines {
		available, err := o.db.GetProductStock(ctx, l.ProductID)
		if err != nil {
			return nil, apperrors.Persistence("check stock", err)
		}
		if l.Quantity > available {
			short = append(short, apperrors.StockShortage{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: available,
			})
		}
	}
	if len(short) > 0 {
		o.nameShortages(ctx, short)
		return nil, &apperrors.InsufficientStockError{Items: short}
	}

	now := o.now()
	order := &models.Order{
		ID:            uuid.NewString(),
		UserID:        actor.ID,
		CustomerName:  info.Name,
		CustomerEmail: info.Email,
		CustomerPhone: info.Phone,
		DeliveryFee:   o.deliveryFee,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := o.db.Atomically(ctx, func(tx Persistence) error {
		subtotal := decimal.Zero
		items := make([]models.OrderItem, 0, len(lines))
		for _, l := range lines {
			p, err := tx.GetProduct(ctx, l.ProductID)
			if err != nil {
				return err
			}
			if err := tx.DecrementStock(ctx, l.ProductID, l.Quantity); err != nil {
				return err
			}
			item := models.OrderItem{
				OrderID:     order.ID,
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    l.Quantity,
				Price:       p.Price,
			}
			subtotal = subtotal.Add(item.LineTotal())
			items = append(items, item)
		}
		order.Items = items
		order.Subtotal = subtotal
		order.Total = subtotal.Add(order.DeliveryFee)
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, apperrors.Persistence("place order", err)
	}

	o.logger.Info("Order placed",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.Int("item_count", len(order.Items)),
		zap.String("total", order.Total.String()))
	o.record(ctx, AuditEvent{
		Action:   "order.placed",
		EntityID: order.ID,
		ActorID:  actor.ID,
		Data:     map[string]interface{}{"total": order.Total.String(), "items": len(order.Items)},
	})
	return order, nil
}

// nameShortages fills product names in for friendlier messages.
func (o *Orders) nameShortages(ctx context.Context, short []apperrors.StockShortage) {
	for i := range short {
		if p, err := o.db.GetProduct(ctx, short[i].ProductID); err == nil {
			short[i].Name = p.Name
		}
	}
}

// UpdateStatus moves an order to a new status. Statuses only move forward;
// repeating the current status just refreshes UpdatedAt.
func (o *Orders) UpdateStatus(ctx context.Context, actor *models.Identity, orderID, status string) (*models.Order, error) {
	if err := RequireAdmin(actor, "update orders"); err != nil {
		return nil, err
	}
	next, err := models.ParseOrderStatus(status)
	if err != nil {
		return nil, &apperrors.ValidationError{Fields: []string{"status"}, Message: err.Error()}
	}

	var current, updated *models.Order
	for attempt := 1; ; attempt++ {
		current, err = o.db.GetOrder(ctx, orderID)
		if err != nil {
			return nil, apperrors.Persistence("get order", err)
		}
		if !current.Status.CanMoveTo(next) {
			return nil, &apperrors.InvalidTransitionError{From: string(current.Status), To: string(next)}
		}

		updated, err = o.db.UpdateOrderStatus(ctx, orderID, current.Status, next, o.now())
		var moved *apperrors.InvalidTransitionError
		if errors.As(err, &moved) && attempt < statusUpdateAttempts {
			// another update landed first; check again against it
			continue
		}
		if err != nil {
			return nil, apperrors.Persistence("update order status", err)
		}
		break
	}

	metrics.OrderTransitions.WithLabelValues(string(next)).Inc()
	o.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next)))
	o.record(ctx, AuditEvent{
		Action:   "order.status",
		EntityID: orderID,
		ActorID:  actor.ID,
		Data:     map[string]interface{}{"from": string(current.Status), "to": string(next)},
	})
	return updated, nil
}

// Get returns an order to an admin or to the customer who placed it.
func (o *Orders) Get(ctx context.Context, actor *models.Identity, orderID string) (*models.Order, error) {
	if actor == nil {
		return nil, &apperrors.AuthenticationError{}
	}
	order, err := o.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, apperrors.Persistence("get order", err)
	}
	if !actor.IsAdmin() && order.UserID != actor.ID {
		return nil, apperrors.NotFound("order", orderID)
	}
	return order, nil
}

// List returns orders newest first. Admin only.
func (o *Orders) List(ctx context.Context, actor *models.Identity, filter models.OrderFilter) ([]models.Order, error) {
	if err := RequireAdmin(actor, "list orders"); err != nil {
		return nil, err
	}
	return o.list(ctx, filter)
}

// History returns the signed-in customer's own orders, newest first.
func (o *Orders) History(ctx context.Context, actor *models.Identity) ([]models.Order, error) {
	if actor == nil || actor.ID == "" {
		return nil, &apperrors.AuthenticationError{}
	}
	return o.list(ctx, models.OrderFilter{UserID: actor.ID})
}

func (o *Orders) Stats(ctx context.Context, actor *models.Identity) (*Stats, error) {
	if err := RequireAdmin(actor, "view statistics"); err != nil {
		return nil, err
	}
	products, err := o.db.ListProducts(ctx)
	if err != nil {
		return nil, apperrors.Persistence("list products", err)
	}
	orders, err := o.db.ListOrders(ctx, models.OrderFilter{})
	if err != nil {
		return nil, apperrors.Persistence("list orders", err)
	}

	stats := &Stats{Products: len(products), Orders: len(orders)}
	for _, ord := range orders {
		if ord.Status == models.StatusPending {
			stats.PendingOrders++
		}
	}
	return stats, nil
}

func (o *Orders) list(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &apperrors.ValidationError{Fields: []string{"status"}}
	}
	orders, err := o.db.ListOrders(ctx, filter)
	if err != nil {
		return nil, apperrors.Persistence("list orders", err)
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (o *Orders) record(ctx context.Context, ev AuditEvent) {
	if err := o.audit.Record(ctx, ev); err != nil {
		o.logger.Warn("Failed to record audit event", zap.String("action", ev.Action), zap.Error(err))
	}
}
