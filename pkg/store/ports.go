// Package store implements the storefront core: the catalog, the per-session
// cart engine and the order engine, plus the session registry that ties a
// cart to the shared catalog and order engine.
package store

import (
	"context"
	"time"

	"github.com/example/freshmart/pkg/apperrors"
	"github.com/example/freshmart/pkg/models"
)

// Persistence is the durable storage for products and orders.
//
// Unknown ids must yield *apperrors.NotFoundError and a decrement that would
// take stock below zero must yield *apperrors.InsufficientStockError; other
// failures should be *apperrors.PersistenceError.
type Persistence interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, id string, upd models.ProductUpdate) (*models.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	GetProductStock(ctx context.Context, id string) (int, error)
	// DecrementStock must be atomic relative to concurrent callers.
	DecrementStock(ctx context.Context, id string, amount int) error

	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// UpdateOrderStatus moves an order from one status to another. It must
	// be a compare-and-set: if the stored status is no longer from it fails
	// with *apperrors.InvalidTransitionError carrying the stored status.
	UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, at time.Time) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)

	// Atomically runs fn against a transactional view. If fn returns an
	// error nothing it wrote is kept.
	Atomically(ctx context.Context, fn func(tx Persistence) error) error
}

// CartStorage is the durable local storage used for carts only.
type CartStorage interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// AuditEvent is one append-only record of an admin or checkout action.
type AuditEvent struct {
	Action   string
	EntityID string
	ActorID  string
	Data     map[string]interface{}
}

// AuditSink receives audit events. Failures never abort the operation.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent) error
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, AuditEvent) error { return nil }

// RequireAdmin checks that actor is signed in and holds the admin role.
func RequireAdmin(actor *models.Identity, action string) error {
	if actor == nil {
		return &apperrors.AuthenticationError{}
	}
	if !actor.IsAdmin() {
		return &apperrors.AuthorizationError{Action: action}
	}
	return nil
}

func actorID(actor *models.Identity) string {
	if actor == nil {
		return ""
	}
	return actor.ID
}
