package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/freshmart/pkg/models"
	"github.com/example/freshmart/pkg/repository"
	"github.com/example/freshmart/pkg/store"
)

var (
	admin    = &models.Identity{ID: "admin-1", Email: "admin@freshmart.test", Role: models.RoleAdmin}
	customer = &models.Identity{ID: "user-1", Email: "jane@example.com"}
	stranger = &models.Identity{ID: "user-2", Email: "joe@example.com"}

	janeInfo = store.CustomerInfo{Name: "Jane Doe", Email: "jane@example.com", Phone: "555-0100"}
)

type shop struct {
	repo     *repository.MemoryRepository
	carts    store.CartStorage
	catalog  *store.Catalog
	orders   *store.Orders
	sessions *store.Sessions
}

func product(id, name, price string, qty int, age time.Duration) models.Product {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(-age)
	p := models.Product{
		ID:        id,
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Category:  "Groceries",
		Unit:      "each",
		Quantity:  qty,
		CreatedAt: created,
		UpdatedAt: created,
	}
	p.SyncStock()
	return p
}

func newShop(t *testing.T, seed ...models.Product) *shop {
	t.Helper()
	return newShopWithStorage(t, repository.NewMemoryCartStorage(), zap.NewNop(), seed...)
}

func newShopWithStorage(t *testing.T, carts store.CartStorage, logger *zap.Logger, seed ...models.Product) *shop {
	t.Helper()
	repo := repository.NewMemoryRepository(seed...)
	catalog := store.NewCatalog(repo, nil, logger)
	orders := store.NewOrders(repo, nil, logger, decimal.Zero)
	return &shop{
		repo:     repo,
		carts:    carts,
		catalog:  catalog,
		orders:   orders,
		sessions: store.NewSessions(catalog, orders, carts, logger),
	}
}

func (s *shop) open(t *testing.T, key string) *store.Session {
	t.Helper()
	sess, err := s.sessions.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("open session %s: %v", key, err)
	}
	return sess
}

func (s *shop) stock(t *testing.T, id string) int {
	t.Helper()
	n, err := s.repo.GetProductStock(context.Background(), id)
	if err != nil {
		t.Fatalf("stock %s: %v", id, err)
	}
	return n
}

// failingStorage refuses every write.
type failingStorage struct{}

var errStorageDown = errors.New("storage unavailable")

func (failingStorage) Load(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (failingStorage) Save(context.Context, string, []byte) error         { return errStorageDown }
func (failingStorage) Delete(context.Context, string) error               { return errStorageDown }

type recordingAudit struct {
	events []store.AuditEvent
}

func (r *recordingAudit) Record(_ context.Context, ev store.AuditEvent) error {
	r.events = append(r.events, ev)
	return nil
}

// pausedLookup holds the first lookup of one product after it has been read
// until resume is closed.
type pausedLookup struct {
	store.Persistence
	id      string
	fetched chan struct{}
	resume  chan struct{}
	once    sync.Once
}

func newPausedLookup(db store.Persistence, id string) *pausedLookup {
	return &pausedLookup{Persistence: db, id: id, fetched: make(chan struct{}), resume: make(chan struct{})}
}

func (p *pausedLookup) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	prod, err := p.Persistence.GetProduct(ctx, id)
	if id == p.id {
		p.once.Do(func() {
			close(p.fetched)
			<-p.resume
		})
	}
	return prod, err
}

// heldStatusWrite holds the first write of one target status until release
// is closed.
type heldStatusWrite struct {
	store.Persistence
	target  models.OrderStatus
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func newHeldStatusWrite(db store.Persistence, target models.OrderStatus) *heldStatusWrite {
	return &heldStatusWrite{Persistence: db, target: target, reached: make(chan struct{}), release: make(chan struct{})}
}

func (h *heldStatusWrite) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, at time.Time) (*models.Order, error) {
	if to == h.target {
		h.once.Do(func() {
			close(h.reached)
			<-h.release
		})
	}
	return h.Persistence.UpdateOrderStatus(ctx, id, from, to, at)
}
