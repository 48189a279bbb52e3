package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/freshmart/pkg/apperrors"
	"github.com/example/freshmart/pkg/models"
	"github.com/example/freshmart/pkg/store"
)

var errDuplicateKey = errors.New("duplicate key")

type memoryState struct {
	products map[string]models.Product
	orders   map[string]*models.Order
}

func (s *memoryState) clone() *memoryState {
	cp := &memoryState{
		products: make(map[string]models.Product, len(s.products)),
		orders:   make(map[string]*models.Order, len(s.orders)),
	}
	for id, p := range s.products {
		cp.products[id] = p
	}
	for id, o := range s.orders {
		cp.orders[id] = o.Clone()
	}
	return cp
}

// MemoryRepository keeps products and orders in process memory. It is used
// for local development and tests.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memoryState
}

func NewMemoryRepository(seed ...models.Product) *MemoryRepository {
	r := &MemoryRepository{state: &memoryState{
		products: make(map[string]models.Product),
		orders:   make(map[string]*models.Order),
	}}
	for _, p := range seed {
		r.state.products[p.ID] = p
	}
	return r
}

func (r *MemoryRepository) view() *memoryTx {
	return &memoryTx{state: r.state}
}

func (r *MemoryRepository) ListProducts(ctx context.Context) ([]models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().ListProducts(ctx)
}

func (r *MemoryRepository) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().GetProduct(ctx, id)
}

func (r *MemoryRepository) CreateProduct(ctx context.Context, p *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().CreateProduct(ctx, p)
}

func (r *MemoryRepository) UpdateProduct(ctx context.Context, id string, upd models.ProductUpdate) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().UpdateProduct(ctx, id, upd)
}

func (r *MemoryRepository) DeleteProduct(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().DeleteProduct(ctx, id)
}

func (r *MemoryRepository) GetProductStock(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().GetProductStock(ctx, id)
}

func (r *MemoryRepository) DecrementStock(ctx context.Context, id string, amount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().DecrementStock(ctx, id, amount)
}

func (r *MemoryRepository) CreateOrder(ctx context.Context, o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().CreateOrder(ctx, o)
}

func (r *MemoryRepository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().GetOrder(ctx, id)
}

func (r *MemoryRepository) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, at time.Time) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().UpdateOrderStatus(ctx, id, from, to, at)
}

func (r *MemoryRepository) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().ListOrders(ctx, filter)
}

// Atomically holds the repository lock for the whole of fn and restores the
// previous state if fn fails.
func (r *MemoryRepository) Atomically(ctx context.Context, fn func(tx store.Persistence) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	backup := r.state.clone()
	if err := fn(r.view()); err != nil {
		r.state = backup
		return err
	}
	return nil
}

// memoryTx operates on the state without locking; the caller holds the lock.
type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) ListProducts(_ context.Context) ([]models.Product, error) {
	out := make([]models.Product, 0, len(t.state.products))
	for _, p := range t.state.products {
		out = append(out, p)
	}
	return out, nil
}

func (t *memoryTx) GetProduct(_ context.Context, id string) (*models.Product, error) {
	p, ok := t.state.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	return &p, nil
}

func (t *memoryTx) CreateProduct(_ context.Context, p *models.Product) error {
	if _, ok := t.state.products[p.ID]; ok {
		return apperrors.Persistence("create product", errDuplicateKey)
	}
	t.state.products[p.ID] = *p
	return nil
}

func (t *memoryTx) UpdateProduct(_ context.Context, id string, upd models.ProductUpdate) (*models.Product, error) {
	p, ok := t.state.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	upd.Apply(&p)
	p.UpdatedAt = time.Now()
	t.state.products[id] = p
	return &p, nil
}

func (t *memoryTx) DeleteProduct(_ context.Context, id string) error {
	if _, ok := t.state.products[id]; !ok {
		return apperrors.NotFound("product", id)
	}
	delete(t.state.products, id)
	return nil
}

func (t *memoryTx) GetProductStock(_ context.Context, id string) (int, error) {
	p, ok := t.state.products[id]
	if !ok {
		return 0, apperrors.NotFound("product", id)
	}
	return p.Quantity, nil
}

func (t *memoryTx) DecrementStock(_ context.Context, id string, amount int) error {
	p, ok := t.state.products[id]
	if !ok {
		return apperrors.NotFound("product", id)
	}
	if amount <= 0 {
		return apperrors.Validation("amount")
	}
	if p.Quantity < amount {
		return apperrors.InsufficientStock(p.ID, p.Name, amount, p.Quantity)
	}
	p.Quantity -= amount
	p.SyncStock()
	p.UpdatedAt = time.Now()
	t.state.products[id] = p
	return nil
}

func (t *memoryTx) CreateOrder(_ context.Context, o *models.Order) error {
	if _, ok := t.state.orders[o.ID]; ok {
		return apperrors.Persistence("create order", errDuplicateKey)
	}
	t.state.orders[o.ID] = o.Clone()
	return nil
}

func (t *memoryTx) GetOrder(_ context.Context, id string) (*models.Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	return o.Clone(), nil
}

func (t *memoryTx) UpdateOrderStatus(_ context.Context, id string, from, to models.OrderStatus, at time.Time) (*models.Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	if o.Status != from {
		return nil, &apperrors.InvalidTransitionError{From: string(o.Status), To: string(to)}
	}
	o.Status = to
	o.UpdatedAt = at
	return o.Clone(), nil
}

func (t *memoryTx) ListOrders(_ context.Context, filter models.OrderFilter) ([]models.Order, error) {
	out := make([]models.Order, 0, len(t.state.orders))
	for _, o := range t.state.orders {
		if filter.Matches(o) {
			out = append(out, *o.Clone())
		}
	}
	return out, nil
}

// Atomically on a transaction view joins the enclosing transaction.
func (t *memoryTx) Atomically(_ context.Context, fn func(tx store.Persistence) error) error {
	return fn(t)
}

// MemoryCartStorage keeps serialised carts in memory.
type MemoryCartStorage struct {
	mu    sync.Mutex
	carts map[string][]byte
}

func NewMemoryCartStorage() *MemoryCartStorage {
	return &MemoryCartStorage{carts: make(map[string][]byte)}
}

func (m *MemoryCartStorage) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.carts[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *MemoryCartStorage) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryCartStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, key)
	return nil
}

var (
	_ store.Persistence = (*MemoryRepository)(nil)
	_ store.Persistence = (*memoryTx)(nil)
	_ store.CartStorage = (*MemoryCartStorage)(nil)
)
