package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/example/freshmart/pkg/metrics"
	"github.com/example/freshmart/pkg/models"
)

// Session is the state of one shopper: a cart bound to the shared catalog
// and order engine. It is created by Sessions.Open and lives until Close.
type Session struct {
	key    string
	cart   *Cart
	orders *Orders
	logger *zap.Logger
}

func (s *Session) Key() string { return s.key }

func (s *Session) Cart() *Cart { return s.cart }

// Checkout places an order for the current cart and clears the cart only if
// the order was committed. Lines for products that left the catalog are
// dropped first.
func (s *Session) Checkout(ctx context.Context, actor *models.Identity, info CustomerInfo) (*models.Order, error) {
	dropped, err := s.cart.dropMissing(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range dropped {
		s.logger.Warn("Dropped unavailable product before checkout", zap.String("product_id", id))
	}

	order, err := s.orders.Place(ctx, actor, info, s.cart.Lines())
	if err != nil {
		return nil, err
	}
	s.cart.Clear(ctx)
	s.logger.Info("Checkout complete", zap.String("order_id", order.ID))
	return order, nil
}

// Sessions tracks open sessions so that catalog deletes reach every cart.
type Sessions struct {
	catalog *Catalog
	orders  *Orders
	storage CartStorage
	logger  *zap.Logger

	mu   sync.Mutex
	open map[string]*Session
}

func NewSessions(catalog *Catalog, orders *Orders, storage CartStorage, logger *zap.Logger) *Sessions {
	s := &Sessions{
		catalog: catalog,
		orders:  orders,
		storage: storage,
		logger:  logger.Named("sessions"),
		open:    make(map[string]*Session),
	}
	catalog.OnDelete(s.pruneProduct)
	return s
}

// Open returns the session for key, restoring its cart from storage the
// first time.
func (s *Sessions) Open(ctx context.Context, key string) (*Session, error) {
	s.mu.Lock()
	if sess, ok := s.open[key]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	cart := NewCart(key, s.catalog, s.storage, s.logger)
	if err := cart.Load(ctx); err != nil {
		return nil, err
	}
	sess := &Session{
		key:    key,
		cart:   cart,
		orders: s.orders,
		logger: s.logger.With(zap.String("session", key)),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.open[key]; ok {
		return existing, nil
	}
	s.open[key] = sess
	metrics.ActiveSessions.Inc()
	return sess, nil
}

// Close forgets the session. Its cart stays in storage.
func (s *Sessions) Close(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[key]; ok {
		delete(s.open, key)
		metrics.ActiveSessions.Dec()
	}
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

func (s *Sessions) pruneProduct(ctx context.Context, productID string) {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.open))
	for _, sess := range s.open {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	pruned := 0
	for _, sess := range sessions {
		if sess.cart.Prune(ctx, productID) {
			pruned++
		}
	}
	if pruned > 0 {
		s.logger.Info("Pruned deleted product from carts",
			zap.String("product_id", productID), zap.Int("carts", pruned))
	}
}
