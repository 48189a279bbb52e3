package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/freshmart/pkg/apperrors"
	"github.com/example/freshmart/pkg/models"
)

// CartLine pairs a product id with a quantity of at least one.
type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ProductLookup resolves the weak product references held by a cart.
type ProductLookup interface {
	Get(ctx context.Context, id string) (*models.Product, error)
}

// CartViewLine is a cart line resolved against the current catalog.
type CartViewLine struct {
	Product   models.Product  `json:"product"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// CartView is computed on demand and never stored.
type CartView struct {
	Lines     []CartViewLine  `json:"lines"`
	ItemCount int             `json:"item_count"`
	Total     decimal.Decimal `json:"total"`
}

type cartDocument struct {
	Lines []CartLine `json:"lines"`
}

// Cart holds what one session intends to buy. Lines are unique by product
// and kept in insertion order.
type Cart struct {
	key     string
	catalog ProductLookup
	storage CartStorage
	logger  *zap.Logger

	mu      sync.Mutex
	lines   []CartLine
	version uint64

	// saveMu orders writes so an older revision never replaces a newer one.
	saveMu sync.Mutex
	saved  uint64
}

// revision is the cart state after one mutation.
type revision struct {
	version uint64
	lines   []CartLine
}

func NewCart(key string, catalog ProductLookup, storage CartStorage, logger *zap.Logger) *Cart {
	return &Cart{
		key:     key,
		catalog: catalog,
		storage: storage,
		logger:  logger.Named("cart").With(zap.String("session", key)),
	}
}

// Load restores the cart from storage. Lines whose product no longer exists
// are dropped.
func (c *Cart) Load(ctx context.Context) error {
	data, ok, err := c.storage.Load(ctx, c.key)
	if err != nil {
		return apperrors.Persistence("load cart", err)
	}
	if !ok {
		return nil
	}

	var doc cartDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		c.logger.Warn("Discarding unreadable cart", zap.Error(err))
		return nil
	}

	lines := make([]CartLine, 0, len(doc.Lines))
	seen := make(map[string]bool)
	for _, l := range doc.Lines {
		if l.Quantity <= 0 || seen[l.ProductID] {
			continue
		}
		if _, err := c.catalog.Get(ctx, l.ProductID); apperrors.IsNotFound(err) {
			continue
		}
		seen[l.ProductID] = true
		lines = append(lines, l)
	}

	c.mu.Lock()
	c.lines = lines
	c.mu.Unlock()
	return nil
}

// Add puts one more unit of the product in the cart. The product is looked
// up with the cart locked, so a concurrent delete either fails the lookup or
// prunes the new line once the lock is released.
func (c *Cart) Add(ctx context.Context, productID string) error {
	c.mu.Lock()
	p, err := c.catalog.Get(ctx, productID)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	idx := c.indexOf(productID)
	want := 1
	if idx >= 0 {
		want = c.lines[idx].Quantity + 1
	}
	if !p.InStock || want > p.Quantity {
		c.mu.Unlock()
		return apperrors.InsufficientStock(p.ID, p.Name, want, p.Quantity)
	}
	if idx >= 0 {
		c.lines[idx].Quantity = want
	} else {
		c.lines = append(c.lines, CartLine{ProductID: productID, Quantity: 1})
	}
	rev := c.changedLocked()
	c.mu.Unlock()

	c.save(ctx, rev)
	return nil
}

// UpdateQuantity sets the quantity of a line. A quantity of zero or less
// removes the line. Quantities above the available stock are rejected.
func (c *Cart) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		c.Remove(ctx, productID)
		return nil
	}

	c.mu.Lock()
	p, err := c.catalog.Get(ctx, productID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !p.InStock || quantity > p.Quantity {
		c.mu.Unlock()
		return apperrors.InsufficientStock(p.ID, p.Name, quantity, p.Quantity)
	}

	if idx := c.indexOf(productID); idx >= 0 {
		c.lines[idx].Quantity = quantity
	} else {
		c.lines = append(c.lines, CartLine{ProductID: productID, Quantity: quantity})
	}
	rev := c.changedLocked()
	c.mu.Unlock()

	c.save(ctx, rev)
	return nil
}

// Remove drops the line for productID if present.
func (c *Cart) Remove(ctx context.Context, productID string) {
	c.mu.Lock()
	c.removeLocked(productID)
	rev := c.changedLocked()
	c.mu.Unlock()

	c.save(ctx, rev)
}

func (c *Cart) Clear(ctx context.Context) {
	c.mu.Lock()
	c.lines = nil
	rev := c.changedLocked()
	c.mu.Unlock()

	c.save(ctx, rev)
}

// Prune removes a line for a product that left the catalog. It reports
// whether a line was removed.
func (c *Cart) Prune(ctx context.Context, productID string) bool {
	c.mu.Lock()
	removed := c.removeLocked(productID)
	var rev revision
	if removed {
		rev = c.changedLocked()
	}
	c.mu.Unlock()

	if removed {
		c.logger.Info("Removed deleted product from cart", zap.String("product_id", productID))
		c.save(ctx, rev)
	}
	return removed
}

// dropMissing removes lines whose product is no longer in the catalog and
// returns their ids.
func (c *Cart) dropMissing(ctx context.Context) ([]string, error) {
	var gone []string
	for _, l := range c.Lines() {
		_, err := c.catalog.Get(ctx, l.ProductID)
		if apperrors.IsNotFound(err) {
			gone = append(gone, l.ProductID)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	if len(gone) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	for _, id := range gone {
		c.removeLocked(id)
	}
	rev := c.changedLocked()
	c.mu.Unlock()

	c.save(ctx, rev)
	return gone, nil
}

// Lines returns a copy of the current lines.
func (c *Cart) Lines() []CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Cart) ItemCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

// Total sums quantity times the current catalog price over all lines.
func (c *Cart) Total(ctx context.Context) (decimal.Decimal, error) {
	view, err := c.View(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return view.Total, nil
}

// View resolves every line against the catalog. Lines whose product has
// disappeared are skipped.
func (c *Cart) View(ctx context.Context) (*CartView, error) {
	view := &CartView{Lines: []CartViewLine{}, Total: decimal.Zero}
	for _, l := range c.Lines() {
		p, err := c.catalog.Get(ctx, l.ProductID)
		if apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		lineTotal := p.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		view.Lines = append(view.Lines, CartViewLine{Product: *p, Quantity: l.Quantity, LineTotal: lineTotal})
		view.ItemCount += l.Quantity
		view.Total = view.Total.Add(lineTotal)
	}
	return view, nil
}

func (c *Cart) indexOf(productID string) int {
	for i, l := range c.lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) removeLocked(productID string) bool {
	idx := c.indexOf(productID)
	if idx < 0 {
		return false
	}
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	return true
}

func (c *Cart) snapshotLocked() []CartLine {
	return append([]CartLine(nil), c.lines...)
}

// changedLocked records a mutation and returns the state to persist.
func (c *Cart) changedLocked() revision {
	c.version++
	return revision{version: c.version, lines: c.snapshotLocked()}
}

// save writes the cart to storage unless a newer revision was written
// already. Failures are logged and dropped; the in-memory cart stays
// authoritative.
func (c *Cart) save(ctx context.Context, rev revision) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if rev.version <= c.saved {
		return
	}
	c.saved = rev.version

	lines := rev.lines
	if lines == nil {
		lines = []CartLine{}
	}
	data, err := json.Marshal(cartDocument{Lines: lines})
	if err != nil {
		c.logger.Error("Failed to encode cart", zap.Error(err))
		return
	}
	if err := c.storage.Save(ctx, c.key, data); err != nil {
		c.logger.Warn("Failed to persist cart", zap.Error(err))
	}
}
