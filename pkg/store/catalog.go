package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/freshmart/pkg/apperrors"
	"github.com/example/freshmart/pkg/models"
)

// ProductInput carries the fields of a new product.
type ProductInput struct {
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Unit        string          `json:"unit"`
	Quantity    int             `json:"quantity"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
}

// ProductQuery filters List. Search matches product names case-insensitively.
type ProductQuery struct {
	Search   string
	Category string
}

// DeleteHook is invoked after a product was deleted.
type DeleteHook func(ctx context.Context, productID string)

// Catalog is the product CRUD surface.
type Catalog struct {
	db     Persistence
	audit  AuditSink
	logger *zap.Logger

	mu    sync.RWMutex
	hooks []DeleteHook
}

func NewCatalog(db Persistence, audit AuditSink, logger *zap.Logger) *Catalog {
	if audit == nil {
		audit = nopAudit{}
	}
	return &Catalog{
		db:     db,
		audit:  audit,
		logger: logger.Named("catalog"),
	}
}

// OnDelete registers a hook run after every successful delete.
func (c *Catalog) OnDelete(h DeleteHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// List returns products newest first, optionally filtered.
func (c *Catalog) List(ctx context.Context, q ProductQuery) ([]models.Product, error) {
	products, err := c.db.ListProducts(ctx)
	if err != nil {
		return nil, apperrors.Persistence("list products", err)
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		if q.Category != "" && p.Category != q.Category {
			continue
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (c *Catalog) Get(ctx context.Context, id string) (*models.Product, error) {
	p, err := c.db.GetProduct(ctx, id)
	if err != nil {
		return nil, apperrors.Persistence("get product", err)
	}
	return p, nil
}

// Categories returns the distinct categories in use, sorted.
func (c *Catalog) Categories(ctx context.Context) ([]string, error) {
	products, err := c.db.ListProducts(ctx)
	if err != nil {
		return nil, apperrors.Persistence("list products", err)
	}
	seen := make(map[string]struct{})
	var cats []string
	for _, p := range products {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		cats = append(cats, p.Category)
	}
	sort.Strings(cats)
	return cats, nil
}

func (c *Catalog) Create(ctx context.Context, actor *models.Identity, in ProductInput) (*models.Product, error) {
	if err := RequireAdmin(actor, "create products"); err != nil {
		return nil, err
	}

	var bad []string
	if strings.TrimSpace(in.Name) == "" {
		bad = append(bad, "name")
	}
	if strings.TrimSpace(in.Category) == "" {
		bad = append(bad, "category")
	}
	if strings.TrimSpace(in.Unit) == "" {
		bad = append(bad, "unit")
	}
	if !in.Price.IsPositive() {
		bad = append(bad, "price")
	}
	if in.Quantity < 0 {
		bad = append(bad, "quantity")
	}
	if len(bad) > 0 {
		return nil, apperrors.Validation(bad...)
	}

	now := time.Now()
	p := &models.Product{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Price:       in.Price,
		Category:    strings.TrimSpace(in.Category),
		Unit:        strings.TrimSpace(in.Unit),
		Quantity:    in.Quantity,
		Description: in.Description,
		Image:       in.Image,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.Image == "" {
		p.Image = models.DefaultProductImage
	}
	p.SyncStock()

	if err := c.db.CreateProduct(ctx, p); err != nil {
		return nil, apperrors.Persistence("create product", err)
	}

	c.logger.Info("Product created", zap.String("product_id", p.ID), zap.String("name", p.Name))
	c.record(ctx, AuditEvent{
		Action:   "product.created",
		EntityID: p.ID,
		ActorID:  actor.ID,
		Data:     map[string]interface{}{"name": p.Name, "price": p.Price.String(), "quantity": p.Quantity},
	})
	return p, nil
}

func (c *Catalog) Update(ctx context.Context, actor *models.Identity, id string, upd models.ProductUpdate) (*models.Product, error) {
	if err := RequireAdmin(actor, "update products"); err != nil {
		return nil, err
	}
	if upd.Empty() {
		return nil, &apperrors.ValidationError{Message: "no fields to update"}
	}

	var bad []string
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		bad = append(bad, "name")
	}
	if upd.Category != nil && strings.TrimSpace(*upd.Category) == "" {
		bad = append(bad, "category")
	}
	if upd.Unit != nil && strings.TrimSpace(*upd.Unit) == "" {
		bad = append(bad, "unit")
	}
	if upd.Price != nil && !upd.Price.IsPositive() {
		bad = append(bad, "price")
	}
	if upd.Quantity != nil && *upd.Quantity < 0 {
		bad = append(bad, "quantity")
	}
	if len(bad) > 0 {
		return nil, apperrors.Validation(bad...)
	}

	p, err := c.db.UpdateProduct(ctx, id, upd)
	if err != nil {
		return nil, apperrors.Persistence("update product", err)
	}

	c.logger.Info("Product updated", zap.String("product_id", id))
	c.record(ctx, AuditEvent{
		Action:   "product.updated",
		EntityID: id,
		ActorID:  actor.ID,
		Data:     map[string]interface{}{"quantity": p.Quantity, "price": p.Price.String()},
	})
	return p, nil
}

// Delete removes a product and then runs the delete hooks so that no cart
// keeps a line pointing at it.
func (c *Catalog) Delete(ctx context.Context, actor *models.Identity, id string) error {
	if err := RequireAdmin(actor, "delete products"); err != nil {
		return err
	}
	if err := c.db.DeleteProduct(ctx, id); err != nil {
		return apperrors.Persistence("delete product", err)
	}

	c.mu.RLock()
	hooks := append([]DeleteHook(nil), c.hooks...)
	c.mu.RUnlock()
	for _, h := range hooks {
		h(ctx, id)
	}

	c.logger.Info("Product deleted", zap.String("product_id", id))
	c.record(ctx, AuditEvent{Action: "product.deleted", EntityID: id, ActorID: actor.ID})
	return nil
}

func (c *Catalog) record(ctx context.Context, ev AuditEvent) {
	if err := c.audit.Record(ctx, ev); err != nil {
		c.logger.Warn("Failed to record audit event", zap.String("action", ev.Action), zap.Error(err))
	}
}
