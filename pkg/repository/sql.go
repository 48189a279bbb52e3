package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/example/freshmart/pkg/apperrors"
	"github.com/example/freshmart/pkg/config"
	"github.com/example/freshmart/pkg/models"
	"github.com/example/freshmart/pkg/store"
)

// SQLRepository stores products and orders through gorm on MySQL or
// Postgres.
type SQLRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQL connects using the database section and migrates the schema when
// auto_migrate is set.
func OpenSQL(cfg *config.DatabaseConfig, logger *zap.Logger) (*SQLRepository, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection pool: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&models.Product{}, &models.Order{}, &models.OrderItem{}); err != nil {
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}

	return NewSQLRepository(db, logger), nil
}

func NewSQLRepository(db *gorm.DB, logger *zap.Logger) *SQLRepository {
	return &SQLRepository{db: db, logger: logger.Named("sql")}
}

func (r *SQLRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *SQLRepository) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&products).Error; err != nil {
		return nil, apperrors.Persistence("list products", err)
	}
	return products, nil
}

func (r *SQLRepository) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, apperrors.Persistence("get product", err)
	}
	return &product, nil
}

func (r *SQLRepository) CreateProduct(ctx context.Context, p *models.Product) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return apperrors.Persistence("create product", err)
	}
	return nil
}

func (r *SQLRepository) UpdateProduct(ctx context.Context, id string, upd models.ProductUpdate) (*models.Product, error) {
	updates := upd.Columns()
	updates["updated_at"] = time.Now()

	res := r.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, apperrors.Persistence("update product", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NotFound("product", id)
	}
	return r.GetProduct(ctx, id)
}

func (r *SQLRepository) DeleteProduct(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Product{})
	if res.Error != nil {
		return apperrors.Persistence("delete product", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("product", id)
	}
	return nil
}

func (r *SQLRepository) GetProductStock(ctx context.Context, id string) (int, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Select("id", "quantity").Where("id = ?", id).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperrors.NotFound("product", id)
		}
		return 0, apperrors.Persistence("get product stock", err)
	}
	return product.Quantity, nil
}

// DecrementStock is a conditional update: it only matches while enough stock
// remains, so concurrent checkouts cannot drive quantity below zero.
func (r *SQLRepository) DecrementStock(ctx context.Context, id string, amount int) error {
	if amount <= 0 {
		return apperrors.Validation("amount")
	}

	// gorm assigns map columns in key order, so in_stock reads the old
	// quantity on MySQL as well as Postgres.
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND quantity >= ?", id, amount).
		Updates(map[string]interface{}{
			"in_stock":   gorm.Expr("quantity > ?", amount),
			"quantity":   gorm.Expr("quantity - ?", amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return apperrors.Persistence("decrement stock", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	p, err := r.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	return apperrors.InsufficientStock(p.ID, p.Name, amount, p.Quantity)
}

func (r *SQLRepository) CreateOrder(ctx context.Context, o *models.Order) error {
	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		r.logger.Error("Failed to create order", zap.String("order_id", o.ID), zap.Error(err))
		return apperrors.Persistence("create order", err)
	}
	return nil
}

func (r *SQLRepository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, apperrors.Persistence("get order", err)
	}
	return &order, nil
}

// UpdateOrderStatus only matches the row while it still holds from, so a
// stale writer cannot overwrite a newer status.
func (r *SQLRepository) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, at time.Time) (*models.Order, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}

	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, apperrors.Persistence("update order status", res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := r.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &apperrors.InvalidTransitionError{From: string(current.Status), To: string(to)}
	}
	return r.GetOrder(ctx, id)
}

func (r *SQLRepository) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Preload("Items")
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var orders []models.Order
	if err := query.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, apperrors.Persistence("list orders", err)
	}
	return orders, nil
}

// Atomically runs fn inside a database transaction.
func (r *SQLRepository) Atomically(ctx context.Context, fn func(tx store.Persistence) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&SQLRepository{db: tx, logger: r.logger})
	})
}

var _ store.Persistence = (*SQLRepository)(nil)
