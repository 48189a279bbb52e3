package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultProductImage is used when a product is created without an image.
const DefaultProductImage = "/placeholder.svg"

// Product is a catalog entry. InStock always mirrors Quantity > 0 for
// records written through the catalog.
type Product struct {
	ID          string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name        string          `gorm:"type:varchar(200);not null" json:"name"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Category    string          `gorm:"type:varchar(64);not null;index" json:"category"`
	Unit        string          `gorm:"type:varchar(32);not null" json:"unit"`
	InStock     bool            `gorm:"not null;default:false" json:"in_stock"`
	Quantity    int             `gorm:"not null;default:0" json:"quantity"`
	Description string          `gorm:"type:text" json:"description,omitempty"`
	Image       string          `gorm:"type:varchar(255)" json:"image"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

// SyncStock derives InStock from Quantity.
func (p *Product) SyncStock() {
	p.InStock = p.Quantity > 0
}

// ProductUpdate is a partial update; nil fields are left untouched.
// InStock is not settable and follows the resulting Quantity.
type ProductUpdate struct {
	Name        *string          `json:"name,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Unit        *string          `json:"unit,omitempty"`
	Quantity    *int             `json:"quantity,omitempty"`
	Description *string          `json:"description,omitempty"`
	Image       *string          `json:"image,omitempty"`
}

// Empty reports whether the update sets no field.
func (u ProductUpdate) Empty() bool {
	return u.Name == nil && u.Price == nil && u.Category == nil && u.Unit == nil &&
		u.Quantity == nil && u.Description == nil && u.Image == nil
}

// Apply merges the update into p and re-derives the stock flag.
func (u ProductUpdate) Apply(p *Product) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Price != nil {
		p.Price = *u.Price
	}
	if u.Category != nil {
		p.Category = *u.Category
	}
	if u.Unit != nil {
		p.Unit = *u.Unit
	}
	if u.Quantity != nil {
		p.Quantity = *u.Quantity
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Image != nil {
		p.Image = *u.Image
	}
	p.SyncStock()
}

// Columns returns the column map used by SQL adapters for the update.
func (u ProductUpdate) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if u.Name != nil {
		cols["name"] = *u.Name
	}
	if u.Price != nil {
		cols["price"] = *u.Price
	}
	if u.Category != nil {
		cols["category"] = *u.Category
	}
	if u.Unit != nil {
		cols["unit"] = *u.Unit
	}
	if u.Quantity != nil {
		cols["quantity"] = *u.Quantity
		cols["in_stock"] = *u.Quantity > 0
	}
	if u.Description != nil {
		cols["description"] = *u.Description
	}
	if u.Image != nil {
		cols["image"] = *u.Image
	}
	return cols
}
