package catalog

import (
	"errors"
	"time"

	"github.com/ariefcatur/go-checkout-reconcile/internal/pricing"
)

var (
	ErrNotFound          = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Product struct {
	ID        int64     `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"` // minor units
	Currency  string    `json:"currency"`
	Stock     int       `json:"stock"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sellable: active and not sold out.
func (p Product) Sellable() bool { return p.IsActive && p.Stock > 0 }

func (p Product) PriceFact(at time.Time) pricing.Fact {
	return pricing.Capture(p.ID, p.Price, p.Currency, at)
}
