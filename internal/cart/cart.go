package cart

import (
	"errors"
	"time"

	"github.com/ariefcatur/go-checkout-reconcile/internal/pricing"
)

var (
	ErrProductUnavailable = errors.New("product unavailable")
	ErrNotFound           = errors.New("cart item not found")
)

// Item is one (user, product) line. There is never more than one per pair.
type Item struct {
	ID         int64             `json:"id"`
	UserID     string            `json:"user_id"`
	ProductID  int64             `json:"product_id"`
	Quantity   int               `json:"quantity"`
	Attributes map[string]string `json:"attributes"`
	Price      pricing.Fact      `json:"price"` // captured on first add
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type AddItemInput struct {
	UserID     string            `json:"-" validate:"required,max=64"`
	ProductID  int64             `json:"product_id" validate:"required,gt=0"`
	Quantity   int               `json:"quantity" validate:"required,min=1"`
	Attributes map[string]string `json:"attributes" validate:"omitempty,max=20,dive,keys,required,max=64,endkeys,max=256"`
}

type UpdateQuantityInput struct {
	UserID    string `json:"-" validate:"required,max=64"`
	ProductID int64  `json:"-" validate:"required,gt=0"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}
