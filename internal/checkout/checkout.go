package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-checkout-reconcile/internal/cart"
	"github.com/ariefcatur/go-checkout-reconcile/internal/catalog"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrEmptyCheckout  = errors.New("nothing to check out")
	// ErrCartChanged: some selected lines vanished between selection and checkout.
	ErrCartChanged        = errors.New("cart changed, reload and retry")
	ErrPriceChanged       = errors.New("price changed since added to cart")
	ErrInvalidAmount      = errors.New("invalid order amount")
	ErrInsufficientStock  = catalog.ErrInsufficientStock
	ErrProductUnavailable = cart.ErrProductUnavailable
)

type Request struct {
	UserID         string  `json:"-" validate:"required,max=64"`
	CartItemIDs    []int64 `json:"cart_item_ids" validate:"max=200,dive,gt=0"`
	AddressID      int64   `json:"address_id" validate:"required,gt=0"`
	ShippingAmount int64   `json:"shipping_amount" validate:"min=0"`
	DiscountAmount int64   `json:"discount_amount" validate:"min=0"`
	Remark         string  `json:"remark" validate:"max=500"`
}

type PriceChange struct {
	CartItemID int64 `json:"cart_item_id"`
	ProductID  int64 `json:"product_id"`
	CartPrice  int64 `json:"cart_price"`
	LivePrice  int64 `json:"live_price"`
}

// PriceChangedError lists every drifted line so the caller can show the new
// prices and ask the user to confirm again.
type PriceChangedError struct {
	Changes []PriceChange
}

func (e *PriceChangedError) Error() string {
	parts := make([]string, 0, len(e.Changes))
	for _, c := range e.Changes {
		parts = append(parts, fmt.Sprintf("product %d: %d -> %d", c.ProductID, c.CartPrice, c.LivePrice))
	}
	return ErrPriceChanged.Error() + ": " + strings.Join(parts, ", ")
}

func (e *PriceChangedError) Unwrap() error { return ErrPriceChanged }
