package orders

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order transition")
	// ErrVersionConflict: the row changed between read and write.
	ErrVersionConflict = errors.New("order version conflict")
	ErrAmountInvariant = errors.New("order amounts inconsistent")
)

// Order is immutable after creation except for Status (and Version, which
// moves with every status change).
type Order struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	AddressID      int64       `json:"address_id"`
	Items          []OrderItem `json:"items"`
	TotalAmount    int64       `json:"total_amount"`
	ShippingAmount int64       `json:"shipping_amount"`
	DiscountAmount int64       `json:"discount_amount"`
	FinalAmount    int64       `json:"final_amount"`
	Currency       string      `json:"currency"`
	Status         Status      `json:"status"`
	Remark         string      `json:"remark"`
	Version        int         `json:"version"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type OrderItem struct {
	OrderID         string            `json:"order_id"`
	LineNo          int               `json:"line_no"`
	ProductID       int64             `json:"product_id"`
	Quantity        int               `json:"quantity"`
	UnitPrice       int64             `json:"unit_price"`
	Attributes      map[string]string `json:"attributes"`
	PriceCapturedAt time.Time         `json:"price_captured_at"`
}

// CheckAmounts verifies the stored amounts against each other. It never
// fixes anything: a mismatch is reported, not corrected.
func (o *Order) CheckAmounts() error {
	var sum int64
	for _, it := range o.Items {
		sum += it.UnitPrice * int64(it.Quantity)
	}
	if sum != o.TotalAmount {
		return fmt.Errorf("%w: items sum %d != total %d", ErrAmountInvariant, sum, o.TotalAmount)
	}
	if o.FinalAmount != o.TotalAmount+o.ShippingAmount-o.DiscountAmount {
		return fmt.Errorf("%w: final %d != %d + %d - %d", ErrAmountInvariant,
			o.FinalAmount, o.TotalAmount, o.ShippingAmount, o.DiscountAmount)
	}
	if o.FinalAmount < 0 {
		return fmt.Errorf("%w: final %d < 0", ErrAmountInvariant, o.FinalAmount)
	}
	return nil
}
