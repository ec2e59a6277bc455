// Package pricing holds price facts: the unit price of a product as observed
// at one moment (cart add, checkout). A fact is never recomputed after capture.
package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Fact is an authoritative unit price in minor units.
type Fact struct {
	ProductID  int64     `json:"product_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	CapturedAt time.Time `json:"captured_at"`
}

func Capture(productID, amount int64, currency string, at time.Time) Fact {
	return Fact{ProductID: productID, Amount: amount, Currency: currency, CapturedAt: at.UTC()}
}

// Tolerance is the largest absolute difference, in minor units, between two
// facts that still counts as the same price.
type Tolerance int64

// Drifted reports whether live no longer matches snapshot. A currency change
// always counts as drift.
func (t Tolerance) Drifted(snapshot, live Fact) bool {
	if snapshot.Currency != live.Currency {
		return true
	}
	d := live.Amount - snapshot.Amount
	if d < 0 {
		d = -d
	}
	return d > int64(t)
}

var ErrInvalidAmount = errors.New("pricing: invalid amount")

// minorExp: every supported currency settles in hundredths.
const minorExp = 2

// FormatMinor renders 2100 as "21.00".
func FormatMinor(amount int64) string {
	return decimal.New(amount, -minorExp).StringFixed(minorExp)
}

// ParseMinor converts a gateway decimal string back to minor units. It
// rejects sub-minor precision ("21.005") instead of rounding it away, and
// anything outside [0, MaxInt64] minor units instead of wrapping.
func ParseMinor(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	scaled := d.Shift(minorExp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has sub-minor precision", ErrInvalidAmount, s)
	}
	if scaled.IsNegative() || !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	return scaled.IntPart(), nil
}
