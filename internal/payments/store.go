package payments

import (
	"context"
	"time"

	"github.com/ariefcatur/go-checkout-reconcile/internal/orders"
)

type Gateway interface {
	CreateIntent(ctx context.Context, p IntentParams) (map[string]string, error)
	QueryStatus(ctx context.Context, outTradeNo string) (GatewayStatus, error)
}

type IntentParams struct {
	OutTradeNo string
	Amount     int64
	Method     string
	Attach     string // order id, echoed back by the gateway
}

// Tx is one reconciliation unit: the payment row, its order row and any
// faults commit together.
type Tx interface {
	PaymentForUpdate(ctx context.Context, outTradeNo string) (*Payment, error)
	HasOpenPayment(ctx context.Context, orderID string) (bool, error)
	InsertPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
	OrderForUpdate(ctx context.Context, orderID string) (*orders.Order, error)
	UpdateOrderStatus(ctx context.Context, o *orders.Order, to orders.Status) error
	RecordFault(ctx context.Context, f *Fault) error
	// HasFault reports whether a fault of kind whose detail contains every
	// key/value in match was already recorded for outTradeNo.
	HasFault(ctx context.Context, outTradeNo string, kind FaultKind, match map[string]any) (bool, error)
}

type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	Get(ctx context.Context, outTradeNo string) (*Payment, error)
	// ListStale returns non-terminal payments last touched before olderThan, oldest first.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Payment, error)
	ListFaults(ctx context.Context, limit int) ([]Fault, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}
