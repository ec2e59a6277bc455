package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-reconcile/internal/pricing"
	"github.com/ariefcatur/go-checkout-reconcile/internal/validation"
)

var (
	ErrOrderNotPayable = errors.New("order not payable")
	ErrUnknownPayment  = errors.New("unknown payment")
	ErrAmountMismatch  = errors.New("payment amount does not match order")
	// ErrGatewayUnavailable: timeout, 5xx or open breaker. Callers retry with backoff.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected: the gateway answered and said no.
	ErrGatewayRejected = errors.New("payment gateway rejected request")
)

type TradeState string

const (
	StateCreated TradeState = "created"
	StatePending TradeState = "pending"
	StateSuccess TradeState = "success"
	StateFailed  TradeState = "failed"
)

func (s TradeState) IsTerminal() bool { return s == StateSuccess || s == StateFailed }

// NormalizeTradeState maps a gateway trade state onto ours.
func NormalizeTradeState(raw string) (TradeState, bool) {
	switch raw {
	case "SUCCESS":
		return StateSuccess, true
	case "CLOSED", "PAYERROR", "REVOKED":
		return StateFailed, true
	case "NOTPAY", "USERPAYING":
		return StatePending, true
	}
	return "", false
}

type Payment struct {
	ID                    string     `json:"id"`
	OrderID               string     `json:"order_id,omitempty"`
	OutTradeNo            string     `json:"out_trade_no"`
	Amount                int64      `json:"amount"`
	Method                string     `json:"method"`
	GatewayTransactionID  string     `json:"gateway_transaction_id,omitempty"`
	TradeState            TradeState `json:"trade_state"`
	CallbackReceivedCount int        `json:"callback_received_count"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type FaultKind string

const (
	FaultAmountMismatch     FaultKind = "amount_mismatch"
	FaultOrderStateConflict FaultKind = "order_state_conflict"
	// FaultLateSuccess: the gateway reports success for a payment we already closed as failed.
	FaultLateSuccess FaultKind = "late_success"
)

// Fault is a reconciliation anomaly kept for an operator; nothing fixes it automatically.
type Fault struct {
	ID         int64          `json:"id"`
	OutTradeNo string         `json:"out_trade_no"`
	OrderID    string         `json:"order_id,omitempty"`
	Kind       FaultKind      `json:"kind"`
	Detail     map[string]any `json:"detail"`
	CreatedAt  time.Time      `json:"created_at"`
}

type IntentRequest struct {
	OrderID string `json:"-" validate:"required,uuid"`
	Amount  int64  `json:"amount" validate:"min=0"`
	Method  string `json:"method" validate:"required,max=32"`
}

// Intent is what the client needs to hand the user over to the gateway.
type Intent struct {
	PaymentID  string            `json:"payment_id"`
	OutTradeNo string            `json:"out_trade_no"`
	Amount     int64             `json:"amount"`
	Params     map[string]string `json:"params"`
}

// Callback is the gateway's asynchronous notification. Amounts arrive as
// decimal strings ("21.00").
type Callback struct {
	TransactionID string `json:"transactionId" validate:"max=64"`
	OutTradeNo    string `json:"outTradeNo" validate:"required,max=64"`
	TotalAmount   string `json:"totalAmount" validate:"required,numeric"`
	TradeState    string `json:"tradeState" validate:"required"`
	TradeType     string `json:"tradeType"`
	BankType      string `json:"bankType"`
	Attach        string `json:"attach" validate:"omitempty,uuid"`
	TimeEnd       string `json:"timeEnd"`
}

// GatewayStatus is the gateway's answer to an active query.
type GatewayStatus struct {
	OutTradeNo    string
	TransactionID string
	TotalAmount   int64
	TradeState    string
	Attach        string
}

// report is a gateway statement about one payment, whichever way it arrived.
type report struct {
	OutTradeNo    string
	TransactionID string
	TotalAmount   int64
	State         TradeState
	RawState      string
	Attach        string
	FromCallback  bool
}

func (c Callback) report() (report, error) {
	if err := validation.Struct(c); err != nil {
		return report{}, err
	}
	amount, err := pricing.ParseMinor(c.TotalAmount)
	if err != nil {
		return report{}, fmt.Errorf("%w: %v", validation.ErrInvalid, err)
	}
	st, ok := NormalizeTradeState(c.TradeState)
	if !ok {
		return report{}, fmt.Errorf("%w: unknown trade state %q", validation.ErrInvalid, c.TradeState)
	}
	return report{
		OutTradeNo: c.OutTradeNo, TransactionID: c.TransactionID, TotalAmount: amount,
		State: st, RawState: c.TradeState, Attach: c.Attach, FromCallback: true,
	}, nil
}

func (g GatewayStatus) report() (report, error) {
	st, ok := NormalizeTradeState(g.TradeState)
	if !ok {
		return report{}, fmt.Errorf("%w: unknown trade state %q", ErrGatewayRejected, g.TradeState)
	}
	return report{
		OutTradeNo: g.OutTradeNo, TransactionID: g.TransactionID, TotalAmount: g.TotalAmount,
		State: st, RawState: g.TradeState, Attach: g.Attach,
	}, nil
}

// PaymentStatus is the caller-facing view after a callback or query.
type PaymentStatus struct {
	Payment
	Fault FaultKind `json:"fault,omitempty"`
}
