package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-checkout-reconcile/internal/orders"
	"github.com/ariefcatur/go-checkout-reconcile/internal/redisx"
	"github.com/ariefcatur/go-checkout-reconcile/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrTradeNotFound: the gateway has no record of the outTradeNo.
var ErrTradeNotFound = fmt.Errorf("%w: trade not found", ErrGatewayRejected)

type Options struct {
	// PayFromPending lets a pending order take a payment intent; a success
	// then confirms and pays it in one step.
	PayFromPending bool
}

// Reconciler turns gateway reports (callbacks and active queries) into
// exactly-once order transitions. Both entry points go through apply.
type Reconciler struct {
	store   Store
	gateway Gateway
	locks   Locker
	events  *orders.Emitter
	cache   *orders.StatusCache
	opts    Options
	now     func() time.Time
	newID   func() string
	log     zerolog.Logger
}

func NewReconciler(store Store, gw Gateway, locks Locker, events *orders.Emitter, cache *orders.StatusCache,
	opts Options, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		gateway: gw,
		locks:   locks,
		events:  events,
		cache:   cache,
		opts:    opts,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     log.With().Str("component", "payment-reconciler").Logger(),
	}
}

func newOutTradeNo() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }

func lockKey(outTradeNo string) string { return fmt.Sprintf(redisx.KeyLockPayment, outTradeNo) }

func (r *Reconciler) payable(s orders.Status) bool {
	return s == orders.StatusConfirmed || (r.opts.PayFromPending && s == orders.StatusPending)
}

// CreateIntent records a new payment attempt and asks the gateway for the
// client-side parameters. An order has at most one open attempt at a time.
func (r *Reconciler) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	p := &Payment{
		ID:         r.newID(),
		OrderID:    req.OrderID,
		OutTradeNo: newOutTradeNo(),
		Amount:     req.Amount,
		Method:     req.Method,
		TradeState: StateCreated,
	}
	err := r.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if !r.payable(o.Status) {
			return fmt.Errorf("%w: order %s is %s", ErrOrderNotPayable, o.ID, o.Status)
		}
		if req.Amount != o.FinalAmount {
			return fmt.Errorf("%w: requested %d, order final amount %d", ErrAmountMismatch, req.Amount, o.FinalAmount)
		}
		open, err := tx.HasOpenPayment(ctx, o.ID)
		if err != nil {
			return err
		}
		if open {
			return fmt.Errorf("%w: order %s already has an open payment", ErrOrderNotPayable, o.ID)
		}
		return tx.InsertPayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	params, err := r.gateway.CreateIntent(ctx, IntentParams{
		OutTradeNo: p.OutTradeNo, Amount: p.Amount, Method: p.Method, Attach: p.OrderID,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("out_trade_no", p.OutTradeNo).Str("order_id", p.OrderID).Msg("gateway create intent")
		if errors.Is(err, ErrGatewayRejected) {
			// the gateway will never know this trade; free the order for a new attempt
			if _, cerr := r.closeCreated(ctx, p.OutTradeNo, "intent rejected"); cerr != nil {
				r.log.Error().Err(cerr).Str("out_trade_no", p.OutTradeNo).Msg("close rejected intent")
			}
		}
		// on ErrGatewayUnavailable the row stays created and the sweep settles it
		return nil, err
	}

	r.log.Info().Str("out_trade_no", p.OutTradeNo).Str("order_id", p.OrderID).Int64("amount", p.Amount).Msg("payment intent created")
	return &Intent{PaymentID: p.ID, OutTradeNo: p.OutTradeNo, Amount: p.Amount, Params: params}, nil
}

// HandleCallback ingests one gateway notification. It is safe under
// redelivery and concurrent delivery of the same outTradeNo.
func (r *Reconciler) HandleCallback(ctx context.Context, cb Callback) (PaymentStatus, error) {
	rep, err := cb.report()
	if err != nil {
		return PaymentStatus{}, err
	}
	return r.apply(ctx, rep)
}

// QueryPaymentStatus asks the gateway directly. It recovers payments whose
// callback never arrived and feeds the answer through the callback path.
func (r *Reconciler) QueryPaymentStatus(ctx context.Context, outTradeNo string) (PaymentStatus, error) {
	p, err := r.store.Get(ctx, outTradeNo)
	if err != nil {
		return PaymentStatus{}, err
	}
	if p.TradeState.IsTerminal() {
		return PaymentStatus{Payment: *p}, nil
	}

	gs, err := r.gateway.QueryStatus(ctx, outTradeNo)
	if err != nil {
		if errors.Is(err, ErrTradeNotFound) && p.TradeState == StateCreated {
			return r.closeCreated(ctx, outTradeNo, "unknown to gateway")
		}
		return PaymentStatus{}, err
	}
	if gs.OutTradeNo == "" {
		gs.OutTradeNo = outTradeNo
	}
	rep, err := gs.report()
	if err != nil {
		return PaymentStatus{}, err
	}
	return r.apply(ctx, rep)
}

func (r *Reconciler) Status(ctx context.Context, outTradeNo string) (PaymentStatus, error) {
	p, err := r.store.Get(ctx, outTradeNo)
	if err != nil {
		return PaymentStatus{}, err
	}
	return PaymentStatus{Payment: *p}, nil
}

func (r *Reconciler) Faults(ctx context.Context, limit int) ([]Fault, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.store.ListFaults(ctx, limit)
}

type step struct {
	order orders.Order
	from  orders.Status
	ev    orders.Event
}

type outcome struct {
	payment   Payment
	fault     *Fault
	known     FaultKind // already on record, not published again
	succeeded bool
	failed    bool
	steps     []step
}

// apply is the single place a gateway report changes state. Order of checks:
// amount first, then terminal idempotency, then the state-specific effect.
func (r *Reconciler) apply(ctx context.Context, rep report) (PaymentStatus, error) {
	release, err := r.locks.Acquire(ctx, lockKey(rep.OutTradeNo))
	if err != nil {
		return PaymentStatus{}, err
	}
	defer release()

	var out outcome
	err = r.store.InTx(ctx, func(tx Tx) error {
		out = outcome{}
		p, err := tx.PaymentForUpdate(ctx, rep.OutTradeNo)
		if err != nil {
			return err
		}
		if rep.FromCallback {
			p.CallbackReceivedCount++
		}
		defer func() { out.payment = *p }()

		if rep.TotalAmount != p.Amount {
			// one fault per distinct reported amount; the sweep re-reports it every round
			if err := r.faultOnce(ctx, tx, &out, p, FaultAmountMismatch,
				map[string]any{"reported": rep.TotalAmount},
				map[string]any{"recorded": p.Amount, "reported": rep.TotalAmount, "trade_state": rep.RawState},
			); err != nil {
				return err
			}
			return tx.UpdatePayment(ctx, p)
		}

		if p.TradeState.IsTerminal() {
			if p.TradeState == StateFailed && rep.State == StateSuccess {
				if rep.TransactionID != "" {
					p.GatewayTransactionID = rep.TransactionID
				}
				if err := r.faultOnce(ctx, tx, &out, p, FaultLateSuccess,
					map[string]any{"transaction_id": rep.TransactionID},
					map[string]any{"transaction_id": rep.TransactionID},
				); err != nil {
					return err
				}
			}
			return tx.UpdatePayment(ctx, p)
		}

		switch rep.State {
		case StatePending:
			p.TradeState = StatePending
			if rep.TransactionID != "" {
				p.GatewayTransactionID = rep.TransactionID
			}
		case StateFailed:
			p.TradeState = StateFailed
			out.failed = true
		case StateSuccess:
			if err := r.settle(ctx, tx, &out, p, rep); err != nil {
				return err
			}
		}
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return PaymentStatus{}, err
	}

	r.publish(ctx, out, rep)
	st := PaymentStatus{Payment: out.payment}
	switch {
	case out.fault != nil:
		st.Fault = out.fault.Kind
	case out.known != "":
		st.Fault = out.known
	}
	return st, nil
}

// settle marks the payment successful and pays the order in the same transaction.
func (r *Reconciler) settle(ctx context.Context, tx Tx, out *outcome, p *Payment, rep report) error {
	linked := p.OrderID
	if p.OrderID == "" {
		p.OrderID = rep.Attach
	}
	p.TradeState = StateSuccess
	p.GatewayTransactionID = rep.TransactionID
	out.succeeded = true

	if p.OrderID == "" {
		return r.fault(ctx, tx, out, p, FaultOrderStateConflict, map[string]any{"reason": "payment not linked to an order"})
	}
	o, err := tx.OrderForUpdate(ctx, p.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		ferr := r.fault(ctx, tx, out, p, FaultOrderStateConflict, map[string]any{"reason": "order not found"})
		p.OrderID = linked
		return ferr
	}
	if err != nil {
		return err
	}
	if o.FinalAmount != p.Amount {
		return r.fault(ctx, tx, out, p, FaultAmountMismatch, map[string]any{
			"recorded": p.Amount, "order_final_amount": o.FinalAmount,
		})
	}

	var path []orders.Event
	switch {
	case o.Status == orders.StatusConfirmed:
		path = []orders.Event{orders.EventPay}
	case o.Status == orders.StatusPending && r.opts.PayFromPending:
		path = []orders.Event{orders.EventConfirm, orders.EventPay}
	default:
		return r.fault(ctx, tx, out, p, FaultOrderStateConflict, map[string]any{"order_status": string(o.Status)})
	}
	for _, ev := range path {
		from := o.Status
		to, _ := orders.Next(from, ev)
		if err := tx.UpdateOrderStatus(ctx, o, to); err != nil {
			return fmt.Errorf("order %s %s: %w", o.ID, ev, err)
		}
		out.steps = append(out.steps, step{order: *o, from: from, ev: ev})
	}
	return nil
}

func (r *Reconciler) fault(ctx context.Context, tx Tx, out *outcome, p *Payment, kind FaultKind, detail map[string]any) error {
	f := &Fault{OutTradeNo: p.OutTradeNo, OrderID: p.OrderID, Kind: kind, Detail: detail, CreatedAt: r.now().UTC()}
	if err := tx.RecordFault(ctx, f); err != nil {
		return fmt.Errorf("record %s fault: %w", kind, err)
	}
	out.fault = f
	return nil
}

// faultOnce records a fault unless one of the same kind matching key exists.
// Either way the caller sees the fault kind.
func (r *Reconciler) faultOnce(ctx context.Context, tx Tx, out *outcome, p *Payment, kind FaultKind, key, detail map[string]any) error {
	seen, err := tx.HasFault(ctx, p.OutTradeNo, kind, key)
	if err != nil {
		return fmt.Errorf("lookup %s fault: %w", kind, err)
	}
	if seen {
		out.known = kind
		return nil
	}
	return r.fault(ctx, tx, out, p, kind, detail)
}

// closeCreated fails a payment that never reached the gateway.
func (r *Reconciler) closeCreated(ctx context.Context, outTradeNo, reason string) (PaymentStatus, error) {
	release, err := r.locks.Acquire(ctx, lockKey(outTradeNo))
	if err != nil {
		return PaymentStatus{}, err
	}
	defer release()

	var out outcome
	err = r.store.InTx(ctx, func(tx Tx) error {
		out = outcome{}
		p, err := tx.PaymentForUpdate(ctx, outTradeNo)
		if err != nil {
			return err
		}
		out.payment = *p
		if p.TradeState != StateCreated {
			return nil
		}
		p.TradeState = StateFailed
		out.failed = true
		out.payment = *p
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return PaymentStatus{}, err
	}
	r.publish(ctx, out, report{OutTradeNo: outTradeNo, RawState: reason})
	return PaymentStatus{Payment: out.payment}, nil
}

// publish runs after commit. Events are best effort; the rows are the truth.
func (r *Reconciler) publish(ctx context.Context, out outcome, rep report) {
	p := out.payment
	lg := r.log.With().Str("out_trade_no", p.OutTradeNo).Str("order_id", p.OrderID).Logger()

	if f := out.fault; f != nil {
		lg.Warn().Str("fault", string(f.Kind)).Interface("detail", f.Detail).Msg("reconciliation fault")
		r.events.Emit(orders.TopicReconciliationFault, orders.EventReconciliationFault, p.OrderID,
			orders.ReconciliationFaultPayload{OrderID: p.OrderID, OutTradeNo: p.OutTradeNo, Kind: string(f.Kind), Detail: f.Detail})
	}
	if out.succeeded {
		r.events.Emit(orders.TopicPayment, orders.EventPaymentSucceeded, p.OrderID, orders.PaymentSucceededPayload{
			OrderID: p.OrderID, OutTradeNo: p.OutTradeNo, TransactionID: p.GatewayTransactionID, Amount: p.Amount,
		})
	}
	if out.failed {
		lg.Info().Str("trade_state", rep.RawState).Msg("payment failed")
		r.events.Emit(orders.TopicPayment, orders.EventPaymentFailed, p.OrderID, orders.PaymentFailedPayload{
			OrderID: p.OrderID, OutTradeNo: p.OutTradeNo, TradeState: rep.RawState,
		})
	}
	for _, s := range out.steps {
		o := s.order
		r.events.StatusChanged(&o, s.from, s.ev)
	}
	if n := len(out.steps); n > 0 {
		o := out.steps[n-1].order
		r.cache.Set(ctx, orders.StatusView{OrderID: o.ID, Status: o.Status, Version: o.Version})
		lg.Info().Str("transaction_id", p.GatewayTransactionID).Msg("order paid")
	}
}
