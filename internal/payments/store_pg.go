package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-reconcile/internal/orders"
	"github.com/ariefcatur/go-checkout-reconcile/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentCols = `id, COALESCE(order_id::text, ''), out_trade_no, amount, method,
	COALESCE(gateway_transaction_id, ''), trade_state, callback_received_count, created_at, updated_at`

type PGStore struct{ DB *pgxpool.Pool }

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var state string
	err := row.Scan(&p.ID, &p.OrderID, &p.OutTradeNo, &p.Amount, &p.Method,
		&p.GatewayTransactionID, &state, &p.CallbackReceivedCount, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownPayment
	}
	if err != nil {
		return nil, err
	}
	p.TradeState = TradeState(state)
	return &p, nil
}

func (s *PGStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return postgres.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		return fn(pgTx{tx: tx})
	})
}

func (s *PGStore) Get(ctx context.Context, outTradeNo string) (*Payment, error) {
	p, err := scanPayment(s.DB.QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE out_trade_no=$1`, outTradeNo))
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", outTradeNo, err)
	}
	return p, nil
}

func (s *PGStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Payment, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+paymentCols+` FROM payments
		WHERE trade_state IN ('created', 'pending') AND updated_at < $1
		ORDER BY updated_at LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PGStore) ListFaults(ctx context.Context, limit int) ([]Fault, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, out_trade_no, COALESCE(order_id::text, ''), kind, detail, created_at
		FROM payment_faults ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Fault
	for rows.Next() {
		var f Fault
		var kind string
		if err := rows.Scan(&f.ID, &f.OutTradeNo, &f.OrderID, &kind, &f.Detail, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Kind = FaultKind(kind)
		out = append(out, f)
	}
	return out, rows.Err()
}

type pgTx struct{ tx pgx.Tx }

func (t pgTx) PaymentForUpdate(ctx context.Context, outTradeNo string) (*Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE out_trade_no=$1 FOR UPDATE`, outTradeNo))
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", outTradeNo, err)
	}
	return p, nil
}

func (t pgTx) HasOpenPayment(ctx context.Context, orderID string) (bool, error) {
	var open bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments
		WHERE order_id=$1 AND trade_state IN ('created', 'pending'))`, orderID).Scan(&open)
	return open, err
}

func (t pgTx) InsertPayment(ctx context.Context, p *Payment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO payments(id, order_id, out_trade_no, amount, method, trade_state)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		p.ID, p.OrderID, p.OutTradeNo, p.Amount, p.Method, string(p.TradeState),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if postgres.IsUniqueViolation(err, "payments_one_open_per_order") {
		return fmt.Errorf("%w: order %s already has an open payment", ErrOrderNotPayable, p.OrderID)
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t pgTx) UpdatePayment(ctx context.Context, p *Payment) error {
	return t.tx.QueryRow(ctx, `
		UPDATE payments SET order_id=NULLIF($2, '')::uuid, gateway_transaction_id=NULLIF($3, ''),
		       trade_state=$4, callback_received_count=$5, updated_at=now()
		WHERE id=$1
		RETURNING updated_at`,
		p.ID, p.OrderID, p.GatewayTransactionID, string(p.TradeState), p.CallbackReceivedCount,
	).Scan(&p.UpdatedAt)
}

func (t pgTx) OrderForUpdate(ctx context.Context, orderID string) (*orders.Order, error) {
	return orders.GetForUpdateTx(ctx, t.tx, orderID)
}

func (t pgTx) UpdateOrderStatus(ctx context.Context, o *orders.Order, to orders.Status) error {
	return orders.UpdateStatusTx(ctx, t.tx, o, to)
}

func (t pgTx) HasFault(ctx context.Context, outTradeNo string, kind FaultKind, match map[string]any) (bool, error) {
	if match == nil {
		match = map[string]any{}
	}
	var ok bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM payment_faults
		               WHERE out_trade_no=$1 AND kind=$2 AND detail @> $3::jsonb)`,
		outTradeNo, string(kind), match,
	).Scan(&ok)
	return ok, err
}

func (t pgTx) RecordFault(ctx context.Context, f *Fault) error {
	detail := f.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO payment_faults(out_trade_no, order_id, kind, detail)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4)
		RETURNING id, created_at`,
		f.OutTradeNo, f.OrderID, string(f.Kind), detail,
	).Scan(&f.ID, &f.CreatedAt)
}
