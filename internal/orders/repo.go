package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-checkout-reconcile/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderCols = `id, user_id, address_id, total_amount, shipping_amount, discount_amount, final_amount,
	currency, status, remark, version, created_at, updated_at`

type Repo struct{ DB *pgxpool.Pool }

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.UserID, &o.AddressID, &o.TotalAmount, &o.ShippingAmount, &o.DiscountAmount,
		&o.FinalAmount, &o.Currency, &status, &o.Remark, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	return &o, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, line_no, product_id, quantity, unit_price, attributes, price_captured_at
		FROM order_items WHERE order_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.OrderID, &it.LineNo, &it.ProductID, &it.Quantity, &it.UnitPrice,
			&it.Attributes, &it.PriceCapturedAt); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (r *Repo) GetStatus(ctx context.Context, orderID string) (Status, int, error) {
	var s string
	var v int
	err := r.DB.QueryRow(ctx, `SELECT status, version FROM orders WHERE id=$1`, orderID).Scan(&s, &v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, ErrNotFound
	}
	return Status(s), v, err
}

func (r *Repo) UpdateStatus(ctx context.Context, o *Order, to Status) error {
	return updateStatus(ctx, r.DB, o, to)
}

// updateStatus is a compare-and-swap on (status, version): the first writer
// wins and every later writer holding the old version gets ErrVersionConflict.
func updateStatus(ctx context.Context, db postgres.DBTX, o *Order, to Status) error {
	err := db.QueryRow(ctx, `
		UPDATE orders SET status=$4, version=version+1, updated_at=now()
		WHERE id=$1 AND version=$2 AND status=$3
		RETURNING version, updated_at`, o.ID, o.Version, string(o.Status), string(to),
	).Scan(&o.Version, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: order %s at version %d", ErrVersionConflict, o.ID, o.Version)
	}
	if err != nil {
		return err
	}
	o.Status = to
	return nil
}

// InsertTx writes the order header and all lines inside the caller's transaction.
func InsertTx(ctx context.Context, tx pgx.Tx, o *Order) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO orders(id, user_id, address_id, total_amount, shipping_amount, discount_amount,
		                   final_amount, currency, status, remark, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.AddressID, o.TotalAmount, o.ShippingAmount, o.DiscountAmount,
		o.FinalAmount, o.Currency, string(o.Status), o.Remark, o.Version,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	// insert items
	for _, it := range o.Items {
		attrs := it.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, line_no, product_id, quantity, unit_price, attributes, price_captured_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			o.ID, it.LineNo, it.ProductID, it.Quantity, it.UnitPrice, attrs, it.PriceCapturedAt,
		); err != nil {
			return fmt.Errorf("insert order item %d: %w", it.LineNo, err)
		}
	}
	return nil
}

// GetForUpdateTx locks the order header row; items are not loaded.
func GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (*Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", id, err)
	}
	return o, nil
}

func UpdateStatusTx(ctx context.Context, tx pgx.Tx, o *Order, to Status) error {
	return updateStatus(ctx, tx, o, to)
}
