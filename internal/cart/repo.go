package cart

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-checkout-reconcile/internal/pricing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const itemCols = `id, user_id, product_id, quantity, attributes, price_amount, price_currency, price_captured_at, created_at, updated_at`

type Repo struct{ DB *pgxpool.Pool }

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.UserID, &it.ProductID, &it.Quantity, &it.Attributes,
		&it.Price.Amount, &it.Price.Currency, &it.Price.CapturedAt, &it.CreatedAt, &it.UpdatedAt)
	it.Price.ProductID = it.ProductID
	if it.Attributes == nil {
		it.Attributes = map[string]string{}
	}
	return it, err
}

func collect(rows pgx.Rows) ([]Item, error) {
	defer rows.Close()
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func attrs(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func (r *Repo) Upsert(ctx context.Context, it Item) (Item, error) {
	return scanItem(r.DB.QueryRow(ctx, `
		INSERT INTO cart_items(user_id, product_id, quantity, attributes, price_amount, price_currency, price_captured_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT ON CONSTRAINT cart_items_user_product_key DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity,
		    attributes = EXCLUDED.attributes,
		    updated_at = now()
		RETURNING `+itemCols,
		it.UserID, it.ProductID, it.Quantity, attrs(it.Attributes), it.Price.Amount, it.Price.Currency, it.Price.CapturedAt,
	))
}

func (r *Repo) UpdateQuantity(ctx context.Context, userID string, productID int64, qty int) (Item, error) {
	it, err := scanItem(r.DB.QueryRow(ctx, `
		UPDATE cart_items SET quantity=$3, updated_at=now()
		WHERE user_id=$1 AND product_id=$2
		RETURNING `+itemCols, userID, productID, qty))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	return it, err
}

func (r *Repo) UpdatePrice(ctx context.Context, userID string, productID int64, price pricing.Fact) (Item, error) {
	it, err := scanItem(r.DB.QueryRow(ctx, `
		UPDATE cart_items SET price_amount=$3, price_currency=$4, price_captured_at=$5, updated_at=now()
		WHERE user_id=$1 AND product_id=$2
		RETURNING `+itemCols, userID, productID, price.Amount, price.Currency, price.CapturedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	return it, err
}

func (r *Repo) Remove(ctx context.Context, userID string, productID int64) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1 AND product_id=$2`, userID, productID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	return nil
}

func (r *Repo) List(ctx context.Context, userID string) ([]Item, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+itemCols+` FROM cart_items WHERE user_id=$1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// LockItemsTx loads the selected lines of userID's cart FOR UPDATE. Lines owned
// by other users or already checked out are simply absent from the result.
func LockItemsTx(ctx context.Context, tx pgx.Tx, userID string, ids []int64) ([]Item, error) {
	rows, err := tx.Query(ctx, `SELECT `+itemCols+` FROM cart_items
	                            WHERE user_id=$1 AND id = ANY($2) ORDER BY id FOR UPDATE`, userID, ids)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ClearTx removes checked-out lines; only checkout calls it, inside its transaction.
func ClearTx(ctx context.Context, tx pgx.Tx, userID string, ids []int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1 AND id = ANY($2)`, userID, ids)
	return err
}
