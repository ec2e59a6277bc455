package checkout

import (
	"context"

	"github.com/ariefcatur/go-checkout-reconcile/internal/cart"
	"github.com/ariefcatur/go-checkout-reconcile/internal/catalog"
	"github.com/ariefcatur/go-checkout-reconcile/internal/orders"
	"github.com/ariefcatur/go-checkout-reconcile/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore runs a checkout inside one Postgres transaction. Cart lines are
// locked before products; products are locked in id order.
type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return postgres.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		return fn(pgTx{tx: tx})
	})
}

type pgTx struct{ tx pgx.Tx }

func (t pgTx) CartItems(ctx context.Context, userID string, ids []int64) ([]cart.Item, error) {
	return cart.LockItemsTx(ctx, t.tx, userID, ids)
}

func (t pgTx) Products(ctx context.Context, ids []int64) (map[int64]catalog.Product, error) {
	return catalog.LockProductsTx(ctx, t.tx, ids)
}

func (t pgTx) DecrementStock(ctx context.Context, productID int64, qty int) error {
	return catalog.DecrementStockTx(ctx, t.tx, productID, qty)
}

func (t pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	return orders.InsertTx(ctx, t.tx, o)
}

func (t pgTx) ClearCartItems(ctx context.Context, userID string, ids []int64) error {
	return cart.ClearTx(ctx, t.tx, userID, ids)
}
