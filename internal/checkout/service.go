package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-reconcile/internal/addressbook"
	"github.com/ariefcatur/go-checkout-reconcile/internal/cart"
	"github.com/ariefcatur/go-checkout-reconcile/internal/catalog"
	"github.com/ariefcatur/go-checkout-reconcile/internal/orders"
	"github.com/ariefcatur/go-checkout-reconcile/internal/pricing"
	"github.com/ariefcatur/go-checkout-reconcile/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type AddressBook interface {
	GetAddress(ctx context.Context, userID string, addressID int64) (addressbook.Address, error)
}

// Tx is everything checkout touches while holding row locks. All of it
// commits together or not at all.
type Tx interface {
	CartItems(ctx context.Context, userID string, ids []int64) ([]cart.Item, error)
	Products(ctx context.Context, ids []int64) (map[int64]catalog.Product, error)
	DecrementStock(ctx context.Context, productID int64, qty int) error
	InsertOrder(ctx context.Context, o *orders.Order) error
	ClearCartItems(ctx context.Context, userID string, ids []int64) error
}

type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}

type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type Service struct {
	store     Store
	addresses AddressBook
	locks     Locker
	events    *orders.Emitter
	cache     *orders.StatusCache
	tolerance pricing.Tolerance
	now       func() time.Time
	newID     func() string
	log       zerolog.Logger
}

func NewService(store Store, addresses AddressBook, locks Locker, events *orders.Emitter, cache *orders.StatusCache,
	tolerance pricing.Tolerance, log zerolog.Logger) *Service {
	return &Service{
		store:     store,
		addresses: addresses,
		locks:     locks,
		events:    events,
		cache:     cache,
		tolerance: tolerance,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       log.With().Str("component", "checkout").Logger(),
	}
}

// Checkout turns the selected cart lines into a pending order. Price and stock
// are re-read under row locks; stock decrement, order insert and cart cleanup
// commit as one transaction.
func (s *Service) Checkout(ctx context.Context, req Request) (*orders.Order, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	if _, err := s.addresses.GetAddress(ctx, req.UserID, req.AddressID); err != nil {
		if errors.Is(err, addressbook.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrInvalidAddress, req.AddressID)
		}
		return nil, fmt.Errorf("load address: %w", err)
	}

	ids := uniqueIDs(req.CartItemIDs)
	if len(ids) == 0 {
		return nil, ErrEmptyCheckout
	}

	release, err := s.locks.Acquire(ctx, cart.LockKey(req.UserID))
	if err != nil {
		return nil, err
	}
	defer release()

	var order *orders.Order
	err = s.store.InTx(ctx, func(tx Tx) error {
		items, err := tx.CartItems(ctx, req.UserID, ids)
		if err != nil {
			return fmt.Errorf("load cart items: %w", err)
		}
		if len(items) == 0 {
			return ErrEmptyCheckout
		}
		if len(items) != len(ids) {
			return fmt.Errorf("%w: %d of %d selected lines left", ErrCartChanged, len(items), len(ids))
		}
		items = inRequestOrder(items, ids)

		productIDs := make([]int64, 0, len(items))
		for _, it := range items {
			productIDs = append(productIDs, it.ProductID)
		}
		products, err := tx.Products(ctx, productIDs)
		if err != nil {
			return fmt.Errorf("lock products: %w", err)
		}

		lines, currency, err := s.priceLines(items, products)
		if err != nil {
			return err
		}
		o, err := s.buildOrder(req, lines, currency)
		if err != nil {
			return err
		}

		for _, l := range o.Items {
			if err := tx.DecrementStock(ctx, l.ProductID, l.Quantity); err != nil {
				return err
			}
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.ClearCartItems(ctx, req.UserID, ids); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		s.log.Info().Err(err).Str("user_id", req.UserID).Msg("checkout rejected")
		return nil, err
	}

	s.cache.Set(ctx, orders.StatusView{OrderID: order.ID, Status: order.Status, Version: order.Version})
	s.events.OrderCreated(order)
	s.log.Info().Str("order_id", order.ID).Str("user_id", order.UserID).
		Int64("final_amount", order.FinalAmount).Int("lines", len(order.Items)).Msg("order created")
	return order, nil
}

// priceLines re-validates every line against the locked catalog rows.
func (s *Service) priceLines(items []cart.Item, products map[int64]catalog.Product) ([]orders.OrderItem, string, error) {
	now := s.now()
	lines := make([]orders.OrderItem, 0, len(items))
	var changes []PriceChange
	currency := ""

	for i, it := range items {
		p, ok := products[it.ProductID]
		if !ok || !p.IsActive {
			return nil, "", fmt.Errorf("%w: product %d", ErrProductUnavailable, it.ProductID)
		}
		live := p.PriceFact(now)
		if currency == "" {
			currency = live.Currency
		} else if live.Currency != currency {
			return nil, "", fmt.Errorf("%w: mixed currencies %s and %s", ErrInvalidAmount, currency, live.Currency)
		}
		if s.tolerance.Drifted(it.Price, live) {
			changes = append(changes, PriceChange{
				CartItemID: it.ID, ProductID: it.ProductID, CartPrice: it.Price.Amount, LivePrice: live.Amount,
			})
			continue
		}
		if p.Stock < it.Quantity {
			return nil, "", fmt.Errorf("%w: product %d has %d, need %d", ErrInsufficientStock, p.ID, p.Stock, it.Quantity)
		}
		lines = append(lines, orders.OrderItem{
			LineNo:          i + 1,
			ProductID:       it.ProductID,
			Quantity:        it.Quantity,
			UnitPrice:       live.Amount,
			Attributes:      it.Attributes,
			PriceCapturedAt: live.CapturedAt,
		})
	}
	if len(changes) > 0 {
		return nil, "", &PriceChangedError{Changes: changes}
	}
	return lines, currency, nil
}

func (s *Service) buildOrder(req Request, lines []orders.OrderItem, currency string) (*orders.Order, error) {
	total, final := Totals(lines, req.ShippingAmount, req.DiscountAmount)
	if final < 0 {
		return nil, fmt.Errorf("%w: final amount %d < 0", ErrInvalidAmount, final)
	}
	o := &orders.Order{
		ID:             s.newID(),
		UserID:         req.UserID,
		AddressID:      req.AddressID,
		Items:          lines,
		TotalAmount:    total,
		ShippingAmount: req.ShippingAmount,
		DiscountAmount: req.DiscountAmount,
		FinalAmount:    final,
		Currency:       currency,
		Status:         orders.StatusPending,
		Remark:         req.Remark,
		Version:        1,
	}
	for i := range o.Items {
		o.Items[i].OrderID = o.ID
	}
	if err := o.CheckAmounts(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return o, nil
}

// Totals: total = sum(unit price x qty); final = total + shipping - discount.
func Totals(lines []orders.OrderItem, shipping, discount int64) (total, final int64) {
	for _, l := range lines {
		total += l.UnitPrice * int64(l.Quantity)
	}
	return total, total + shipping - discount
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func inRequestOrder(items []cart.Item, ids []int64) []cart.Item {
	byID := make(map[int64]cart.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	out := make([]cart.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out
}
