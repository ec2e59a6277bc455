package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-reconcile/internal/catalog"
	"github.com/ariefcatur/go-checkout-reconcile/internal/pricing"
	"github.com/ariefcatur/go-checkout-reconcile/internal/redisx"
	"github.com/ariefcatur/go-checkout-reconcile/internal/validation"
	"github.com/rs/zerolog"
)

type Catalog interface {
	GetProduct(ctx context.Context, id int64) (catalog.Product, error)
}

type Store interface {
	// Upsert inserts it or, when the (user, product) row exists, adds
	// it.Quantity to the stored quantity and keeps the stored price fact.
	Upsert(ctx context.Context, it Item) (Item, error)
	UpdateQuantity(ctx context.Context, userID string, productID int64, qty int) (Item, error)
	// UpdatePrice replaces the line's price fact; quantity and attributes stay.
	UpdatePrice(ctx context.Context, userID string, productID int64, price pricing.Fact) (Item, error)
	Remove(ctx context.Context, userID string, productID int64) error
	List(ctx context.Context, userID string) ([]Item, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type Service struct {
	store   Store
	catalog Catalog
	locks   Locker
	now     func() time.Time
	log     zerolog.Logger
}

func NewService(store Store, cat Catalog, locks Locker, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		catalog: cat,
		locks:   locks,
		now:     time.Now,
		log:     log.With().Str("component", "cart").Logger(),
	}
}

// LockKey is the per-user critical section shared with checkout.
func LockKey(userID string) string { return fmt.Sprintf(redisx.KeyLockCart, userID) }

func (s *Service) AddItem(ctx context.Context, in AddItemInput) (Item, error) {
	if err := validation.Struct(in); err != nil {
		return Item{}, err
	}

	p, err := s.catalog.GetProduct(ctx, in.ProductID)
	if errors.Is(err, catalog.ErrNotFound) {
		return Item{}, fmt.Errorf("%w: product %d", ErrProductUnavailable, in.ProductID)
	}
	if err != nil {
		return Item{}, fmt.Errorf("get product: %w", err)
	}
	if !p.Sellable() {
		return Item{}, fmt.Errorf("%w: product %d inactive or sold out", ErrProductUnavailable, in.ProductID)
	}

	release, err := s.locks.Acquire(ctx, LockKey(in.UserID))
	if err != nil {
		return Item{}, err
	}
	defer release()

	it, err := s.store.Upsert(ctx, Item{
		UserID:     in.UserID,
		ProductID:  in.ProductID,
		Quantity:   in.Quantity,
		Attributes: in.Attributes,
		Price:      p.PriceFact(s.now()),
	})
	if err != nil {
		return Item{}, fmt.Errorf("upsert cart item: %w", err)
	}
	s.log.Debug().Str("user_id", in.UserID).Int64("product_id", in.ProductID).Int("quantity", it.Quantity).Msg("cart item added")
	return it, nil
}

func (s *Service) UpdateQuantity(ctx context.Context, in UpdateQuantityInput) (Item, error) {
	if err := validation.Struct(in); err != nil {
		return Item{}, err
	}
	release, err := s.locks.Acquire(ctx, LockKey(in.UserID))
	if err != nil {
		return Item{}, err
	}
	defer release()

	return s.store.UpdateQuantity(ctx, in.UserID, in.ProductID, in.Quantity)
}

// Reconfirm accepts the current catalog price for a line whose snapshot has
// drifted. It is the caller's explicit answer to a PriceChanged checkout.
func (s *Service) Reconfirm(ctx context.Context, userID string, productID int64) (Item, error) {
	if userID == "" || productID <= 0 {
		return Item{}, fmt.Errorf("%w: user and product are required", validation.ErrInvalid)
	}
	p, err := s.catalog.GetProduct(ctx, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		return Item{}, fmt.Errorf("%w: product %d", ErrProductUnavailable, productID)
	}
	if err != nil {
		return Item{}, fmt.Errorf("get product: %w", err)
	}
	if !p.IsActive {
		return Item{}, fmt.Errorf("%w: product %d inactive", ErrProductUnavailable, productID)
	}

	release, err := s.locks.Acquire(ctx, LockKey(userID))
	if err != nil {
		return Item{}, err
	}
	defer release()

	it, err := s.store.UpdatePrice(ctx, userID, productID, p.PriceFact(s.now()))
	if err != nil {
		return Item{}, err
	}
	s.log.Info().Str("user_id", userID).Int64("product_id", productID).Int64("price", it.Price.Amount).Msg("cart price reconfirmed")
	return it, nil
}

func (s *Service) RemoveItem(ctx context.Context, userID string, productID int64) error {
	if userID == "" || productID <= 0 {
		return fmt.Errorf("%w: user and product are required", validation.ErrInvalid)
	}
	release, err := s.locks.Acquire(ctx, LockKey(userID))
	if err != nil {
		return err
	}
	defer release()

	return s.store.Remove(ctx, userID, productID)
}

func (s *Service) List(ctx context.Context, userID string) ([]Item, error) {
	return s.store.List(ctx, userID)
}
