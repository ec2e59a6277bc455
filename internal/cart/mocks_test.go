package cart

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-checkout-reconcile/internal/catalog"
	"github.com/ariefcatur/go-checkout-reconcile/internal/pricing"
	"github.com/ariefcatur/go-checkout-reconcile/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// MockStore is an in-memory Store keyed by (user, product).
type MockStore struct {
	mu     sync.Mutex
	nextID int64
	items  map[string]Item
}

func NewMockStore() *MockStore { return &MockStore{items: map[string]Item{}} }

func key(userID string, productID int64) string { return fmt.Sprintf("%s/%d", userID, productID) }

func (m *MockStore) Upsert(_ context.Context, it Item) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(it.UserID, it.ProductID)
	if cur, ok := m.items[k]; ok {
		cur.Quantity += it.Quantity
		cur.Attributes = it.Attributes
		cur.UpdatedAt = time.Now()
		m.items[k] = cur
		return cur, nil
	}
	m.nextID++
	it.ID = m.nextID
	it.CreatedAt, it.UpdatedAt = time.Now(), time.Now()
	m.items[k] = it
	return it, nil
}

func (m *MockStore) UpdateQuantity(_ context.Context, userID string, productID int64, qty int) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[key(userID, productID)]
	if !ok {
		return Item{}, ErrNotFound
	}
	cur.Quantity = qty
	m.items[key(userID, productID)] = cur
	return cur, nil
}

func (m *MockStore) UpdatePrice(_ context.Context, userID string, productID int64, price pricing.Fact) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[key(userID, productID)]
	if !ok {
		return Item{}, ErrNotFound
	}
	cur.Price = price
	m.items[key(userID, productID)] = cur
	return cur, nil
}

func (m *MockStore) Remove(_ context.Context, userID string, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key(userID, productID)]; !ok {
		return ErrNotFound
	}
	delete(m.items, key(userID, productID))
	return nil
}

func (m *MockStore) List(_ context.Context, userID string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for _, it := range m.items {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	return out, nil
}

// MockCatalog serves products from a map.
type MockCatalog struct {
	mu       sync.Mutex
	Products map[int64]catalog.Product
}

func (m *MockCatalog) GetProduct(_ context.Context, id int64) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

func (m *MockCatalog) SetPrice(id, price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.Products[id]
	p.Price = price
	m.Products[id] = p
}

func newTestLocker(t *testing.T) *redisx.Locker {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisx.NewLocker(client, 2*time.Second)
}
