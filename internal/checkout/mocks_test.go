package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-checkout-reconcile/internal/addressbook"
	"github.com/ariefcatur/go-checkout-reconcile/internal/cart"
	"github.com/ariefcatur/go-checkout-reconcile/internal/catalog"
	"github.com/ariefcatur/go-checkout-reconcile/internal/orders"
	"github.com/ariefcatur/go-checkout-reconcile/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

type memState struct {
	products map[int64]catalog.Product
	cart     map[int64]cart.Item
	orders   map[string]orders.Order
}

func (s memState) clone() memState {
	c := memState{
		products: make(map[int64]catalog.Product, len(s.products)),
		cart:     make(map[int64]cart.Item, len(s.cart)),
		orders:   make(map[string]orders.Order, len(s.orders)),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.cart {
		c.cart[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	return c
}

// MemStore runs every transaction against a private copy of the state and
// swaps it in only on success, so a failing fn leaves nothing behind.
// Transactions are serialized, which is what the row locks give in Postgres.
type MemStore struct {
	mu         sync.Mutex
	state      memState
	FailInsert error
}

func NewMemStore(products ...catalog.Product) *MemStore {
	m := &MemStore{state: memState{
		products: map[int64]catalog.Product{},
		cart:     map[int64]cart.Item{},
		orders:   map[string]orders.Order{},
	}}
	for _, p := range products {
		m.state.products[p.ID] = p
	}
	return m
}

func (m *MemStore) AddCartItem(it cart.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.cart[it.ID] = it
}

func (m *MemStore) Product(id int64) catalog.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.products[id]
}

func (m *MemStore) SetPrice(id, price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.state.products[id]
	p.Price = price
	m.state.products[id] = p
}

func (m *MemStore) CartSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.cart)
}

func (m *MemStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.orders)
}

func (m *MemStore) InTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(&memTx{s: &work, failInsert: m.FailInsert}); err != nil {
		return err
	}
	m.state = work
	return nil
}

type memTx struct {
	s          *memState
	failInsert error
}

func (t *memTx) CartItems(_ context.Context, userID string, ids []int64) ([]cart.Item, error) {
	var out []cart.Item
	for _, id := range ids {
		if it, ok := t.s.cart[id]; ok && it.UserID == userID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (t *memTx) Products(_ context.Context, ids []int64) (map[int64]catalog.Product, error) {
	out := map[int64]catalog.Product{}
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) DecrementStock(_ context.Context, productID int64, qty int) error {
	p := t.s.products[productID]
	if p.Stock < qty {
		return fmt.Errorf("%w: product %d", catalog.ErrInsufficientStock, productID)
	}
	p.Stock -= qty
	t.s.products[productID] = p
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *orders.Order) error {
	if t.failInsert != nil {
		return t.failInsert
	}
	if _, dup := t.s.orders[o.ID]; dup {
		return errors.New("duplicate order id")
	}
	t.s.orders[o.ID] = *o
	return nil
}

func (t *memTx) ClearCartItems(_ context.Context, userID string, ids []int64) error {
	for _, id := range ids {
		if it, ok := t.s.cart[id]; ok && it.UserID == userID {
			delete(t.s.cart, id)
		}
	}
	return nil
}

// MockAddressBook knows addresses by id; owner mismatch reads as not found.
type MockAddressBook struct {
	Addresses map[int64]addressbook.Address
}

func (m *MockAddressBook) GetAddress(_ context.Context, userID string, addressID int64) (addressbook.Address, error) {
	a, ok := m.Addresses[addressID]
	if !ok || a.UserID != userID {
		return addressbook.Address{}, addressbook.ErrNotFound
	}
	return a, nil
}

type MockPublisher struct {
	mu     sync.Mutex
	Topics []string
}

func (p *MockPublisher) Publish(topic string, _, _ []byte, _ ...kafkago.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Topics = append(p.Topics, topic)
	return nil
}

func (p *MockPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Topics)
}

func newTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestLocker(rdb *redis.Client) *redisx.Locker {
	return redisx.NewLocker(rdb, 2*time.Second)
}
