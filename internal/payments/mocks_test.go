package payments

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-checkout-reconcile/internal/orders"
	"github.com/ariefcatur/go-checkout-reconcile/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

type memState struct {
	payments map[string]Payment // by out_trade_no
	orders   map[string]orders.Order
	faults   []Fault
}

func (s memState) clone() memState {
	c := memState{
		payments: make(map[string]Payment, len(s.payments)),
		orders:   make(map[string]orders.Order, len(s.orders)),
		faults:   append([]Fault(nil), s.faults...),
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	return c
}

// MemStore applies each transaction to a copy and keeps it only on success.
type MemStore struct {
	mu    sync.Mutex
	state memState
	now   func() time.Time
}

func NewMemStore(os ...orders.Order) *MemStore {
	m := &MemStore{
		state: memState{payments: map[string]Payment{}, orders: map[string]orders.Order{}},
		now:   time.Now,
	}
	for _, o := range os {
		m.state.orders[o.ID] = o
	}
	return m
}

func (m *MemStore) Order(id string) orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.orders[id]
}

func (m *MemStore) SetOrderStatus(id string, s orders.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.state.orders[id]
	o.Status = s
	o.Version++
	m.state.orders[id] = o
}

func (m *MemStore) Payment(outTradeNo string) Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.payments[outTradeNo]
}

func (m *MemStore) PutPayment(p Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.payments[p.OutTradeNo] = p
}

func (m *MemStore) PaymentsFor(orderID string) []Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.state.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out
}

func (m *MemStore) FaultList() []Fault {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Fault(nil), m.state.faults...)
}

func (m *MemStore) InTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(&memTx{s: &work, now: m.now}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemStore) Get(_ context.Context, outTradeNo string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.payments[outTradeNo]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", outTradeNo, ErrUnknownPayment)
	}
	return &p, nil
}

func (m *MemStore) ListStale(_ context.Context, olderThan time.Time, limit int) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.state.payments {
		if !p.TradeState.IsTerminal() && p.UpdatedAt.Before(olderThan) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) ListFaults(_ context.Context, limit int) ([]Fault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Fault
	for i := len(m.state.faults) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.state.faults[i])
	}
	return out, nil
}

type memTx struct {
	s   *memState
	now func() time.Time
}

func (t *memTx) PaymentForUpdate(_ context.Context, outTradeNo string) (*Payment, error) {
	p, ok := t.s.payments[outTradeNo]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", outTradeNo, ErrUnknownPayment)
	}
	return &p, nil
}

func (t *memTx) HasOpenPayment(_ context.Context, orderID string) (bool, error) {
	for _, p := range t.s.payments {
		if p.OrderID == orderID && !p.TradeState.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertPayment(_ context.Context, p *Payment) error {
	if _, dup := t.s.payments[p.OutTradeNo]; dup {
		return fmt.Errorf("duplicate out_trade_no %s", p.OutTradeNo)
	}
	p.CreatedAt, p.UpdatedAt = t.now(), t.now()
	t.s.payments[p.OutTradeNo] = *p
	return nil
}

func (t *memTx) UpdatePayment(_ context.Context, p *Payment) error {
	if p.TradeState == StateSuccess {
		for _, other := range t.s.payments {
			if other.OrderID == p.OrderID && other.ID != p.ID && other.TradeState == StateSuccess {
				return fmt.Errorf("second successful payment for order %s", p.OrderID)
			}
		}
	}
	p.UpdatedAt = t.now()
	t.s.payments[p.OutTradeNo] = *p
	return nil
}

func (t *memTx) OrderForUpdate(_ context.Context, orderID string) (*orders.Order, error) {
	o, ok := t.s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("lock order %s: %w", orderID, orders.ErrNotFound)
	}
	return &o, nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, o *orders.Order, to orders.Status) error {
	cur := t.s.orders[o.ID]
	if cur.Version != o.Version || cur.Status != o.Status {
		return orders.ErrVersionConflict
	}
	cur.Status = to
	cur.Version++
	t.s.orders[o.ID] = cur
	o.Status, o.Version = cur.Status, cur.Version
	return nil
}

func (t *memTx) RecordFault(_ context.Context, f *Fault) error {
	f.ID = int64(len(t.s.faults) + 1)
	t.s.faults = append(t.s.faults, *f)
	return nil
}

func (t *memTx) HasFault(_ context.Context, outTradeNo string, kind FaultKind, match map[string]any) (bool, error) {
	for _, f := range t.s.faults {
		if f.OutTradeNo != outTradeNo || f.Kind != kind {
			continue
		}
		all := true
		for k, v := range match {
			got, ok := f.Detail[k]
			if !ok || fmt.Sprint(got) != fmt.Sprint(v) {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

// MockGateway answers from scripted results and counts calls.
type MockGateway struct {
	mu         sync.Mutex
	IntentErr  error
	Statuses   map[string]GatewayStatus
	QueryErr   error
	Intents    []IntentParams
	QueryCalls int
}

func (g *MockGateway) CreateIntent(_ context.Context, p IntentParams) (map[string]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Intents = append(g.Intents, p)
	if g.IntentErr != nil {
		return nil, g.IntentErr
	}
	return map[string]string{"prepay_id": "wx" + p.OutTradeNo}, nil
}

func (g *MockGateway) QueryStatus(_ context.Context, outTradeNo string) (GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.QueryCalls++
	if g.QueryErr != nil {
		return GatewayStatus{}, g.QueryErr
	}
	st, ok := g.Statuses[outTradeNo]
	if !ok {
		return GatewayStatus{}, ErrTradeNotFound
	}
	return st, nil
}

func (g *MockGateway) Queries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.QueryCalls
}

// MockPublisher records event types from the envelope header.
type MockPublisher struct {
	mu     sync.Mutex
	Events []string
}

func (p *MockPublisher) Publish(_ string, _, _ []byte, headers ...kafkago.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range headers {
		if h.Key == "x-event-type" {
			p.Events = append(p.Events, string(h.Value))
		}
	}
	return nil
}

func (p *MockPublisher) Count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.Events {
		if e == eventType {
			n++
		}
	}
	return n
}

func newTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestLocker(rdb *redis.Client) *redisx.Locker {
	return redisx.NewLocker(rdb, 5*time.Second)
}
