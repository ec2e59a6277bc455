package orders

import (
	"context"
	"sync"

	kafkago "github.com/segmentio/kafka-go"
)

// MockStore keeps orders in memory and applies the same version CAS as Repo.
type MockStore struct {
	mu     sync.Mutex
	orders map[string]Order
}

func NewMockStore(os ...Order) *MockStore {
	m := &MockStore{orders: map[string]Order{}}
	for _, o := range os {
		m.orders[o.ID] = o
	}
	return m
}

func (m *MockStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *MockStore) GetStatus(ctx context.Context, id string) (Status, int, error) {
	o, err := m.Get(ctx, id)
	if err != nil {
		return "", 0, err
	}
	return o.Status, o.Version, nil
}

func (m *MockStore) UpdateStatus(_ context.Context, o *Order, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.orders[o.ID]
	if cur.Version != o.Version || cur.Status != o.Status {
		return ErrVersionConflict
	}
	cur.Status = to
	cur.Version++
	m.orders[o.ID] = cur
	o.Status, o.Version = cur.Status, cur.Version
	return nil
}

type published struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers []kafkago.Header
}

// MockPublisher records every message.
type MockPublisher struct {
	mu   sync.Mutex
	Msgs []published
}

func (p *MockPublisher) Publish(topic string, key, value []byte, headers ...kafkago.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Msgs = append(p.Msgs, published{Topic: topic, Key: key, Value: value, Headers: headers})
	return nil
}
