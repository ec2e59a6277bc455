package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

type Store interface {
	Get(ctx context.Context, id string) (*Order, error)
	GetStatus(ctx context.Context, id string) (Status, int, error)
	UpdateStatus(ctx context.Context, o *Order, to Status) error
}

// Machine applies lifecycle events that are not payment-driven. The
// confirmed->paid edge belongs to the payment reconciler, which runs it in the
// same transaction as the payment row update.
type Machine struct {
	store  Store
	events *Emitter
	cache  *StatusCache
	log    zerolog.Logger
}

func NewMachine(store Store, events *Emitter, cache *StatusCache, log zerolog.Logger) *Machine {
	return &Machine{store: store, events: events, cache: cache, log: log.With().Str("component", "order-machine").Logger()}
}

func (m *Machine) Transition(ctx context.Context, orderID string, ev Event) (*Order, error) {
	if ev == EventPay {
		return nil, fmt.Errorf("%w: %s is applied by payment reconciliation only", ErrInvalidTransition, ev)
	}
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	from := o.Status
	to, ok := Next(from, ev)
	if !ok {
		return nil, fmt.Errorf("%w: %s not allowed from %s", ErrInvalidTransition, ev, from)
	}
	if err := m.store.UpdateStatus(ctx, o, to); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// someone else committed first; never retry on their behalf
			return nil, fmt.Errorf("%w: %s from %s lost to a concurrent update", ErrInvalidTransition, ev, from)
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}

	m.cache.Set(ctx, StatusView{OrderID: o.ID, Status: o.Status, Version: o.Version})
	m.events.StatusChanged(o, from, ev)
	m.log.Info().Str("order_id", o.ID).Str("from", string(from)).Str("to", string(to)).Str("event", string(ev)).Msg("order transitioned")
	return o, nil
}

func (m *Machine) Get(ctx context.Context, orderID string) (*Order, error) {
	return m.store.Get(ctx, orderID)
}

// View serves the status from cache, falling back to the database.
func (m *Machine) View(ctx context.Context, orderID string) (StatusView, error) {
	if v, ok := m.cache.Get(ctx, orderID); ok {
		return v, nil
	}
	s, version, err := m.store.GetStatus(ctx, orderID)
	if err != nil {
		return StatusView{}, err
	}
	v := StatusView{OrderID: orderID, Status: s, Version: version}
	m.cache.Set(ctx, v)
	return v, nil
}
