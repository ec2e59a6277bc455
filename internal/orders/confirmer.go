package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	kafkax "github.com/ariefcatur/go-checkout-reconcile/internal/kafka"
	"github.com/ariefcatur/go-checkout-reconcile/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

// Confirmer performs automatic confirmation (pending -> confirmed) for every
// OrderCreated event. Dipasang sebagai handler consumer.
type Confirmer struct {
	Machine     *Machine
	Redis       *redis.Client
	ServiceName string
	Log         zerolog.Logger
}

func (c *Confirmer) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		c.Log.Error().Err(err).Int64("offset", m.Offset).Msg("drop undecodable envelope")
		return nil
	}
	if env.EventType != EventOrderCreated {
		return nil // ignore
	}

	// 2) dedup via Redis (pakai event_id)
	dkey := fmt.Sprintf(redisx.KeyDedup, c.ServiceName, env.EventID)
	first, err := redisx.MarkOnce(ctx, c.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	if !first {
		return nil
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[OrderCreatedPayload](env.Payload)
	if err != nil {
		c.Log.Error().Err(err).Str("event_id", env.EventID).Msg("drop undecodable payload")
		return nil
	}

	_, err = c.Machine.Transition(ctx, p.OrderID, EventConfirm)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotFound):
		// sudah di-confirm / cancel duluan: tidak perlu retry
		c.Log.Info().Err(err).Str("order_id", p.OrderID).Msg("auto-confirm skipped")
		return nil
	default:
		// lepas dedup key supaya retry berikutnya bisa proses ulang
		_ = c.Redis.Del(ctx, dkey).Err()
		return err
	}
}
