package kafka

import (
	"context"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"sync"
	"time"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r          *kafka.Reader
	workers    int
	backoff    time.Duration
	maxBackoff time.Duration
	log        zerolog.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:          r,
		workers:    workers,
		backoff:    200 * time.Millisecond,
		maxBackoff: 5 * time.Second,
		log:        log.With().Str("component", "kafka-consumer").Str("topic", topic).Str("group", group).Logger(),
	}
}

// Start blocks until ctx ends or the reader fails. Each partition is owned by
// one worker, so offsets are committed in order. A failing message is retried
// in place until it succeeds; nothing after it on that partition is committed
// first, and a message still failing at shutdown is redelivered on restart.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if err := c.handle(ctx, h, m); err != nil {
					return // ctx ended; offset stays uncommitted
				}
				if err := c.r.CommitMessages(ctx, m); err != nil {
					c.log.Error().Err(err).Int("worker", id).Int64("offset", m.Offset).Msg("commit offset")
				}
			}
		}(i, jobs[i])
	}
	closeAll := func() {
		for _, ch := range jobs {
			close(ch)
		}
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			closeAll()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case jobs[c.workerFor(m.Partition)] <- m:
		case <-ctx.Done():
			closeAll()
			return nil
		}
	}
}

func (c *Consumer) workerFor(partition int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % c.workers
}

// handle runs h until it returns nil, backing off between attempts. It only
// gives up when ctx ends.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return nil
		}
		c.log.Error().Err(err).Int("attempt", attempt).Int("partition", m.Partition).Int64("offset", m.Offset).
			Dur("retry_in", wait).Msg("handle message")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait = min(wait*2, c.maxBackoff)
	}
}
