package payments

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type SweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	QPS        float64
	Batch      int
	MaxBackoff time.Duration
}

// Sweeper is the active side of reconciliation: it queries the gateway for
// payments still open after StaleAfter, because a missing callback never
// means "not paid".
type Sweeper struct {
	rec     *Reconciler
	store   Store
	cfg     SweeperConfig
	limiter *rate.Limiter
	now     func() time.Time
	log     zerolog.Logger
}

func NewSweeper(rec *Reconciler, store Store, cfg SweeperConfig, log zerolog.Logger) *Sweeper {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 8 * cfg.Interval
	}
	return &Sweeper{
		rec:     rec,
		store:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.QPS), 1),
		now:     time.Now,
		log:     log.With().Str("component", "payment-sweeper").Logger(),
	}
}

// Run sweeps every Interval until ctx ends. A round that hits an unavailable
// gateway doubles the wait, up to MaxBackoff.
func (s *Sweeper) Run(ctx context.Context) error {
	wait := s.cfg.Interval
	for {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}

		n, err := s.Sweep(ctx)
		switch {
		case errors.Is(err, ErrGatewayUnavailable):
			wait = min(wait*2, s.cfg.MaxBackoff)
			s.log.Warn().Err(err).Int("resolved", n).Dur("next_in", wait).Msg("gateway unavailable, backing off")
		case err != nil && ctx.Err() == nil:
			wait = s.cfg.Interval
			s.log.Error().Err(err).Msg("sweep round failed")
		default:
			wait = s.cfg.Interval
			if n > 0 {
				s.log.Info().Int("queried", n).Msg("sweep round done")
			}
		}
	}
}

// Sweep runs one round and returns how many payments were queried.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stale, err := s.store.ListStale(ctx, s.now().Add(-s.cfg.StaleAfter), s.cfg.Batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range stale {
		if err := s.limiter.Wait(ctx); err != nil {
			return n, err
		}
		st, err := s.rec.QueryPaymentStatus(ctx, p.OutTradeNo)
		if errors.Is(err, ErrGatewayUnavailable) {
			return n, err
		}
		n++
		if err != nil {
			s.log.Warn().Err(err).Str("out_trade_no", p.OutTradeNo).Msg("query payment")
			continue
		}
		if st.TradeState != p.TradeState {
			s.log.Info().Str("out_trade_no", p.OutTradeNo).Str("from", string(p.TradeState)).
				Str("to", string(st.TradeState)).Msg("payment resolved by query")
		}
	}
	return n, nil
}
