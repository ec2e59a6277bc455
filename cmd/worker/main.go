package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-checkout-reconcile/internal/config"
	"github.com/ariefcatur/go-checkout-reconcile/internal/gateway"
	kafkax "github.com/ariefcatur/go-checkout-reconcile/internal/kafka"
	"github.com/ariefcatur/go-checkout-reconcile/internal/logger"
	"github.com/ariefcatur/go-checkout-reconcile/internal/orders"
	"github.com/ariefcatur/go-checkout-reconcile/internal/payments"
	"github.com/ariefcatur/go-checkout-reconcile/internal/postgres"
	"github.com/ariefcatur/go-checkout-reconcile/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// worker runs the background side: auto-confirm of new orders and the
// reconciliation sweep over stale payments.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config")
	}
	log := logger.New(logger.Options{Service: cfg.ServiceName + "-worker", Env: cfg.AppEnv, Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	locks := redisx.NewLocker(rdb, cfg.LockTTL)
	cache := &orders.StatusCache{Redis: rdb}

	// Kafka producer; outlives the run group so late events still flush.
	prodCtx, cancelProd := context.WithCancel(context.Background())
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(prodCtx)
	events := orders.NewEmitter(prod, cfg.ServiceName+"-worker", log)

	machine := orders.NewMachine(&orders.Repo{DB: db}, events, cache, log)
	store := &payments.PGStore{DB: db}
	gw := gateway.New(gateway.Config{BaseURL: cfg.GatewayBaseURL, Timeout: cfg.GatewayTimeout, Secret: cfg.GatewaySecret}, log)
	rec := payments.NewReconciler(store, gw, locks, events, cache,
		payments.Options{PayFromPending: cfg.PayFromPending}, log)
	sweeper := payments.NewSweeper(rec, store, payments.SweeperConfig{
		Interval:   cfg.ReconcileInterval,
		StaleAfter: cfg.ReconcileStaleAfter,
		QPS:        cfg.ReconcileQPS,
		Batch:      cfg.ReconcileBatch,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.AutoConfirm {
		confirmer := &orders.Confirmer{Machine: machine, Redis: rdb, ServiceName: cfg.ServiceName, Log: log}
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, orders.TopicOrderCreated, cfg.WorkerCount, log)
		g.Go(func() error {
			log.Info().Str("group", cfg.WorkerGroup).Str("topic", orders.TopicOrderCreated).
				Int("workers", cfg.WorkerCount).Msg("confirmer started")
			return cons.Start(gctx, confirmer.HandleOrderCreated)
		})
	}
	g.Go(func() error {
		log.Info().Dur("interval", cfg.ReconcileInterval).Dur("stale_after", cfg.ReconcileStaleAfter).Msg("sweeper started")
		return sweeper.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("worker exit")
	}
	log.Info().Msg("shutting down...")
	prod.Close()
	cancelProd()
	prod.WaitClosed()
}
