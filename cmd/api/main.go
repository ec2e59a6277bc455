package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-checkout-reconcile/internal/addressbook"
	"github.com/ariefcatur/go-checkout-reconcile/internal/cart"
	"github.com/ariefcatur/go-checkout-reconcile/internal/catalog"
	"github.com/ariefcatur/go-checkout-reconcile/internal/checkout"
	"github.com/ariefcatur/go-checkout-reconcile/internal/config"
	"github.com/ariefcatur/go-checkout-reconcile/internal/gateway"
	"github.com/ariefcatur/go-checkout-reconcile/internal/httpx"
	kafkax "github.com/ariefcatur/go-checkout-reconcile/internal/kafka"
	"github.com/ariefcatur/go-checkout-reconcile/internal/logger"
	"github.com/ariefcatur/go-checkout-reconcile/internal/orders"
	"github.com/ariefcatur/go-checkout-reconcile/internal/payments"
	"github.com/ariefcatur/go-checkout-reconcile/internal/postgres"
	"github.com/ariefcatur/go-checkout-reconcile/internal/pricing"
	"github.com/ariefcatur/go-checkout-reconcile/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config")
	}
	log := logger.New(logger.Options{Service: cfg.ServiceName, Env: cfg.AppEnv, Level: cfg.LogLevel})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	if cfg.RunMigrations {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
	}
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

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)
	events := orders.NewEmitter(prod, cfg.ServiceName, log)

	// Repos & services
	products := &catalog.Repo{DB: db}
	carts := cart.NewService(&cart.Repo{DB: db}, products, locks, log)
	co := checkout.NewService(&checkout.PGStore{DB: db}, &addressbook.Repo{DB: db}, locks, events, cache,
		pricing.Tolerance(cfg.PriceTolerance), log)
	machine := orders.NewMachine(&orders.Repo{DB: db}, events, cache, log)
	gw := gateway.New(gateway.Config{BaseURL: cfg.GatewayBaseURL, Timeout: cfg.GatewayTimeout, Secret: cfg.GatewaySecret}, log)
	rec := payments.NewReconciler(&payments.PGStore{DB: db}, gw, locks, events, cache,
		payments.Options{PayFromPending: cfg.PayFromPending}, log)

	router := httpx.NewRouter()
	(&httpx.CartHandler{Cart: carts, Products: products, Log: log}).Register(router)
	(&httpx.OrdersHandler{Checkout: co, Orders: machine, Log: log}).Register(router)
	(&httpx.PaymentsHandler{Payments: rec, Secret: cfg.GatewaySecret, Log: log}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
