package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	accountapp "github.com/dmehra2102/sweet-shop/internal/account/application"
	accounthttp "github.com/dmehra2102/sweet-shop/internal/account/infrastructure/http"
	accountpg "github.com/dmehra2102/sweet-shop/internal/account/infrastructure/postgres"
	catalogapp "github.com/dmehra2102/sweet-shop/internal/catalog/application"
	catalogpg "github.com/dmehra2102/sweet-shop/internal/catalog/infrastructure/postgres"
	orderapp "github.com/dmehra2102/sweet-shop/internal/order/application"
	orderkafka "github.com/dmehra2102/sweet-shop/internal/order/infrastructure/kafka"
	orderpg "github.com/dmehra2102/sweet-shop/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/sweet-shop/internal/server"
	"github.com/dmehra2102/sweet-shop/internal/storage/memory"
	"github.com/dmehra2102/sweet-shop/pkg/config"
	"github.com/dmehra2102/sweet-shop/pkg/health"
	"github.com/dmehra2102/sweet-shop/pkg/idempotency"
	"github.com/dmehra2102/sweet-shop/pkg/logging"
	"github.com/dmehra2102/sweet-shop/pkg/outbox"
	"github.com/dmehra2102/sweet-shop/pkg/password"
	"github.com/dmehra2102/sweet-shop/pkg/pgstore"
	"github.com/dmehra2102/sweet-shop/pkg/shutdown"
	"github.com/dmehra2102/sweet-shop/pkg/token"
	"github.com/dmehra2102/sweet-shop/pkg/tracing"
)

// stores is the storage backend chosen by STORAGE.
type stores struct {
	accounts accountapp.AccountRepository
	items    catalogapp.ItemRepository
	orders   orderapp.Store
	outbox   outbox.Store
	ping     health.Pinger
	close    func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("storefront exited with error", "err", err)
		os.Exit(1)
	}
	log.Info("storefront shutdown complete")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := shutdown.WithSignals(context.Background(), log)
	defer cancel()

	tp, err := tracing.Init(ctx, "storefront", cfg.OTelEndpoint, log)
	if err != nil {
		return fmt.Errorf("otel init: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		_ = tp.Shutdown(flushCtx)
	}()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	deps := map[string]health.Pinger{"store": st.ping}

	var idem idempotency.Checker = idempotency.NewLocalStore(cfg.IdempotencyTTL)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		idem = idempotency.NewStore(rdb, cfg.IdempotencyTTL)
		deps["redis"] = health.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		log.Info("idempotency backed by redis", "addr", cfg.RedisAddr)
	}

	hasher := password.NewHasher(cfg.BcryptCost)
	access := token.NewMaker(cfg.AccessTokenSecret, cfg.TokenIssuer, cfg.TokenAudience, cfg.AccessTokenTTL)
	refresh := token.NewMaker(cfg.RefreshTokenSecret, cfg.TokenIssuer, cfg.TokenAudience, cfg.RefreshTokenTTL)

	accounts := accountapp.NewService(log, st.accounts, hasher, access, refresh)
	catalog := catalogapp.NewService(log, st.items)
	orders := orderapp.NewService(log, st.orders)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(server.Deps{
			Log:         log,
			Accounts:    accounts,
			Catalog:     catalog,
			Orders:      orders,
			Idempotency: idem,
			Cookies: accounthttp.CookieOptions{
				Secure:        cfg.CookieSecure,
				AccessMaxAge:  cfg.AccessTokenTTL,
				RefreshMaxAge: cfg.RefreshCookieMaxAge,
			},
			CORSOrigins: cfg.CORSOrigins,
			Health:      deps,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	hs, err := health.Listen(cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		writer := orderkafka.NewWriter(brokers)
		defer writer.Close()
		dispatch := outbox.NewDispatcher(log, writer, cfg.OrderEventsTopic)
		relay := outbox.NewRelay(log, st.outbox, dispatch, relayID())
		g.Go(func() error { return relay.Run(gctx) })

		reader := orderkafka.NewReader(brokers, cfg.PaymentEventsTopic, cfg.PaymentConsumerGroup)
		consumer := orderkafka.NewPaymentConsumer(log, reader, orders, idem)
		g.Go(func() error { return consumer.Run(gctx) })
	} else {
		log.Warn("KAFKA_ADDR not set, order events stay in the outbox")
	}

	g.Go(func() error {
		log.Info("grpc health listening", "addr", hs.Addr())
		return hs.Serve()
	})
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	hs.SetServing(true)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("draining", "timeout", shutdown.DrainTimeout)
		drainCtx, drainCancel := shutdown.Drain(ctx)
		defer drainCancel()

		hs.SetServing(false)
		err := srv.Shutdown(drainCtx)
		hs.Stop(drainCtx)
		return err
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (stores, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("using in-memory storage, data is lost on exit")
		mem := memory.New()
		return stores{
			accounts: mem.Accounts(),
			items:    mem.Items(),
			orders:   mem.Orders(),
			outbox:   mem.Outbox(),
			ping:     mem,
			close:    func() {},
		}, nil
	}

	if err := pgstore.Migrate(cfg.PGURL); err != nil {
		return stores{}, err
	}
	db, err := pgstore.Open(ctx, cfg.PGURL, pgstore.Options{
		MaxConns: cfg.PGMaxConns,
		MinConns: cfg.PGMinConns,
		Timeout:  cfg.StoreTimeout,
	})
	if err != nil {
		return stores{}, fmt.Errorf("pg connect: %w", err)
	}
	log.Info("postgres connected", "max_conns", cfg.PGMaxConns)
	return stores{
		accounts: accountpg.NewRepository(log, db),
		items:    catalogpg.NewRepository(log, db),
		orders:   orderpg.NewRepository(log, db),
		outbox:   orderpg.NewOutboxStore(log, db),
		ping:     db,
		close:    db.Close,
	}, nil
}

func relayID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "storefront"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
