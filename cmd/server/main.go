package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/aidencstop/fantasy-league-engine/internal/api"
	"github.com/aidencstop/fantasy-league-engine/internal/config"
	"github.com/aidencstop/fantasy-league-engine/internal/league"
	"github.com/aidencstop/fantasy-league-engine/internal/metrics"
	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/pricing"
	"github.com/aidencstop/fantasy-league-engine/internal/store"
	"github.com/aidencstop/fantasy-league-engine/internal/stream"
	"github.com/aidencstop/fantasy-league-engine/internal/trade"
	"github.com/aidencstop/fantasy-league-engine/internal/valuation"
)

func main() {
	configPath := flag.String("config", os.Getenv("LEAGUE_CONFIG"), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg))
	slog.Info("config loaded", "config", config.RedactedConfig(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("league-engine exited", "err", err)
		os.Exit(1)
	}
	fmt.Println("league-engine stopped")
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if active, err := st.ListLeagues(ctx, model.LeagueActive); err == nil {
		metrics.ActiveLeagues.Set(float64(len(active)))
	}

	// --- Engines ---
	hub := stream.NewHub(cfg.Server.CORSOrigins)
	book := pricing.NewBook(st)
	val := valuation.NewEngine(st, book, cfg.Valuation.Workers)
	tradeEngine := trade.NewEngine(st, hub)
	lifecycle := league.NewLifecycle(st, val, hub)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewServer(book, tradeEngine, val, lifecycle, hub).Router(api.RouterOptions{
			RequestTimeout: cfg.Server.RequestTimeout.Duration,
			CORSOrigins:    cfg.Server.CORSOrigins,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("league-engine listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down league-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore returns PostgreSQL (optionally behind Redis) when a DSN is
// configured, the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.Postgres.DSN == "" {
		slog.Warn("postgres.dsn not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}

	pool, err := store.Connect(ctx, cfg.Postgres.DSN, store.PoolOptions{
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup = append(cleanup, pool.Close)
	slog.Info("connected to PostgreSQL")

	if cfg.Postgres.RunMigrations {
		if err := store.RunMigrations(ctx, pool); err != nil {
			closeAll()
			return nil, nil, err
		}
	}

	var st store.Store = store.NewPostgresStore(pool)

	// Wrap with Redis read-through cache if configured.
	if cfg.Redis.URL != "" {
		rdb, err := store.ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.TTL.Duration)
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL.Duration.String())
	}
	return st, closeAll, nil
}
