package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/aidencstop/fantasy-league-engine/internal/config"
	"github.com/aidencstop/fantasy-league-engine/internal/league"
	"github.com/aidencstop/fantasy-league-engine/internal/pricing"
	"github.com/aidencstop/fantasy-league-engine/internal/store"
	"github.com/aidencstop/fantasy-league-engine/internal/valuation"
)

// env is the set of engines a command runs against.
type env struct {
	book  *pricing.Book
	val   *valuation.Engine
	life  *league.Lifecycle
	close func()
}

// openEnv connects to the configured PostgreSQL store. The CLI has no use
// for the in-memory store, so a DSN is required.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("postgres.dsn (or DATABASE_URL) is required")
	}

	pool, err := store.Connect(ctx, cfg.Postgres.DSN, store.PoolOptions{MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.RunMigrations {
		if err := store.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	var st store.Store = store.NewPostgresStore(pool)
	closeAll := pool.Close
	// Share the server's cache so imports and lifecycle writes evict it.
	if cfg.Redis.URL != "" {
		rdb, err := store.ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		st = store.NewCachedStore(st, rdb, cfg.Redis.TTL.Duration)
		closeAll = func() {
			rdb.Close()
			pool.Close()
		}
	}

	book := pricing.NewBook(st)
	val := valuation.NewEngine(st, book, cfg.Valuation.Workers)
	return &env{
		book:  book,
		val:   val,
		life:  league.NewLifecycle(st, val, nil),
		close: closeAll,
	}, nil
}

// withEnv runs fn against a fresh env and maps its error to an exit status.
func withEnv(ctx context.Context, fn func(*env) error) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitFailure
	}
	defer e.close()

	if err := fn(e); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
