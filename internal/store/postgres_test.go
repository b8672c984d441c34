package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/store"
)

// setupPostgres starts a PostgreSQL container and applies the embedded
// migrations. The test is skipped when no container runtime is available.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("league"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "connection string")

	pool, err := store.Connect(ctx, dsn, store.PoolOptions{MaxConns: 8})
	require.NoError(t, err, "connect")
	t.Cleanup(pool.Close)

	require.NoError(t, store.RunMigrations(ctx, pool))
	// Reruns are no-ops.
	require.NoError(t, store.RunMigrations(ctx, pool))
	return pool
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(ctx, `TRUNCATE transactions, positions, league_accounts, leagues, price_snapshots`)
	require.NoError(t, err, "truncate")
}

func TestPostgresStore(t *testing.T) {
	pool := setupPostgres(t)
	storeContract(t, func(t *testing.T) store.Store {
		truncate(t, pool)
		return store.NewPostgresStore(pool)
	})
}

func TestPostgresStore_ConcurrentJoinsKeepOneActive(t *testing.T) {
	pool := setupPostgres(t)
	st := store.NewPostgresStore(pool)
	for _, id := range []string{"a", "b", "c", "d"} {
		seedLeague(t, st, id, model.LeagueDraft, day1)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded []string
	)
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(league string) {
			defer wg.Done()
			err := st.InTx(ctx, func(tx store.Tx) error {
				return tx.InsertAccount(ctx, &model.LedgerAccount{
					UserID: "racer", LeagueID: league, IsActive: true, JoinedAt: day1,
				})
			})
			if err == nil {
				mu.Lock()
				succeeded = append(succeeded, league)
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, store.ErrConflict)
		}(id)
	}
	wg.Wait()

	require.Len(t, succeeded, 1)
	active, err := st.GetActiveAccount(ctx, "racer")
	require.NoError(t, err)
	require.Equal(t, succeeded[0], active.LeagueID)
}
