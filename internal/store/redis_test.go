package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/pricing"
	"github.com/aidencstop/fantasy-league-engine/internal/store"
	"github.com/aidencstop/fantasy-league-engine/internal/trade"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready to accept connections").WithStartupTimeout(30*time.Second),
				wait.ForListeningPort("6379/tcp"),
			),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestCachedStore(t *testing.T) {
	rdb := setupRedis(t)
	storeContract(t, func(t *testing.T) store.Store {
		require.NoError(t, rdb.FlushDB(ctx).Err())
		return store.NewCachedStore(store.NewMemoryStore(), rdb, time.Minute)
	})
}

func TestCachedStore_ServesAndEvicts(t *testing.T) {
	rdb := setupRedis(t)
	require.NoError(t, rdb.FlushDB(ctx).Err())
	primary := store.NewMemoryStore()
	cached := store.NewCachedStore(primary, rdb, time.Minute)

	require.NoError(t, cached.UpsertSnapshot(ctx, &model.PriceSnapshot{Symbol: "XYZ", Date: day1, Close: d(10), UpdatedAt: day1}))
	first, err := cached.LatestSnapshot(ctx, "XYZ")
	require.NoError(t, err)
	assert.True(t, first.Close.Equal(d(10)))

	// A write that bypasses the cache is not seen until eviction.
	require.NoError(t, primary.UpsertSnapshot(ctx, &model.PriceSnapshot{Symbol: "XYZ", Date: day1.AddDate(0, 0, 1), Close: d(11), UpdatedAt: day1}))
	stale, err := cached.LatestSnapshot(ctx, "XYZ")
	require.NoError(t, err)
	assert.True(t, stale.Close.Equal(d(10)), "served from cache")

	require.NoError(t, cached.UpsertSnapshot(ctx, &model.PriceSnapshot{Symbol: "XYZ", Date: day1.AddDate(0, 0, 2), Close: d(12), UpdatedAt: day1}))
	fresh, err := cached.LatestSnapshot(ctx, "XYZ")
	require.NoError(t, err)
	assert.True(t, fresh.Close.Equal(d(12)))

	seedLeague(t, cached, "a", model.LeagueDraft, day1)
	l, err := cached.GetLeague(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.LeagueDraft, l.Status)
	n, err := rdb.Exists(ctx, "league:a").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, cached.InTx(ctx, func(tx store.Tx) error {
		l, err := tx.LockLeague(ctx, "a")
		if err != nil {
			return err
		}
		l.Status = model.LeagueActive
		return tx.UpdateLeague(ctx, l)
	}))
	n, err = rdb.Exists(ctx, "league:a").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "evicted on commit")

	l, err = cached.GetLeague(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.LeagueActive, l.Status)
}

func TestCachedStore_RolledBackWriteKeepsCache(t *testing.T) {
	rdb := setupRedis(t)
	require.NoError(t, rdb.FlushDB(ctx).Err())
	cached := store.NewCachedStore(store.NewMemoryStore(), rdb, time.Minute)

	seedLeague(t, cached, "a", model.LeagueDraft, day1)
	_, err := cached.GetLeague(ctx, "a")
	require.NoError(t, err)

	err = cached.InTx(ctx, func(tx store.Tx) error {
		l, err := tx.LockLeague(ctx, "a")
		if err != nil {
			return err
		}
		l.Status = model.LeagueActive
		if err := tx.UpdateLeague(ctx, l); err != nil {
			return err
		}
		return store.ErrConflict
	})
	require.ErrorIs(t, err, store.ErrConflict)

	l, err := cached.GetLeague(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.LeagueDraft, l.Status)
}

func TestCachedStore_OrdersSettleAtPrimaryClose(t *testing.T) {
	rdb := setupRedis(t)
	require.NoError(t, rdb.FlushDB(ctx).Err())
	primary := store.NewMemoryStore()
	cached := store.NewCachedStore(primary, rdb, time.Minute)
	eng := trade.NewEngine(cached, nil)

	require.NoError(t, cached.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertLeague(ctx, &model.League{
			ID: "a", Name: "league a", ManagerID: "u", InitialCash: d(1000),
			MaxMembers: 10, Status: model.LeagueActive, CreatedAt: day1,
		}); err != nil {
			return err
		}
		return tx.InsertAccount(ctx, &model.LedgerAccount{
			UserID: "u", LeagueID: "a", CashBalance: d(1000), StartingCash: d(1000), IsActive: true, JoinedAt: day1,
		})
	}))

	_, err := pricing.NewBook(cached).Upsert(ctx, model.PriceSnapshot{Symbol: "XYZ", Date: day1, Close: d(50)})
	require.NoError(t, err)
	first, err := eng.ExecuteOrder(ctx, trade.Order{UserID: "u", LeagueID: "a", Symbol: "XYZ", Side: model.SideBuy, Quantity: d(1)})
	require.NoError(t, err)
	assert.True(t, first.Transaction.Price.Equal(d(50)))

	// Warm the cache, then write the next close without evicting it.
	_, err = cached.LatestSnapshot(ctx, "XYZ")
	require.NoError(t, err)
	_, err = pricing.NewBook(primary).Upsert(ctx, model.PriceSnapshot{Symbol: "XYZ", Date: day1.AddDate(0, 0, 1), Close: d(60)})
	require.NoError(t, err)
	stale, err := pricing.NewBook(cached).LatestPrice(ctx, "XYZ")
	require.NoError(t, err)
	require.True(t, stale.Equal(d(50)), "display reads may lag until eviction")

	second, err := eng.ExecuteOrder(ctx, trade.Order{UserID: "u", LeagueID: "a", Symbol: "XYZ", Side: model.SideBuy, Quantity: d(1)})
	require.NoError(t, err)
	assert.True(t, second.Transaction.Price.Equal(d(60)), "got %s", second.Transaction.Price)
	assert.True(t, second.CashBalance.Equal(d(890)))
}
