package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot, rarely changing reads: latest snapshot per symbol and
// league headers. Writes go to the primary store and evict the affected
// keys; reads check Redis first then fall back to the primary.
//
// Units of work always read the primary under row locks, so a stale cache
// entry can only affect display paths, never order settlement.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// ConnectRedis parses url and pings the server. A failed ping is logged,
// not returned: reads fall through to the primary until Redis is back.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis ping failed, cache reads will fall through", "err", err)
	}
	return rdb, nil
}

// --- Write-through (write to primary, evict) ---

func (s *CachedStore) UpsertSnapshot(ctx context.Context, snap *model.PriceSnapshot) error {
	if err := s.primary.UpsertSnapshot(ctx, snap); err != nil {
		return err
	}
	s.evict(ctx, latestSnapshotKey(snap.Symbol))
	return nil
}

func (s *CachedStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	var touched []string
	err := s.primary.InTx(ctx, func(tx Tx) error {
		return fn(&evictingTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		s.evict(ctx, touched...)
	}
	return nil
}

// evictingTx records league IDs written inside a unit of work so their
// cache entries can be dropped once it commits.
type evictingTx struct {
	Tx
	touched *[]string
}

func (t *evictingTx) InsertLeague(ctx context.Context, l *model.League) error {
	if err := t.Tx.InsertLeague(ctx, l); err != nil {
		return err
	}
	*t.touched = append(*t.touched, leagueKey(l.ID))
	return nil
}

func (t *evictingTx) UpdateLeague(ctx context.Context, l *model.League) error {
	if err := t.Tx.UpdateLeague(ctx, l); err != nil {
		return err
	}
	*t.touched = append(*t.touched, leagueKey(l.ID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestSnapshot(ctx context.Context, symbol string) (*model.PriceSnapshot, error) {
	var snap model.PriceSnapshot
	if s.get(ctx, latestSnapshotKey(symbol), &snap) {
		return &snap, nil
	}

	fresh, err := s.primary.LatestSnapshot(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.set(ctx, latestSnapshotKey(symbol), fresh)
	return fresh, nil
}

func (s *CachedStore) GetLeague(ctx context.Context, id string) (*model.League, error) {
	var l model.League
	if s.get(ctx, leagueKey(id), &l) {
		return &l, nil
	}

	fresh, err := s.primary.GetLeague(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, leagueKey(id), fresh)
	return fresh, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) SnapshotAsOf(ctx context.Context, symbol string, date time.Time) (*model.PriceSnapshot, error) {
	return s.primary.SnapshotAsOf(ctx, symbol, date)
}

func (s *CachedStore) ListLeagues(ctx context.Context, status model.LeagueStatus) ([]model.League, error) {
	return s.primary.ListLeagues(ctx, status)
}

func (s *CachedStore) GetAccount(ctx context.Context, userID, leagueID string) (*model.LedgerAccount, error) {
	return s.primary.GetAccount(ctx, userID, leagueID)
}

func (s *CachedStore) GetActiveAccount(ctx context.Context, userID string) (*model.LedgerAccount, error) {
	return s.primary.GetActiveAccount(ctx, userID)
}

func (s *CachedStore) ListAccounts(ctx context.Context, leagueID string) ([]model.LedgerAccount, error) {
	return s.primary.ListAccounts(ctx, leagueID)
}

func (s *CachedStore) ListPositions(ctx context.Context, userID, leagueID string) ([]model.Position, error) {
	return s.primary.ListPositions(ctx, userID, leagueID)
}

func (s *CachedStore) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, f)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("cache read failed", "key", key, "error", err)
		}
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
}

func (s *CachedStore) evict(ctx context.Context, keys ...string) {
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("cache evict failed", "keys", keys, "error", err)
	}
}

func latestSnapshotKey(symbol string) string { return fmt.Sprintf("snapshot:latest:%s", symbol) }
func leagueKey(id string) string             { return fmt.Sprintf("league:%s", id) }
