// Package store defines the persistence interface for the league engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write violates a uniqueness constraint,
	// such as a second active account for the same user.
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence interface. Reads outside InTx observe only
// committed state.
type Store interface {
	// --- Price snapshots ---

	// UpsertSnapshot writes the snapshot keyed by (symbol, date), replacing
	// any existing row for the same key.
	UpsertSnapshot(ctx context.Context, snap *model.PriceSnapshot) error

	// LatestSnapshot returns the most recent snapshot for symbol.
	LatestSnapshot(ctx context.Context, symbol string) (*model.PriceSnapshot, error)

	// SnapshotAsOf returns the snapshot with the greatest date <= date.
	SnapshotAsOf(ctx context.Context, symbol string, date time.Time) (*model.PriceSnapshot, error)

	// --- Leagues ---

	GetLeague(ctx context.Context, id string) (*model.League, error)

	// ListLeagues returns leagues newest first. An empty status matches all.
	ListLeagues(ctx context.Context, status model.LeagueStatus) ([]model.League, error)

	// --- Ledger reads ---

	GetAccount(ctx context.Context, userID, leagueID string) (*model.LedgerAccount, error)

	// GetActiveAccount returns the single active account of a user.
	GetActiveAccount(ctx context.Context, userID string) (*model.LedgerAccount, error)

	// ListAccounts returns every account of a league in join order.
	ListAccounts(ctx context.Context, leagueID string) ([]model.LedgerAccount, error)

	// ListPositions returns a member's positions ordered by symbol.
	ListPositions(ctx context.Context, userID, leagueID string) ([]model.Position, error)

	// ListTransactions returns matching trades newest first.
	ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error)

	// --- Units of work ---

	// InTx runs fn inside a single atomic unit of work. If fn returns an
	// error nothing it wrote becomes visible.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a unit of work. Lock* methods hold the row until the unit ends.
// Callers acquire rows in a fixed order (league, then account, then
// position) so orders and lifecycle operations cannot deadlock.
type Tx interface {
	// --- Price snapshots ---

	// LatestSnapshot reads the most recent snapshot from the source of
	// truth, bypassing any cache, so settlement prices are never stale.
	LatestSnapshot(ctx context.Context, symbol string) (*model.PriceSnapshot, error)

	// --- Leagues ---

	// InsertLeague persists a new league. Duplicate names yield ErrConflict.
	InsertLeague(ctx context.Context, l *model.League) error

	// GetLeague reads a league under a shared lock; concurrent orders may
	// hold it together but a lifecycle transition waits for them.
	GetLeague(ctx context.Context, id string) (*model.League, error)

	// LockLeague reads a league under an exclusive lock.
	LockLeague(ctx context.Context, id string) (*model.League, error)

	UpdateLeague(ctx context.Context, l *model.League) error

	// --- Ledger accounts ---

	LockAccount(ctx context.Context, userID, leagueID string) (*model.LedgerAccount, error)

	// LockActiveAccount locks the user's active account, if any.
	LockActiveAccount(ctx context.Context, userID string) (*model.LedgerAccount, error)

	// InsertAccount adds a membership. A second active account for the same
	// user yields ErrConflict.
	InsertAccount(ctx context.Context, a *model.LedgerAccount) error

	UpdateAccount(ctx context.Context, a *model.LedgerAccount) error

	// ListAccounts locks and returns every account of a league in join order.
	ListAccounts(ctx context.Context, leagueID string) ([]model.LedgerAccount, error)

	// --- Positions ---

	LockPosition(ctx context.Context, userID, leagueID, symbol string) (*model.Position, error)
	ListPositions(ctx context.Context, userID, leagueID string) ([]model.Position, error)
	SavePosition(ctx context.Context, p *model.Position) error
	DeletePosition(ctx context.Context, userID, leagueID, symbol string) error

	// --- Immutable trade log ---

	InsertTransaction(ctx context.Context, t *model.Transaction) error
}
