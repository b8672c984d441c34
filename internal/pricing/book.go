// Package pricing is the read and write surface over daily price snapshots.
// Writes come from the market-data collaborator; reads serve order
// execution (latest close) and valuation (close as of a date).
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/store"
	"github.com/aidencstop/fantasy-league-engine/internal/ticker"
)

// Snapshots is the subset of store.Store the book needs.
type Snapshots interface {
	UpsertSnapshot(ctx context.Context, snap *model.PriceSnapshot) error
	LatestSnapshot(ctx context.Context, symbol string) (*model.PriceSnapshot, error)
	SnapshotAsOf(ctx context.Context, symbol string, date time.Time) (*model.PriceSnapshot, error)
}

// Book resolves symbol prices from stored snapshots.
type Book struct {
	store Snapshots
	now   func() time.Time
}

// NewBook creates a price book over s.
func NewBook(s Snapshots) *Book {
	return &Book{store: s, now: time.Now}
}

// Upsert validates and stores a snapshot. The symbol is normalized, the
// date truncated to its UTC day, and a second write for the same
// (symbol, date) replaces the first.
func (b *Book) Upsert(ctx context.Context, snap model.PriceSnapshot) (*model.PriceSnapshot, error) {
	sym, err := ticker.Normalize(snap.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidSnapshot, err)
	}
	if !snap.Close.IsPositive() {
		return nil, fmt.Errorf("%w: %s close must be positive, got %s", model.ErrInvalidSnapshot, sym, snap.Close)
	}
	if snap.High.IsNegative() || snap.Low.IsNegative() || snap.Volume < 0 {
		return nil, fmt.Errorf("%w: %s high, low and volume must be non-negative", model.ErrInvalidSnapshot, sym)
	}
	if snap.Date.IsZero() {
		return nil, fmt.Errorf("%w: %s date is required", model.ErrInvalidSnapshot, sym)
	}

	snap.Symbol = sym
	snap.Date = model.DateOf(snap.Date)
	snap.UpdatedAt = b.now().UTC()

	if err := b.store.UpsertSnapshot(ctx, &snap); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}
	slog.Info("snapshot upserted",
		"symbol", snap.Symbol,
		"date", snap.Date.Format(ticker.DateLayout),
		"close", snap.Close.String(),
	)
	return &snap, nil
}

// LatestReader reports the newest snapshot of a symbol. Both store.Store
// and store.Tx satisfy it.
type LatestReader interface {
	LatestSnapshot(ctx context.Context, symbol string) (*model.PriceSnapshot, error)
}

// LatestPrice returns the close of the most recent snapshot for symbol, or
// ErrNoPriceData if none exists.
func (b *Book) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return LatestPriceFrom(ctx, b.store, symbol)
}

// LatestPriceFrom is LatestPrice read through r. Order settlement passes
// its unit of work so the price comes from the primary store.
func LatestPriceFrom(ctx context.Context, r LatestReader, symbol string) (decimal.Decimal, error) {
	snap, err := r.LatestSnapshot(ctx, symbol)
	if err != nil {
		return decimal.Zero, lookupErr(symbol, err)
	}
	return snap.Close, nil
}

// Latest returns the most recent snapshot for symbol.
func (b *Book) Latest(ctx context.Context, symbol string) (*model.PriceSnapshot, error) {
	snap, err := b.store.LatestSnapshot(ctx, symbol)
	if err != nil {
		return nil, lookupErr(symbol, err)
	}
	return snap, nil
}

// AsOf returns the snapshot with the greatest date <= date, or the latest
// snapshot when date is nil.
func (b *Book) AsOf(ctx context.Context, symbol string, date *time.Time) (*model.PriceSnapshot, error) {
	if date == nil {
		return b.Latest(ctx, symbol)
	}
	snap, err := b.store.SnapshotAsOf(ctx, symbol, model.DateOf(*date))
	if err != nil {
		return nil, lookupErr(symbol, err)
	}
	return snap, nil
}

// PriceAsOf is the valuation lookup: the last known close on or before date
// (latest when date is nil). A symbol with no snapshot in range prices at
// zero so that one missing series cannot abort a league-wide ranking.
// Storage failures are still returned.
func (b *Book) PriceAsOf(ctx context.Context, symbol string, date *time.Time) (decimal.Decimal, error) {
	snap, err := b.AsOf(ctx, symbol, date)
	if errors.Is(err, model.ErrNoPriceData) {
		slog.Warn("no price data, valuing at zero", "symbol", symbol)
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return snap.Close, nil
}

func lookupErr(symbol string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", model.ErrNoPriceData, symbol)
	}
	return fmt.Errorf("%w: price %s: %w", model.ErrStorageFailure, symbol, err)
}
