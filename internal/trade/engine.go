// Package trade settles buy and sell orders against a member's league
// ledger at the latest snapshot close.
//
// All monetary values use shopspring/decimal; never float64 for money.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/metrics"
	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/pricing"
	"github.com/aidencstop/fantasy-league-engine/internal/store"
	"github.com/aidencstop/fantasy-league-engine/internal/stream"
	"github.com/aidencstop/fantasy-league-engine/internal/ticker"
)

// Order is a request to buy or sell whole shares of one symbol. An empty
// LeagueID trades in the user's active league.
type Order struct {
	UserID   string          `json:"user_id"`
	LeagueID string          `json:"league_id"`
	Symbol   string          `json:"symbol"`
	Side     model.Side      `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Result is the outcome of a settled order. Position is nil when the order
// closed the holding.
type Result struct {
	Transaction model.Transaction `json:"transaction"`
	CashBalance decimal.Decimal   `json:"cash_balance"`
	Position    *model.Position   `json:"position"`
}

// Engine executes orders. Each order runs in one unit of work that locks
// the league (shared), the member's account and the symbol position, so
// orders for the same member serialize while other members proceed in
// parallel.
type Engine struct {
	store store.Store
	hub   *stream.Hub // optional
	now   func() time.Time
}

// NewEngine creates a trade engine. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewEngine(st store.Store, hub *stream.Hub) *Engine {
	return &Engine{
		store: st,
		hub:   hub,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ExecuteOrder validates and settles o. Preconditions are checked in a
// fixed order and the first failure wins:
//
//  1. quantity is a positive integer, symbol and side are well formed (ErrInvalidOrder)
//  2. the user holds an active account in an ACTIVE league (ErrLeagueNotTradable)
//  3. the symbol has a snapshot (ErrSymbolNotFound)
//  4. BUY: cash covers quantity*price (ErrInsufficientFunds)
//  5. SELL: the position holds at least quantity shares (ErrInsufficientShares)
//
// A rejected order leaves no trace. Cash, position and transaction are
// written together or not at all.
func (e *Engine) ExecuteOrder(ctx context.Context, o Order) (*Result, error) {
	start := time.Now()
	res, err := e.execute(ctx, o)
	if err != nil {
		code := model.Code(err)
		metrics.OrderRejections.WithLabelValues(code).Inc()
		if code == model.CodeStorageFailure {
			slog.Error("order failed", "user", o.UserID, "league", o.LeagueID, "symbol", o.Symbol, "error", err)
		} else {
			slog.Info("order rejected", "user", o.UserID, "league", o.LeagueID, "symbol", o.Symbol, "code", code)
		}
		return nil, err
	}

	txn := res.Transaction
	metrics.TradesTotal.WithLabelValues(string(txn.Side)).Inc()
	metrics.TradeLatency.WithLabelValues(string(txn.Side)).Observe(time.Since(start).Seconds())
	metrics.TradedNotional.WithLabelValues(string(txn.Side)).Add(txn.Amount().InexactFloat64())

	slog.Info("trade executed",
		"trade_id", txn.ID,
		"user", txn.UserID,
		"league", txn.LeagueID,
		"symbol", txn.Symbol,
		"side", txn.Side,
		"qty", txn.Shares.String(),
		"price", txn.Price.String(),
		"cash_after", res.CashBalance.String(),
	)

	if e.hub != nil {
		e.hub.Broadcast(stream.Event{
			Type:     stream.TypeTradeExecuted,
			LeagueID: txn.LeagueID,
			UserID:   txn.UserID,
			Symbol:   txn.Symbol,
			Side:     string(txn.Side),
			Shares:   txn.Shares.String(),
			Price:    txn.Price.String(),
			At:       txn.CreatedAt,
		})
	}
	return res, nil
}

func (e *Engine) execute(ctx context.Context, o Order) (*Result, error) {
	symbol, err := validate(o)
	if err != nil {
		return nil, err
	}

	leagueID := o.LeagueID
	if leagueID == "" {
		acct, err := e.store.GetActiveAccount(ctx, o.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s has no active league", model.ErrLeagueNotTradable, o.UserID)
		}
		if err != nil {
			return nil, model.StorageFailure("resolve active league", err)
		}
		leagueID = acct.LeagueID
	}

	var res *Result
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		r, err := e.settle(ctx, tx, o.UserID, leagueID, symbol, o.Side, o.Quantity)
		res = r
		return err
	})
	if err != nil {
		return nil, model.StorageFailure("execute order", err)
	}
	return res, nil
}

func validate(o Order) (string, error) {
	if !o.Quantity.IsInteger() || !o.Quantity.IsPositive() {
		return "", fmt.Errorf("%w: quantity must be a positive integer, got %s", model.ErrInvalidOrder, o.Quantity)
	}
	if o.UserID == "" {
		return "", fmt.Errorf("%w: user_id is required", model.ErrInvalidOrder)
	}
	if !o.Side.Valid() {
		return "", fmt.Errorf("%w: side must be BUY or SELL, got %q", model.ErrInvalidOrder, o.Side)
	}
	if o.Symbol == "" {
		return "", fmt.Errorf("%w: symbol is required", model.ErrInvalidOrder)
	}
	symbol, err := ticker.Normalize(o.Symbol)
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrInvalidOrder, err)
	}
	return symbol, nil
}

func (e *Engine) settle(ctx context.Context, tx store.Tx, userID, leagueID, symbol string, side model.Side, qty decimal.Decimal) (*Result, error) {
	league, err := tx.GetLeague(ctx, leagueID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: league %s does not exist", model.ErrLeagueNotTradable, leagueID)
	}
	if err != nil {
		return nil, err
	}
	if league.Status != model.LeagueActive {
		return nil, fmt.Errorf("%w: league %s is %s", model.ErrLeagueNotTradable, leagueID, league.Status)
	}

	acct, err := tx.LockAccount(ctx, userID, leagueID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %s is not a member of %s", model.ErrLeagueNotTradable, userID, leagueID)
	}
	if err != nil {
		return nil, err
	}
	if !acct.IsActive {
		return nil, fmt.Errorf("%w: membership of %s in %s is closed", model.ErrLeagueNotTradable, userID, leagueID)
	}

	// Read through the unit of work, never a cache.
	price, err := pricing.LatestPriceFrom(ctx, tx, symbol)
	if errors.Is(err, model.ErrNoPriceData) {
		return nil, fmt.Errorf("%w: %s", model.ErrSymbolNotFound, symbol)
	}
	if err != nil {
		return nil, err
	}

	pos, err := tx.LockPosition(ctx, userID, leagueID, symbol)
	if errors.Is(err, store.ErrNotFound) {
		pos = nil
	} else if err != nil {
		return nil, err
	}

	now := e.now()
	amount := qty.Mul(price)
	res := &Result{}

	switch side {
	case model.SideBuy:
		if acct.CashBalance.LessThan(amount) {
			return nil, fmt.Errorf("%w: need %s, have %s", model.ErrInsufficientFunds, amount, acct.CashBalance)
		}
		next := ApplyBuy(pos, userID, leagueID, symbol, qty, price, now)
		if err := tx.SavePosition(ctx, &next); err != nil {
			return nil, err
		}
		acct.CashBalance = acct.CashBalance.Sub(amount)
		res.Position = &next

	case model.SideSell:
		held := decimal.Zero
		if pos != nil {
			held = pos.Shares
		}
		if pos == nil || held.LessThan(qty) {
			return nil, fmt.Errorf("%w: want %s %s, hold %s", model.ErrInsufficientShares, qty, symbol, held)
		}
		next, closed := ApplySell(*pos, qty, now)
		if closed {
			if err := tx.DeletePosition(ctx, userID, leagueID, symbol); err != nil {
				return nil, err
			}
		} else {
			if err := tx.SavePosition(ctx, &next); err != nil {
				return nil, err
			}
			res.Position = &next
		}
		acct.CashBalance = acct.CashBalance.Add(amount)
	}

	if err := tx.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}

	txn := model.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		LeagueID:  leagueID,
		Symbol:    symbol,
		Side:      side,
		Shares:    qty,
		Price:     price,
		CreatedAt: now,
	}
	if err := tx.InsertTransaction(ctx, &txn); err != nil {
		return nil, err
	}

	res.Transaction = txn
	res.CashBalance = acct.CashBalance
	return res, nil
}

// History returns a member's trades newest first. Limit defaults to 10.
func (e *Engine) History(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	if f.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrInvalidOrder)
	}
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	txns, err := e.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, model.StorageFailure("list transactions", err)
	}
	return txns, nil
}

// DefaultHistoryLimit is the page size of History when none is given.
const DefaultHistoryLimit = 10
