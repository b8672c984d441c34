package valuation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/store"
)

// Holdings is the share count and average cost of one replayed symbol.
type Holdings struct {
	Shares       decimal.Decimal `json:"shares"`
	AveragePrice decimal.Decimal `json:"average_price"`
}

// Ledger is the account state rebuilt from the trade log.
type Ledger struct {
	Cash      decimal.Decimal     `json:"cash"`
	Positions map[string]Holdings `json:"positions"`
}

// Replay rebuilds cash and positions from startingCash and the trade log,
// which must be ordered oldest first. Closed positions are dropped.
func Replay(startingCash decimal.Decimal, txns []model.Transaction) Ledger {
	l := Ledger{Cash: startingCash, Positions: make(map[string]Holdings)}
	for _, t := range txns {
		h := l.Positions[t.Symbol]
		amount := t.Shares.Mul(t.Price)
		switch t.Side {
		case model.SideBuy:
			shares := h.Shares.Add(t.Shares)
			h.AveragePrice = h.Shares.Mul(h.AveragePrice).Add(amount).Div(shares)
			h.Shares = shares
			l.Cash = l.Cash.Sub(amount)
		case model.SideSell:
			h.Shares = h.Shares.Sub(t.Shares)
			l.Cash = l.Cash.Add(amount)
		}
		if h.Shares.IsZero() {
			delete(l.Positions, t.Symbol)
			continue
		}
		l.Positions[t.Symbol] = h
	}
	return l
}

// Drift is one mismatch between the stored ledger and its replay.
type Drift struct {
	Field    string          `json:"field"` // "cash" or "shares:<SYMBOL>"
	Stored   decimal.Decimal `json:"stored"`
	Replayed decimal.Decimal `json:"replayed"`
}

// Report is the outcome of Reconcile.
type Report struct {
	UserID   string  `json:"user_id"`
	LeagueID string  `json:"league_id"`
	Trades   int     `json:"trades"`
	Replayed Ledger  `json:"replayed"`
	Drift    []Drift `json:"drift"`
}

// Clean reports whether the stored ledger matches its replay.
func (r *Report) Clean() bool { return len(r.Drift) == 0 }

// Reconcile replays the member's trade log from starting cash and compares
// the result with the stored account and positions.
func (e *Engine) Reconcile(ctx context.Context, userID, leagueID string) (*Report, error) {
	acct, err := e.store.GetAccount(ctx, userID, leagueID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %s in league %s", model.ErrNotAMember, userID, leagueID)
	}
	if err != nil {
		return nil, model.StorageFailure("get account", err)
	}

	txns, err := e.store.ListTransactions(ctx, model.TransactionFilter{UserID: userID, LeagueID: leagueID})
	if err != nil {
		return nil, model.StorageFailure("list transactions", err)
	}
	// Stored newest first; replay needs oldest first.
	for i, j := 0, len(txns)-1; i < j; i, j = i+1, j-1 {
		txns[i], txns[j] = txns[j], txns[i]
	}

	positions, err := e.store.ListPositions(ctx, userID, leagueID)
	if err != nil {
		return nil, model.StorageFailure("list positions", err)
	}

	replayed := Replay(acct.StartingCash, txns)
	report := &Report{UserID: userID, LeagueID: leagueID, Trades: len(txns), Replayed: replayed}

	if !acct.CashBalance.Equal(replayed.Cash) {
		report.Drift = append(report.Drift, Drift{Field: "cash", Stored: acct.CashBalance, Replayed: replayed.Cash})
	}

	stored := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		stored[p.Symbol] = p.Shares
	}
	symbols := make(map[string]struct{})
	for s := range stored {
		symbols[s] = struct{}{}
	}
	for s := range replayed.Positions {
		symbols[s] = struct{}{}
	}
	keys := make([]string, 0, len(symbols))
	for s := range symbols {
		keys = append(keys, s)
	}
	sort.Strings(keys)
	for _, s := range keys {
		have := stored[s]
		want := replayed.Positions[s].Shares
		if !have.Equal(want) {
			report.Drift = append(report.Drift, Drift{Field: "shares:" + s, Stored: have, Replayed: want})
		}
	}
	return report, nil
}
