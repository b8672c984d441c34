// Package valuation marks league accounts to market and ranks members.
//
// Prices come from daily snapshots: an ENDED league is valued at the close
// on or before its end date, any other league at the latest close.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/pricing"
	"github.com/aidencstop/fantasy-league-engine/internal/store"
)

var hundred = decimal.NewFromInt(100)

// pctPlaces is the precision of pnl_pct and return_pct.
const pctPlaces = 2

// Engine computes portfolio views and league rankings.
type Engine struct {
	store   store.Store
	book    *pricing.Book
	workers int
}

// NewEngine creates a valuation engine. workers bounds how many members are
// valued concurrently during a ranking pass.
func NewEngine(st store.Store, book *pricing.Book, workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{store: st, book: book, workers: workers}
}

// EvaluationDate is the day positions of l are marked at: the end date for
// an ENDED league, nil (latest snapshot) otherwise.
func EvaluationDate(l *model.League) *time.Time {
	if l.Status == model.LeagueEnded && l.EndedAt != nil {
		day := model.DateOf(*l.EndedAt)
		return &day
	}
	return nil
}

// ComputePortfolio values the active account of userID in leagueID.
func (e *Engine) ComputePortfolio(ctx context.Context, userID, leagueID string) (*model.PortfolioView, error) {
	league, err := e.store.GetLeague(ctx, leagueID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", model.ErrLeagueNotFound, leagueID)
	}
	if err != nil {
		return nil, model.StorageFailure("get league", err)
	}

	acct, err := e.store.GetAccount(ctx, userID, leagueID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !acct.IsActive) {
		return nil, fmt.Errorf("%w: user %s in league %s", model.ErrNotAMember, userID, leagueID)
	}
	if err != nil {
		return nil, model.StorageFailure("get account", err)
	}

	positions, err := e.store.ListPositions(ctx, userID, leagueID)
	if err != nil {
		return nil, model.StorageFailure("list positions", err)
	}
	return e.Value(ctx, acct, positions, EvaluationDate(league))
}

// Value marks acct and its positions at asOf (latest when nil). Symbols
// without a snapshot in range are valued at zero.
func (e *Engine) Value(ctx context.Context, acct *model.LedgerAccount, positions []model.Position, asOf *time.Time) (*model.PortfolioView, error) {
	view := &model.PortfolioView{
		UserID:          acct.UserID,
		LeagueID:        acct.LeagueID,
		StartingCash:    acct.StartingCash,
		Cash:            acct.CashBalance,
		TotalStockValue: decimal.Zero,
		Holdings:        make([]model.Holding, 0, len(positions)),
		AsOf:            asOf,
	}

	for _, p := range positions {
		price, err := e.book.PriceAsOf(ctx, p.Symbol, asOf)
		if err != nil {
			return nil, model.StorageFailure("price "+p.Symbol, err)
		}
		view.Holdings = append(view.Holdings, holding(p, price))
		view.TotalStockValue = view.TotalStockValue.Add(p.Shares.Mul(price))
	}

	view.TotalAsset = view.Cash.Add(view.TotalStockValue)
	view.ReturnPct = ReturnPct(view.TotalAsset, view.StartingCash)
	return view, nil
}

func holding(p model.Position, price decimal.Decimal) model.Holding {
	evaluation := p.Shares.Mul(price)
	cost := p.CostBasis()
	pnl := evaluation.Sub(cost)
	pct := decimal.Zero
	if cost.IsPositive() {
		pct = pnl.Div(cost).Mul(hundred).Round(pctPlaces)
	}
	return model.Holding{
		Symbol:       p.Symbol,
		Shares:       p.Shares,
		AveragePrice: p.AveragePrice,
		CurrentPrice: price,
		Evaluation:   evaluation,
		PnL:          pnl,
		PnLPct:       pct,
	}
}

// ReturnPct is (total - start) / start * 100 rounded to two places, or
// zero when start is not positive.
func ReturnPct(total, start decimal.Decimal) decimal.Decimal {
	if !start.IsPositive() {
		return decimal.Zero
	}
	return total.Sub(start).Div(start).Mul(hundred).Round(pctPlaces)
}

// Member is an account with its positions, loaded by the caller so that
// valuation can run against either committed state or a unit of work.
type Member struct {
	Account   model.LedgerAccount
	Positions []model.Position
}

// ValueMembers values every member concurrently, at most e.workers at a
// time, and returns the views in member order.
func (e *Engine) ValueMembers(ctx context.Context, members []Member, asOf *time.Time) ([]*model.PortfolioView, error) {
	views := make([]*model.PortfolioView, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range members {
		i := i
		g.Go(func() error {
			v, err := e.Value(gctx, &members[i].Account, members[i].Positions, asOf)
			if err != nil {
				return fmt.Errorf("value %s: %w", members[i].Account.UserID, err)
			}
			views[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

// loadMembers reads positions for each active account from committed
// state, concurrently.
func (e *Engine) loadMembers(ctx context.Context, accounts []model.LedgerAccount) ([]Member, error) {
	members := make([]Member, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range accounts {
		i := i
		members[i].Account = accounts[i]
		g.Go(func() error {
			positions, err := e.store.ListPositions(gctx, accounts[i].UserID, accounts[i].LeagueID)
			if err != nil {
				return model.StorageFailure("list positions", err)
			}
			members[i].Positions = positions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return members, nil
}
