package valuation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/metrics"
	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/store"
)

// RankLeague returns the leaderboard of a league, best first.
//
// A finalized league reports the frozen final_equity_value and final_rank
// of its members. Otherwise every active member is valued now: members of
// a league whose balances are not yet seeded (DRAFT) cannot be valued and
// sort last. Ties keep member join order, so repeated calls over the same
// state return the same ranking.
func (e *Engine) RankLeague(ctx context.Context, leagueID string) ([]model.RankEntry, error) {
	league, err := e.store.GetLeague(ctx, leagueID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", model.ErrLeagueNotFound, leagueID)
	}
	if err != nil {
		return nil, model.StorageFailure("get league", err)
	}

	accounts, err := e.store.ListAccounts(ctx, leagueID)
	if err != nil {
		return nil, model.StorageFailure("list accounts", err)
	}

	var active []model.LedgerAccount
	for _, a := range accounts {
		if a.IsActive {
			active = append(active, a)
		}
	}
	if league.Status == model.LeagueEnded && len(active) == 0 {
		return FinalStandings(accounts), nil
	}

	members, err := e.loadMembers(ctx, active)
	if err != nil {
		return nil, err
	}
	entries, _, err := e.RankMembers(ctx, league, members)
	return entries, err
}

// RankMembers values members of league and ranks them. The views are
// returned in member order alongside the ranking; they are nil for members
// that could not be valued.
func (e *Engine) RankMembers(ctx context.Context, league *model.League, members []Member) ([]model.RankEntry, []*model.PortfolioView, error) {
	start := time.Now()
	defer func() { metrics.RankingDuration.Observe(time.Since(start).Seconds()) }()

	entries := make([]model.RankEntry, len(members))
	if league.Status == model.LeagueDraft {
		for i, m := range members {
			entries[i] = model.RankEntry{UserID: m.Account.UserID, TotalAsset: decimal.Zero, ReturnPct: decimal.Zero}
		}
		return Rank(entries), make([]*model.PortfolioView, len(members)), nil
	}

	views, err := e.ValueMembers(ctx, members, EvaluationDate(league))
	if err != nil {
		return nil, nil, err
	}
	for i, v := range views {
		entries[i] = model.RankEntry{
			UserID:     v.UserID,
			TotalAsset: v.TotalAsset,
			ReturnPct:  v.ReturnPct,
			Valued:     true,
		}
	}
	return Rank(entries), views, nil
}

// Rank sorts entries by total asset, highest first, with unvalued entries
// last, and assigns ranks 1..N. The sort is stable: equal entries keep
// their input order.
func Rank(entries []model.RankEntry) []model.RankEntry {
	out := make([]model.RankEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Valued != out[j].Valued {
			return out[i].Valued
		}
		return out[i].TotalAsset.GreaterThan(out[j].TotalAsset)
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// RankMap flattens a ranking to user_id -> rank.
func RankMap(entries []model.RankEntry) map[string]int {
	m := make(map[string]int, len(entries))
	for _, e := range entries {
		m[e.UserID] = e.Rank
	}
	return m
}

// FinalStandings rebuilds the frozen leaderboard from finalized accounts,
// ordered by final rank. Members who left before the end carry no rank and
// are omitted.
func FinalStandings(accounts []model.LedgerAccount) []model.RankEntry {
	var out []model.RankEntry
	for _, a := range accounts {
		if a.FinalRank == nil {
			continue
		}
		entry := model.RankEntry{
			UserID:     a.UserID,
			TotalAsset: decimal.Zero,
			ReturnPct:  decimal.Zero,
			Rank:       *a.FinalRank,
			Valued:     a.FinalEquityValue.Valid,
		}
		if a.FinalEquityValue.Valid {
			entry.TotalAsset = a.FinalEquityValue.Decimal
			entry.ReturnPct = ReturnPct(entry.TotalAsset, a.StartingCash)
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}
