package trade

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
)

// ApplyBuy returns the position after buying qty shares at price. A nil
// prior position means no holding, so the new average is simply price:
//
//	new_avg = (old_shares*old_avg + qty*price) / (old_shares + qty)
func ApplyBuy(prior *model.Position, userID, leagueID, symbol string, qty, price decimal.Decimal, at time.Time) model.Position {
	if prior == nil {
		return model.Position{
			UserID:       userID,
			LeagueID:     leagueID,
			Symbol:       symbol,
			Shares:       qty,
			AveragePrice: price,
			UpdatedAt:    at,
		}
	}

	shares := prior.Shares.Add(qty)
	cost := prior.Shares.Mul(prior.AveragePrice).Add(qty.Mul(price))
	next := *prior
	next.Shares = shares
	next.AveragePrice = cost.Div(shares)
	next.UpdatedAt = at
	return next
}

// ApplySell returns the position after selling qty shares and whether it is
// now closed. The average price never changes on a sell. The caller must
// have checked prior.Shares >= qty.
func ApplySell(prior model.Position, qty decimal.Decimal, at time.Time) (model.Position, bool) {
	next := prior
	next.Shares = prior.Shares.Sub(qty)
	next.UpdatedAt = at
	return next, next.Shares.IsZero()
}
