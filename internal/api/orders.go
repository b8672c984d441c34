package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/ticker"
	"github.com/aidencstop/fantasy-league-engine/internal/trade"
)

// OrderRequest is the JSON body for POST /orders. An empty league_id trades
// in the caller's active league.
type OrderRequest struct {
	LeagueID string          `json:"league_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"` // BUY or SELL
	Quantity decimal.Decimal `json:"quantity"`
}

// ExecuteOrder handles POST /api/v1/orders
func (s *Server) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: body: %v", model.ErrInvalidOrder, err))
		return
	}
	res, err := s.trade.ExecuteOrder(r.Context(), trade.Order{
		UserID:   userFrom(r),
		LeagueID: req.LeagueID,
		Symbol:   req.Symbol,
		Side:     model.Side(strings.ToUpper(req.Side)),
		Quantity: req.Quantity,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListTransactions handles GET /api/v1/transactions
// Query: league_id, date_from, date_to (YYYY-MM-DD, inclusive), limit, offset.
func (s *Server) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.TransactionFilter{UserID: userFrom(r), LeagueID: q.Get("league_id")}

	if v := q.Get("date_from"); v != "" {
		day, err := ticker.ParseDate(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: date_from: %w", errInvalidRequest, err))
			return
		}
		f.From = &day
	}
	if v := q.Get("date_to"); v != "" {
		day, err := ticker.ParseDate(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: date_to: %w", errInvalidRequest, err))
			return
		}
		f.To = &day
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, fmt.Errorf("%w: %s must be a non-negative integer", errInvalidRequest, name))
			return
		}
		*dst = n
	}

	txns, err := s.trade.History(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}
