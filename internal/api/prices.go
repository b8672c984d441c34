package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/ticker"
)

// SnapshotRequest is the JSON body for POST /prices.
type SnapshotRequest struct {
	Symbol string          `json:"symbol"`
	Date   string          `json:"date"` // YYYY-MM-DD
	Close  decimal.Decimal `json:"close"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Volume int64           `json:"volume"`
}

// UpsertPrice handles POST /api/v1/prices
func (s *Server) UpsertPrice(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: body: %v", errInvalidRequest, err))
		return
	}
	date, err := ticker.ParseDate(req.Date)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", model.ErrInvalidSnapshot, err))
		return
	}

	snap, err := s.book.Upsert(r.Context(), model.PriceSnapshot{
		Symbol: req.Symbol,
		Date:   date,
		Close:  req.Close,
		High:   req.High,
		Low:    req.Low,
		Volume: req.Volume,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// GetPrice handles GET /api/v1/prices/{symbol}
// Returns the latest snapshot, or the last one on or before ?as_of=YYYY-MM-DD.
func (s *Server) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol, err := ticker.Normalize(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", errInvalidRequest, err))
		return
	}

	var asOf *time.Time
	if v := r.URL.Query().Get("as_of"); v != "" {
		day, err := ticker.ParseDate(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: as_of: %w", errInvalidRequest, err))
			return
		}
		asOf = &day
	}

	snap, err := s.book.AsOf(r.Context(), symbol, asOf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
