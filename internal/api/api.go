// Package api exposes the league engine over HTTP.
//
// Every /api/v1 route except price reads and the event stream requires the
// caller's identity in the X-User-ID header. Errors are written as
// {"error": message, "code": CODE}.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aidencstop/fantasy-league-engine/internal/league"
	"github.com/aidencstop/fantasy-league-engine/internal/metrics"
	"github.com/aidencstop/fantasy-league-engine/internal/pricing"
	"github.com/aidencstop/fantasy-league-engine/internal/stream"
	"github.com/aidencstop/fantasy-league-engine/internal/trade"
	"github.com/aidencstop/fantasy-league-engine/internal/valuation"
)

// Server holds the engines behind the HTTP handlers.
type Server struct {
	book  *pricing.Book
	trade *trade.Engine
	val   *valuation.Engine
	life  *league.Lifecycle
	hub   *stream.Hub // optional
}

// NewServer creates the HTTP surface. Pass nil for hub to disable the
// WebSocket route.
func NewServer(book *pricing.Book, tr *trade.Engine, val *valuation.Engine, life *league.Lifecycle, hub *stream.Hub) *Server {
	return &Server{book: book, trade: tr, val: val, life: life, hub: hub}
}

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	RequestTimeout time.Duration // 0 disables the per-request timeout
	CORSOrigins    []string      // "*" allows any origin
}

// Router builds the chi router with middleware and every route mounted.
func (s *Server) Router(opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	r.Use(metrics.Middleware)
	r.Use(cors(opts.CORSOrigins))

	r.Get("/health", s.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}
		r.Get("/prices/{symbol}", s.GetPrice)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Post("/prices", s.UpsertPrice)

			r.Get("/leagues", s.ListLeagues)
			r.Post("/leagues", s.CreateLeague)
			r.Route("/leagues/{leagueID}", func(r chi.Router) {
				r.Get("/", s.GetLeague)
				r.Post("/join", s.JoinLeague)
				r.Post("/leave", s.LeaveLeague)
				r.Post("/start", s.StartLeague)
				r.Post("/end", s.EndLeague)
				r.Get("/ranking", s.GetRanking)
				r.Get("/portfolio/{userID}", s.GetPortfolio)
			})
			r.Get("/me/league", s.MyLeague)

			r.Post("/orders", s.ExecuteOrder)
			r.Get("/transactions", s.ListTransactions)
		})
	})
	return r
}

// Health handles GET /health
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "league-engine"})
}
