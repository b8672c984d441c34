package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/league"
	"github.com/aidencstop/fantasy-league-engine/internal/model"
)

// CreateLeagueRequest is the JSON body for POST /leagues. The caller
// becomes the manager.
type CreateLeagueRequest struct {
	Name        string          `json:"name"`
	InitialCash decimal.Decimal `json:"initial_cash"`
	MaxMembers  int             `json:"max_members"`
}

// LeagueDetail is a league with its member accounts.
type LeagueDetail struct {
	*model.League
	Members []model.LedgerAccount `json:"members"`
}

// MyLeagueResponse is the caller's active league and account.
type MyLeagueResponse struct {
	League  *model.League        `json:"league"`
	Account *model.LedgerAccount `json:"account"`
}

// CreateLeague handles POST /api/v1/leagues
func (s *Server) CreateLeague(w http.ResponseWriter, r *http.Request) {
	var req CreateLeagueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: body: %v", errInvalidRequest, err))
		return
	}
	lg, err := s.life.CreateLeague(r.Context(), league.CreateParams{
		Name:        req.Name,
		ManagerID:   userFrom(r),
		InitialCash: req.InitialCash,
		MaxMembers:  req.MaxMembers,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lg)
}

// ListLeagues handles GET /api/v1/leagues
// Optionally filtered by ?status=DRAFT|ACTIVE|ENDED.
func (s *Server) ListLeagues(w http.ResponseWriter, r *http.Request) {
	status := model.LeagueStatus(strings.ToUpper(r.URL.Query().Get("status")))
	leagues, err := s.life.ListLeagues(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if leagues == nil {
		leagues = []model.League{}
	}
	writeJSON(w, http.StatusOK, leagues)
}

// GetLeague handles GET /api/v1/leagues/{leagueID}
func (s *Server) GetLeague(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "leagueID")
	lg, err := s.life.GetLeague(r.Context(), leagueID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	members, err := s.life.Members(r.Context(), leagueID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if members == nil {
		members = []model.LedgerAccount{}
	}
	writeJSON(w, http.StatusOK, LeagueDetail{League: lg, Members: members})
}

// JoinLeague handles POST /api/v1/leagues/{leagueID}/join
func (s *Server) JoinLeague(w http.ResponseWriter, r *http.Request) {
	acct, err := s.life.JoinLeague(r.Context(), userFrom(r), chi.URLParam(r, "leagueID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// LeaveLeague handles POST /api/v1/leagues/{leagueID}/leave
func (s *Server) LeaveLeague(w http.ResponseWriter, r *http.Request) {
	acct, err := s.life.LeaveLeague(r.Context(), userFrom(r), chi.URLParam(r, "leagueID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// StartLeague handles POST /api/v1/leagues/{leagueID}/start
func (s *Server) StartLeague(w http.ResponseWriter, r *http.Request) {
	lg, err := s.life.StartLeague(r.Context(), chi.URLParam(r, "leagueID"), userFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lg)
}

// EndLeague handles POST /api/v1/leagues/{leagueID}/end
// Returns the final standings.
func (s *Server) EndLeague(w http.ResponseWriter, r *http.Request) {
	standings, err := s.life.EndLeague(r.Context(), chi.URLParam(r, "leagueID"), userFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if standings == nil {
		standings = []model.RankEntry{}
	}
	writeJSON(w, http.StatusOK, standings)
}

// GetRanking handles GET /api/v1/leagues/{leagueID}/ranking
func (s *Server) GetRanking(w http.ResponseWriter, r *http.Request) {
	entries, err := s.val.RankLeague(r.Context(), chi.URLParam(r, "leagueID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.RankEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetPortfolio handles GET /api/v1/leagues/{leagueID}/portfolio/{userID}
func (s *Server) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	view, err := s.val.ComputePortfolio(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "leagueID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// MyLeague handles GET /api/v1/me/league
func (s *Server) MyLeague(w http.ResponseWriter, r *http.Request) {
	lg, acct, err := s.life.MyLeague(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MyLeagueResponse{League: lg, Account: acct})
}
