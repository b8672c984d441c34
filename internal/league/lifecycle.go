// Package league runs the league lifecycle: creation, membership, the
// DRAFT → ACTIVE transition that seeds ledger balances, and the
// ACTIVE → ENDED transition that freezes final equity and ranks.
package league

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/metrics"
	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/store"
	"github.com/aidencstop/fantasy-league-engine/internal/stream"
	"github.com/aidencstop/fantasy-league-engine/internal/valuation"
)

// Membership bounds.
const (
	MinMembers = 2
	MaxMembers = 500
)

// Lifecycle owns every league status transition and membership change.
type Lifecycle struct {
	store store.Store
	val   *valuation.Engine
	hub   *stream.Hub // optional
	now   func() time.Time
}

// NewLifecycle creates a lifecycle service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewLifecycle(st store.Store, val *valuation.Engine, hub *stream.Hub) *Lifecycle {
	return &Lifecycle{
		store: st,
		val:   val,
		hub:   hub,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateParams describes a new league.
type CreateParams struct {
	Name        string          `json:"name"`
	ManagerID   string          `json:"manager_id"`
	InitialCash decimal.Decimal `json:"initial_cash"`
	MaxMembers  int             `json:"max_members"`
}

// CreateLeague registers a DRAFT league and enrolls its manager as the
// first member.
func (l *Lifecycle) CreateLeague(ctx context.Context, p CreateParams) (*model.League, error) {
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.Name == "":
		return nil, fmt.Errorf("%w: name is required", model.ErrInvalidLeague)
	case p.ManagerID == "":
		return nil, fmt.Errorf("%w: manager is required", model.ErrInvalidLeague)
	case p.InitialCash.IsNegative():
		return nil, fmt.Errorf("%w: initial_cash must be >= 0", model.ErrInvalidLeague)
	case p.MaxMembers < MinMembers || p.MaxMembers > MaxMembers:
		return nil, fmt.Errorf("%w: max_members must be between %d and %d", model.ErrInvalidLeague, MinMembers, MaxMembers)
	}

	now := l.now()
	lg := &model.League{
		ID:          uuid.New().String(),
		Name:        p.Name,
		ManagerID:   p.ManagerID,
		InitialCash: p.InitialCash,
		MaxMembers:  p.MaxMembers,
		Status:      model.LeagueDraft,
		CreatedAt:   now,
	}

	err := l.store.InTx(ctx, func(tx store.Tx) error {
		if err := requireNoActiveLeague(ctx, tx, p.ManagerID); err != nil {
			return err
		}
		if err := tx.InsertLeague(ctx, lg); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("%w: name %q is taken", model.ErrInvalidLeague, p.Name)
			}
			return err
		}
		return tx.InsertAccount(ctx, newAccount(p.ManagerID, lg.ID, now))
	})
	if err != nil {
		return nil, membershipErr("create league", p.ManagerID, err)
	}

	slog.Info("league created", "league", lg.ID, "name", lg.Name, "manager", lg.ManagerID,
		"initial_cash", lg.InitialCash.String(), "max_members", lg.MaxMembers)
	l.publish(stream.Event{Type: stream.TypeLeagueCreated, LeagueID: lg.ID, UserID: lg.ManagerID, Status: string(lg.Status)})
	return lg, nil
}

// JoinLeague enrolls userID in a DRAFT league. A member who left the same
// league before it started is reactivated.
func (l *Lifecycle) JoinLeague(ctx context.Context, userID, leagueID string) (*model.LedgerAccount, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", model.ErrNotAMember)
	}

	var acct *model.LedgerAccount
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		lg, err := lockLeague(ctx, tx, leagueID)
		if err != nil {
			return err
		}
		if lg.Status != model.LeagueDraft {
			return fmt.Errorf("%w: league %s is %s", model.ErrLeagueNotJoinable, leagueID, lg.Status)
		}
		if err := requireNoActiveLeague(ctx, tx, userID); err != nil {
			return err
		}

		members, err := tx.ListAccounts(ctx, leagueID)
		if err != nil {
			return err
		}
		var prior *model.LedgerAccount
		active := 0
		for i := range members {
			if members[i].IsActive {
				active++
			}
			if members[i].UserID == userID {
				prior = &members[i]
			}
		}
		if active >= lg.MaxMembers {
			return fmt.Errorf("%w: %d of %d seats taken", model.ErrLeagueFull, active, lg.MaxMembers)
		}

		now := l.now()
		if prior != nil {
			prior.IsActive = true
			prior.CashBalance = decimal.Zero
			prior.StartingCash = decimal.Zero
			prior.FinalEquityValue = decimal.NullDecimal{}
			prior.FinalRank = nil
			prior.JoinedAt = now
			prior.LeftAt = nil
			acct = prior
			return tx.UpdateAccount(ctx, prior)
		}
		acct = newAccount(userID, leagueID, now)
		return tx.InsertAccount(ctx, acct)
	})
	if err != nil {
		return nil, membershipErr("join league", userID, err)
	}

	slog.Info("member joined", "league", leagueID, "user", userID)
	l.publish(stream.Event{Type: stream.TypeMemberJoined, LeagueID: leagueID, UserID: userID})
	return acct, nil
}

// LeaveLeague deactivates the member's account. Leaving an ACTIVE league
// records the account's current total asset as its final equity; the
// member takes no part in the final ranking.
func (l *Lifecycle) LeaveLeague(ctx context.Context, userID, leagueID string) (*model.LedgerAccount, error) {
	var acct *model.LedgerAccount
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		lg, err := tx.GetLeague(ctx, leagueID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", model.ErrLeagueNotFound, leagueID)
		}
		if err != nil {
			return err
		}

		a, err := tx.LockAccount(ctx, userID, leagueID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !a.IsActive) {
			return fmt.Errorf("%w: user %s in league %s", model.ErrNotAMember, userID, leagueID)
		}
		if err != nil {
			return err
		}
		if lg.Status == model.LeagueEnded {
			return fmt.Errorf("%w: league %s has ended", model.ErrInvalidTransition, leagueID)
		}

		if lg.Status == model.LeagueActive {
			positions, err := tx.ListPositions(ctx, userID, leagueID)
			if err != nil {
				return err
			}
			view, err := l.val.Value(ctx, a, positions, nil)
			if err != nil {
				return err
			}
			a.FinalEquityValue = decimal.NewNullDecimal(view.TotalAsset)
		}
		now := l.now()
		a.IsActive = false
		a.LeftAt = &now
		acct = a
		return tx.UpdateAccount(ctx, a)
	})
	if err != nil {
		return nil, model.StorageFailure("leave league", err)
	}

	slog.Info("member left", "league", leagueID, "user", userID,
		"final_equity", acct.FinalEquityValue.Decimal.String(), "valued", acct.FinalEquityValue.Valid)
	l.publish(stream.Event{Type: stream.TypeMemberLeft, LeagueID: leagueID, UserID: userID})
	return acct, nil
}

// StartLeague moves a DRAFT league to ACTIVE on behalf of its manager,
// seeding every member with the league's initial cash.
func (l *Lifecycle) StartLeague(ctx context.Context, leagueID, actorID string) (*model.League, error) {
	return l.start(ctx, leagueID, actorID, nil)
}

// SeedBalances is the start hook for callers that have already authorized
// the transition: it activates the league and sets cash_balance and
// starting_cash of every active member to initialCash.
func (l *Lifecycle) SeedBalances(ctx context.Context, leagueID string, initialCash decimal.Decimal) (*model.League, error) {
	if initialCash.IsNegative() {
		return nil, fmt.Errorf("%w: initial cash must be >= 0", model.ErrInvalidLeague)
	}
	return l.start(ctx, leagueID, "", &initialCash)
}

func (l *Lifecycle) start(ctx context.Context, leagueID, actorID string, cash *decimal.Decimal) (*model.League, error) {
	var lg *model.League
	seeded := 0
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		lg, err = lockLeague(ctx, tx, leagueID)
		if err != nil {
			return err
		}
		if actorID != "" && lg.ManagerID != actorID {
			return fmt.Errorf("%w: %s does not manage %s", model.ErrNotManager, actorID, leagueID)
		}
		if lg.Status != model.LeagueDraft {
			return fmt.Errorf("%w: cannot start a league that is %s", model.ErrInvalidTransition, lg.Status)
		}
		if cash != nil {
			lg.InitialCash = *cash
		}

		members, err := tx.ListAccounts(ctx, leagueID)
		if err != nil {
			return err
		}
		for i := range members {
			a := &members[i]
			if !a.IsActive {
				continue
			}
			a.CashBalance = lg.InitialCash
			a.StartingCash = lg.InitialCash
			if err := tx.UpdateAccount(ctx, a); err != nil {
				return err
			}
			seeded++
		}

		now := l.now()
		lg.Status = model.LeagueActive
		lg.StartedAt = &now
		return tx.UpdateLeague(ctx, lg)
	})
	if err != nil {
		return nil, model.StorageFailure("start league", err)
	}

	metrics.ActiveLeagues.Inc()
	slog.Info("league started", "league", lg.ID, "members", seeded, "initial_cash", lg.InitialCash.String())
	l.publish(stream.Event{Type: stream.TypeLeagueStarted, LeagueID: lg.ID, Status: string(lg.Status)})
	return lg, nil
}

// EndLeague finalizes a league on behalf of its manager.
func (l *Lifecycle) EndLeague(ctx context.Context, leagueID, actorID string) ([]model.RankEntry, error) {
	return l.finalize(ctx, leagueID, actorID)
}

// FinalizeLeague is the end hook: it flips the league to ENDED, which stops
// new orders, then values every active member as of the end date and
// freezes final_equity_value, final_rank and is_active=false.
//
// Calling it again on an ENDED league finishes any members a previous
// interrupted pass left active, or returns the frozen standings.
func (l *Lifecycle) FinalizeLeague(ctx context.Context, leagueID string) ([]model.RankEntry, error) {
	return l.finalize(ctx, leagueID, "")
}

func (l *Lifecycle) finalize(ctx context.Context, leagueID, actorID string) ([]model.RankEntry, error) {
	// First unit: close trading. Orders hold the league row shared, so the
	// flip waits for in-flight orders and later orders see ENDED.
	flipped := false
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		lg, err := lockLeague(ctx, tx, leagueID)
		if err != nil {
			return err
		}
		if actorID != "" && lg.ManagerID != actorID {
			return fmt.Errorf("%w: %s does not manage %s", model.ErrNotManager, actorID, leagueID)
		}
		switch lg.Status {
		case model.LeagueDraft:
			return fmt.Errorf("%w: cannot end a league that has not started", model.ErrInvalidTransition)
		case model.LeagueEnded:
			return nil
		}
		now := l.now()
		lg.Status = model.LeagueEnded
		lg.EndedAt = &now
		flipped = true
		return tx.UpdateLeague(ctx, lg)
	})
	if err != nil {
		return nil, model.StorageFailure("end league", err)
	}
	if flipped {
		metrics.ActiveLeagues.Dec()
		slog.Info("league trading closed", "league", leagueID)
	}

	// Second unit: value and freeze every remaining active member.
	var standings []model.RankEntry
	finalized := 0
	err = l.store.InTx(ctx, func(tx store.Tx) error {
		lg, err := lockLeague(ctx, tx, leagueID)
		if err != nil {
			return err
		}
		accounts, err := tx.ListAccounts(ctx, leagueID)
		if err != nil {
			return err
		}

		var members []valuation.Member
		for _, a := range accounts {
			if !a.IsActive {
				continue
			}
			positions, err := tx.ListPositions(ctx, a.UserID, leagueID)
			if err != nil {
				return err
			}
			members = append(members, valuation.Member{Account: a, Positions: positions})
		}
		if len(members) == 0 {
			standings = valuation.FinalStandings(accounts)
			return nil
		}

		entries, views, err := l.val.RankMembers(ctx, lg, members)
		if err != nil {
			return err
		}
		ranks := valuation.RankMap(entries)
		now := l.now()
		for i, m := range members {
			a := m.Account
			rank := ranks[a.UserID]
			a.FinalRank = &rank
			if views[i] != nil {
				a.FinalEquityValue = decimal.NewNullDecimal(views[i].TotalAsset)
			}
			a.IsActive = false
			a.LeftAt = &now
			if err := tx.UpdateAccount(ctx, &a); err != nil {
				return err
			}
			finalized++
		}
		standings = entries
		return nil
	})
	if err != nil {
		return nil, model.StorageFailure("finalize league", err)
	}

	if finalized > 0 {
		metrics.Finalizations.Inc()
		slog.Info("league finalized", "league", leagueID, "members", finalized)
		l.publish(stream.Event{Type: stream.TypeLeagueEnded, LeagueID: leagueID, Status: string(model.LeagueEnded)})
	}
	return standings, nil
}

// --- Queries ---

// GetLeague returns one league.
func (l *Lifecycle) GetLeague(ctx context.Context, id string) (*model.League, error) {
	lg, err := l.store.GetLeague(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", model.ErrLeagueNotFound, id)
	}
	if err != nil {
		return nil, model.StorageFailure("get league", err)
	}
	return lg, nil
}

// ListLeagues returns leagues newest first, optionally filtered by status.
func (l *Lifecycle) ListLeagues(ctx context.Context, status model.LeagueStatus) ([]model.League, error) {
	switch status {
	case "", model.LeagueDraft, model.LeagueActive, model.LeagueEnded:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidLeague, status)
	}
	leagues, err := l.store.ListLeagues(ctx, status)
	if err != nil {
		return nil, model.StorageFailure("list leagues", err)
	}
	return leagues, nil
}

// Members returns every account of a league, including past members.
func (l *Lifecycle) Members(ctx context.Context, leagueID string) ([]model.LedgerAccount, error) {
	if _, err := l.GetLeague(ctx, leagueID); err != nil {
		return nil, err
	}
	accounts, err := l.store.ListAccounts(ctx, leagueID)
	if err != nil {
		return nil, model.StorageFailure("list accounts", err)
	}
	return accounts, nil
}

// MyLeague returns the user's active account and its league.
func (l *Lifecycle) MyLeague(ctx context.Context, userID string) (*model.League, *model.LedgerAccount, error) {
	acct, err := l.store.GetActiveAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: user %s has no active league", model.ErrNotAMember, userID)
	}
	if err != nil {
		return nil, nil, model.StorageFailure("get active account", err)
	}
	lg, err := l.GetLeague(ctx, acct.LeagueID)
	if err != nil {
		return nil, nil, err
	}
	return lg, acct, nil
}

// --- helpers ---

func lockLeague(ctx context.Context, tx store.Tx, id string) (*model.League, error) {
	lg, err := tx.LockLeague(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", model.ErrLeagueNotFound, id)
	}
	return lg, err
}

func requireNoActiveLeague(ctx context.Context, tx store.Tx, userID string) error {
	cur, err := tx.LockActiveAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is active in league %s", model.ErrAlreadyInLeague, userID, cur.LeagueID)
}

func newAccount(userID, leagueID string, at time.Time) *model.LedgerAccount {
	return &model.LedgerAccount{
		UserID:       userID,
		LeagueID:     leagueID,
		CashBalance:  decimal.Zero,
		StartingCash: decimal.Zero,
		IsActive:     true,
		JoinedAt:     at,
	}
}

// membershipErr maps a uniqueness conflict that slipped past the in-tx
// check (a concurrent join by the same user) to ErrAlreadyInLeague.
func membershipErr(op, userID string, err error) error {
	if errors.Is(err, store.ErrConflict) && !model.IsDomain(err) {
		return fmt.Errorf("%w: %s: %w", model.ErrAlreadyInLeague, userID, err)
	}
	return model.StorageFailure(op, err)
}

func (l *Lifecycle) publish(ev stream.Event) {
	if l.hub != nil {
		l.hub.Broadcast(ev)
	}
}
