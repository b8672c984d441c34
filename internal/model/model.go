// Package model defines the core domain types shared across the league engine.
// All monetary values and share quantities use shopspring/decimal; never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// LeagueStatus is the lifecycle state of a league. Transitions only move
// forward: DRAFT → ACTIVE → ENDED.
type LeagueStatus string

const (
	LeagueDraft  LeagueStatus = "DRAFT"
	LeagueActive LeagueStatus = "ACTIVE"
	LeagueEnded  LeagueStatus = "ENDED"
)

// PriceSnapshot is the daily closing record for one symbol. One row per
// (symbol, date); a second write for the same key replaces the first.
type PriceSnapshot struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Date      time.Time       `json:"date" db:"snapshot_date"` // UTC midnight
	Close     decimal.Decimal `json:"close" db:"close"`
	High      decimal.Decimal `json:"high" db:"high"`
	Low       decimal.Decimal `json:"low" db:"low"`
	Volume    int64           `json:"volume" db:"volume"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// League is a time-boxed competition with shared start/end and per-member
// simulated cash.
type League struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	ManagerID   string          `json:"manager_id" db:"manager_id"`
	InitialCash decimal.Decimal `json:"initial_cash" db:"initial_cash"`
	MaxMembers  int             `json:"max_members" db:"max_members"`
	Status      LeagueStatus    `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty" db:"started_at"`
	EndedAt     *time.Time      `json:"ended_at,omitempty" db:"ended_at"`
}

// LedgerAccount is the cash record of one member within one league.
// At most one account per user has IsActive set.
type LedgerAccount struct {
	UserID           string              `json:"user_id" db:"user_id"`
	LeagueID         string              `json:"league_id" db:"league_id"`
	CashBalance      decimal.Decimal     `json:"cash_balance" db:"cash_balance"`
	StartingCash     decimal.Decimal     `json:"starting_cash" db:"starting_cash"`
	IsActive         bool                `json:"is_active" db:"is_active"`
	FinalEquityValue decimal.NullDecimal `json:"final_equity_value" db:"final_equity_value"`
	FinalRank        *int                `json:"final_rank" db:"final_rank"`
	JoinedAt         time.Time           `json:"joined_at" db:"joined_at"`
	LeftAt           *time.Time          `json:"left_at,omitempty" db:"left_at"`
}

// Finalized reports whether league-end finalization has frozen the account.
func (a *LedgerAccount) Finalized() bool {
	return a.FinalRank != nil
}

// Position is a member's current holding of one symbol within one league.
// Persisted positions always have Shares > 0. AveragePrice is the
// volume-weighted cost of the shares currently held and only changes on buys.
type Position struct {
	UserID       string          `json:"user_id" db:"user_id"`
	LeagueID     string          `json:"league_id" db:"league_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Shares       decimal.Decimal `json:"shares" db:"shares"`
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// CostBasis returns AveragePrice × Shares.
func (p *Position) CostBasis() decimal.Decimal {
	return p.AveragePrice.Mul(p.Shares)
}

// Transaction is an immutable record of an executed order.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	LeagueID  string          `json:"league_id" db:"league_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Side      Side            `json:"side" db:"side"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	Price     decimal.Decimal `json:"price" db:"price"` // snapshot close used at execution
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Amount returns Shares × Price.
func (t *Transaction) Amount() decimal.Decimal {
	return t.Shares.Mul(t.Price)
}

// TransactionFilter selects trade history. Empty LeagueID matches every
// league; From/To are inclusive calendar days in UTC.
type TransactionFilter struct {
	UserID   string
	LeagueID string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// Holding is one valued position inside a PortfolioView.
type Holding struct {
	Symbol       string          `json:"symbol"`
	Shares       decimal.Decimal `json:"shares"`
	AveragePrice decimal.Decimal `json:"average_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Evaluation   decimal.Decimal `json:"evaluation"`
	PnL          decimal.Decimal `json:"pnl"`
	PnLPct       decimal.Decimal `json:"pnl_pct"`
}

// PortfolioView is the mark-to-market valuation of one ledger account.
type PortfolioView struct {
	UserID          string          `json:"user_id"`
	LeagueID        string          `json:"league_id"`
	StartingCash    decimal.Decimal `json:"starting_cash"`
	Cash            decimal.Decimal `json:"cash"`
	TotalStockValue decimal.Decimal `json:"total_stock_value"`
	TotalAsset      decimal.Decimal `json:"total_asset"`
	ReturnPct       decimal.Decimal `json:"return_pct"`
	Holdings        []Holding       `json:"holdings"`
	AsOf            *time.Time      `json:"as_of,omitempty"` // nil = latest snapshots
}

// RankEntry is one row of a league leaderboard.
type RankEntry struct {
	UserID     string          `json:"user_id"`
	TotalAsset decimal.Decimal `json:"total_asset"`
	ReturnPct  decimal.Decimal `json:"return_pct"`
	Rank       int             `json:"rank"`
	Valued     bool            `json:"valued"` // false when no valuation could be computed
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
