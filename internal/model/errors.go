package model

import (
	"errors"
	"fmt"
)

// Order and valuation failures.
var (
	ErrInvalidOrder       = errors.New("invalid order")
	ErrLeagueNotTradable  = errors.New("league not tradable")
	ErrSymbolNotFound     = errors.New("symbol not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrNotAMember         = errors.New("not a member of league")
	ErrNoPriceData        = errors.New("no price data")
	ErrStorageFailure     = errors.New("storage failure")
)

// League lifecycle failures.
var (
	ErrLeagueNotFound    = errors.New("league not found")
	ErrInvalidTransition = errors.New("invalid league status transition")
	ErrLeagueNotJoinable = errors.New("league is not accepting members")
	ErrLeagueFull        = errors.New("league is full")
	ErrAlreadyInLeague   = errors.New("user already has an active league")
	ErrNotManager        = errors.New("only the league manager may do this")
	ErrInvalidLeague     = errors.New("invalid league")
)

// ErrInvalidSnapshot rejects a malformed price snapshot write.
var ErrInvalidSnapshot = errors.New("invalid price snapshot")

// Stable machine-readable codes returned to callers.
const (
	CodeInvalidOrder       = "INVALID_ORDER"
	CodeLeagueNotTradable  = "LEAGUE_NOT_TRADABLE"
	CodeSymbolNotFound     = "SYMBOL_NOT_FOUND"
	CodeInsufficientFunds  = "INSUFFICIENT_FUNDS"
	CodeInsufficientShares = "INSUFFICIENT_SHARES"
	CodeNotAMember         = "NOT_A_MEMBER"
	CodeNoPriceData        = "NO_PRICE_DATA"
	CodeLeagueNotFound     = "LEAGUE_NOT_FOUND"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeLeagueNotJoinable  = "LEAGUE_NOT_JOINABLE"
	CodeLeagueFull         = "LEAGUE_FULL"
	CodeAlreadyInLeague    = "ALREADY_IN_LEAGUE"
	CodeNotManager         = "NOT_MANAGER"
	CodeInvalidLeague      = "INVALID_LEAGUE"
	CodeInvalidSnapshot    = "INVALID_SNAPSHOT"
	CodeStorageFailure     = "STORAGE_FAILURE"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidOrder, CodeInvalidOrder},
	{ErrLeagueNotTradable, CodeLeagueNotTradable},
	{ErrSymbolNotFound, CodeSymbolNotFound},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrInsufficientShares, CodeInsufficientShares},
	{ErrNotAMember, CodeNotAMember},
	{ErrNoPriceData, CodeNoPriceData},
	{ErrLeagueNotFound, CodeLeagueNotFound},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrLeagueNotJoinable, CodeLeagueNotJoinable},
	{ErrLeagueFull, CodeLeagueFull},
	{ErrAlreadyInLeague, CodeAlreadyInLeague},
	{ErrNotManager, CodeNotManager},
	{ErrInvalidLeague, CodeInvalidLeague},
	{ErrInvalidSnapshot, CodeInvalidSnapshot},
}

// Code maps err to its stable code. Anything outside the domain taxonomy,
// including wrapped ErrStorageFailure, reports STORAGE_FAILURE. A nil error
// has no code.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrStorageFailure) {
		return CodeStorageFailure
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeStorageFailure
}

// IsDomain reports whether err carries one of the taxonomy sentinels,
// including ErrStorageFailure itself.
func IsDomain(err error) bool {
	if errors.Is(err, ErrStorageFailure) {
		return true
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return true
		}
	}
	return false
}

// StorageFailure wraps an unexpected error from op with ErrStorageFailure.
// Errors that already belong to the taxonomy pass through unchanged.
func StorageFailure(op string, err error) error {
	if err == nil || IsDomain(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}
