// Package ticker normalizes and validates equity symbols and the calendar
// dates used to key price snapshots.
package ticker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// symbolRegex matches a normalized exchange symbol.
// Examples: AAPL, BRK-B, 005930
var symbolRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{0,9}$`)

// DateLayout is the wire format for snapshot dates.
const DateLayout = "2006-01-02"

var (
	ErrInvalidSymbol = errors.New("ticker: invalid symbol")
	ErrInvalidDate   = errors.New("ticker: invalid date")
)

// Normalize trims, upper-cases and rewrites share-class dots to dashes
// ("brk.b" becomes "BRK-B"), then validates the result.
func Normalize(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, ".", "-")
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	if strings.HasSuffix(s, "-") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// ParseDate parses a YYYY-MM-DD calendar day as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s (expected YYYY-MM-DD)", ErrInvalidDate, s)
	}
	return t, nil
}
