package ticker

import (
	"errors"
	"testing"
	"time"
)

func TestNormalize_Valid(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"AAPL", "AAPL"},
		{"  msft ", "MSFT"},
		{"brk.b", "BRK-B"},
		{"BRK-A", "BRK-A"},
		{"005930", "005930"},
		{"X", "X"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if err != nil {
			t.Errorf("Normalize(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"-ABC",
		"ABC-",
		"AB CD",
		"TOOLONGSYMBOL",
		"$SPY",
		"ÄPPL",
	}
	for _, sym := range tests {
		_, err := Normalize(sym)
		if err == nil {
			t.Errorf("expected error for symbol %q", sym)
			continue
		}
		if !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("expected ErrInvalidSymbol for %q, got %v", sym, err)
		}
	}
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2024-03-15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	for _, bad := range []string{"", "2024-13-01", "15/03/2024", "20240315"} {
		if _, err := ParseDate(bad); !errors.Is(err, ErrInvalidDate) {
			t.Errorf("ParseDate(%q): expected ErrInvalidDate, got %v", bad, err)
		}
	}
}
