package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func newBook(t *testing.T) *Book {
	t.Helper()
	b := NewBook(store.NewMemoryStore())
	ctx := context.Background()
	for _, s := range []model.PriceSnapshot{
		{Symbol: "XYZ", Date: date(2024, 3, 1), Close: d(10)},
		{Symbol: "XYZ", Date: date(2024, 3, 4), Close: d(12)},
		{Symbol: "XYZ", Date: date(2024, 3, 5), Close: d(11)},
	} {
		if _, err := b.Upsert(ctx, s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return b
}

func TestLatestPrice(t *testing.T) {
	b := newBook(t)
	p, err := b.LatestPrice(context.Background(), "XYZ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(d(11)) {
		t.Errorf("expected 11, got %s", p)
	}

	_, err = b.LatestPrice(context.Background(), "NONE")
	if !errors.Is(err, model.ErrNoPriceData) {
		t.Errorf("expected ErrNoPriceData, got %v", err)
	}
}

func TestPriceAsOf(t *testing.T) {
	b := newBook(t)
	ctx := context.Background()

	tests := []struct {
		name string
		at   *time.Time
		want float64
	}{
		{"exact day", ptr(date(2024, 3, 4)), 12},
		{"weekend uses last known close", ptr(date(2024, 3, 3)), 10},
		{"intraday instant truncates to its day", ptr(time.Date(2024, 3, 4, 18, 30, 0, 0, time.UTC)), 12},
		{"after last snapshot", ptr(date(2024, 6, 1)), 11},
		{"before first snapshot", ptr(date(2024, 2, 1)), 0},
		{"no date means latest", nil, 11},
	}
	for _, tt := range tests {
		got, err := b.PriceAsOf(ctx, "XYZ", tt.at)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
			continue
		}
		if !got.Equal(d(tt.want)) {
			t.Errorf("%s: expected %v, got %s", tt.name, tt.want, got)
		}
	}

	got, err := b.PriceAsOf(ctx, "NONE", nil)
	if err != nil || !got.IsZero() {
		t.Errorf("unknown symbol should value at zero without error, got %s, %v", got, err)
	}
}

func TestUpsert_OverwritesSameDay(t *testing.T) {
	b := newBook(t)
	ctx := context.Background()

	snap, err := b.Upsert(ctx, model.PriceSnapshot{
		Symbol: "xyz", Date: time.Date(2024, 3, 5, 21, 0, 0, 0, time.UTC), Close: d(11.5),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Symbol != "XYZ" || !snap.Date.Equal(date(2024, 3, 5)) {
		t.Errorf("expected normalized key XYZ/2024-03-05, got %s/%s", snap.Symbol, snap.Date)
	}

	p, _ := b.LatestPrice(ctx, "XYZ")
	if !p.Equal(d(11.5)) {
		t.Errorf("expected corrected close 11.5, got %s", p)
	}
	prev, _ := b.PriceAsOf(ctx, "XYZ", ptr(date(2024, 3, 4)))
	if !prev.Equal(d(12)) {
		t.Errorf("earlier snapshot should be untouched, got %s", prev)
	}
}

func TestUpsert_Validation(t *testing.T) {
	b := NewBook(store.NewMemoryStore())
	tests := []model.PriceSnapshot{
		{Symbol: "", Date: date(2024, 1, 2), Close: d(1)},
		{Symbol: "BAD SYMBOL", Date: date(2024, 1, 2), Close: d(1)},
		{Symbol: "XYZ", Date: date(2024, 1, 2), Close: d(0)},
		{Symbol: "XYZ", Date: date(2024, 1, 2), Close: d(-5)},
		{Symbol: "XYZ", Close: d(5)},
		{Symbol: "XYZ", Date: date(2024, 1, 2), Close: d(5), Volume: -1},
	}
	for _, s := range tests {
		_, err := b.Upsert(context.Background(), s)
		if !errors.Is(err, model.ErrInvalidSnapshot) {
			t.Errorf("snapshot %+v: expected ErrInvalidSnapshot, got %v", s, err)
		}
	}
}

func ptr(t time.Time) *time.Time { return &t }
