package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
)

func TestParsePriceCSV(t *testing.T) {
	in := `symbol,date,close,high,low,volume
AAPL,2024-03-04,175.10,176.90,173.79,81510100
brk.b, 2024-03-04, 405.5

MSFT,2024-03-05,402.65,405.16,398.39,
`
	_, err := parsePriceCSV(strings.NewReader(in))
	if err == nil || !strings.Contains(err.Error(), "volume") {
		t.Fatalf("expected volume error on the last row, got %v", err)
	}

	in = strings.Replace(in, "398.39,", "398.39,26919200", 1)
	snaps, err := parsePriceCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(snaps))
	}
	if snaps[0].Symbol != "AAPL" || !snaps[0].Close.Equal(decimal.RequireFromString("175.10")) || snaps[0].Volume != 81510100 {
		t.Errorf("unexpected first row: %+v", snaps[0])
	}
	// Normalization is left to the price book.
	if snaps[1].Symbol != "brk.b" || !snaps[1].High.IsZero() {
		t.Errorf("unexpected short row: %+v", snaps[1])
	}
	if snaps[2].Date.Day() != 5 {
		t.Errorf("unexpected date: %v", snaps[2].Date)
	}
}

func TestParsePriceCSV_Errors(t *testing.T) {
	tests := map[string]string{
		"short row":   "AAPL,2024-03-04\n",
		"bad date":    "AAPL,2024-03-04,1\nAAPL,03/05/2024,2\n",
		"bad close":   "AAPL,2024-03-04,abc\n",
		"bad high":    "AAPL,2024-03-04,1,x,1\n",
		"bad quoting": "\"AAPL,2024-03-04,1\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := parsePriceCSV(strings.NewReader(in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPrintRanking(t *testing.T) {
	var buf bytes.Buffer
	err := printRanking(&buf, []model.RankEntry{
		{UserID: "x", TotalAsset: decimal.NewFromInt(110000), ReturnPct: decimal.NewFromInt(10), Rank: 1, Valued: true},
		{UserID: "new", Rank: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "110000.00") || !strings.Contains(out, "10.00") {
		t.Errorf("missing valued row: %q", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.Contains(lines[2], "-") {
		t.Errorf("unexpected table: %q", out)
	}
}
