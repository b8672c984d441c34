package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/ticker"
)

type importPricesCmd struct {
	file   string
	dryRun bool
}

func (*importPricesCmd) Name() string     { return "import-prices" }
func (*importPricesCmd) Synopsis() string { return "upsert daily price snapshots from a CSV file" }
func (*importPricesCmd) Usage() string {
	return `leaguectl import-prices -f <file.csv> [-n]

  Reads rows of symbol,date,close[,high,low,volume] (date as YYYY-MM-DD) and
  upserts one snapshot per row. A header row is skipped. Use "-" for stdin.
`
}

func (c *importPricesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "-", "CSV file to import, or - for stdin.")
	f.BoolVar(&c.dryRun, "n", false, "Parse and validate only; write nothing.")
}

func (c *importPricesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	in := io.Reader(os.Stdin)
	if c.file != "-" {
		f, err := os.Open(c.file)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return subcommands.ExitFailure
		}
		defer f.Close()
		in = f
	}

	snaps, err := parsePriceCSV(in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitFailure
	}
	if c.dryRun {
		fmt.Printf("%d snapshots parsed\n", len(snaps))
		return subcommands.ExitSuccess
	}

	return withEnv(ctx, func(e *env) error {
		for i, s := range snaps {
			if _, err := e.book.Upsert(ctx, s); err != nil {
				return fmt.Errorf("row %d (%s %s): %w", i+1, s.Symbol, s.Date.Format(ticker.DateLayout), err)
			}
		}
		fmt.Printf("%d snapshots imported\n", len(snaps))
		return nil
	})
}

// parsePriceCSV reads symbol,date,close[,high,low,volume] rows. A first row
// whose date column does not parse is treated as a header.
func parsePriceCSV(r io.Reader) ([]model.PriceSnapshot, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []model.PriceSnapshot
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("row %d: expected at least symbol,date,close", row)
		}

		date, err := ticker.ParseDate(rec[1])
		if err != nil {
			if row == 1 {
				continue
			}
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		snap := model.PriceSnapshot{Symbol: rec[0], Date: date}
		if snap.Close, err = decimal.NewFromString(strings.TrimSpace(rec[2])); err != nil {
			return nil, fmt.Errorf("row %d: close: %w", row, err)
		}
		if len(rec) >= 5 {
			if snap.High, err = decimal.NewFromString(strings.TrimSpace(rec[3])); err != nil {
				return nil, fmt.Errorf("row %d: high: %w", row, err)
			}
			if snap.Low, err = decimal.NewFromString(strings.TrimSpace(rec[4])); err != nil {
				return nil, fmt.Errorf("row %d: low: %w", row, err)
			}
		}
		if len(rec) >= 6 {
			if snap.Volume, err = strconv.ParseInt(strings.TrimSpace(rec[5]), 10, 64); err != nil {
				return nil, fmt.Errorf("row %d: volume: %w", row, err)
			}
		}
		out = append(out, snap)
	}
}
