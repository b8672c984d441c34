package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
)

type startCmd struct {
	league string
	cash   string
}

func (*startCmd) Name() string     { return "start" }
func (*startCmd) Synopsis() string { return "activate a DRAFT league and seed member balances" }
func (*startCmd) Usage() string {
	return `leaguectl start -league <id> [-cash <amount>]

  Moves the league to ACTIVE and sets every member's cash to the league's
  initial cash, or to -cash when given.
`
}

func (c *startCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.league, "league", "", "League id.")
	f.StringVar(&c.cash, "cash", "", "Override the league's initial cash.")
}

func (c *startCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.league == "" {
		fmt.Fprintln(os.Stderr, "Error: -league is required")
		return subcommands.ExitUsageError
	}
	return withEnv(ctx, func(e *env) error {
		var cash decimal.Decimal
		if c.cash != "" {
			v, err := decimal.NewFromString(c.cash)
			if err != nil {
				return fmt.Errorf("-cash: %w", err)
			}
			cash = v
		} else {
			lg, err := e.life.GetLeague(ctx, c.league)
			if err != nil {
				return err
			}
			cash = lg.InitialCash
		}

		lg, err := e.life.SeedBalances(ctx, c.league, cash)
		if err != nil {
			return err
		}
		fmt.Printf("league %s (%s) is %s, members seeded with %s\n", lg.ID, lg.Name, lg.Status, lg.InitialCash)
		return nil
	})
}

type endCmd struct {
	league string
}

func (*endCmd) Name() string     { return "end" }
func (*endCmd) Synopsis() string { return "end a league and freeze final equity and ranks" }
func (*endCmd) Usage() string {
	return `leaguectl end -league <id>

  Closes trading, values every active member as of the end date and records
  final ranks. Safe to rerun: a second run finishes an interrupted pass or
  prints the stored standings.
`
}

func (c *endCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.league, "league", "", "League id.")
}

func (c *endCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.league == "" {
		fmt.Fprintln(os.Stderr, "Error: -league is required")
		return subcommands.ExitUsageError
	}
	return withEnv(ctx, func(e *env) error {
		standings, err := e.life.FinalizeLeague(ctx, c.league)
		if err != nil {
			return err
		}
		return printRanking(os.Stdout, standings)
	})
}

type rankCmd struct {
	league string
	json   bool
}

func (*rankCmd) Name() string     { return "rank" }
func (*rankCmd) Synopsis() string { return "print a league leaderboard" }
func (*rankCmd) Usage() string {
	return `leaguectl rank -league <id> [-json]
`
}

func (c *rankCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.league, "league", "", "League id.")
	f.BoolVar(&c.json, "json", false, "Print JSON instead of a table.")
}

func (c *rankCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.league == "" {
		fmt.Fprintln(os.Stderr, "Error: -league is required")
		return subcommands.ExitUsageError
	}
	return withEnv(ctx, func(e *env) error {
		entries, err := e.val.RankLeague(ctx, c.league)
		if err != nil {
			return err
		}
		if c.json {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		return printRanking(os.Stdout, entries)
	})
}

func printRanking(w io.Writer, entries []model.RankEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "RANK\tUSER\tTOTAL ASSET\tRETURN %\t")
	for _, e := range entries {
		total, ret := e.TotalAsset.StringFixed(2), e.ReturnPct.StringFixed(2)
		if !e.Valued {
			total, ret = "-", "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", e.Rank, e.UserID, total, ret)
	}
	return tw.Flush()
}
