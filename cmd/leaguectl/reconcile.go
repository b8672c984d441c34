package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

var errDrift = errors.New("ledger drift detected")

type reconcileCmd struct {
	league string
	user   string
}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "replay a member's trades and compare with the stored ledger" }
func (*reconcileCmd) Usage() string {
	return `leaguectl reconcile -league <id> [-user <id>]

  Rebuilds cash and shares from the transaction log and reports any
  difference from the stored account and positions. Without -user every
  member of the league is checked. Exits non-zero on drift.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.league, "league", "", "League id.")
	f.StringVar(&c.user, "user", "", "Only check this member.")
}

func (c *reconcileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.league == "" {
		fmt.Fprintln(os.Stderr, "Error: -league is required")
		return subcommands.ExitUsageError
	}
	return withEnv(ctx, func(e *env) error {
		users := []string{c.user}
		if c.user == "" {
			members, err := e.life.Members(ctx, c.league)
			if err != nil {
				return err
			}
			users = users[:0]
			for _, m := range members {
				users = append(users, m.UserID)
			}
		}

		drifted := 0
		for _, u := range users {
			report, err := e.val.Reconcile(ctx, u, c.league)
			if err != nil {
				return err
			}
			if report.Clean() {
				fmt.Printf("%s: ok (%d trades, cash %s)\n", u, report.Trades, report.Replayed.Cash)
				continue
			}
			drifted++
			for _, d := range report.Drift {
				fmt.Printf("%s: %s stored=%s replayed=%s\n", u, d.Field, d.Stored, d.Replayed)
			}
		}
		if drifted > 0 {
			return fmt.Errorf("%w: %d of %d members", errDrift, drifted, len(users))
		}
		return nil
	})
}
