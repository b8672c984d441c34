// Command leaguectl is the operator CLI for the league engine: bulk price
// import, league start and end hooks, rankings, and ledger reconciliation.
// It talks to PostgreSQL directly using the server's configuration.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path"

	"github.com/google/subcommands"
)

var configPath = flag.String("config", os.Getenv("LEAGUE_CONFIG"), "path to TOML config file")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&importPricesCmd{}, "prices")
	commander.Register(&startCmd{}, "leagues")
	commander.Register(&endCmd{}, "leagues")
	commander.Register(&rankCmd{}, "leagues")
	commander.Register(&reconcileCmd{}, "ledger")

	flag.Parse()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	os.Exit(int(commander.Execute(context.Background())))
}
