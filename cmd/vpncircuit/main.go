package main

import (
	"os"

	"github.com/spf13/cobra"

	"vpncircuit/internal/cli"
)

func main() {
	root := &cobra.Command{
		Use:   "vpncircuit",
		Short: "Leased WireGuard circuits over community validators",
	}

	root.AddCommand(
		cli.NewUpCommand(),
		cli.NewDownCommand(),
		cli.NewStatusCommand(),
		cli.NewRefreshCommand(),
		cli.NewRotateCommand(),
		cli.NewValidatorsCommand(),
		cli.NewCountriesCommand(),
		cli.NewHistoryCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
