package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewValidatorsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validators",
		Short: "Inspect the configured validator pool",
	}
	cmd.AddCommand(newValidatorsListCommand(), newValidatorsCheckCommand())
	return cmd
}

func newValidatorsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List validators and their last known status",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			for _, ep := range app.registry.List() {
				status := "active"
				if !ep.Active {
					status = "down"
				}
				checked := "never"
				if !ep.LastChecked.IsZero() {
					checked = ep.LastChecked.Local().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-8s last checked %s\n", ep.Host(), status, checked)
			}
			return nil
		},
	}
}

func newValidatorsCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe every validator and report the healthy count",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			active := app.registry.CheckAll(cmd.Context())
			total := len(app.registry.List())
			fmt.Fprintf(cmd.OutOrStdout(), "%d/%d validators healthy\n", active, total)
			for _, ep := range app.registry.List() {
				status := "active"
				if !ep.Active {
					status = "down"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", ep.Host(), status)
			}
			return nil
		},
	}
}
