package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vpncircuit/internal/api"
	"vpncircuit/internal/config"
	"vpncircuit/internal/diag"
	"vpncircuit/internal/logging"
	"vpncircuit/internal/tunnel"
)

func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current route state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Init(cfg.LogLevel)
			ctx := cmd.Context()

			client := api.NewClient(cfg.APIAddr)
			view, err := client.Status(ctx)
			if err == nil {
				printStatus(cmd, view)
				if ip, err := diag.PublicIP(ctx); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "public ip: %s\n", ip)
				}
				return nil
			}
			if !errors.Is(err, api.ErrNotRunning) {
				return err
			}

			// No control process; inspect the device directly.
			act := tunnel.NewWireGuard(cfg.InterfacePrefix, nil)
			up, err := act.Active()
			if err != nil {
				return err
			}
			if up {
				fmt.Fprintln(cmd.OutOrStdout(), "interface is up but no route process is running; run `vpncircuit down` to clean up")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "no active route")
			return nil
		},
	}
	return cmd
}

func printStatus(cmd *cobra.Command, view api.StatusView) {
	fmt.Fprintf(cmd.OutOrStdout(), "state: %s\n", view.State)
	if view.CircuitID == "" {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "circuit: %s\n", view.CircuitID)
	fmt.Fprintf(cmd.OutOrStdout(), "path: %s (%d hops)\n", strings.Join(view.Path, " -> "), view.Hops)
	if view.ExpiresAt != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "expires: %s\n", view.ExpiresAt.Local().Format(time.RFC1123))
	}
}
