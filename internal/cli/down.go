package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"vpncircuit/internal/api"
	"vpncircuit/internal/config"
	"vpncircuit/internal/logging"
	"vpncircuit/internal/tunnel"
)

func NewDownCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Tear down the running route",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Init(cfg.LogLevel)
			ctx := cmd.Context()

			client := api.NewClient(cfg.APIAddr)
			if _, err := client.Stop(ctx); err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "route stopped")
				return nil
			} else if !errors.Is(err, api.ErrNotRunning) {
				return err
			}

			// No running process: clear leftover interfaces and firewall rules.
			act := tunnel.NewWireGuard(cfg.InterfacePrefix, nil)
			if err := act.CleanupAll(ctx); err != nil {
				return err
			}
			if err := tunnel.NewKillSwitch(cfg.Validators).Disable(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: firewall cleanup: %v\n", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "no running route; leftover interfaces removed")
			return nil
		},
	}
	return cmd
}
