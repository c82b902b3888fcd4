package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"vpncircuit/internal/api"
	"vpncircuit/internal/config"
	"vpncircuit/internal/logging"
)

func NewRefreshCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the route with fresh leases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Init(cfg.LogLevel)

			view, err := api.NewClient(cfg.APIAddr).Refresh(cmd.Context())
			if errors.Is(err, api.ErrNotRunning) {
				return fmt.Errorf("no running route; start one with `vpncircuit up`")
			}
			if err != nil {
				return err
			}
			printStatus(cmd, view)
			return nil
		},
	}
	return cmd
}
