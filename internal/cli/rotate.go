package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vpncircuit/internal/api"
	"vpncircuit/internal/config"
	"vpncircuit/internal/logging"
)

func NewRotateCommand() *cobra.Command {
	var country string

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Change the exit of the running route",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Init(cfg.LogLevel)

			view, err := api.NewClient(cfg.APIAddr).Rotate(cmd.Context(), strings.ToUpper(strings.TrimSpace(country)))
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

	cmd.Flags().StringVar(&country, "country", "", "exit country for the new lease (empty keeps the current one)")
	return cmd
}
