package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"vpncircuit/internal/config"
	"vpncircuit/internal/logging"
	"vpncircuit/internal/store"
)

func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent circuits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Init(cfg.LogLevel)

			st, err := store.Open(cfg.DBPath())
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			recs, err := st.RecentCircuits(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no circuits recorded yet")
				return nil
			}
			for _, r := range recs {
				end := "still up"
				if r.StoppedAt != nil {
					end = r.StoppedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-30s %d hops  started %s  stopped %s\n",
					r.ID[:8],
					r.Path,
					r.HopCount,
					r.CreatedAt.Local().Format("2006-01-02 15:04"),
					end)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of circuits to show")
	return cmd
}
