package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func NewCountriesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "countries",
		Short: "List exit countries offered by the active validators",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			merged := map[string]struct{}{}
			for _, ep := range app.registry.ListActive() {
				codes, err := app.gateway.ListCountries(ctx, ep, true)
				if err != nil {
					continue
				}
				for _, c := range codes {
					merged[c] = struct{}{}
				}
			}
			if len(merged) == 0 {
				return errors.New("no validator answered with a country list")
			}

			codes := make([]string, 0, len(merged))
			for c := range merged {
				codes = append(codes, c)
			}
			sort.Strings(codes)
			for _, c := range codes {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
	return cmd
}
