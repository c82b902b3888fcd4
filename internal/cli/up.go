package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vpncircuit/internal/api"
	"vpncircuit/internal/circuit"
	"vpncircuit/internal/diag"
	"vpncircuit/internal/supervisor"
)

func NewUpCommand() *cobra.Command {
	var (
		hops      int
		countries []string
		direct    bool
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Lease a circuit and bring the tunnel up",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := supervisor.RouteOptions{
				HopCount:  hops,
				Countries: upperCountries(countries),
				Direct:    direct,
			}
			if err := app.sup.CreateRoute(ctx, opts); err != nil {
				return err
			}
			printRoute(cmd, app.sup.ActiveCircuit())
			if ip, err := diag.PublicIP(ctx); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "public ip: %s\n", ip)
			}

			srv := api.NewServer(app.cfg.APIAddr, app.sup)
			srvErr := make(chan error, 1)
			go func() { srvErr <- srv.Run(ctx) }()

			fmt.Fprintln(cmd.OutOrStdout(), "route is up; press Ctrl+C to stop")
			select {
			case <-ctx.Done():
			case err := <-srvErr:
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: control api stopped: %v\n", err)
					<-ctx.Done()
				}
			}

			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := app.sup.StopRoute(stopCtx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "route stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&hops, "hops", 0, "number of hops (0 uses the configured default)")
	cmd.Flags().StringSliceVar(&countries, "country", nil, "exit country per hop, e.g. --country US,NL")
	cmd.Flags().BoolVar(&direct, "direct", false, "single-hop direct connection")
	return cmd
}

func printRoute(cmd *cobra.Command, c *circuit.Circuit) {
	if c == nil {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "circuit %s: %s (%d hops), renews around %s\n",
		c.ID,
		strings.Join(c.Countries(), " -> "),
		len(c.Hops),
		c.ExpiresAt.Add(-supervisor.DefaultRenewMargin).Local().Format(time.Kitchen))
}
