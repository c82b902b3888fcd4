// Package cli implements the vpncircuit command surface.
package cli

import (
	"context"
	"strings"

	"vpncircuit/internal/circuit"
	"vpncircuit/internal/config"
	"vpncircuit/internal/logging"
	"vpncircuit/internal/provider"
	"vpncircuit/internal/registry"
	"vpncircuit/internal/store"
	"vpncircuit/internal/supervisor"
	"vpncircuit/internal/tunnel"
)

// app wires the route lifecycle components together for one command
// invocation.
type app struct {
	cfg       config.Config
	store     *store.Store // nil when the state dir is unavailable
	registry  *registry.Registry
	gateway   *provider.Gateway
	assembler *circuit.Assembler
	activator *tunnel.WireGuard
	sup       *supervisor.Supervisor
}

func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogLevel)
	log := logging.Component("cli")

	var st *store.Store
	if s, err := store.Open(cfg.DBPath()); err != nil {
		log.Warn().Err(err).Str("path", cfg.DBPath()).Msg("state db unavailable, history disabled")
	} else {
		st = s
	}

	var regStore registry.Store
	if st != nil {
		regStore = st
	}
	reg, err := registry.New(cfg.Validators, nil, regStore)
	if err != nil {
		return nil, err
	}
	if st != nil {
		if eps, err := st.ListEndpoints(context.Background()); err == nil {
			reg.Restore(eps)
		}
	}

	gw := provider.NewGateway(reg)
	reg.SetProber(gw)

	asm := circuit.NewAssembler(gw, reg,
		cfg.DefaultHops, cfg.LeaseMinutes, cfg.LeaseRetries, cfg.PreferredCountries)

	var ks *tunnel.KillSwitch
	if cfg.KillSwitch {
		ks = tunnel.NewKillSwitch(cfg.Validators)
	}
	act := tunnel.NewWireGuard(cfg.InterfacePrefix, ks)

	sup := supervisor.New(asm, act)
	if st != nil {
		sup.AddNotifier(store.NewRecorder(st))
	}

	return &app{
		cfg:       cfg,
		store:     st,
		registry:  reg,
		gateway:   gw,
		assembler: asm,
		activator: act,
		sup:       sup,
	}, nil
}

func upperCountries(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		out = append(out, strings.ToUpper(c))
	}
	return out
}
