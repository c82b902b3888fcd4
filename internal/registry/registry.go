// Package registry tracks the known validator endpoints and their liveness.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"vpncircuit/internal/logging"

	"github.com/rs/zerolog"
)

const healthProbeTimeout = 5 * time.Second

// ErrNoValidators is returned when the active set, after exclusions, is empty.
var ErrNoValidators = errors.New("no validators available")

// Endpoint is a single validator. Identity is (Address, Port).
type Endpoint struct {
	Address     string
	Port        int
	Active      bool
	LastChecked time.Time
}

// Host returns the address:port form used as the endpoint identity.
func (e Endpoint) Host() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// Prober performs a lightweight liveness check against a validator,
// normally by exercising its country-list capability.
type Prober interface {
	Probe(ctx context.Context, ep Endpoint) error
}

// Store persists endpoint status transitions. Persistence failures are
// logged, never propagated: the in-memory registry stays authoritative.
type Store interface {
	SaveEndpoint(ctx context.Context, ep Endpoint) error
}

type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	prober    Prober
	store     Store
	log       zerolog.Logger
}

// New builds a registry from configured host:port entries. Endpoints start
// active until a health check says otherwise.
func New(hosts []string, prober Prober, store Store) (*Registry, error) {
	r := &Registry{
		endpoints: make(map[string]*Endpoint, len(hosts)),
		prober:    prober,
		store:     store,
		log:       logging.Component("registry"),
	}
	for _, h := range hosts {
		addr, portStr, err := net.SplitHostPort(h)
		if err != nil {
			return nil, fmt.Errorf("validator %q: %w", h, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("validator %q: invalid port", h)
		}
		ep := &Endpoint{Address: addr, Port: port, Active: true}
		r.endpoints[ep.Host()] = ep
	}
	if len(r.endpoints) == 0 {
		return nil, ErrNoValidators
	}
	return r, nil
}

// SetProber wires the liveness prober after construction. The gateway
// implements Prober but also needs the registry, so wiring is two-phase.
func (r *Registry) SetProber(p Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prober = p
}

// Restore overlays persisted status onto configured endpoints. Unknown
// stored endpoints are ignored; config is the source of membership.
func (r *Registry) Restore(stored []Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range stored {
		if ep, ok := r.endpoints[s.Host()]; ok {
			ep.Active = s.Active
			ep.LastChecked = s.LastChecked
		}
	}
}

// Add registers an endpoint at runtime. Existing entries are left untouched.
func (r *Registry) Add(addr string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep := &Endpoint{Address: addr, Port: port, Active: true}
	if _, ok := r.endpoints[ep.Host()]; !ok {
		r.endpoints[ep.Host()] = ep
	}
}

// List returns every configured endpoint, ordered by host for stable output.
func (r *Registry) List() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, *ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host() < out[j].Host() })
	return out
}

// ListActive returns the endpoints currently marked active.
func (r *Registry) ListActive() []Endpoint {
	out := r.List()
	active := out[:0]
	for _, ep := range out {
		if ep.Active {
			active = append(active, ep)
		}
	}
	return active
}

// PickRandom selects a random active endpoint, skipping any excluded hosts.
func (r *Registry) PickRandom(exclude ...string) (Endpoint, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, h := range exclude {
		excluded[h] = struct{}{}
	}

	candidates := r.ListActive()
	filtered := candidates[:0]
	for _, ep := range candidates {
		if _, skip := excluded[ep.Host()]; !skip {
			filtered = append(filtered, ep)
		}
	}
	if len(filtered) == 0 {
		return Endpoint{}, ErrNoValidators
	}
	return filtered[rand.Intn(len(filtered))], nil
}

// MarkStatus records an endpoint's liveness and stamps LastChecked.
// Unknown hosts are ignored; repeated calls with the same value are fine.
func (r *Registry) MarkStatus(host string, active bool) {
	r.mu.Lock()
	ep, ok := r.endpoints[host]
	if !ok {
		r.mu.Unlock()
		return
	}
	ep.Active = active
	ep.LastChecked = time.Now().UTC()
	snapshot := *ep
	store := r.store
	r.mu.Unlock()

	if store != nil {
		if err := store.SaveEndpoint(context.Background(), snapshot); err != nil {
			r.log.Warn().Err(err).Str("validator", host).Msg("persist endpoint status failed")
		}
	}
}

// CheckHealth probes one endpoint and updates the registry accordingly.
func (r *Registry) CheckHealth(ctx context.Context, ep Endpoint) bool {
	r.mu.RLock()
	prober := r.prober
	r.mu.RUnlock()
	if prober == nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	if err := prober.Probe(probeCtx, ep); err != nil {
		r.log.Warn().Err(err).Str("validator", ep.Host()).Msg("health check failed")
		r.MarkStatus(ep.Host(), false)
		return false
	}
	r.MarkStatus(ep.Host(), true)
	return true
}

// CheckAll probes every configured endpoint concurrently and returns how
// many came back healthy. One endpoint failing never aborts the others.
func (r *Registry) CheckAll(ctx context.Context) int {
	endpoints := r.List()

	var wg sync.WaitGroup
	results := make([]bool, len(endpoints))
	for i, ep := range endpoints {
		wg.Add(1)
		go func(i int, ep Endpoint) {
			defer wg.Done()
			results[i] = r.CheckHealth(ctx, ep)
		}(i, ep)
	}
	wg.Wait()

	active := 0
	for _, ok := range results {
		if ok {
			active++
		}
	}
	r.log.Info().Int("active", active).Int("total", len(endpoints)).Msg("validator health sweep done")
	return active
}
