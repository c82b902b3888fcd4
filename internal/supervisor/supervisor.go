// Package supervisor owns the single active route: it connects,
// disconnects, and schedules pre-expiry renewal.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vpncircuit/internal/circuit"
	"vpncircuit/internal/logging"
	"vpncircuit/internal/tunnel"

	"github.com/rs/zerolog"
)

// DefaultRenewMargin is how long before the earliest hop expiry the
// renewal fires.
const DefaultRenewMargin = time.Minute

// ErrNoActiveRoute is returned by operations that need a running route.
var ErrNoActiveRoute = errors.New("no active route")

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Builder assembles circuits on demand.
type Builder interface {
	Build(ctx context.Context, hopCount int, countries []string) (*circuit.Circuit, error)
	BuildDirect(ctx context.Context, country string) (*circuit.Circuit, error)
}

// Notifier observes route lifecycle transitions. Callbacks run with the
// supervisor lock held and must not call back into it.
type Notifier interface {
	RouteCreated(c *circuit.Circuit)
	RouteStopped(circuitID string)
}

// RouteOptions is the caller's intent for a route. Renewal rebuilds from
// this intent rather than patching the existing circuit.
type RouteOptions struct {
	HopCount  int
	Countries []string
	Direct    bool
}

// Supervisor serializes every route-mutating operation behind one mutex,
// so at most one circuit and one renewal timer exist at any time.
type Supervisor struct {
	mu        sync.Mutex
	builder   Builder
	activator tunnel.Activator
	notifiers []Notifier

	active *circuit.Circuit
	intent RouteOptions
	state  State

	timer    *time.Timer
	timerGen uint64

	renewMargin time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

func New(builder Builder, activator tunnel.Activator) *Supervisor {
	return &Supervisor{
		builder:     builder,
		activator:   activator,
		renewMargin: DefaultRenewMargin,
		now:         time.Now,
		log:         logging.Component("supervisor"),
	}
}

// AddNotifier registers a lifecycle observer. Not safe to call once the
// supervisor is in use.
func (s *Supervisor) AddNotifier(n Notifier) {
	s.notifiers = append(s.notifiers, n)
}

// CreateRoute tears down any previous route and establishes a new one per
// opts. On failure the supervisor is left Idle with no dangling interface.
func (s *Supervisor) CreateRoute(ctx context.Context, opts RouteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createRouteLocked(ctx, opts)
}

func (s *Supervisor) createRouteLocked(ctx context.Context, opts RouteOptions) error {
	s.cancelTimerLocked()
	s.teardownLocked(ctx)

	if !s.activator.Installed() {
		return tunnel.ErrNotInstalled
	}

	s.state = StateConnecting
	var (
		c   *circuit.Circuit
		err error
	)
	if opts.Direct || opts.HopCount == 1 {
		c, err = s.builder.BuildDirect(ctx, firstCountry(opts.Countries))
	} else {
		c, err = s.builder.Build(ctx, opts.HopCount, opts.Countries)
	}
	if err != nil {
		s.state = StateIdle
		return err
	}
	if !c.Valid() {
		s.state = StateIdle
		return circuit.ErrInvalidCircuit
	}

	entry, err := c.Entry()
	if err != nil {
		s.state = StateIdle
		return err
	}
	if err := s.activator.Activate(ctx, entry); err != nil {
		// Never leak a half-configured interface.
		_ = s.activator.CleanupAll(ctx)
		s.state = StateIdle
		return err
	}

	c.Active = true
	s.active = c
	s.intent = opts
	s.state = StateConnected
	s.armRenewalLocked(c)

	s.log.Info().
		Str("circuit", c.ID).
		Int("hops", len(c.Hops)).
		Time("expires", c.ExpiresAt).
		Msg("route created")
	for _, n := range s.notifiers {
		n.RouteCreated(c)
	}
	return nil
}

// StopRoute cancels renewal, deactivates the tunnel, and force-cleans
// every interface regardless of the deactivation outcome. Calling it with
// no active route succeeds after a defensive cleanup pass.
func (s *Supervisor) StopRoute(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelTimerLocked()

	if s.active == nil {
		_ = s.activator.CleanupAll(ctx)
		s.state = StateIdle
		return nil
	}

	s.state = StateDisconnecting
	id := s.active.ID

	deactivateErr := s.activator.Deactivate(ctx)
	cleanupErr := s.activator.CleanupAll(ctx)

	s.active.Active = false
	s.active = nil
	s.state = StateIdle

	s.log.Info().Str("circuit", id).Msg("route stopped")
	for _, n := range s.notifiers {
		n.RouteStopped(id)
	}

	if deactivateErr != nil {
		return fmt.Errorf("deactivate: %w", deactivateErr)
	}
	return cleanupErr
}

// RefreshRoute rebuilds the route from the intent that created the active
// circuit: same hop count, same country parameters.
func (s *Supervisor) RefreshRoute(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return ErrNoActiveRoute
	}
	opts := s.intent
	opts.HopCount = len(s.active.Hops)
	return s.createRouteLocked(ctx, opts)
}

// RotateExit changes the exit of the active route. Single-hop routes lease
// a fresh configuration, optionally for a different explicit country.
// Multi-hop routes have no per-hop chaining to patch, so rotation degrades
// to a full refresh of the whole circuit.
func (s *Supervisor) RotateExit(ctx context.Context, country string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return ErrNoActiveRoute
	}

	opts := s.intent
	if s.active.Direct() {
		opts.Direct = true
		opts.HopCount = 1
		if country != "" {
			opts.Countries = []string{country}
		}
		return s.createRouteLocked(ctx, opts)
	}

	opts.HopCount = len(s.active.Hops)
	return s.createRouteLocked(ctx, opts)
}

// IsActive is true only when the supervisor holds an active circuit AND
// the activator independently reports a live interface.
func (s *Supervisor) IsActive() bool {
	s.mu.Lock()
	c := s.active
	s.mu.Unlock()

	if c == nil || !c.Active {
		return false
	}
	up, err := s.activator.Active()
	if err != nil {
		s.log.Warn().Err(err).Msg("activator state unreadable")
		return false
	}
	return up
}

// ActiveCircuit returns a snapshot of the current circuit, or nil.
func (s *Supervisor) ActiveCircuit() *circuit.Circuit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	snapshot := *s.active
	snapshot.Hops = append([]circuit.Hop(nil), s.active.Hops...)
	return &snapshot
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) armRenewalLocked(c *circuit.Circuit) {
	delay := c.ExpiresAt.Sub(s.now()) - s.renewMargin
	if delay <= 0 {
		s.log.Warn().
			Str("circuit", c.ID).
			Time("expires", c.ExpiresAt).
			Msg("lease expires within renewal margin; proactive renewal not scheduled")
		return
	}

	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(delay, func() {
		s.renew(gen)
	})
	s.log.Debug().Dur("in", delay).Str("circuit", c.ID).Msg("renewal scheduled")
}

// renew is the scheduled Connected -> Connecting transition. The
// generation check guarantees a timer superseded by any mutating call
// never acts on a circuit that is no longer current.
func (s *Supervisor) renew(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.timerGen || s.active == nil {
		return
	}

	opts := s.intent
	opts.HopCount = len(s.active.Hops)
	s.log.Info().Str("circuit", s.active.ID).Msg("renewing route before lease expiry")
	if err := s.createRouteLocked(context.Background(), opts); err != nil {
		s.log.Error().Err(err).Msg("route renewal failed")
	}
}

func (s *Supervisor) cancelTimerLocked() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Supervisor) teardownLocked(ctx context.Context) {
	if s.active != nil {
		id := s.active.ID
		if err := s.activator.Deactivate(ctx); err != nil {
			s.log.Warn().Err(err).Msg("deactivate during teardown failed")
		}
		s.active.Active = false
		s.active = nil
		for _, n := range s.notifiers {
			n.RouteStopped(id)
		}
	}
	_ = s.activator.CleanupAll(ctx)
}

func firstCountry(countries []string) string {
	if len(countries) == 0 {
		return ""
	}
	return countries[0]
}
