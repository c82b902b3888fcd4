package circuit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vpncircuit/internal/logging"
	"vpncircuit/internal/registry"

	"github.com/rs/zerolog"
)

// Gateway is the slice of the provider gateway the assembler consumes.
type Gateway interface {
	ListCountries(ctx context.Context, ep registry.Endpoint, useCache bool) ([]string, error)
	LeaseConfig(ctx context.Context, ep registry.Endpoint, country string, leaseMinutes, retries int) (Hop, error)
	FindValidatorFor(ctx context.Context, country string) (registry.Endpoint, bool)
}

// ValidatorSource selects validators for the assembler.
type ValidatorSource interface {
	PickRandom(exclude ...string) (registry.Endpoint, error)
}

// BuildError wraps the first irrecoverable hop failure. No partial circuit
// survives a build failure.
type BuildError struct {
	Cause error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("circuit build failed: %v", e.Cause)
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}

// Assembler builds circuits hop by hop, applying country fallback rules.
type Assembler struct {
	gw         Gateway
	validators ValidatorSource

	defaultHops  int
	leaseMinutes int
	retries      int
	preferred    []string

	now func() time.Time
	log zerolog.Logger
}

func NewAssembler(gw Gateway, validators ValidatorSource, defaultHops, leaseMinutes, retries int, preferred []string) *Assembler {
	return &Assembler{
		gw:           gw,
		validators:   validators,
		defaultHops:  defaultHops,
		leaseMinutes: leaseMinutes,
		retries:      retries,
		preferred:    preferred,
		now:          time.Now,
		log:          logging.Component("assembler"),
	}
}

// Build leases hopCount configurations and assembles them into a circuit.
// hopCount <= 0 means "use the configured default". countries assigns an
// explicit exit country per hop index; when absent, the preferred-country
// list fills in, and "any" covers the rest.
func (a *Assembler) Build(ctx context.Context, hopCount int, countries []string) (*Circuit, error) {
	if hopCount <= 0 {
		hopCount = a.defaultHops
	}

	initial, err := a.validators.PickRandom()
	if err != nil {
		return nil, &BuildError{Cause: err}
	}

	// Prime the initial validator's catalogue; it is the fallback source
	// for "any" resolution across every hop. Failure here is tolerable,
	// the per-hop lease has its own retry path.
	if _, err := a.gw.ListCountries(ctx, initial, true); err != nil {
		a.log.Warn().Err(err).Str("validator", initial.Host()).Msg("initial catalogue unavailable")
	}

	hops := make([]Hop, 0, hopCount)
	for i := 0; i < hopCount; i++ {
		desired := a.desiredCountry(i, countries)

		validator := initial
		if desired != "any" {
			if v, ok := a.gw.FindValidatorFor(ctx, desired); ok {
				validator = v
			} else {
				a.log.Debug().Str("country", desired).Msg("no validator advertises country, using initial")
			}
		}

		hop, err := a.gw.LeaseConfig(ctx, validator, desired, a.leaseMinutes, a.retries)
		if err != nil {
			return nil, &BuildError{Cause: fmt.Errorf("hop %d: %w", i, err)}
		}

		now := a.now()
		if !hop.ExpiresAt.After(now) {
			hop.ExpiresAt = now.Add(time.Duration(a.leaseMinutes) * time.Minute)
		}
		hops = append(hops, hop)
	}

	c := New(hops, a.now(), time.Duration(a.leaseMinutes)*time.Minute)
	a.log.Info().
		Str("circuit", c.ID).
		Str("path", strings.Join(c.Countries(), " -> ")).
		Time("expires", c.ExpiresAt).
		Msg("circuit assembled")
	return c, nil
}

// BuildDirect leases a single hop for the requested country, bypassing
// multi-hop assembly.
func (a *Assembler) BuildDirect(ctx context.Context, country string) (*Circuit, error) {
	return a.Build(ctx, 1, directCountries(country))
}

func (a *Assembler) desiredCountry(i int, explicit []string) string {
	if len(explicit) > 0 {
		if i < len(explicit) && explicit[i] != "" && !strings.EqualFold(explicit[i], "any") {
			return strings.ToUpper(explicit[i])
		}
		return "any"
	}
	if i < len(a.preferred) && a.preferred[i] != "" && !strings.EqualFold(a.preferred[i], "any") {
		return strings.ToUpper(a.preferred[i])
	}
	return "any"
}

func directCountries(country string) []string {
	if country == "" || strings.EqualFold(country, "any") {
		return nil
	}
	return []string{country}
}
