package circuit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"vpncircuit/internal/registry"
)

type fakeGateway struct {
	countries  map[string][]string // validator host -> catalogue
	leaseErrs  map[string]error    // country -> forced error
	leaseCalls []string            // "host/country" in call order
	expires    map[string]time.Time
}

func (f *fakeGateway) ListCountries(ctx context.Context, ep registry.Endpoint, useCache bool) ([]string, error) {
	codes, ok := f.countries[ep.Host()]
	if !ok {
		return nil, errors.New("listing failed")
	}
	return codes, nil
}

func (f *fakeGateway) LeaseConfig(ctx context.Context, ep registry.Endpoint, country string, leaseMinutes, retries int) (Hop, error) {
	f.leaseCalls = append(f.leaseCalls, ep.Host()+"/"+country)
	if err, ok := f.leaseErrs[country]; ok {
		return Hop{}, err
	}
	exp, ok := f.expires[country]
	if !ok {
		exp = time.Now().Add(time.Duration(leaseMinutes) * time.Minute)
	}
	return Hop{
		ID:        "lease-" + country,
		Country:   country,
		Validator: ep.Host(),
		Raw:       "[Interface]\nPrivateKey = k\n",
		ExpiresAt: exp,
	}, nil
}

func (f *fakeGateway) FindValidatorFor(ctx context.Context, country string) (registry.Endpoint, bool) {
	for host, codes := range f.countries {
		for _, c := range codes {
			if c == country {
				addr, _, _ := strings.Cut(host, ":")
				return registry.Endpoint{Address: addr, Port: 8000, Active: true}, true
			}
		}
	}
	return registry.Endpoint{}, false
}

type fixedSource struct {
	ep  registry.Endpoint
	err error
}

func (s fixedSource) PickRandom(exclude ...string) (registry.Endpoint, error) {
	return s.ep, s.err
}

func initialValidator() registry.Endpoint {
	return registry.Endpoint{Address: "10.0.0.1", Port: 8000, Active: true}
}

func TestBuildResolvesExplicitCountryPath(t *testing.T) {
	gw := &fakeGateway{
		countries: map[string][]string{
			"10.0.0.1:8000": {"US", "NL", "BR"},
		},
	}
	a := NewAssembler(gw, fixedSource{ep: initialValidator()}, 1, 30, 3, nil)

	c, err := a.Build(context.Background(), 3, []string{"US", "NL", "BR"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(c.Hops) != 3 {
		t.Fatalf("expected 3 hops, got %d", len(c.Hops))
	}
	got := c.Countries()
	want := []string{"US", "NL", "BR"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("hop %d resolved %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBuildFallsBackToInitialValidatorForUnknownCountry(t *testing.T) {
	gw := &fakeGateway{
		countries: map[string][]string{
			"10.0.0.1:8000": {"US", "DE"},
		},
	}
	a := NewAssembler(gw, fixedSource{ep: initialValidator()}, 1, 30, 3, nil)

	c, err := a.Build(context.Background(), 1, []string{"FR"})
	if err != nil {
		t.Fatalf("build should fall back, not fail: %v", err)
	}
	if c.Hops[0].Validator != "10.0.0.1:8000" {
		t.Fatalf("expected lease from initial validator, got %s", c.Hops[0].Validator)
	}
	if c.Hops[0].Country != "FR" {
		t.Fatalf("requested country should still be asked for, got %s", c.Hops[0].Country)
	}
}

func TestBuildUsesPreferredCountriesOnlyWithoutExplicitList(t *testing.T) {
	gw := &fakeGateway{
		countries: map[string][]string{
			"10.0.0.1:8000": {"SE", "CH"},
		},
	}
	a := NewAssembler(gw, fixedSource{ep: initialValidator()}, 1, 30, 3, []string{"SE", "CH"})

	c, err := a.Build(context.Background(), 3, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	got := c.Countries()
	if got[0] != "SE" || got[1] != "CH" || got[2] != "any" {
		t.Fatalf("preferred fallback broken, got %v", got)
	}

	// An explicit list suppresses the preferred list entirely.
	gw.leaseCalls = nil
	c, err = a.Build(context.Background(), 2, []string{"US"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	got = c.Countries()
	if got[0] != "US" || got[1] != "any" {
		t.Fatalf("explicit list must win over preferred, got %v", got)
	}
}

func TestBuildAbortsOnHopLeaseFailure(t *testing.T) {
	gw := &fakeGateway{
		countries: map[string][]string{
			"10.0.0.1:8000": {"US", "NL"},
		},
		leaseErrs: map[string]error{"NL": errors.New("lease exhausted")},
	}
	a := NewAssembler(gw, fixedSource{ep: initialValidator()}, 1, 30, 3, nil)

	_, err := a.Build(context.Background(), 2, []string{"US", "NL"})
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if !strings.Contains(err.Error(), "lease exhausted") {
		t.Fatalf("cause not wrapped: %v", err)
	}
}

func TestBuildClampsStaleHopExpiry(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	gw := &fakeGateway{
		countries: map[string][]string{
			"10.0.0.1:8000": {"US"},
		},
		expires: map[string]time.Time{"US": past},
	}
	a := NewAssembler(gw, fixedSource{ep: initialValidator()}, 1, 30, 3, nil)

	c, err := a.Build(context.Background(), 1, []string{"US"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !c.Hops[0].ExpiresAt.After(time.Now()) {
		t.Fatalf("stale hop expiry was not clamped forward")
	}
	if !c.Valid() {
		t.Fatalf("clamped circuit should be valid")
	}
}

func TestBuildFailsWhenNoValidatorsAvailable(t *testing.T) {
	a := NewAssembler(&fakeGateway{}, fixedSource{err: registry.ErrNoValidators}, 1, 30, 3, nil)

	_, err := a.Build(context.Background(), 1, nil)
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if !errors.Is(err, registry.ErrNoValidators) {
		t.Fatalf("expected wrapped ErrNoValidators, got %v", err)
	}
}

func TestBuildDefaultsHopCountFromConfig(t *testing.T) {
	gw := &fakeGateway{
		countries: map[string][]string{"10.0.0.1:8000": {"US"}},
	}
	a := NewAssembler(gw, fixedSource{ep: initialValidator()}, 2, 30, 3, nil)

	c, err := a.Build(context.Background(), 0, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(c.Hops) != 2 {
		t.Fatalf("expected default hop count 2, got %d", len(c.Hops))
	}
}
