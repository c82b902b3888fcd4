// Package provider talks to validator endpoints: country catalogues and
// leased tunnel configurations.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"vpncircuit/internal/logging"
	"vpncircuit/internal/registry"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	pathCountries = "/api/config/countries"
	pathNewConfig = "/api/config/new"

	listTimeout  = 10 * time.Second
	leaseTimeout = 15 * time.Second

	countryCacheTTL = 5 * time.Minute
)

// ErrCountryListUnavailable is returned when a validator's catalogue cannot
// be fetched within the listing timeout.
var ErrCountryListUnavailable = errors.New("country list unavailable")

// LeaseExhaustedError reports that every lease attempt failed; Last carries
// the final underlying cause.
type LeaseExhaustedError struct {
	Attempts int
	Last     error
}

func (e *LeaseExhaustedError) Error() string {
	return fmt.Sprintf("lease exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *LeaseExhaustedError) Unwrap() error {
	return e.Last
}

// ValidatorSource is the slice of the registry the gateway consumes for
// validator rotation during retries.
type ValidatorSource interface {
	PickRandom(exclude ...string) (registry.Endpoint, error)
	ListActive() []registry.Endpoint
}

// Gateway is the HTTP client for the validator config API.
type Gateway struct {
	http       *resty.Client
	validators ValidatorSource
	cache      *countryCache
	log        zerolog.Logger

	// injected in tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func NewGateway(validators ValidatorSource) *Gateway {
	return &Gateway{
		http:       resty.New(),
		validators: validators,
		cache:      newCountryCache(countryCacheTTL),
		log:        logging.Component("provider"),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func baseURL(ep registry.Endpoint) string {
	return "http://" + ep.Host()
}

// ListCountries fetches the exit-country catalogue of one validator,
// serving from a bounded-TTL cache keyed by address:port unless useCache
// is false.
func (g *Gateway) ListCountries(ctx context.Context, ep registry.Endpoint, useCache bool) ([]string, error) {
	if useCache {
		if codes, ok := g.cache.get(ep.Host(), g.now()); ok {
			return codes, nil
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	var codes []string
	resp, err := g.http.R().
		SetContext(reqCtx).
		SetResult(&codes).
		Get(baseURL(ep) + pathCountries)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", ep.Host(), ErrCountryListUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s: %w: %s", ep.Host(), ErrCountryListUnavailable, resp.Status())
	}

	for i, c := range codes {
		codes[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	g.cache.put(ep.Host(), codes, g.now())
	return codes, nil
}

// Probe implements registry.Prober by exercising the country-list
// capability without touching the cache.
func (g *Gateway) Probe(ctx context.Context, ep registry.Endpoint) error {
	_, err := g.ListCountries(ctx, ep, false)
	return err
}

// PickRandomCountry returns a random catalogue entry not present in the
// exclusion set. An empty result is not an error.
func (g *Gateway) PickRandomCountry(ctx context.Context, ep registry.Endpoint, exclude []string) (string, bool) {
	codes, err := g.ListCountries(ctx, ep, true)
	if err != nil {
		return "", false
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, c := range exclude {
		excluded[strings.ToUpper(c)] = struct{}{}
	}

	candidates := make([]string, 0, len(codes))
	for _, c := range codes {
		if _, skip := excluded[c]; !skip {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rand.Intn(len(candidates))], true
}

// FindValidatorFor scans active validators for one advertising the target
// country. Per-validator listing errors mean "not supported" and the scan
// continues.
func (g *Gateway) FindValidatorFor(ctx context.Context, country string) (registry.Endpoint, bool) {
	target := strings.ToUpper(country)
	for _, ep := range g.validators.ListActive() {
		codes, err := g.ListCountries(ctx, ep, true)
		if err != nil {
			continue
		}
		for _, c := range codes {
			if c == target {
				return ep, true
			}
		}
	}
	return registry.Endpoint{}, false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
