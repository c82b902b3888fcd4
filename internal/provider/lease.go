package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vpncircuit/internal/circuit"
	"vpncircuit/internal/registry"

	"github.com/google/uuid"
)

const backoffStep = time.Second

type leaseResponse struct {
	PeerConfig string `json:"peer_config"`
	ExpiresAt  int64  `json:"expires_at"`
}

// leaseAttempt holds the parameters of one lease try.
type leaseAttempt struct {
	Validator registry.Endpoint
	Country   string
}

// planNextAttempt decides where the retry after a failure goes: a different
// random validator when one exists (excluding the one that just failed),
// and, when the caller originally asked for "any", a country not yet tried
// on the new validator. The I/O lives behind the two pickers so the
// planning rules stay testable on their own.
func planNextAttempt(
	prior leaseAttempt,
	wasAny bool,
	tried []string,
	pickValidator func(exclude string) (registry.Endpoint, bool),
	pickCountry func(ep registry.Endpoint, exclude []string) (string, bool),
) leaseAttempt {
	next := prior
	alternate, ok := pickValidator(prior.Validator.Host())
	if !ok {
		// No alternate exists: retry the same validator with the same
		// parameters.
		return next
	}
	next.Validator = alternate
	if wasAny {
		if country, ok := pickCountry(alternate, tried); ok {
			next.Country = country
		}
	}
	return next
}

// LeaseConfig requests a leased tunnel configuration, retrying up to
// retries times with linear backoff and validator rotation. A request for
// "any" is resolved to a concrete country up front, best-effort.
func (g *Gateway) LeaseConfig(ctx context.Context, validator registry.Endpoint, country string, leaseMinutes, retries int) (circuit.Hop, error) {
	if retries <= 0 {
		retries = 1
	}

	wasAny := country == "" || strings.EqualFold(country, "any")
	if wasAny {
		country = "any"
		if resolved, ok := g.PickRandomCountry(ctx, validator, nil); ok {
			country = resolved
		}
	}

	attempt := leaseAttempt{Validator: validator, Country: country}
	var tried []string
	if wasAny && country != "any" {
		tried = append(tried, country)
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		hop, err := g.requestLease(ctx, attempt.Validator, attempt.Country, leaseMinutes)
		if err == nil {
			return hop, nil
		}
		lastErr = err
		g.log.Warn().
			Err(err).
			Str("validator", attempt.Validator.Host()).
			Str("country", attempt.Country).
			Int("attempt", i+1).
			Msg("lease attempt failed")

		if i == retries-1 {
			break
		}
		g.sleep(ctx, time.Duration(i+1)*backoffStep)
		attempt = planNextAttempt(attempt, wasAny, tried,
			func(exclude string) (registry.Endpoint, bool) {
				ep, err := g.validators.PickRandom(exclude)
				return ep, err == nil
			},
			func(ep registry.Endpoint, exclude []string) (string, bool) {
				return g.PickRandomCountry(ctx, ep, exclude)
			},
		)
		if wasAny && attempt.Country != "any" {
			tried = append(tried, attempt.Country)
		}
	}
	return circuit.Hop{}, &LeaseExhaustedError{Attempts: retries, Last: lastErr}
}

func (g *Gateway) requestLease(ctx context.Context, ep registry.Endpoint, country string, leaseMinutes int) (circuit.Hop, error) {
	reqCtx, cancel := context.WithTimeout(ctx, leaseTimeout)
	defer cancel()

	var result leaseResponse
	resp, err := g.http.R().
		SetContext(reqCtx).
		SetQueryParams(map[string]string{
			"format":        "json",
			"geo":           geoParam(country),
			"lease_minutes": fmt.Sprintf("%d", leaseMinutes),
		}).
		SetResult(&result).
		Get(baseURL(ep) + pathNewConfig)
	if err != nil {
		return circuit.Hop{}, fmt.Errorf("lease from %s: %w", ep.Host(), err)
	}
	if resp.IsError() {
		return circuit.Hop{}, fmt.Errorf("lease from %s: %s", ep.Host(), resp.Status())
	}

	raw := result.PeerConfig
	expires := time.UnixMilli(result.ExpiresAt)
	if raw == "" {
		// Validators may answer with the raw text form instead of the
		// JSON envelope; the body is then the configuration itself.
		raw = resp.String()
		expires = g.now().Add(time.Duration(leaseMinutes) * time.Minute)
	}

	hop, err := parsePeerConfig(raw)
	if err != nil {
		return circuit.Hop{}, fmt.Errorf("lease from %s: %w", ep.Host(), err)
	}
	hop.ID = uuid.NewString()
	hop.Country = country
	hop.Validator = ep.Host()
	hop.ExpiresAt = expires
	return hop, nil
}

func geoParam(country string) string {
	if country == "" || strings.EqualFold(country, "any") {
		return "any"
	}
	return strings.ToUpper(country)
}
