package registry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProber struct {
	fail map[string]bool
	slow map[string]time.Duration
}

func (f *fakeProber) Probe(ctx context.Context, ep Endpoint) error {
	if d, ok := f.slow[ep.Host()]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.fail[ep.Host()] {
		return errors.New("probe refused")
	}
	return nil
}

func newTestRegistry(t *testing.T, hosts ...string) *Registry {
	t.Helper()
	r, err := New(hosts, &fakeProber{}, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestNewRejectsEmptyAndMalformed(t *testing.T) {
	if _, err := New(nil, nil, nil); !errors.Is(err, ErrNoValidators) {
		t.Fatalf("expected ErrNoValidators, got %v", err)
	}
	if _, err := New([]string{"no-port"}, nil, nil); err == nil {
		t.Fatalf("expected error for missing port")
	}
	if _, err := New([]string{"host:99999"}, nil, nil); err == nil {
		t.Fatalf("expected error for bad port")
	}
}

func TestPickRandomHonorsExclusion(t *testing.T) {
	r := newTestRegistry(t, "10.0.0.1:8000", "10.0.0.2:8000")

	for i := 0; i < 20; i++ {
		ep, err := r.PickRandom("10.0.0.1:8000")
		if err != nil {
			t.Fatalf("pick failed: %v", err)
		}
		if ep.Host() == "10.0.0.1:8000" {
			t.Fatalf("excluded endpoint was picked")
		}
	}
}

func TestPickRandomFailsWhenAllExcludedOrInactive(t *testing.T) {
	r := newTestRegistry(t, "10.0.0.1:8000", "10.0.0.2:8000")

	if _, err := r.PickRandom("10.0.0.1:8000", "10.0.0.2:8000"); !errors.Is(err, ErrNoValidators) {
		t.Fatalf("expected ErrNoValidators, got %v", err)
	}

	r.MarkStatus("10.0.0.1:8000", false)
	r.MarkStatus("10.0.0.2:8000", false)
	if _, err := r.PickRandom(); !errors.Is(err, ErrNoValidators) {
		t.Fatalf("expected ErrNoValidators with all inactive, got %v", err)
	}
}

func TestMarkStatusIsIdempotentAndStampsLastChecked(t *testing.T) {
	r := newTestRegistry(t, "10.0.0.1:8000")

	r.MarkStatus("10.0.0.1:8000", false)
	r.MarkStatus("10.0.0.1:8000", false)

	eps := r.List()
	if len(eps) != 1 || eps[0].Active {
		t.Fatalf("expected single inactive endpoint, got %+v", eps)
	}
	if eps[0].LastChecked.IsZero() {
		t.Fatalf("expected LastChecked to be set")
	}

	// Unknown hosts are ignored, never added.
	r.MarkStatus("10.9.9.9:8000", true)
	if len(r.List()) != 1 {
		t.Fatalf("unknown host must not be added by MarkStatus")
	}
}

func TestCheckHealthMarksFailureInactive(t *testing.T) {
	r := newTestRegistry(t, "10.0.0.1:8000")
	r.SetProber(&fakeProber{fail: map[string]bool{"10.0.0.1:8000": true}})

	if r.CheckHealth(context.Background(), r.List()[0]) {
		t.Fatalf("expected failing probe to report false")
	}
	if len(r.ListActive()) != 0 {
		t.Fatalf("failed endpoint should be inactive")
	}

	r.SetProber(&fakeProber{})
	if !r.CheckHealth(context.Background(), r.List()[0]) {
		t.Fatalf("expected healthy probe to report true")
	}
	if len(r.ListActive()) != 1 {
		t.Fatalf("healthy endpoint should be active again")
	}
}

func TestCheckAllAggregatesWithoutFailurePropagation(t *testing.T) {
	r := newTestRegistry(t, "10.0.0.1:8000", "10.0.0.2:8000")
	r.SetProber(&fakeProber{fail: map[string]bool{"10.0.0.2:8000": true}})

	if got := r.CheckAll(context.Background()); got != 1 {
		t.Fatalf("expected 1 active, got %d", got)
	}

	active := r.ListActive()
	if len(active) != 1 || active[0].Host() != "10.0.0.1:8000" {
		t.Fatalf("expected only 10.0.0.1:8000 active, got %+v", active)
	}
}

func TestRestoreOverlaysKnownEndpointsOnly(t *testing.T) {
	r := newTestRegistry(t, "10.0.0.1:8000", "10.0.0.2:8000")

	checked := time.Now().Add(-time.Hour).UTC()
	r.Restore([]Endpoint{
		{Address: "10.0.0.2", Port: 8000, Active: false, LastChecked: checked},
		{Address: "10.9.9.9", Port: 8000, Active: true},
	})

	if len(r.List()) != 2 {
		t.Fatalf("restore must not add endpoints")
	}
	active := r.ListActive()
	if len(active) != 1 || active[0].Host() != "10.0.0.1:8000" {
		t.Fatalf("expected restored inactive state for 10.0.0.2:8000")
	}
}
