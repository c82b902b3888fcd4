package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vpncircuit/internal/circuit"
	"vpncircuit/internal/registry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestEndpointRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ep := registry.Endpoint{
		Address:     "10.0.0.1",
		Port:        8000,
		Active:      true,
		LastChecked: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveEndpoint(ctx, ep); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Same identity, new status: upsert, not a second row.
	ep.Active = false
	if err := s.SaveEndpoint(ctx, ep); err != nil {
		t.Fatalf("second save: %v", err)
	}

	eps, err := s.ListEndpoints(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("expected 1 endpoint, got %d", len(eps))
	}
	if eps[0].Active {
		t.Fatalf("latest status must win")
	}
}

func TestCircuitHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	c := circuit.New([]circuit.Hop{
		{Country: "US", Raw: "x", ExpiresAt: now.Add(time.Hour)},
		{Country: "NL", Raw: "x", ExpiresAt: now.Add(time.Hour)},
	}, now, time.Hour)

	if err := s.RecordCircuit(ctx, c); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.MarkCircuitStopped(ctx, c.ID); err != nil {
		t.Fatalf("mark stopped: %v", err)
	}

	recs, err := s.RecentCircuits(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.HopCount != 2 || rec.Path != "US -> NL" || rec.Direct {
		t.Fatalf("record fields mismatch: %+v", rec)
	}
	if rec.StoppedAt == nil {
		t.Fatalf("stop time missing")
	}
}
