package store

import (
	"context"

	"vpncircuit/internal/circuit"
	"vpncircuit/internal/logging"

	"github.com/rs/zerolog"
)

// Recorder feeds route lifecycle events into circuit history. History is
// diagnostic, so write failures are logged and swallowed.
type Recorder struct {
	store *Store
	log   zerolog.Logger
}

func NewRecorder(s *Store) *Recorder {
	return &Recorder{store: s, log: logging.Component("history")}
}

func (r *Recorder) RouteCreated(c *circuit.Circuit) {
	if err := r.store.RecordCircuit(context.Background(), c); err != nil {
		r.log.Warn().Err(err).Str("circuit", c.ID).Msg("record circuit failed")
	}
}

func (r *Recorder) RouteStopped(id string) {
	if err := r.store.MarkCircuitStopped(context.Background(), id); err != nil {
		r.log.Warn().Err(err).Str("circuit", id).Msg("mark circuit stopped failed")
	}
}
