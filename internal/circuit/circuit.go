// Package circuit models an ordered sequence of leased hop configurations
// with a unified expiry, and assembles circuits from validator leases.
package circuit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidCircuit is returned when entry/exit hops are requested from a
// circuit that fails validation. This is a programmer error, not a
// transient condition.
var ErrInvalidCircuit = errors.New("invalid circuit")

// Hop is one leased tunnel configuration occupying one position in a
// circuit. Immutable once leased; owned by its circuit until teardown.
type Hop struct {
	ID           string
	Index        int
	Country      string
	Validator    string
	PrivateKey   string
	PublicKey    string
	PresharedKey string
	Endpoint     string
	Address      string
	DNS          string
	AllowedIPs   []string
	ListenPort   int
	Raw          string
	ExpiresAt    time.Time
}

// Circuit is an ordered list of hops. A single hop is a direct connection;
// more than one is an unchained multi-leg lease: only the entry hop is ever
// activated, the rest is lease bookkeeping.
type Circuit struct {
	ID        string
	Hops      []Hop
	CreatedAt time.Time
	ExpiresAt time.Time
	Active    bool
}

// New assembles a circuit from already-leased hops. Hop indexes are
// assigned in order; the circuit expiry is the minimum hop expiry, clamped
// forward to now+leaseDuration so a freshly built circuit is never expired.
func New(hops []Hop, now time.Time, leaseDuration time.Duration) *Circuit {
	c := &Circuit{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Hops:      make([]Hop, len(hops)),
	}
	for i, h := range hops {
		h.Index = i
		c.Hops[i] = h
	}

	var min time.Time
	for _, h := range c.Hops {
		if min.IsZero() || h.ExpiresAt.Before(min) {
			min = h.ExpiresAt
		}
	}
	if !min.After(now) {
		min = now.Add(leaseDuration)
	}
	c.ExpiresAt = min
	return c
}

// Valid reports whether the circuit can be activated right now.
func (c *Circuit) Valid() bool {
	return c.validAt(time.Now())
}

func (c *Circuit) validAt(now time.Time) bool {
	if c == nil || len(c.Hops) == 0 {
		return false
	}
	for _, h := range c.Hops {
		if h.Raw == "" {
			return false
		}
	}
	return c.ExpiresAt.After(now)
}

// Entry returns the first hop by index, the one handed to the activator.
func (c *Circuit) Entry() (Hop, error) {
	if !c.Valid() {
		return Hop{}, ErrInvalidCircuit
	}
	return c.Hops[0], nil
}

// Exit returns the last hop by index.
func (c *Circuit) Exit() (Hop, error) {
	if !c.Valid() {
		return Hop{}, ErrInvalidCircuit
	}
	return c.Hops[len(c.Hops)-1], nil
}

// Countries returns the resolved per-hop country path in index order.
func (c *Circuit) Countries() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.Hops))
	for i, h := range c.Hops {
		out[i] = h.Country
	}
	return out
}

// Direct reports whether the circuit is a single-hop connection.
func (c *Circuit) Direct() bool {
	return c != nil && len(c.Hops) == 1
}
