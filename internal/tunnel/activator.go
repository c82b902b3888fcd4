// Package tunnel activates leased hop configurations as local network
// interfaces. The supervisor only sees the Activator contract; the
// WireGuard implementation is one choice of tool.
package tunnel

import (
	"context"
	"errors"

	"vpncircuit/internal/circuit"
)

// ErrNotInstalled means the tunneling tool is unavailable on this host.
var ErrNotInstalled = errors.New("tunneling tool not installed")

// ErrActivationFailed wraps any failure to bring a configuration up.
var ErrActivationFailed = errors.New("tunnel activation failed")

// Activator creates and destroys the local interface for a hop
// configuration. Implementations must make CleanupAll safe to call at any
// time; it is used defensively on every ambiguous failure.
type Activator interface {
	Installed() bool
	Activate(ctx context.Context, hop circuit.Hop) error
	Deactivate(ctx context.Context) error
	Active() (bool, error)
	CleanupAll(ctx context.Context) error
}
