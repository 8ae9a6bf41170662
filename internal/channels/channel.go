package channels

import (
	"context"
)

// Channel defines the interface for an ops notification integration.
type Channel interface {
	// Name returns the unique name of the channel (e.g., "telegram").
	Name() string

	// Start begins forwarding events and listening for commands. It
	// should block until the context is canceled or a fatal error occurs.
	Start(ctx context.Context) error
}
