package models

import "context"

// EmergencyHandler executes the revoke-and-sweep sequence. Both detection
// drivers invoke it directly with a human-readable trigger description.
type EmergencyHandler interface {
	Handle(ctx context.Context, reason string)
}
