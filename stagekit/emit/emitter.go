package emit

import "context"

// Emitter receives observability events from stage tree execution.
// Implementations must be non-blocking and safe for concurrent use — a
// stage's invoke closure may run on any goroutine.
type Emitter interface {
	// Emit sends a single event. Must not panic.
	Emit(event Event)

	// EmitBatch sends multiple events in event order. Returns an error only
	// on catastrophic failure; individual event delivery failures should be
	// swallowed, not returned.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until buffered events are delivered or ctx expires.
	Flush(ctx context.Context) error
}
