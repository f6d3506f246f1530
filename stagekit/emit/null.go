package emit

import "context"

// NullEmitter discards every event. Grounded on teacher graph/emit/null.go.
type NullEmitter struct{}

// NewNullEmitter returns an Emitter that discards everything.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(Event) {}

func (n *NullEmitter) EmitBatch(_ context.Context, _ []Event) error { return nil }

func (n *NullEmitter) Flush(_ context.Context) error { return nil }
