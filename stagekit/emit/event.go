// Package emit provides event emission and observability for stage tree
// execution, adapted from teacher graph/emit/*.go (node/graph vocabulary
// renamed to stage-tree vocabulary: RunID/Stage/Step replace node/graph).
package emit

// Event is one observability event emitted while executing a stage tree.
type Event struct {
	// RunID identifies the workspace / stage tree execution that emitted
	// this event.
	RunID string `json:"runID"`

	// Step is the stage's Version at the time of the event.
	Step int `json:"step"`

	// Stage is the emitting stage's function reference name, or
	// "checkpoint" for checkpoint events.
	Stage string `json:"stage"`

	// Msg is a short event name: "stage_start", "stage_done",
	// "stage_failed", "checkpoint_failed".
	Msg string `json:"msg"`

	// Meta carries event-specific structured data (duration_ms, error, ...).
	Meta map[string]any `json:"meta,omitempty"`
}
