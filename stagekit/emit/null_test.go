package emit

import "testing"

func TestNullEmitterNoOp(t *testing.T) {
	t.Run("emits events without error", func(t *testing.T) {
		emitter := NewNullEmitter()

		events := []Event{
			{RunID: "run-001", Step: 0, Stage: "stageA", Msg: "stage_start"},
			{RunID: "run-001", Step: 0, Stage: "stageA", Msg: "stage_done"},
			{RunID: "run-001", Step: 1, Stage: "stageB", Msg: "stage_failed", Meta: map[string]any{"error": "boom"}},
		}

		for _, event := range events {
			emitter.Emit(event)
		}
	})

	t.Run("emits with nil meta", func(t *testing.T) {
		emitter := NewNullEmitter()
		emitter.Emit(Event{RunID: "run-001", Stage: "stageA", Msg: "stage_start", Meta: nil})
	})

	t.Run("EmitBatch and Flush are no-ops returning nil", func(t *testing.T) {
		emitter := NewNullEmitter()
		if err := emitter.EmitBatch(nil, []Event{{Msg: "x"}}); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if err := emitter.Flush(nil); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	})
}

func TestNullEmitterInterfaceContract(t *testing.T) {
	var _ Emitter = NewNullEmitter()
}
