package stagekit

import (
	"bytes"
	"context"
	"encoding/gob"
	"reflect"
	"testing"
)

type measurement struct {
	Label  string
	Values []float64
}

type measurementIn struct {
	Sample measurement
}

func TestRegisterGobTypesRegistersReachableStructs(t *testing.T) {
	registerGobTypes(reflect.TypeOf(measurementIn{}))

	// A struct placed directly in an `any` field round-trips through gob
	// only once its concrete type is registered; this exercises the same
	// path Surrogate.Inline and Stage.Result rely on.
	var boxed any = measurement{Label: "x", Values: []float64{1, 2}}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&boxed); err != nil {
		t.Fatalf("unexpected error encoding a registered struct type: %v", err)
	}

	var decoded any
	if err := gob.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("unexpected error decoding a registered struct type: %v", err)
	}

	got, ok := decoded.(measurement)
	if !ok {
		t.Fatalf("expected a measurement back, got %T", decoded)
	}
	if got.Label != "x" || len(got.Values) != 2 {
		t.Fatalf("expected the struct to round-trip intact, got %+v", got)
	}
}

func TestNewAutomaticallyRegistersStructArgsAndResults(t *testing.T) {
	dir := t.TempDir()

	summarize := New(func(ctx context.Context, in measurementIn) (measurement, error) {
		return in.Sample, nil
	}, Policy[measurementIn]{})

	tree := NewTree(dir, DefaultConfig())
	ctx := tree.Context(context.Background())

	in := measurementIn{Sample: measurement{Label: "temp", Values: []float64{1.5, 2.5, 3.5}}}
	out, err := summarize.Call(ctx, in)
	if err != nil {
		t.Fatalf("unexpected error calling a struct-typed stage: %v", err)
	}
	if out.Label != "temp" || len(out.Values) != 3 {
		t.Fatalf("expected the struct result back untouched, got %+v", out)
	}

	// The struct-typed argument and result must survive the checkpoint
	// written at the end of RunRoot — this is exactly the path that fails
	// with "gob: type not registered for interface" without New having
	// walked In/Out and registered every struct type it reaches.
	backend := NewFileCacheBackend(dir)
	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("unexpected error loading the checkpoint: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected one persisted root stage, got %d", len(loaded))
	}
	result, ok := loaded[0].Result.(measurement)
	if !ok {
		t.Fatalf("expected the persisted result to decode back as measurement, got %T", loaded[0].Result)
	}
	if result.Label != "temp" || len(result.Values) != 3 {
		t.Fatalf("expected the persisted result intact, got %+v", result)
	}
}
