package stagekit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/icui/stagekit-go/stagekit/emit"
)

type failingCacheBackend struct{ err error }

func (f *failingCacheBackend) Load() ([]*Stage, error) { return nil, nil }
func (f *failingCacheBackend) Save([]*Stage) error     { return f.err }

func TestSameForest(t *testing.T) {
	t.Run("identical forests compare equal", func(t *testing.T) {
		a := []*Stage{inlineStage(refA(), "", 1)}
		b := []*Stage{inlineStage(refA(), "", 1)}
		if !SameForest(a, b) {
			t.Fatalf("expected equal forests")
		}
	})

	t.Run("differing lengths compare unequal", func(t *testing.T) {
		a := []*Stage{inlineStage(refA(), "")}
		b := []*Stage{inlineStage(refA(), ""), inlineStage(refB(), "")}
		if SameForest(a, b) {
			t.Fatalf("expected unequal forests across length")
		}
	})

	t.Run("differing completion state compares unequal", func(t *testing.T) {
		s1 := inlineStage(refA(), "")
		s1.Done = true
		s2 := inlineStage(refA(), "")
		s2.Done = false
		if SameForest([]*Stage{s1}, []*Stage{s2}) {
			t.Fatalf("expected unequal forests across Done")
		}
	})

	t.Run("recurses into child history", func(t *testing.T) {
		parentA := inlineStage(refA(), "")
		parentA.History = []*Stage{inlineStage(refB(), "", 1)}

		parentB := inlineStage(refA(), "")
		parentB.History = []*Stage{inlineStage(refB(), "", 2)}

		if SameForest([]*Stage{parentA}, []*Stage{parentB}) {
			t.Fatalf("expected unequal forests across differing child args")
		}
	})
}

func TestFileCacheBackendSaveLoad(t *testing.T) {
	t.Run("round-trips a forest through save and load", func(t *testing.T) {
		dir := t.TempDir()
		backend := NewFileCacheBackend(dir)

		root := inlineStage(refA(), "", 1, "x")
		root.Done = true
		root.Result = "ok"
		root.History = []*Stage{inlineStage(refB(), "", 2)}

		if err := backend.Save([]*Stage{root}); err != nil {
			t.Fatalf("unexpected error saving: %v", err)
		}

		loaded, err := backend.Load()
		if err != nil {
			t.Fatalf("unexpected error loading: %v", err)
		}
		if !SameForest([]*Stage{root}, loaded) {
			t.Fatalf("expected loaded forest to match saved forest")
		}
		if !loaded[0].Flat {
			t.Fatalf("expected a freshly loaded stage to be flat")
		}
	})

	t.Run("loading a never-saved workspace returns an empty forest, not an error", func(t *testing.T) {
		backend := NewFileCacheBackend(t.TempDir())
		roots, err := backend.Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if roots != nil {
			t.Fatalf("expected nil roots for a never-saved workspace, got %v", roots)
		}
	})

	t.Run("save publishes atomically via a staging file", func(t *testing.T) {
		dir := t.TempDir()
		backend := NewFileCacheBackend(dir)
		root := inlineStage(refA(), "")

		if err := backend.Save([]*Stage{root}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		finalPath := filepath.Join(dir, "stagekit.pickle")
		if !fileExists(finalPath) {
			t.Fatalf("expected %s to exist after a successful save", finalPath)
		}
	})
}

func TestCheckpointerSaveSync(t *testing.T) {
	backend := NewFileCacheBackend(t.TempDir())
	ckpt := NewCheckpointer(backend, 0)

	root := inlineStage(refA(), "")
	if err := ckpt.SaveSync([]*Stage{root}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !SameForest([]*Stage{root}, loaded) {
		t.Fatalf("expected SaveSync's write to be loadable back")
	}
}

func TestCheckpointerScheduleReportsFailureThroughEmitter(t *testing.T) {
	backend := &failingCacheBackend{err: errors.New("disk full")}
	ckpt := NewCheckpointer(backend, time.Millisecond)

	buffered := emit.NewBufferedEmitter()
	ckpt.Emitter = buffered
	ckpt.RunID = "ws"

	ckpt.Schedule([]*Stage{inlineStage(refA(), "")})

	deadline := time.After(2 * time.Second)
	for {
		if len(buffered.GetHistory("ws")) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected a checkpoint_failed event to be emitted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	events := buffered.GetHistory("ws")
	if events[0].Msg != "checkpoint_failed" {
		t.Errorf("expected a checkpoint_failed event, got %q", events[0].Msg)
	}
	if events[0].Meta["error"] != "disk full" {
		t.Errorf("expected the save error in event metadata, got %v", events[0].Meta)
	}
}

func TestErrFlatStageIsDistinct(t *testing.T) {
	if errors.Is(ErrFlatStage, ErrNotRunning) {
		t.Fatalf("ErrFlatStage and ErrNotRunning must be distinct sentinels")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
