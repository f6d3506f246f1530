package stagekit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/icui/stagekit-go/stagekit/emit"
)

// checkpointDebounceDefault mirrors context.py's checkpoint() sleeping one
// second before each save, coalescing any checkpoints requested meanwhile.
const checkpointDebounceDefault = time.Second

// Tree owns one workspace's forest of top-level stage calls: the restart-
// matching logic of main.py's _execute, generalized to support more than
// one distinct root call per workspace. Library callers rarely construct a
// Tree directly; Func.Call creates or reuses the process-wide default
// tree the first time a stage function is invoked with no enclosing stage.
type Tree struct {
	Workspace string
	Config    *Config
	Emitter   emit.Emitter

	mu      sync.Mutex
	roots   []*Stage
	backend CacheBackend
	ckpt    *Checkpointer
	store   *PayloadStore
	loaded  bool
}

var (
	defaultTreeOnce sync.Once
	defaultTreeVal  *Tree
)

// defaultTree returns the process-wide tree rooted at the configured
// workspace, created lazily the first time it is needed — the Go
// replacement for the original's module-level `ws`/cache singletons.
func defaultTree() *Tree {
	defaultTreeOnce.Do(func() {
		defaultTreeVal = NewTree(".stagekit", DefaultConfig())
	})
	return defaultTreeVal
}

// NewTree constructs a Tree backed by the default file cache at workspace.
func NewTree(workspace string, cfg *Config) *Tree {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	backend := NewFileCacheBackend(workspace)

	return &Tree{
		Workspace: workspace,
		Config:    cfg,
		Emitter:   emit.NewNullEmitter(),
		backend:   backend,
		ckpt:      NewCheckpointer(backend, checkpointDebounceDefault),
		store:     NewPayloadStore(workspace, cfg.DataChunkSizeMB*1024*1024),
	}
}

// emitEvent sends an event through t.Emitter, stamping RunID with the
// workspace path so every event from this tree correlates.
func (t *Tree) emitEvent(stageName, msg string, meta map[string]any, step int) {
	if t.Emitter == nil {
		return
	}
	t.Emitter.Emit(emit.Event{
		RunID: t.Workspace,
		Step:  step,
		Stage: stageName,
		Msg:   msg,
		Meta:  meta,
	})
}

func (t *Tree) ensureLoaded() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loaded {
		return nil
	}

	roots, err := t.backend.Load()
	if err != nil {
		return err
	}

	t.roots = roots
	t.loaded = true
	return nil
}

func (t *Tree) scheduleCheckpoint() {
	t.mu.Lock()
	roots := append([]*Stage(nil), t.roots...)
	t.mu.Unlock()

	t.ckpt.Emitter = t.Emitter
	t.ckpt.RunID = t.Workspace
	t.ckpt.Schedule(roots)
}

// Context returns a context.Context carrying this tree, ready to run a
// root stage call on.
func (t *Tree) Context(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return withTree(parent, t)
}

// RunRoot matches live against this tree's saved roots (via Stage.Renew)
// and executes it if no saved match is completed; it inserts live as the
// first root if nothing matches, and otherwise reuses the matching saved
// root in its existing slot. It is main.py's _execute, generalized from a
// single optional root to a forest.
//
// RunRoot always attempts to persist the tree before returning — on
// success or on error — mirroring _execute's `ctx._save(stage)` running in
// a `finally`-equivalent position.
func (t *Tree) RunRoot(ctx context.Context, live *Stage) (any, error) {
	if err := t.ensureLoaded(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	var matched *Stage
	for _, saved := range t.roots {
		if saved.Renew(live) {
			matched = saved
			break
		}
	}
	if matched == nil {
		live.ParentVersion = 0
		t.roots = append([]*Stage{live}, t.roots...)
		matched = live
	}
	roots := append([]*Stage(nil), t.roots...)
	t.mu.Unlock()

	var (
		result any
		err    error
	)

	if matched.Done {
		result = matched.Result
	} else {
		result, err = matched.Execute(ctx)
	}

	if saveErr := t.ckpt.SaveSync(roots); saveErr != nil && err == nil {
		err = fmt.Errorf("stagekit: checkpoint after root execution: %w", saveErr)
	}
	if flushErr := t.store.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}

	return result, err
}

// Roots returns a snapshot of the tree's top-level stages, for `stagekit
// log` and tests.
func (t *Tree) Roots() []*Stage {
	_ = t.ensureLoaded()
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Stage(nil), t.roots...)
}
