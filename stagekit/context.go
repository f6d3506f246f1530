package stagekit

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
)

type ctxKey int

const (
	stageCtxKey ctxKey = iota
	treeCtxKey
	chdirCtxKey
)

// withCurrentStage returns a context carrying s as the running stage, the
// Go realization of the original's asyncio-task-local `_sk_stage` (see
// task.py / stage.py's current_stage()).
func withCurrentStage(ctx context.Context, s *Stage) context.Context {
	return context.WithValue(ctx, stageCtxKey, s)
}

// CurrentStage recovers the stage whose body is running on this call
// chain, or nil outside of any stage execution.
func CurrentStage(ctx context.Context) *Stage {
	s, _ := ctx.Value(stageCtxKey).(*Stage)
	return s
}

func withTree(ctx context.Context, t *Tree) context.Context {
	ctx = context.WithValue(ctx, treeCtxKey, t)
	return context.WithValue(ctx, chdirCtxKey, &chdirBox{})
}

func currentTree(ctx context.Context) *Tree {
	t, _ := ctx.Value(treeCtxKey).(*Tree)
	return t
}

// chdirBox is the mutable slot backing SetWD: a single pending working-
// directory override, consumed by the next stage constructed on this call
// chain. It mirrors Context._chdir in context.py, which is likewise a
// single pending value rather than a stack.
type chdirBox struct {
	mu  sync.Mutex
	val *string
}

func chdirBoxOf(ctx context.Context) *chdirBox {
	b, _ := ctx.Value(chdirCtxKey).(*chdirBox)
	return b
}

// SetWD sets the working directory, relative to the current stage's cwd,
// that the next stage constructed on this call chain will use. It is
// Context.setwd in context.py.
func SetWD(ctx context.Context, cwd string) {
	if b := chdirBoxOf(ctx); b != nil {
		b.mu.Lock()
		v := cwd
		b.val = &v
		b.mu.Unlock()
	}
}

// consumeChdir reads and clears the pending working-directory override.
func consumeChdir(ctx context.Context) string {
	b := chdirBoxOf(ctx)
	if b == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.val == nil {
		return ""
	}
	v := *b.val
	b.val = nil
	return v
}

// Cwd computes the current working directory by composing the cwd
// fragments of every ancestor stage, outermost first and innermost last,
// matching Context.cwd in context.py.
func Cwd(ctx context.Context) string {
	var parts []string

	if v := chdirBoxOf(ctx); v != nil {
		v.mu.Lock()
		if v.val != nil {
			parts = append(parts, *v.val)
		}
		v.mu.Unlock()
	}

	for s := CurrentStage(ctx); s != nil; s = s.Parent {
		if s.Cwd != "" {
			parts = append(parts, s.Cwd)
		}
	}

	parts = append(parts, ".")

	// reverse: ancestors are appended innermost-first above
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}

	return filepath.Clean(filepath.Join(parts...))
}

// Get reads a keyed value visible to the running stage: first its own
// Data bag, then its live input struct's matching exported field, then the
// same lookup on each ancestor, finally falling back to the workspace
// configuration's default data map. It is Context.__getitem__.
func Get(ctx context.Context, key string) any {
	for s := CurrentStage(ctx); s != nil; s = s.Parent {
		if v, ok := s.Data[key]; ok {
			return v
		}

		if s.RawIn != nil {
			if v, ok := fieldByName(s.RawIn, key); ok {
				return v
			}
		}
	}

	if t := currentTree(ctx); t != nil && t.Config != nil {
		return t.Config.Data[key]
	}

	return nil
}

// Set writes key into the running stage's Data bag. It returns
// ErrNotRunning outside of a stage body, matching the original's
// RuntimeError('cannot set properties outside a running stage').
func Set(ctx context.Context, key string, val any) error {
	s := CurrentStage(ctx)
	if s == nil {
		return ErrNotRunning
	}
	if s.Data == nil {
		s.Data = map[string]any{}
	}
	s.Data[key] = val
	return nil
}

// Checkpoint schedules a debounced save of the tree root, matching
// Context.checkpoint in context.py. It is a no-op inside a spawned
// subprocess runner (stat.InSubprocess), the same guard the original uses.
func Checkpoint(ctx context.Context) {
	if Stat.InSubprocess {
		return
	}
	if t := currentTree(ctx); t != nil {
		t.scheduleCheckpoint()
	}
}

func fieldByName(in any, name string) (any, bool) {
	v := reflect.ValueOf(in)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, false
	}
	f := v.FieldByName(name)
	if !f.IsValid() || !f.CanInterface() {
		return nil, false
	}
	return f.Interface(), true
}
