package stagekit

import (
	"context"
	"reflect"
)

// Policy configures a wrapped stage function: its re-run behavior,
// per-field comparison overrides, and display name, mirroring the
// rerun/match/name constructor arguments of @stage in wrapper.py.
type Policy[In any] struct {
	// Rerun controls whether a matched, completed stage re-executes. Zero
	// value RerunNever matches the original's default `rerun=False`.
	Rerun RerunPolicy

	// Match overrides comparison/persistence of individual input fields by
	// name; see Argmap.
	Match Argmap

	// Name renders a display name for `stagekit log` from the live input;
	// nil falls back to the function's name.
	Name func(In) string
}

// Func is a stage-wrapped function: an ordinary Go function of signature
// func(context.Context, In) (Out, error), augmented with the identity,
// comparison, and re-run metadata a Tree needs to track it across restarts.
// It is the Go realization of StageFunc in wrapper.py.
type Func[In, Out any] struct {
	ref    FuncRef
	fn     func(context.Context, In) (Out, error)
	policy Policy[In]
}

// New wraps fn as a stage function using policy. Call New once per
// function, normally assigning the result to a package-level variable, the
// way wrapper.py's @stage decorator is applied once at module load time.
func New[In, Out any](fn func(context.Context, In) (Out, error), policy Policy[In]) *Func[In, Out] {
	ref := funcRefOf(fn)
	Register(ref.String(), fn)
	registerGobTypes(reflect.TypeFor[In]())
	registerGobTypes(reflect.TypeFor[Out]())

	return &Func[In, Out]{
		ref:    ref,
		fn:     fn,
		policy: policy,
	}
}

// Call invokes the wrapped function as a stage: if a stage is already
// running on ctx, this call becomes its child (matched against history via
// Stage.Progress); otherwise it starts or resumes a top-level tree run
// against the workspace's checkpoint, the same fork in wrapper.py's
// StageFunc.__call__ between "run as main" and "progress under current".
func (f *Func[In, Out]) Call(ctx context.Context, in In) (Out, error) {
	var zero Out

	current := CurrentStage(ctx)
	tree := currentTree(ctx)
	if tree == nil {
		tree = defaultTree()
		ctx = tree.Context(ctx)
	}

	parentVersion := 0
	if current != nil {
		parentVersion = current.Version
	}

	stage := f.newStage(ctx, in, consumeChdir(ctx), parentVersion, tree.store)

	var (
		result any
		err    error
	)

	if current != nil {
		stage.Parent = current
		result, err = current.Progress(ctx, stage)
	} else {
		result, err = tree.RunRoot(ctx, stage)
	}

	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}

	out, ok := result.(Out)
	if !ok {
		return zero, nil
	}
	return out, nil
}

func (f *Func[In, Out]) newStage(ctx context.Context, in In, cwd string, parentVersion int, store *PayloadStore) *Stage {
	args := flattenStruct(in, f.policy.Match, store)

	var displayName func() string
	if f.policy.Name != nil {
		displayName = func() string { return f.policy.Name(in) }
	}

	s := &Stage{
		Func:          f.ref,
		Args:          args,
		Cwd:           cwd,
		Rerun:         f.policy.Rerun,
		DisplayName:   displayName,
		Data:          map[string]any{},
		ParentVersion: parentVersion,
		RawIn:         in,
	}

	s.invoke = func(ctx context.Context) (any, error) {
		out, err := f.fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	return s
}

