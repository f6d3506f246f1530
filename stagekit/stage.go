package stagekit

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"strings"
)

// RerunPolicy controls whether a stage that matched an existing cached
// stage re-executes its body, mirroring StageFunc.rerun in wrapper.py.
type RerunPolicy int

const (
	// RerunNever keeps the cached result and never re-executes a matched
	// stage (Python's rerun=False).
	RerunNever RerunPolicy = iota
	// RerunAlways re-executes a matched stage on every call regardless of
	// completion state (Python's rerun=True).
	RerunAlways
	// RerunAuto re-executes a matched, completed stage only if it already
	// has at least one child in its history, on the assumption that a stage
	// cheap enough to have no children is cheap enough to trust as cached
	// (Python's rerun='auto').
	RerunAuto
)

func (r RerunPolicy) String() string {
	switch r {
	case RerunAlways:
		return "always"
	case RerunAuto:
		return "auto"
	default:
		return "never"
	}
}

// Stage is one node of the call tree: the record of a single invocation of
// a stage-wrapped function, its arguments in canonical (surrogate) form,
// its children, and its completion state. Stage is deliberately
// non-generic — the tree holds stages of many different wrapped-function
// types in one History slice — so the live, typed input and the function
// body are captured in the invoke closure built by Func.Call.
//
// Stage is an internal type; construct stages only through a Func
// built by New.
type Stage struct {
	// Func is the stable identity of the wrapped function.
	Func FuncRef

	// Args is the canonical surrogate form of every argument, in the
	// wrapped function's input-struct field order. Equal compares this
	// slice directly, whether the stage is flat or live: canonicalization
	// is idempotent, so a surrogate built from a live argument compares
	// equal to the same surrogate read back from a checkpoint.
	Args []Surrogate

	// Cwd is the stage's working directory, relative to its parent's.
	Cwd string

	// Rerun is the matched wrapped function's re-run policy, refreshed to
	// the incoming call's policy on every successful Renew.
	Rerun RerunPolicy

	// DisplayName renders this stage for `stagekit log`; nil falls back to
	// Func.Name.
	DisplayName func() string

	// History holds every child stage ever executed under this one,
	// including stale children from earlier versions (pruned at the end of
	// Execute), mirroring stage.py's self.history.
	History []*Stage

	// Parent is the enclosing stage, or nil for a tree root.
	Parent *Stage

	// Data is the ad-hoc key/value bag a running body can read and write
	// through Context, scoped to this stage and its descendants.
	Data map[string]any

	// Result is the most recent return value of a successful Execute.
	Result any

	// Done reports whether the stage completed its current version without
	// error.
	Done bool

	// Err holds the error from the most recent failed Execute, if any.
	Err error

	// Version counts how many times this stage has executed.
	Version int

	// ParentVersion records the parent's Version at the time this stage was
	// last (re)matched against a live call; History pruning in Execute keeps
	// only children whose ParentVersion equals the parent's current
	// Version.
	ParentVersion int

	// Flat is true for a stage restored from a checkpoint that has not yet
	// been renewed against a live call. A flat stage has no invoke closure
	// and Execute on it returns ErrFlatStage.
	Flat bool

	// RawIn holds the live input struct for a non-flat stage, so that
	// Context.Get can resolve a key against its exported fields the way
	// Context.__getitem__ falls back to current.kwargs.
	RawIn any

	// invoke runs the wrapped function body against the live input
	// captured at construction time. nil on a flat stage.
	invoke func(ctx context.Context) (any, error)
}

// stageGob is the on-disk shape of a Stage: every field that can survive a
// restart, with Err flattened to its message (encoding/gob cannot encode an
// arbitrary error interface) and invoke/RawIn dropped, matching
// stage.py's __getstate__ discarding live, unpicklable state.
type stageGob struct {
	Func          FuncRef
	Args          []Surrogate
	Cwd           string
	Rerun         RerunPolicy
	History       []*Stage
	Result        any
	Done          bool
	ErrText       string
	Version       int
	ParentVersion int
}

// GobEncode implements gob.GobEncoder, persisting only the fields that
// survive a restart.
func (s *Stage) GobEncode() ([]byte, error) {
	g := stageGob{
		Func:          s.Func,
		Args:          s.Args,
		Cwd:           s.Cwd,
		Rerun:         s.Rerun,
		History:       s.History,
		Result:        s.Result,
		Done:          s.Done,
		Version:       s.Version,
		ParentVersion: s.ParentVersion,
	}
	if s.Err != nil {
		g.ErrText = s.Err.Error()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder. The decoded stage is Flat until
// Renew-ed against a live call.
func (s *Stage) GobDecode(data []byte) error {
	var g stageGob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return err
	}

	s.Func = g.Func
	s.Args = g.Args
	s.Cwd = g.Cwd
	s.Rerun = g.Rerun
	s.History = g.History
	s.Result = g.Result
	s.Done = g.Done
	s.Version = g.Version
	s.ParentVersion = g.ParentVersion
	s.Flat = true

	if g.ErrText != "" {
		s.Err = fmt.Errorf("%s", g.ErrText)
	}

	for _, c := range s.History {
		c.Parent = s
	}

	return nil
}

// Equal reports whether two stages refer to the same call: same function
// identity, same working directory, and pairwise-equal argument surrogates.
// This is Stage.__eq__ in stage.py, simplified by always comparing
// canonical surrogates rather than branching on flat/live.
func (s *Stage) Equal(o *Stage) bool {
	if s == nil || o == nil {
		return s == o
	}

	if s.Func != o.Func || s.Cwd != o.Cwd || len(s.Args) != len(o.Args) {
		return false
	}

	for i := range s.Args {
		if !s.Args[i].Equal(o.Args[i]) {
			return false
		}
	}

	return true
}

// Renew compares a previously-saved stage (the receiver) against a freshly
// constructed live stage and, if they match, decides whether to re-execute
// it. It is stage.py's Stage.renew, with the same "re-run if not done, or
// rerun=always, or rerun=auto with existing children" decision.
//
// Renew never renews against another flat stage: only a live incoming call
// (other.Flat == false) can drive a restored stage back to life, matching
// the Python guard `if other.flat: return False`.
func (s *Stage) Renew(other *Stage) bool {
	if other.Flat {
		return false
	}

	if !s.Equal(other) {
		return false
	}

	shouldRerun := !s.Done ||
		other.Rerun == RerunAlways ||
		(other.Rerun == RerunAuto && len(s.History) > 0)

	if shouldRerun {
		s.Func = other.Func
		s.Args = other.Args
		s.Rerun = other.Rerun
		s.DisplayName = other.DisplayName
		s.invoke = other.invoke
		s.Done = false
		s.Flat = false
	}

	return true
}

// Execute runs the stage's body, bumping Version, clearing Data and any
// prior error, pruning stale children recorded under an earlier version,
// and scheduling a checkpoint. It is stage.py's Stage.execute.
func (s *Stage) Execute(ctx context.Context) (any, error) {
	if s.Flat || s.invoke == nil {
		return nil, ErrFlatStage
	}

	s.Done = false
	s.Err = nil
	s.Version++
	s.Data = map[string]any{}

	tree := currentTree(ctx)
	name := s.Func.String()
	if tree != nil {
		tree.emitEvent(name, "stage_start", nil, s.Version)
	}

	childCtx := withCurrentStage(ctx, s)

	result, err := s.invoke(childCtx)
	if err != nil {
		s.Err = err
		if tree != nil {
			tree.emitEvent(name, "stage_failed", map[string]any{"error": err.Error()}, s.Version)
		}
		return nil, err
	}

	pruned := s.History[:0]
	for _, child := range s.History {
		if child.ParentVersion == s.Version {
			pruned = append(pruned, child)
		}
	}
	s.History = pruned

	s.Result = result
	s.Done = true

	if tree != nil {
		tree.emitEvent(name, "stage_done", nil, s.Version)
		tree.scheduleCheckpoint()
	}

	return result, nil
}

// Progress matches a freshly constructed child stage against this stage's
// history, renewing and (if needed) re-executing the matched entry, or
// appending and executing a brand-new child. It is stage.py's
// Stage.progress.
func (s *Stage) Progress(ctx context.Context, child *Stage) (any, error) {
	for _, existing := range s.History {
		if existing.Renew(child) {
			var err error
			if !existing.Done {
				_, err = existing.Execute(ctx)
			}
			existing.ParentVersion = child.ParentVersion
			return existing.Result, err
		}
	}

	child.Parent = s
	s.History = append(s.History, child)
	return child.Execute(ctx)
}

// Tree prints the stage and its current-version children, indented, the
// way stage.py's __repr__ does for `stagekit log`.
func (s *Stage) Tree() string {
	var b strings.Builder
	s.writeTree(&b, 0)
	return b.String()
}

func (s *Stage) writeTree(b *strings.Builder, depth int) {
	name := s.Func.Name
	if s.DisplayName != nil {
		name = s.DisplayName()
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(name)
	if s.Err != nil {
		b.WriteString(fmt.Sprintf("  [error: %v]", s.Err))
	} else if !s.Done {
		b.WriteString("  [pending]")
	}
	b.WriteByte('\n')

	children := make([]*Stage, 0, len(s.History))
	for _, c := range s.History {
		if c.ParentVersion == s.Version {
			children = append(children, c)
		}
	}

	for _, c := range children {
		c.writeTree(b, depth+1)
	}
}
