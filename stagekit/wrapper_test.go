package stagekit

import (
	"context"
	"errors"
	"testing"
)

type greetIn struct {
	Name string
}

func TestFuncCallRootLifecycle(t *testing.T) {
	t.Run("runs a root stage once and returns its result", func(t *testing.T) {
		dir := t.TempDir()
		calls := 0
		greet := New(func(ctx context.Context, in greetIn) (string, error) {
			calls++
			return "hello " + in.Name, nil
		}, Policy[greetIn]{})

		tree := NewTree(dir, DefaultConfig())
		ctx := tree.Context(context.Background())

		out, err := greet.Call(ctx, greetIn{Name: "ada"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "hello ada" {
			t.Fatalf("expected %q, got %q", "hello ada", out)
		}
		if calls != 1 {
			t.Fatalf("expected exactly one invocation, got %d", calls)
		}
	})

	t.Run("a second tree over the same checkpoint resumes without re-executing", func(t *testing.T) {
		dir := t.TempDir()
		calls := 0
		greet := New(func(ctx context.Context, in greetIn) (string, error) {
			calls++
			return "hello " + in.Name, nil
		}, Policy[greetIn]{Rerun: RerunNever})

		tree1 := NewTree(dir, DefaultConfig())
		ctx1 := tree1.Context(context.Background())
		if _, err := greet.Call(ctx1, greetIn{Name: "grace"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		tree2 := NewTree(dir, DefaultConfig())
		ctx2 := tree2.Context(context.Background())
		out, err := greet.Call(ctx2, greetIn{Name: "grace"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "hello grace" {
			t.Fatalf("expected the cached result %q, got %q", "hello grace", out)
		}
		if calls != 1 {
			t.Fatalf("expected the resumed call to reuse the cached result, got %d invocations", calls)
		}
	})

	t.Run("propagates a failing stage's error", func(t *testing.T) {
		boom := errors.New("boom")
		fail := New(func(ctx context.Context, in greetIn) (string, error) {
			return "", boom
		}, Policy[greetIn]{})

		tree := NewTree(t.TempDir(), DefaultConfig())
		ctx := tree.Context(context.Background())

		_, err := fail.Call(ctx, greetIn{Name: "x"})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	})

	t.Run("a child call nests under the running parent stage", func(t *testing.T) {
		child := New(func(ctx context.Context, in greetIn) (string, error) {
			return "child:" + in.Name, nil
		}, Policy[greetIn]{})

		var childResult string
		parent := New(func(ctx context.Context, in greetIn) (string, error) {
			var err error
			childResult, err = child.Call(ctx, greetIn{Name: in.Name})
			return "parent:" + in.Name, err
		}, Policy[greetIn]{})

		tree := NewTree(t.TempDir(), DefaultConfig())
		ctx := tree.Context(context.Background())

		out, err := parent.Call(ctx, greetIn{Name: "z"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "parent:z" {
			t.Fatalf("expected parent:z, got %q", out)
		}
		if childResult != "child:z" {
			t.Fatalf("expected child:z, got %q", childResult)
		}

		roots := tree.Roots()
		if len(roots) != 1 {
			t.Fatalf("expected a single root stage, got %d", len(roots))
		}
		if len(roots[0].History) != 1 {
			t.Fatalf("expected the child call recorded under the parent's history, got %d", len(roots[0].History))
		}
	})
}
