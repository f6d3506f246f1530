package main

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/icui/stagekit-go/stagekit"
)

func renderToString(t *testing.T, s *stagekit.Stage) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "render")
	if err != nil {
		t.Fatalf("unexpected error creating temp file: %v", err)
	}
	defer f.Close()

	renderStage(f, s, 0)

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("unexpected error reading rendered output: %v", err)
	}
	return string(data)
}

func TestRenderStageDoneStage(t *testing.T) {
	s := &stagekit.Stage{Func: stagekit.FuncRef{Pkg: "pkg", Name: "A"}, Done: true}
	out := renderToString(t, s)
	if !strings.Contains(out, "pkg.A") {
		t.Errorf("expected the stage's name in the output, got %q", out)
	}
	if strings.Contains(out, "pending") || strings.Contains(out, "failed") {
		t.Errorf("expected no status annotation for a done stage, got %q", out)
	}
}

func TestRenderStagePendingStage(t *testing.T) {
	s := &stagekit.Stage{Func: stagekit.FuncRef{Pkg: "pkg", Name: "A"}, Done: false}
	out := renderToString(t, s)
	if !strings.Contains(out, "pending") {
		t.Errorf("expected a pending annotation, got %q", out)
	}
}

func TestRenderStageFailedStage(t *testing.T) {
	s := &stagekit.Stage{Func: stagekit.FuncRef{Pkg: "pkg", Name: "A"}, Err: errors.New("boom")}
	out := renderToString(t, s)
	if !strings.Contains(out, "failed") || !strings.Contains(out, "boom") {
		t.Errorf("expected a failed annotation with the error message, got %q", out)
	}
}

func TestRenderStageOnlyCurrentVersionChildren(t *testing.T) {
	parent := &stagekit.Stage{Func: stagekit.FuncRef{Pkg: "pkg", Name: "Parent"}, Done: true, Version: 2}
	current := &stagekit.Stage{Func: stagekit.FuncRef{Pkg: "pkg", Name: "Current"}, Done: true, ParentVersion: 2}
	stale := &stagekit.Stage{Func: stagekit.FuncRef{Pkg: "pkg", Name: "Stale"}, Done: true, ParentVersion: 1}
	parent.History = []*stagekit.Stage{stale, current}

	out := renderToString(t, parent)
	if !strings.Contains(out, "pkg.Current") {
		t.Errorf("expected the current-version child rendered, got %q", out)
	}
	if strings.Contains(out, "pkg.Stale") {
		t.Errorf("expected the stale child to be omitted, got %q", out)
	}
}

func TestRenderStageIndentsNestedChildren(t *testing.T) {
	parent := &stagekit.Stage{Func: stagekit.FuncRef{Pkg: "pkg", Name: "Parent"}, Done: true}
	child := &stagekit.Stage{Func: stagekit.FuncRef{Pkg: "pkg", Name: "Child"}, Done: true}
	parent.History = []*stagekit.Stage{child}

	out := renderToString(t, parent)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), out)
	}
	if strings.HasPrefix(lines[1], "  ") == false {
		t.Errorf("expected the child line indented, got %q", lines[1])
	}
}
