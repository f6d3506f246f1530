// Command stagekit is the workspace-facing CLI: run the configured main
// stage, print the saved stage tree, or print the merged configuration.
// Grounded on original_source's `cli.py` subcommand set (run/log/config),
// using github.com/alecthomas/kong for flag/subcommand parsing in place of
// Python's hand-rolled argparse, and github.com/charmbracelet/lipgloss for
// the `log` command's tree rendering in place of plain `print`.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/icui/stagekit-go/stagekit"
	"github.com/icui/stagekit-go/stagekit/config"
	"github.com/icui/stagekit-go/stagekit/emit"
)

var cli struct {
	Run    RunCmd    `cmd:"" help:"execute the workspace's configured main stage"`
	Log    LogCmd    `cmd:"" help:"print the saved stage tree"`
	Config ConfigCmd `cmd:"" help:"print the merged configuration"`
}

func main() {
	parser := kong.Parse(&cli,
		kong.Name("stagekit"),
		kong.Description("Resumable hierarchical stage tree execution."),
		kong.UsageOnError(),
	)
	err := parser.Run()
	parser.FatalIfErrorf(err)
}

// RunCmd resolves and executes Config.Main against the workspace, resuming
// from any existing checkpoint.
type RunCmd struct {
	Workspace string `default:".stagekit" help:"workspace directory"`
}

func (r *RunCmd) Run() error {
	cfg, err := config.Load(r.Workspace)
	if err != nil {
		return fmt.Errorf("stagekit run: load config: %w", err)
	}

	if cfg.Main == "" {
		return fmt.Errorf("stagekit run: no main stage configured (set `main` in config.toml)")
	}

	fn, err := stagekit.Resolve(cfg.Main)
	if err != nil {
		return fmt.Errorf("stagekit run: %w (is its package blank-imported? see config `modules`)", err)
	}

	tree := stagekit.NewTree(r.Workspace, cfg)
	if cfg.Tracing {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		defer tp.Shutdown(context.Background())
		tree.Emitter = emit.NewOTelEmitter(otel.Tracer("stagekit"))
	}
	ctx := tree.Context(context.Background())

	if _, err := callViaStage(ctx, fn); err != nil {
		return fmt.Errorf("stagekit run: %w", err)
	}
	return nil
}

// LogCmd prints the saved stage tree as an indented, colorized listing.
type LogCmd struct {
	Workspace string `default:".stagekit" help:"workspace directory"`
}

var (
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func (l *LogCmd) Run() error {
	cfg := stagekit.DefaultConfig()
	tree := stagekit.NewTree(l.Workspace, cfg)

	roots := tree.Roots()
	if len(roots) == 0 {
		fmt.Println(pendingStyle.Render("(no stages recorded)"))
		return nil
	}

	for _, root := range roots {
		renderStage(os.Stdout, root, 0)
	}
	return nil
}

func renderStage(w *os.File, s *stagekit.Stage, depth int) {
	indent := strings.Repeat("  ", depth)
	label := s.Func.String()

	var styled string
	switch {
	case s.Err != nil:
		styled = failedStyle.Render(label + "  [failed: " + s.Err.Error() + "]")
	case s.Done:
		styled = doneStyle.Render(label)
	default:
		styled = pendingStyle.Render(label + "  [pending]")
	}

	fmt.Fprintf(w, "%s%s\n", indent, styled)

	for _, child := range s.History {
		if child.ParentVersion != s.Version {
			continue
		}
		renderStage(w, child, depth+1)
	}
}

// ConfigCmd prints the merged configuration as TOML-ish key/value lines.
type ConfigCmd struct {
	Workspace string `default:".stagekit" help:"workspace directory"`
}

func (c *ConfigCmd) Run() error {
	cfg, err := config.Load(c.Workspace)
	if err != nil {
		return fmt.Errorf("stagekit config: %w", err)
	}

	fmt.Printf("main = %q\n", cfg.Main)
	fmt.Printf("rerun_strategy = %v\n", cfg.RerunStrategy)
	fmt.Printf("data_chunk_size = %d\n", cfg.DataChunkSizeMB)
	fmt.Printf("modules = %v\n", cfg.Modules)
	fmt.Printf("job = %v\n", cfg.Job)
	fmt.Printf("data = %v\n", cfg.Data)
	return nil
}
