package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/icui/stagekit-go/stagekit"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed writing %s: %v", path, err)
	}
}

func TestMergeDict(t *testing.T) {
	t.Run("nested tables merge key by key instead of replacing wholesale", func(t *testing.T) {
		base := raw{
			"job": map[string]any{"job": "local", "cpus_per_node": int64(4)},
		}
		override := raw{
			"job": map[string]any{"job": "slurm"},
		}

		merged := mergeDict(base, override)
		job := merged["job"].(map[string]any)
		if job["job"] != "slurm" {
			t.Errorf("expected override to win for job.job, got %v", job["job"])
		}
		if job["cpus_per_node"] != int64(4) {
			t.Errorf("expected base's job.cpus_per_node to survive the merge, got %v", job["cpus_per_node"])
		}
	})

	t.Run("scalars and arrays are replaced outright", func(t *testing.T) {
		base := raw{"main": "pkg.Old", "modules": []any{"a"}}
		override := raw{"main": "pkg.New", "modules": []any{"b", "c"}}

		merged := mergeDict(base, override)
		if merged["main"] != "pkg.New" {
			t.Errorf("expected override scalar to win, got %v", merged["main"])
		}
		mods := merged["modules"].([]any)
		if len(mods) != 2 {
			t.Errorf("expected override array to replace base array wholesale, got %v", mods)
		}
	})
}

func TestLoadThreeTierMerge(t *testing.T) {
	globalDir := t.TempDir()
	localDir := t.TempDir()
	workspace := t.TempDir()

	globalPath := filepath.Join(globalDir, "config.toml")
	localPath := filepath.Join(localDir, "stagekit.toml")
	workspacePath := filepath.Join(workspace, "config.toml")

	writeFile(t, globalPath, "main = \"pkg.Global\"\nrerun_strategy = \"never\"\n")
	writeFile(t, localPath, "rerun_strategy = \"auto\"\n")
	writeFile(t, workspacePath, "main = \"pkg.Workspace\"\n")

	t.Setenv("STAGEKIT_CONFIG_GLOBAL", globalPath)
	t.Setenv("STAGEKIT_CONFIG_LOCAL", localPath)

	cfg, err := Load(workspace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Main != "pkg.Workspace" {
		t.Errorf("expected the workspace tier to win for main, got %q", cfg.Main)
	}
	if cfg.RerunStrategy != stagekit.RerunAuto {
		t.Errorf("expected the local tier's rerun_strategy=auto to survive (workspace never sets rerun_strategy), got %v", cfg.RerunStrategy)
	}
}

func TestLoadMissingFilesYieldDefaults(t *testing.T) {
	t.Setenv("STAGEKIT_CONFIG_GLOBAL", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("STAGEKIT_CONFIG_LOCAL", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Main != "" {
		t.Errorf("expected an empty Main with no config files, got %q", cfg.Main)
	}
	if cfg.RerunStrategy != stagekit.RerunNever {
		t.Errorf("expected the default rerun policy, got %v", cfg.RerunStrategy)
	}
}

func TestParseRerun(t *testing.T) {
	cases := map[string]stagekit.RerunPolicy{
		"always":  stagekit.RerunAlways,
		"auto":    stagekit.RerunAuto,
		"never":   stagekit.RerunNever,
		"unknown": stagekit.RerunNever,
	}
	for in, want := range cases {
		if got := parseRerun(in); got != want {
			t.Errorf("parseRerun(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestToStagekitConfigTracingFlag(t *testing.T) {
	cfg := toStagekitConfig(raw{"tracing": true})
	if !cfg.Tracing {
		t.Errorf("expected tracing=true to be read through from raw config")
	}
}
