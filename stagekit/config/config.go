// Package config loads and deep-merges stagekit's three-tier TOML
// configuration (global, local, workspace), grounded on
// original_source/config.py's PATH_GLOBAL/PATH_LOCAL/PATH_WORKSPACE
// constants and its merge_dict helper.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/icui/stagekit-go/stagekit"
)

// Default config file locations, overridable via STAGEKIT_CONFIG_GLOBAL,
// STAGEKIT_CONFIG_LOCAL and STAGEKIT_CONFIG_WORKSPACE, matching config.py's
// three PATH_* constants.
var (
	PathGlobal    = filepath.Join(homeDir(), ".config", "stagekit", "config.toml")
	PathLocal     = "stagekit.toml"
	PathWorkspace = "" // joined against the workspace directory at Load time
)

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

// raw is the loosely-typed form a TOML file decodes into before being
// folded onto a stagekit.Config, mirroring config.py's plain dict merge
// (TOML has no notion of the RerunPolicy enum or the Job/Data free-form
// maps, so those pass through as generic values).
type raw map[string]any

// Load reads the global, local, and workspace-local config files (each
// optional — a missing file contributes nothing) and deep-merges them in
// that order, the later files overriding the earlier ones key by key,
// exactly as merge_dict recurses into nested tables instead of replacing
// them wholesale. workspace is the stage tree's workspace directory; its
// config.toml file is read as the third, highest-priority tier.
func Load(workspace string) (*stagekit.Config, error) {
	merged := raw{}

	for _, path := range []string{globalPath(), localPath(), workspacePath(workspace)} {
		if path == "" {
			continue
		}
		r, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		merged = mergeDict(merged, r)
	}

	return toStagekitConfig(merged), nil
}

func globalPath() string {
	if p := os.Getenv("STAGEKIT_CONFIG_GLOBAL"); p != "" {
		return p
	}
	return PathGlobal
}

func localPath() string {
	if p := os.Getenv("STAGEKIT_CONFIG_LOCAL"); p != "" {
		return p
	}
	return PathLocal
}

func workspacePath(workspace string) string {
	if p := os.Getenv("STAGEKIT_CONFIG_WORKSPACE"); p != "" {
		return p
	}
	if workspace == "" {
		return ""
	}
	return filepath.Join(workspace, "config.toml")
}

func loadFile(path string) (raw, error) {
	if _, err := os.Stat(path); err != nil {
		return raw{}, nil
	}

	var r raw
	if _, err := toml.DecodeFile(path, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// mergeDict recursively overlays override onto base, the Go port of
// config.py's merge_dict: nested tables merge key by key, everything else
// (scalars, arrays) is replaced outright.
func mergeDict(base, override raw) raw {
	out := make(raw, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}

	for k, v := range override {
		if ov, ok := v.(map[string]any); ok {
			if bv, ok := out[k].(map[string]any); ok {
				out[k] = mergeDict(bv, ov)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func toStagekitConfig(r raw) *stagekit.Config {
	cfg := stagekit.DefaultConfig()

	if v, ok := r["main"].(string); ok {
		cfg.Main = v
	}

	if v, ok := r["modules"].([]any); ok {
		mods := make([]string, 0, len(v))
		for _, m := range v {
			if s, ok := m.(string); ok {
				mods = append(mods, s)
			}
		}
		cfg.Modules = mods
	}

	if v, ok := r["rerun_strategy"].(string); ok {
		cfg.RerunStrategy = parseRerun(v)
	}

	if v, ok := r["data_chunk_size"].(int64); ok {
		cfg.DataChunkSizeMB = v
	}

	if v, ok := r["job"].(map[string]any); ok {
		cfg.Job = v
	}

	if v, ok := r["data"].(map[string]any); ok {
		cfg.Data = v
	}

	if v, ok := r["tracing"].(bool); ok {
		cfg.Tracing = v
	}

	return cfg
}

func parseRerun(s string) stagekit.RerunPolicy {
	switch s {
	case "always":
		return stagekit.RerunAlways
	case "auto":
		return stagekit.RerunAuto
	default:
		return stagekit.RerunNever
	}
}
