package stagekit

// Config is the parsed, merged content of a stagekit TOML configuration,
// matching the Config TypedDict in original_source/config.py field for
// field. The stagekit/config subpackage loads and deep-merges the on-disk
// files into one of these; stagekit itself only reads it.
type Config struct {
	// Modules lists Go package import paths whose init() functions must run
	// (and therefore must be blank-imported by the binary) before a stage
	// tree executes, so that every Register call has happened. Go has no
	// runtime import-by-string, so unlike modules in config.py this field
	// is advisory/documentary rather than mechanically loaded.
	Modules []string

	// Main names the default stage to run for `stagekit run` with no
	// argument, as "pkgpath.FuncName".
	Main string

	// RerunStrategy is the default RerunPolicy applied to stages that don't
	// specify their own.
	RerunStrategy RerunPolicy

	// DataChunkSizeMB bounds payload chunk size; zero disables rollover.
	DataChunkSizeMB int64

	// Job carries adapter-specific job configuration (nnodes, walltime,
	// cpus_per_node, ...), keyed the way stagekit/job adapters expect.
	Job map[string]any

	// Data seeds the default values Get returns when no running stage (or
	// its ancestors) defines the requested key.
	Data map[string]any

	// Tracing enables OpenTelemetry span emission for every stage
	// execution, via stagekit/emit.OTelEmitter, in place of the default
	// NullEmitter. Off by default since the original has no equivalent
	// concept — this is purely an ambient-stack addition.
	Tracing bool
}

// DefaultConfig mirrors the built-in `config` dict in config.py before any
// TOML file is merged in.
func DefaultConfig() *Config {
	return &Config{
		RerunStrategy:   RerunNever,
		DataChunkSizeMB: 0,
		Job:             map[string]any{"job": "local"},
		Data:            map[string]any{},
	}
}
