package stagekit

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/icui/stagekit-go/stagekit/emit"
)

// CacheBackend persists and reloads the forest of top-level stage calls
// recorded in a workspace. The default FileCacheBackend matches the
// original's stagekit.pickle/_stagekit.pickle file pair exactly;
// stagekit/store.SQLiteCache is an alternative backend behind the same
// interface.
type CacheBackend interface {
	Load() ([]*Stage, error)
	Save(roots []*Stage) error
}

var (
	checkpointsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagekit_checkpoints_total",
		Help: "Checkpoint save attempts, partitioned by result.",
	}, []string{"result"})

	checkpointDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stagekit_checkpoint_duration_seconds",
		Help:    "Wall-clock time spent writing and verifying a checkpoint.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(checkpointsTotal, checkpointDuration)
}

// Checkpointer debounces and single-flights root-stage saves. A call to
// Schedule waits debounce (matching context.py's checkpoint() sleeping one
// second before saving) and coalesces any Schedule calls that land inside
// that window into a single save, via golang.org/x/sync/singleflight —
// the Go idiom for "if a save is already pending, join it" in place of the
// original's `_saving` boolean guard.
type Checkpointer struct {
	backend  CacheBackend
	debounce time.Duration
	group    singleflight.Group

	// Emitter, if set, receives a "checkpoint_failed" event when a
	// debounced Schedule save fails — Schedule runs on its own goroutine
	// with no caller left to see a returned error, so this is the only way
	// such a failure becomes visible short of the process crashing later.
	// RunID labels the event the same way Tree.emitEvent does.
	Emitter emit.Emitter
	RunID   string
}

// NewCheckpointer constructs a Checkpointer writing through backend, with
// the given debounce window (the original hardcodes one second).
func NewCheckpointer(backend CacheBackend, debounce time.Duration) *Checkpointer {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Checkpointer{backend: backend, debounce: debounce}
}

// Schedule asynchronously debounces a save of roots. Multiple Schedule
// calls arriving within the debounce window collapse into one save, the
// same coalescing context.py's `_saving` flag achieves across stacked
// asyncio tasks.
//
// A save that fails here (verification mismatch, encode error, disk error)
// is reported through Emitter and stderr rather than dropped silently: the
// caller that triggered this checkpoint has already returned by the time
// the debounce window elapses, so a bare return value would never reach
// anyone.
func (c *Checkpointer) Schedule(roots []*Stage) {
	go func() {
		_, _, _ = c.group.Do("checkpoint", func() (any, error) {
			time.Sleep(c.debounce)
			err := c.SaveSync(roots)
			if err != nil {
				c.reportFailure(err)
			}
			return nil, err
		})
	}()
}

func (c *Checkpointer) reportFailure(err error) {
	fmt.Fprintf(os.Stderr, "stagekit: debounced checkpoint save failed: %v\n", err)
	if c.Emitter != nil {
		c.Emitter.Emit(emit.Event{
			RunID: c.RunID,
			Stage: "checkpoint",
			Msg:   "checkpoint_failed",
			Meta:  map[string]any{"error": err.Error()},
		})
	}
}

// SaveSync performs an immediate, blocking save: write-verify-rename.
func (c *Checkpointer) SaveSync(roots []*Stage) error {
	start := time.Now()
	err := c.backend.Save(roots)
	checkpointDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		checkpointsTotal.WithLabelValues("error").Inc()
		return err
	}

	checkpointsTotal.WithLabelValues("ok").Inc()
	return nil
}

// FileCacheBackend is the default CacheBackend: a single gob-encoded
// stagekit.pickle file (name kept verbatim from the original, though the
// encoding is encoding/gob rather than Python pickle) written through a
// staging file that is read back and structurally compared before being
// renamed into place, matching context.py's _save exactly:
//
//  1. encode roots to _stagekit.pickle
//  2. decode _stagekit.pickle back and assert it equals roots
//  3. rename _stagekit.pickle -> stagekit.pickle only if step 2 succeeded
//
// A verification failure leaves the previous stagekit.pickle untouched and
// the stale staging file on disk for inspection, rather than risking a
// half-written cache.
type FileCacheBackend struct {
	dir string
}

// NewFileCacheBackend roots a file cache backend at a workspace directory.
func NewFileCacheBackend(dir string) *FileCacheBackend {
	return &FileCacheBackend{dir: dir}
}

func (f *FileCacheBackend) finalPath() string   { return filepath.Join(f.dir, "stagekit.pickle") }
func (f *FileCacheBackend) stagingPath() string { return filepath.Join(f.dir, "_stagekit.pickle") }

// Load decodes stagekit.pickle, or returns an empty forest if the workspace
// has never been checkpointed.
func (f *FileCacheBackend) Load() ([]*Stage, error) {
	data, err := os.ReadFile(f.finalPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stagekit: read %s: %w", f.finalPath(), err)
	}

	var roots []*Stage
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&roots); err != nil {
		return nil, fmt.Errorf("stagekit: decode %s: %w", f.finalPath(), err)
	}

	return roots, nil
}

// SameForest structurally compares two decoded stage forests field by
// field, skipping the unexported invoke closure (which never round-trips
// through gob), the way the original's `assert ws.load(...) == stages`
// relies on Stage.__eq__ rather than byte-for-byte pickle comparison.
// Exported so other CacheBackend implementations (e.g. stagekit/store's
// SQLiteCache) can apply the same write-then-verify discipline as
// FileCacheBackend.Save instead of re-deriving it.
func SameForest(a, b []*Stage) bool {
	return sameForest(a, b)
}

func sameForest(a, b []*Stage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameStage(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameStage(a, b *Stage) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Func != b.Func || a.Cwd != b.Cwd || a.Rerun != b.Rerun {
		return false
	}
	if a.Done != b.Done || a.Version != b.Version || a.ParentVersion != b.ParentVersion {
		return false
	}
	if !a.Equal(b) {
		return false
	}
	return sameForest(a.History, b.History)
}

// Save writes, verifies, and atomically publishes roots.
func (f *FileCacheBackend) Save(roots []*Stage) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(roots); err != nil {
		return fmt.Errorf("stagekit: encode checkpoint: %w", err)
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("stagekit: create workspace dir: %w", err)
	}

	if err := os.WriteFile(f.stagingPath(), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("stagekit: write staging checkpoint: %w", err)
	}

	reread, err := os.ReadFile(f.stagingPath())
	if err != nil {
		return fmt.Errorf("%w: reread failed: %v", ErrReplayVerification, err)
	}

	var roundtrip []*Stage
	if err := gob.NewDecoder(bytes.NewReader(reread)).Decode(&roundtrip); err != nil {
		return fmt.Errorf("%w: decode failed: %v", ErrReplayVerification, err)
	}

	if !sameForest(roots, roundtrip) {
		return fmt.Errorf("%w: %s", ErrReplayVerification, f.stagingPath())
	}

	if err := os.Rename(f.stagingPath(), f.finalPath()); err != nil {
		return fmt.Errorf("stagekit: publish checkpoint: %w", err)
	}

	return nil
}
