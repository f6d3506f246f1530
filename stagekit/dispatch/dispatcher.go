package dispatch

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pollInterval is how often the admission loop reconsiders the pending
// queue, matching _loop's `await asyncio.sleep(1)`.
const pollInterval = time.Second

type pendingTask struct {
	id       string
	sizing   Sizing
	priority int
	seq      int64
	ready    chan struct{}
}

// Dispatcher admits tasks against a fixed Cluster, one admission loop per
// Dispatcher, matching the original's module-level _pending/_running
// dicts and the single _loop task that drains them. Unlike the original's
// process-wide globals, a Dispatcher is a value a program can construct
// more than one of (e.g. one per job step) — though a single shared
// instance for a whole run is the typical and intended usage.
type Dispatcher struct {
	cluster Cluster

	mu      sync.Mutex
	pending map[string]*pendingTask
	running map[string]Sizing
	nextSeq int64

	loopOnce sync.Once
	loopStop chan struct{}

	metrics *Metrics
}

// New constructs a Dispatcher bound to cluster.
func New(cluster Cluster) *Dispatcher {
	return &Dispatcher{
		cluster: cluster,
		pending: map[string]*pendingTask{},
		running: map[string]Sizing{},
		metrics: newMetrics(),
	}
}

// Admit blocks until req can be admitted against the cluster's node
// budget, honoring ctx cancellation (returning ErrAdmissionCancelled), and
// returns a release function the caller must call exactly once when the
// task's subprocess exits, freeing its node share for the next admission
// pass. This is mpiexec.py's acquire-twice-on-an-asyncio.Lock pattern
// (queue then admit) expressed as a single blocking call plus an explicit
// release, which is the more idiomatic Go shape for the same two-phase
// wait.
func (d *Dispatcher) Admit(ctx context.Context, req Request) (release func(), err error) {
	sizing, err := ComputeSizing(d.cluster, req)
	if err != nil {
		return nil, err
	}

	task := &pendingTask{
		id:       uuid.NewString(),
		sizing:   sizing,
		priority: req.Priority,
		ready:    make(chan struct{}),
	}

	d.mu.Lock()
	d.nextSeq++
	task.seq = d.nextSeq
	d.pending[task.id] = task
	d.mu.Unlock()
	d.metrics.pendingTasks.Inc()

	d.startLoop()

	select {
	case <-task.ready:
		d.metrics.admittedTotal.Inc()
		kind := "mpi"
		if sizing.MP {
			kind = "mp"
		}
		d.metrics.runningTasks.WithLabelValues(kind).Inc()
		return func() { d.release(task.id, kind) }, nil

	case <-ctx.Done():
		d.mu.Lock()
		delete(d.pending, task.id)
		d.mu.Unlock()
		d.metrics.pendingTasks.Dec()
		return nil, ErrAdmissionCancelled
	}
}

func (d *Dispatcher) release(id, kind string) {
	d.mu.Lock()
	delete(d.running, id)
	d.mu.Unlock()
	d.metrics.runningTasks.WithLabelValues(kind).Dec()
}

// startLoop lazily starts the single admission-polling goroutine, mirroring
// `if _task is None: _task = asyncio.create_task(_loop())`.
func (d *Dispatcher) startLoop() {
	d.loopOnce.Do(func() {
		d.loopStop = make(chan struct{})
		go d.loop()
	})
}

func (d *Dispatcher) loop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		d.runPass()
	}
}

func (d *Dispatcher) runPass() {
	d.mu.Lock()

	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}

	ordered := make([]*pendingTask, 0, len(d.pending))
	var maxNodes *big.Rat
	for _, t := range d.pending {
		ordered = append(ordered, t)
		if maxNodes == nil || t.sizing.Nodes.Cmp(maxNodes) > 0 {
			maxNodes = t.sizing.Nodes
		}
	}

	// Sort by priority*nnodes_max + nnodes, descending, matching _loop's
	// sort key exactly. d.pending is a map, so the slice built above is in
	// an arbitrary, run-to-run-random order; break ties on seq (assigned in
	// Admit in arrival order) so tasks of equal composite key are always
	// admitted in FIFO order rather than however Go happened to iterate the
	// map this time.
	sort.Slice(ordered, func(i, j int) bool {
		ki := compositeKey(ordered[i], maxNodes)
		kj := compositeKey(ordered[j], maxNodes)
		if c := ki.Cmp(kj); c != 0 {
			return c > 0
		}
		return ordered[i].seq < ordered[j].seq
	})

	var admitted []*pendingTask
	for _, t := range ordered {
		if d.canDispatchLocked(t.sizing) {
			d.running[t.id] = t.sizing
			admitted = append(admitted, t)
			delete(d.pending, t.id)
		}
	}

	d.mu.Unlock()

	for _, t := range admitted {
		d.metrics.pendingTasks.Dec()
		close(t.ready)
	}
}

func compositeKey(t *pendingTask, nnodesMax *big.Rat) *big.Rat {
	priority := new(big.Rat).SetInt64(int64(t.priority))
	key := new(big.Rat).Mul(priority, nnodesMax)
	return key.Add(key, t.sizing.Nodes)
}

// canDispatchLocked is mpiexec.py's _dispatch: admit if nothing of this
// kind is running yet, or if the task fits in the remaining budget.
func (d *Dispatcher) canDispatchLocked(s Sizing) bool {
	var total int
	if s.MP {
		total = d.cluster.CPUsPerNode
	} else {
		total = d.cluster.NNodes
	}

	var running *big.Rat
	for id, r := range d.running {
		_ = id
		if r.MP != s.MP {
			continue
		}
		if running == nil {
			running = new(big.Rat).Set(r.Nodes)
		} else {
			running.Add(running, r.Nodes)
		}
	}

	if running == nil {
		return true
	}

	budget := new(big.Rat).SetInt64(int64(total))
	remaining := new(big.Rat).Sub(budget, running)

	return s.Nodes.Cmp(remaining) <= 0
}
