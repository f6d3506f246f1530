// Package job adapts a stage tree's subprocess supervisor to a specific
// cluster scheduler, grounded on original_source's stagekit/job/job.py
// (the Job ABC) and jobs/local.py, jobs/slurm.py.
package job

import (
	"fmt"
	"sync"
	"time"
)

// Job is the scheduler-adapter interface: the fields and methods
// original_source's Job ABC exposes to mpiexec.py (cpus_per_node,
// gpus_per_node, share_node, no_mpi, time_limited/remaining, and the
// mpiexec command-wrapping method).
type Job interface {
	// NNodes is the number of nodes available to this job.
	NNodes() int
	// CPUsPerNode is the number of CPUs available per node.
	CPUsPerNode() int
	// GPUsPerNode is the number of GPUs available per node.
	GPUsPerNode() int
	// ShareNode reports whether a node can be shared across MPI calls.
	ShareNode() bool
	// NoMPI forces every task onto the multiprocessing pool.
	NoMPI() bool
	// TimeLimited reports whether this job adapter enforces a walltime.
	TimeLimited() bool
	// Remaining reports the remaining walltime, as a duration, valid only
	// when TimeLimited is true.
	Remaining() time.Duration
	// MPIExec builds the shell command that runs cmd under this scheduler's
	// parallel launcher.
	MPIExec(cmd string, nprocs, cpusPerProc, gpusPerProc int) (string, error)
}

// Config carries the subset of stagekit.Config.Job this package reads,
// mirroring the constructor loop in original_source's Job.__init__ that
// copies every config key onto the instance except "job" itself.
type Config struct {
	NNodes       int
	CPUsPerNode  int
	GPUsPerNode  int
	ShareNode    bool
	NoMPI        bool
	WalltimeMins float64
	GapMins      float64
}

// registryMu/registry mirror define_job's module-level `_job_cls` table.
var (
	registryMu sync.RWMutex
	registry   = map[string]func(Config) Job{}
)

// Register associates a scheduler name (as used by the `job.job` config
// key) with a constructor, the Go analogue of define_job.
func Register(name string, construct func(Config) Job) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = construct
}

// New constructs the Job adapter named by name using cfg, or an error if
// no adapter was registered under that name.
func New(name string, cfg Config) (Job, error) {
	registryMu.RLock()
	construct, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("job: no adapter registered for %q", name)
	}
	return construct(cfg), nil
}
