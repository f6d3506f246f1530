package job

import (
	"errors"
	"runtime"
	"time"
)

// ErrNoMPI is returned by localJob.MPIExec, matching jobs/local.py's
// `raise RuntimeError('mpiexec should not be called when no_mpi flag is
// on')` — Local always forces the multiprocessing pool, so mpiexec.py
// never actually calls MPIExec against it, but the method must still exist
// to satisfy the Job interface.
var ErrNoMPI = errors.New("job: mpiexec should not be called when no_mpi flag is on")

// localJob runs every task on the local machine's CPUs via the
// multiprocessing pool, matching jobs/local.py's Local adapter: nnodes
// defaults to the machine's CPU count and NoMPI is always true.
type localJob struct {
	nnodes      int
	cpusPerNode int
	gpusPerNode int
}

// NewLocal constructs the "local" Job adapter. If cfg.NNodes is zero, it
// defaults to runtime.NumCPU(), matching `nnodes = cpu_count() or 1`.
func NewLocal(cfg Config) Job {
	nnodes := cfg.NNodes
	if nnodes <= 0 {
		nnodes = runtime.NumCPU()
	}
	if nnodes <= 0 {
		nnodes = 1
	}

	cpusPerNode := cfg.CPUsPerNode
	if cpusPerNode <= 0 {
		cpusPerNode = 1
	}

	return &localJob{nnodes: nnodes, cpusPerNode: cpusPerNode, gpusPerNode: cfg.GPUsPerNode}
}

func (l *localJob) NNodes() int        { return l.nnodes }
func (l *localJob) CPUsPerNode() int   { return l.cpusPerNode }
func (l *localJob) GPUsPerNode() int   { return l.gpusPerNode }
func (l *localJob) ShareNode() bool    { return true }
func (l *localJob) NoMPI() bool        { return true }
func (l *localJob) TimeLimited() bool  { return false }
func (l *localJob) Remaining() time.Duration { return 0 }

func (l *localJob) MPIExec(cmd string, nprocs, cpusPerProc, gpusPerProc int) (string, error) {
	return "", ErrNoMPI
}

func init() {
	Register("local", NewLocal)
}
