package job

import (
	"fmt"
	"time"
)

// slurmJob ports jobs/slurm.py's Slurm adapter: MPIExec builds an `srun`
// invocation and the job enforces the requested walltime minus a safety
// gap, matching Job.remaining in original_source's job/job.py.
type slurmJob struct {
	nnodes      int
	cpusPerNode int
	gpusPerNode int
	shareNode   bool
	walltime    time.Duration
	gap         time.Duration
	start       time.Time
}

// NewSlurm constructs the "slurm" Job adapter.
func NewSlurm(cfg Config) Job {
	gap := cfg.GapMins
	if gap <= 0 {
		gap = 2.0
	}

	return &slurmJob{
		nnodes:      cfg.NNodes,
		cpusPerNode: cfg.CPUsPerNode,
		gpusPerNode: cfg.GPUsPerNode,
		shareNode:   cfg.ShareNode,
		walltime:    time.Duration(cfg.WalltimeMins * float64(time.Minute)),
		gap:         time.Duration(gap * float64(time.Minute)),
		start:       time.Now(),
	}
}

func (s *slurmJob) NNodes() int      { return s.nnodes }
func (s *slurmJob) CPUsPerNode() int { return s.cpusPerNode }
func (s *slurmJob) GPUsPerNode() int { return s.gpusPerNode }
func (s *slurmJob) ShareNode() bool  { return s.shareNode }
func (s *slurmJob) NoMPI() bool      { return false }
func (s *slurmJob) TimeLimited() bool {
	return s.walltime > 0
}

func (s *slurmJob) Remaining() time.Duration {
	elapsed := time.Now().Sub(s.start)
	return s.walltime - s.gap - elapsed
}

// MPIExec builds `srun -n <nprocs> --cpus-per-task <cpusPerProc>
// --gpus-per-task <gpusPerProc> <cmd>`, matching jobs/slurm.py exactly.
func (s *slurmJob) MPIExec(cmd string, nprocs, cpusPerProc, gpusPerProc int) (string, error) {
	return fmt.Sprintf("srun -n %d --cpus-per-task %d --gpus-per-task %d %s", nprocs, cpusPerProc, gpusPerProc, cmd), nil
}

func init() {
	Register("slurm", NewSlurm)
}
