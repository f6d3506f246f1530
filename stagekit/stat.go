package stagekit

// ProcessStat is process-local state visible to a stage function body,
// populated by the spawned subprocess runner (cmd/stagekit-runner) before
// it calls into user code, once, before any user code runs — so unlike
// Python's single-threaded asyncio loop, no locking is needed here even
// though Go stage bodies may read it from multiple goroutines. It is the
// Go realization of original_source/mpistat.py's module-level `stat`
// object.
type ProcessStat struct {
	// Rank is this process's index among the parallel workers executing
	// the current subprocess task (MPI rank, or multiprocessing pool index).
	Rank int

	// Size is the total number of parallel workers for the current task.
	Size int

	// InSubprocess is true inside a process spawned by the subprocess
	// supervisor, used to suppress checkpoint scheduling the way
	// context.py's checkpoint() and _save() both check `stat.in_subprocess`.
	InSubprocess bool

	// MPArgs holds this rank's chunk of the mpiargs collection passed to
	// MPIExec, mirroring stat.mpiargs.
	MPArgs any
}

// Stat is the single process-wide instance every stage body and the
// subprocess runner read and write.
var Stat = &ProcessStat{}

// Set updates every field of Stat at once, used by cmd/stagekit-runner
// immediately after determining its rank, before any user code runs.
func (s *ProcessStat) Set(rank, size int, mpArgs any) {
	s.Rank = rank
	s.Size = size
	s.InSubprocess = true
	s.MPArgs = mpArgs
}
