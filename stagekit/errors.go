package stagekit

import (
	"errors"
	"fmt"
)

// ErrFlatStage is returned when execution is attempted on a stage that was
// restored from a checkpoint and has not yet been renewed against a live
// call. Flat stages carry surrogate arguments only and cannot run until
// Stage.Renew replaces them with a live function and live arguments.
var ErrFlatStage = errors.New("stagekit: cannot execute a restored (flat) stage")

// ErrNotRunning is returned by Set when it is called outside of any running
// stage body.
var ErrNotRunning = errors.New("stagekit: no stage is currently running")

// ErrReplayVerification is returned by the checkpointer when a saved root,
// reread immediately after writing, does not compare equal to what was
// written. The staging file is left in place for inspection and the prior
// stagekit.pickle is left untouched.
var ErrReplayVerification = errors.New("stagekit: checkpoint verification failed after save")

// ErrInsufficientWalltime is returned by the subprocess supervisor when a
// task configured with timeout "auto" is killed because the owning job's
// remaining walltime elapsed before the subprocess exited.
var ErrInsufficientWalltime = errors.New("stagekit: insufficient walltime remaining for subprocess")

// ErrNoSuchFunc is returned when a FuncRef read back from a checkpoint or a
// subprocess payload does not resolve against the process's registry.
var ErrNoSuchFunc = errors.New("stagekit: no registered function for reference")

// StageError wraps an error raised from within a stage body with the
// identity of the stage that raised it, mirroring the original's practice
// of recording the exception on the current stage before propagating it.
type StageError struct {
	StageName string
	Cause     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q failed: %v", e.StageName, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}
