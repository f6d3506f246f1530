// Package subproc is the launch half of the subprocess supervisor:
// naming/collision-avoidance, payload externalization, command wrapping,
// execution, and result capture, grounded line-for-line on
// original_source/mpiexec.py's `mpiexec` stage function and its `_job`
// command-wrapping branches. The spawned side (cmd/stagekit-runner) is
// grounded on original_source/subprocess/exec.py and mpistat.py.
package subproc

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/icui/stagekit-go/stagekit"
	"github.com/icui/stagekit-go/stagekit/dispatch"
	"github.com/icui/stagekit-go/stagekit/job"
)

// ErrInsufficientWalltime mirrors original_source/mpiexec.py's
// InsufficientWalltime: the owning job's remaining walltime elapsed before
// a timeout="auto" subprocess exited. It is the same sentinel as
// stagekit.ErrInsufficientWalltime.
var ErrInsufficientWalltime = stagekit.ErrInsufficientWalltime

// ErrTimeout is returned for an explicit (non-"auto") timeout expiring.
var ErrTimeout = errors.New("subproc: execution timed out")

// payload is what gets gob-encoded to {fname}.pickle: a registered
// function name (empty for a plain shell command), its extra arguments,
// and the per-rank mpiargs chunks, matching the (cmd_or_Function, args,
// mpiargs) tuple mpiexec.py pickles.
type payload struct {
	FuncName string
	Args     []any
	MPIArgs  [][]any
}

// Request describes one subprocess task, mirroring mpiexec()'s parameters.
type Request struct {
	// Cmd is a shell command to run. Mutually exclusive with FuncName.
	Cmd string

	// FuncName is a name Register-ed (in the stagekit root package) naming
	// a function to run in the spawned runner process. Mutually exclusive
	// with Cmd.
	FuncName string
	Args     []any
	MPIArgs  []any

	// MPIArgsLess orders MPIArgs before it is partitioned into nprocs
	// contiguous per-rank chunks, mirroring mpiexec.py's `sorted(mpiargs)`
	// ahead of its own chunking (original_source/src/stagekit/mpiexec.py's
	// `_args = sorted(mpiargs)`). Go's `any` has no default ordering the
	// way Python values do, so a deterministic, sort-then-chunk partition
	// requires the caller to supply the ordering; left nil, MPIArgs is
	// chunked in the order given (the caller's responsibility to pre-sort
	// if rank assignment must be deterministic).
	MPIArgsLess func(a, b any) bool

	NProcs      int
	CPUsPerProc int
	GPUsPerProc int
	MPS         *dispatch.MPS

	Multiprocessing bool
	CustomExec      string
	CustomNNodes    *big.Rat

	FName      string
	CheckOutput func(stdout, stderr string) error

	// Timeout is the explicit timeout; zero means no timeout. Auto, when
	// set, ignores Timeout and uses the job adapter's remaining walltime.
	Timeout time.Duration
	Auto    bool

	Priority int
}

// Output is the captured result of a subprocess task, a lazy reader over
// its log/stdout/stderr files, matching mpiexec.py's MPIOutput.
type Output struct {
	dir   string
	FName string
}

func (o *Output) Log() (string, error)    { return o.read(".log") }
func (o *Output) Stdout() (string, error) { return o.read(".stdout") }
func (o *Output) Stderr() (string, error) { return o.read(".stderr") }

func (o *Output) read(ext string) (string, error) {
	if o.FName == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Join(o.dir, o.FName+ext))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Supervisor launches subprocess tasks within a workspace directory,
// resource-admitted through a dispatch.Dispatcher and command-wrapped by a
// job.Job adapter.
type Supervisor struct {
	Workspace  string
	Job        job.Job
	Dispatcher *dispatch.Dispatcher

	// RunnerPath is the path to the compiled cmd/stagekit-runner binary
	// used to execute registered Go functions out of process. Shell-command
	// requests (Request.Cmd) don't need it.
	RunnerPath string
}

// Exec runs req to completion: computes its node share, waits for
// dispatcher admission, picks a collision-free file name, externalizes a
// function payload if needed, wraps the command for the job adapter,
// executes it with stdout/stderr captured to files, enforces the timeout,
// and checks for a non-zero exit or an `{fname}.error` file written by the
// runner.
func (s *Supervisor) Exec(ctx context.Context, req Request) (*Output, error) {
	sizing, err := s.sizing(req)
	if err != nil {
		return nil, err
	}

	release, err := s.Dispatcher.Admit(ctx, dispatch.Request{
		NProcs:          req.NProcs,
		CPUsPerProc:     req.CPUsPerProc,
		GPUsPerProc:     req.GPUsPerProc,
		MPS:             req.MPS,
		Multiprocessing: req.Multiprocessing || s.Job.NoMPI(),
		CustomExec:      req.CustomExec,
		CustomNNodes:    req.CustomNNodes,
		Priority:        req.Priority,
	})
	if err != nil {
		return nil, err
	}
	defer release()

	fname, err := s.claimName(req.FName, req.Cmd, req.FuncName)
	if err != nil {
		return nil, err
	}

	cmd, cwd, err := s.buildCommand(req, fname, sizing)
	if err != nil {
		return nil, err
	}

	if err := s.writeLog(fname, cmd); err != nil {
		return nil, err
	}

	if err := s.run(ctx, cmd, cwd, fname, req); err != nil {
		return &Output{dir: s.Workspace, FName: fname}, err
	}

	out := &Output{dir: s.Workspace, FName: fname}

	if req.CheckOutput != nil {
		stdout, _ := out.Stdout()
		stderr, _ := out.Stderr()
		if err := req.CheckOutput(stdout, stderr); err != nil {
			return out, err
		}
	}

	if errText, err := os.ReadFile(filepath.Join(s.Workspace, fname+".error")); err == nil {
		return out, fmt.Errorf("subproc: %s", string(errText))
	}

	return out, nil
}

func (s *Supervisor) sizing(req Request) (dispatch.Sizing, error) {
	cluster := dispatch.Cluster{
		NNodes:      s.Job.NNodes(),
		CPUsPerNode: s.Job.CPUsPerNode(),
		GPUsPerNode: s.Job.GPUsPerNode(),
		ShareNode:   s.Job.ShareNode(),
		NoMPI:       s.Job.NoMPI(),
	}

	dreq := dispatch.Request{
		NProcs:          req.NProcs,
		CPUsPerProc:     req.CPUsPerProc,
		GPUsPerProc:     req.GPUsPerProc,
		MPS:             req.MPS,
		Multiprocessing: req.Multiprocessing,
		CustomExec:      req.CustomExec,
		CustomNNodes:    req.CustomNNodes,
	}
	return dispatch.ComputeSizing(cluster, dreq)
}

// claimName picks the {fname} stem and resolves naming collisions against
// existing {fname}.log files by appending "#<i>", matching mpiexec.py's
// naming block exactly.
func (s *Supervisor) claimName(fname, cmd, funcName string) (string, error) {
	if fname == "" {
		switch {
		case funcName != "":
			fname = "mpiexec_" + funcName
		case cmd != "":
			base := filepath.Base(firstWord(cmd))
			fname = "mpiexec_" + stripExt(base)
		default:
			fname = "mpiexec"
		}
	}

	if !exists(filepath.Join(s.Workspace, fname+".log")) {
		return fname, nil
	}

	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s#%d", fname, i)
		if !exists(filepath.Join(s.Workspace, candidate+".log")) {
			return candidate, nil
		}
	}
}

func (s *Supervisor) buildCommand(req Request, fname string, sizing dispatch.Sizing) (cmd string, cwd string, err error) {
	useFunc := req.FuncName != ""
	mp := req.Multiprocessing || s.Job.NoMPI()

	if useFunc {
		p := payload{FuncName: req.FuncName, Args: req.Args}
		if len(req.MPIArgs) > 0 {
			args := req.MPIArgs
			if req.MPIArgsLess != nil {
				args = append([]any(nil), args...)
				sort.Slice(args, func(i, j int) bool { return req.MPIArgsLess(args[i], args[j]) })
			}
			p.MPIArgs = chunk(args, req.NProcs)
		}

		if err := s.writePayload(fname, p); err != nil {
			return "", "", err
		}

		cmd = fmt.Sprintf("%s %s %s", s.RunnerPath, s.Workspace, fname)
	} else {
		cmd = req.Cmd
	}

	switch {
	case req.CustomExec != "":
		cmd = fmt.Sprintf("%s %s", req.CustomExec, cmd)
	case mp:
		cmd = fmt.Sprintf("%s -mp %d", cmd, req.NProcs)
	default:
		cmd, err = s.Job.MPIExec(cmd, req.NProcs, req.CPUsPerProc, req.GPUsPerProc)
		if err != nil {
			return "", "", err
		}
	}

	return cmd, s.Workspace, nil
}

func (s *Supervisor) writePayload(fname string, p payload) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("subproc: encode payload: %w", err)
	}
	return os.WriteFile(filepath.Join(s.Workspace, fname+".pickle"), buf.Bytes(), 0o644)
}

func (s *Supervisor) writeLog(fname, cmd string) error {
	return os.WriteFile(filepath.Join(s.Workspace, fname+".log"), []byte(cmd+"\n"), 0o644)
}

func (s *Supervisor) run(ctx context.Context, cmdline, cwd, fname string, req Request) error {
	stdout, err := os.Create(filepath.Join(s.Workspace, fname+".stdout"))
	if err != nil {
		return err
	}
	defer stdout.Close()

	stderr, err := os.Create(filepath.Join(s.Workspace, fname+".stderr"))
	if err != nil {
		return err
	}
	defer stderr.Close()

	cmd := exec.Command("sh", "-c", cmdline)
	cmd.Dir = cwd
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()

	if err := cmd.Start(); err != nil {
		return err
	}

	timeout, walltimeDriven := s.resolveTimeout(req)

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan error, 1)

	g.Go(func() error {
		done <- cmd.Wait()
		return nil
	})

	var waitErr error
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case waitErr = <-done:
		case <-timer.C:
			_ = cmd.Process.Kill()
			<-done
			if walltimeDriven {
				waitErr = ErrInsufficientWalltime
			} else {
				waitErr = ErrTimeout
			}
		case <-gctx.Done():
			_ = cmd.Process.Kill()
			<-done
			waitErr = gctx.Err()
		}
	} else {
		waitErr = <-done
	}

	_ = g.Wait()

	elapsed := time.Since(start)
	s.appendElapsed(fname, elapsed)

	if waitErr != nil {
		return waitErr
	}

	return nil
}

func (s *Supervisor) resolveTimeout(req Request) (time.Duration, bool) {
	if !req.Auto {
		return req.Timeout, false
	}
	if s.Job.TimeLimited() {
		return s.Job.Remaining(), true
	}
	return 0, false
}

func (s *Supervisor) appendElapsed(fname string, elapsed time.Duration) {
	f, err := os.OpenFile(filepath.Join(s.Workspace, fname+".log"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "\nelapsed: %s\n", elapsed.Round(time.Second))
}

func chunk(items []any, nprocs int) [][]any {
	if nprocs <= 0 {
		nprocs = 1
	}
	size := int(math.Ceil(float64(len(items)) / float64(nprocs)))
	if size == 0 {
		size = 1
	}

	out := make([][]any, 0, nprocs)
	for i := 0; i < nprocs; i++ {
		lo := i * size
		if lo >= len(items) {
			out = append(out, nil)
			continue
		}
		hi := lo + size
		if hi > len(items) {
			hi = len(items)
		}
		out = append(out, items[lo:hi])
	}
	return out
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' {
			return s[:i]
		}
	}
	return s
}

func stripExt(s string) string {
	if i := lastIndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
