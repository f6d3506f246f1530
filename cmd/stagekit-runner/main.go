// Command stagekit-runner is the process spawned by the subprocess
// supervisor (stagekit/subproc) to execute a registered function out of
// process, grounded on original_source/subprocess/exec.py's `_call` and
// its `__main__` argument parsing.
//
// Usage:
//
//	stagekit-runner <workspace> <fname> [-mp <n>]
//
// With -mp <n>, this process is the multiprocessing driver: it spawns n
// copies of itself (without -mp), one per rank, waits for all of them, and
// writes an error file if any rank failed — the Go analogue of handing
// _call to a multiprocessing.Pool. Without -mp, this process is a single
// worker: it determines its rank/size from STAGEKIT_RANK/STAGEKIT_SIZE (set
// by the driver) or from the MPI launcher's environment variables, loads
// the payload, resolves and invokes the registered function, and writes
// `{fname}.error` (or `{fname}#<rank>.error` when running under an MPI
// launcher with more than one rank) on failure.
package main

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/icui/stagekit-go/stagekit"
)

type payload struct {
	FuncName string
	Args     []any
	MPIArgs  [][]any
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 2 {
		return errors.New("stagekit-runner: usage: stagekit-runner <workspace> <fname> [-mp <n>]")
	}

	workspace, fname := args[0], args[1]

	if len(args) >= 4 && args[2] == "-mp" {
		n, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("stagekit-runner: bad -mp value %q: %w", args[3], err)
		}
		return driveMultiprocessing(workspace, fname, n)
	}

	return runWorker(workspace, fname)
}

// driveMultiprocessing spawns n copies of the current executable, one per
// rank, and waits for all of them, matching exec.py's use of a
// multiprocessing.Pool to run _call(size, idx) once per worker.
func driveMultiprocessing(workspace, fname string, n int) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}

	var g errgroup.Group
	for rank := 0; rank < n; rank++ {
		rank := rank
		g.Go(func() error {
			cmd := exec.Command(self, workspace, fname)
			cmd.Env = append(os.Environ(),
				fmt.Sprintf("STAGEKIT_RANK=%d", rank),
				fmt.Sprintf("STAGEKIT_SIZE=%d", n),
			)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd.Run()
		})
	}

	if err := g.Wait(); err != nil {
		writeError(workspace, fname, "", err)
		return err
	}
	return nil
}

// runWorker executes the registered function once, as a single rank.
func runWorker(workspace, fname string) error {
	rank, size := rankFromEnv()

	p, err := loadPayload(workspace, fname)
	if err != nil {
		return err
	}

	fn, err := stagekit.Resolve(p.FuncName)
	if err != nil {
		writeError(workspace, fname, rankSuffix(rank, size), err)
		return err
	}

	var mpArgs any
	if rank < len(p.MPIArgs) {
		mpArgs = p.MPIArgs[rank]
	}
	stagekit.Stat.Set(rank, size, mpArgs)

	if _, err := callResolved(fn, p.Args); err != nil {
		writeError(workspace, fname, rankSuffix(rank, size), err)
		return err
	}

	return nil
}

func rankFromEnv() (rank, size int) {
	if r, err := strconv.Atoi(os.Getenv("STAGEKIT_RANK")); err == nil {
		if s, err := strconv.Atoi(os.Getenv("STAGEKIT_SIZE")); err == nil {
			return r, s
		}
	}

	for _, pair := range [][2]string{
		{"OMPI_COMM_WORLD_RANK", "OMPI_COMM_WORLD_SIZE"},
		{"PMI_RANK", "PMI_SIZE"},
	} {
		r, errR := strconv.Atoi(os.Getenv(pair[0]))
		s, errS := strconv.Atoi(os.Getenv(pair[1]))
		if errR == nil && errS == nil {
			return r, s
		}
	}

	return 0, 1
}

func rankSuffix(rank, size int) string {
	if size <= 1 {
		return ""
	}
	return fmt.Sprintf("#%d", rank)
}

func loadPayload(workspace, fname string) (payload, error) {
	data, err := os.ReadFile(filepath.Join(workspace, fname+".pickle"))
	if err != nil {
		return payload{}, fmt.Errorf("stagekit-runner: read payload: %w", err)
	}

	var p payload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return payload{}, fmt.Errorf("stagekit-runner: decode payload: %w", err)
	}
	return p, nil
}

func writeError(workspace, fname, suffix string, cause error) {
	path := filepath.Join(workspace, fname+suffix+".error")
	_ = os.WriteFile(path, []byte(cause.Error()+"\n"), 0o644)
}

// callResolved invokes fn (a func value of unknown but fixed shape,
// typically func(context.Context, In) (Out, error)) via reflection,
// supplying a background context for any leading context.Context
// parameter and converting args positionally into the remaining
// parameters.
func callResolved(fn any, args []any) (any, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("stagekit-runner: resolved value is not callable: %T", fn)
	}

	var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()

	in := make([]reflect.Value, 0, t.NumIn())
	argIdx := 0
	for i := 0; i < t.NumIn(); i++ {
		pt := t.In(i)
		if i == 0 && pt.Implements(ctxType) {
			in = append(in, reflect.ValueOf(context.Background()))
			continue
		}
		if argIdx >= len(args) {
			in = append(in, reflect.Zero(pt))
			continue
		}
		av := reflect.ValueOf(args[argIdx])
		argIdx++
		if av.IsValid() && av.Type().ConvertibleTo(pt) {
			in = append(in, av.Convert(pt))
		} else {
			in = append(in, reflect.Zero(pt))
		}
	}

	out := v.Call(in)

	var result any
	var callErr error
	for _, o := range out {
		if o.Type().Implements(reflect.TypeOf((*error)(nil)).Elem()) {
			if !o.IsNil() {
				callErr = o.Interface().(error)
			}
			continue
		}
		result = o.Interface()
	}

	return result, callErr
}
