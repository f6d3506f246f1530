// Package dispatch implements the resource-bounded parallel dispatcher:
// priority-ordered admission of MPI and multiprocessing tasks against a
// fixed pool of compute nodes, grounded line-for-line on
// original_source/mpiexec.py's resource-computation block, _dispatch, and
// _loop, and shaped after the teacher's graph/scheduler.go Frontier
// (ordering by key, backpressure-by-admission instead of by channel depth).
package dispatch

import (
	"errors"
	"fmt"
	"math"
	"math/big"
)

// ErrInvalidRequest is returned for malformed resource requests: GPU usage
// requested on a cluster with no GPUs, malformed MPS ratios, or an nprocs
// not divisible by the MPS share — the three ValueError sites in
// mpiexec.py's resource-computation block.
var ErrInvalidRequest = errors.New("dispatch: invalid resource request")

// Cluster describes the fixed resource pool a Request is sized against,
// matching the fields of original_source's Job the resource computation
// actually reads (cpus_per_node, gpus_per_node, share_node).
type Cluster struct {
	NNodes      int
	CPUsPerNode int
	GPUsPerNode int
	ShareNode   bool
	NoMPI       bool
}

// MPS describes a multi-process-service GPU share: N processes share one
// GPU, the (1, n) tuple form of mpiexec.py's gpus_per_proc parameter.
type MPS struct {
	Procs int
}

// Request is one task's resource ask, mirroring mpiexec's own parameters
// (nprocs, cpus_per_proc, gpus_per_proc, multiprocessing, custom_nnodes).
type Request struct {
	NProcs        int
	CPUsPerProc   int
	GPUsPerProc   int
	MPS           *MPS
	Multiprocessing bool
	CustomExec    string
	CustomNNodes  *big.Rat
	Priority      int
}

// Sizing is the computed node share for a request: Nodes is an exact
// rational number of nodes (big.Rat is the direct ecosystem-free analogue
// of Python's fractions.Fraction, which mpiexec.py itself uses for this
// same arithmetic), and MP reports whether the task occupies the
// multiprocessing pool (sized against CPUsPerNode) or the MPI pool (sized
// against node count).
type Sizing struct {
	Nodes *big.Rat
	MP    bool
}

// ComputeSizing ports mpiexec.py's node-count computation (lines 149-193):
// custom_nnodes overrides everything when a custom launcher is also set
// (custom_nnodes alone is ignored); multiprocessing tasks size by process
// count; MPI tasks size by cpus_per_proc * nprocs / cpus_per_node, widened
// for GPU or MPS requirements, and rounded up to a whole node when the
// cluster disallows node sharing.
func ComputeSizing(c Cluster, r Request) (Sizing, error) {
	mp := c.NoMPI || r.Multiprocessing

	if r.CustomExec != "" && r.CustomNNodes != nil {
		if mp {
			nodes := new(big.Rat).SetInt64(int64(ceilRat(r.CustomNNodes)))
			return Sizing{Nodes: nodes, MP: true}, nil
		}
		return Sizing{Nodes: new(big.Rat).Set(r.CustomNNodes), MP: false}, nil
	}

	if mp {
		return Sizing{Nodes: big.NewRat(int64(r.NProcs), 1), MP: true}, nil
	}

	nodes := big.NewRat(int64(r.NProcs*r.CPUsPerProc), int64(max1(c.CPUsPerNode)))

	if r.MPS != nil {
		if c.GPUsPerNode == 0 {
			return Sizing{}, fmt.Errorf("%w: GPU is not enabled in current system", ErrInvalidRequest)
		}
		if r.MPS.Procs <= 0 {
			return Sizing{}, fmt.Errorf("%w: incorrect mps configuration (1, %d)", ErrInvalidRequest, r.MPS.Procs)
		}
		if r.NProcs%r.MPS.Procs != 0 {
			return Sizing{}, fmt.Errorf("%w: nprocs must be a multiple of mps (%d, %d)", ErrInvalidRequest, r.NProcs, r.MPS.Procs)
		}

		gpuNodes := big.NewRat(int64(r.NProcs/r.MPS.Procs), int64(max1(c.GPUsPerNode)))
		if gpuNodes.Cmp(nodes) > 0 {
			nodes = gpuNodes
		}
	} else if r.GPUsPerProc > 0 {
		if c.GPUsPerNode == 0 {
			return Sizing{}, fmt.Errorf("%w: GPU is not enabled in current system", ErrInvalidRequest)
		}
		gpuNodes := big.NewRat(int64(r.NProcs*r.GPUsPerProc), int64(max1(c.GPUsPerNode)))
		if gpuNodes.Cmp(nodes) > 0 {
			nodes = gpuNodes
		}
	}

	if !c.ShareNode {
		nodes = new(big.Rat).SetInt64(int64(ceilRat(nodes)))
	}

	return Sizing{Nodes: nodes, MP: false}, nil
}

func max1(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}

func ceilRat(r *big.Rat) int64 {
	f, _ := r.Float64()
	return int64(math.Ceil(f))
}
