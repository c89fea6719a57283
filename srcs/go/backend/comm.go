package backend

import (
	"context"

	"github.com/lsds/hccp/srcs/go/buffer"
	"github.com/lsds/hccp/srcs/go/hierarchy"
)

// Comm is the back-end transport contract the Implementer lowers edges
// against. src == -1 means a host-side staging write with no network
// peer; dst == -1 means a host-side staging read. A Comm is not safe for
// concurrent use from more than one goroutine — the executor is its only
// caller.
type Comm interface {
	// Add registers a pairwise edge; it does not move data until Start.
	Add(sbuf *buffer.Buffer, soff int, rbuf *buffer.Buffer, roff int, count, src, dst int) error
	// Start begins every registered edge asynchronously.
	Start(ctx context.Context) error
	// Wait blocks until every edge started by the last Start has landed.
	Wait(ctx context.Context) error
	// Test reports whether the last Start has completed without blocking.
	Test() (bool, error)
	// Run is Start followed by Wait.
	Run(ctx context.Context) error
	// Measure runs warmup+iter round trips and reports achieved bandwidth
	// in bytes/second, for the Reporter only.
	Measure(ctx context.Context, warmup, iter int) (float64, error)
}

// Comp executes a registered reduction kernel over a list of input
// buffers into one output buffer. seed marks output as receiving its
// very first contribution ever at this Location: Add folds the first
// input as a plain copy rather than an Op application so a fresh
// accumulator never needs an operator-specific identity element. A
// false seed folds every input, including the first, onto whatever
// output already holds from an earlier Add.
type Comp interface {
	Add(op buffer.Op, custom buffer.CustomFunc, inputs []*buffer.Buffer, output *buffer.Buffer, seed bool) error
	Start(ctx context.Context) error
	Wait(ctx context.Context) error
}

// World is the process-bootstrap contract used only at init boundaries:
// rank/size discovery, a barrier, and allreduce for plan-structure
// agreement. It is never touched by the executor once init completes.
type World interface {
	Rank() int
	Size() int
	Barrier(ctx context.Context) error
	AllreduceInt(ctx context.Context, v int) (int, error)
}

// Factory constructs a Comm bound to a given transport tag, mirroring
// the back-end contract's `new Comm(comm_world, library_tag)`.
type Factory interface {
	NewComm(world World, lib hierarchy.Library) (Comm, error)
	NewComp(world World) (Comp, error)
}
