// Package backend defines the contract the planner lowers a compiled plan
// against — Comm for point-to-point transport, Comp for local reduction
// compute — and ships an in-process mock implementation good enough to
// drive every rank of a simulated cluster inside one test process. A real
// deployment supplies its own Comm/Comp bound to NVLink/RDMA/a vendor
// collective library; this package intentionally stops at the contract.
package backend

import "github.com/lsds/hccp/srcs/go/buffer"

// Env resolves a coll.Location to the concrete Buffer it names on some
// rank. A production Env only ever answers for the local rank; the mock
// Env in this package answers for every simulated rank so tests can
// assert on the whole cluster's final state from one goroutine.
type Env interface {
	UserSend(rank int) *buffer.Buffer
	UserRecv(rank int) *buffer.Buffer
	Staging(rank, tag int) *buffer.Buffer
	// EnsureStaging resolves (rank, tag) to a Buffer holding at least count
	// elements, allocating it on first use and replacing it with a larger
	// Buffer when a later call needs more. The Implementer calls this every time it resolves a
	// staging Location while lowering, since a coll.Location carries no
	// size of its own.
	EnsureStaging(rank, tag, count int) *buffer.Buffer
}
