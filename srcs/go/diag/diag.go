// Package diag implements the planner's error taxonomy and its single
// print-rank diagnostic policy: planner-time failures are typed so a
// caller can distinguish a misconfiguration from a resource exhaustion
// from a back-end fault, and only one rank ever prints them to avoid a
// log storm across a whole cluster reporting the same failure.
package diag

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/lsds/hccp/srcs/go/log"
)

// MisconfigError reports a malformed plan input found by init:
// groupsize[0] != P, an unknown strategy or reduce order, or a primitive
// naming a rank outside [0, P). Always fatal to init; never retried. A
// negative count or offset and an empty endpoint set are refused earlier
// by AddBcast/AddReduce with a plain error; an init with no primitives is
// accepted.
type MisconfigError struct {
	Primitive string
	Param     string
	Detail    string
}

func (e *MisconfigError) Error() string {
	return fmt.Sprintf("misconfiguration in %q (%s): %s", e.Primitive, e.Param, e.Detail)
}

// ResourceError reports exhaustion of a planner-owned resource, currently
// staging-buffer allocation. Like UserContractError, it is part of the
// four-kind taxonomy but not constructed anywhere today: init's build
// loop runs strictly sequentially, so there is no concurrent demand on
// staging to bound or exhaust. Kept for a future concurrent builder.
type ResourceError struct {
	Rank   int
	Detail string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource exhausted on rank %d: %s", e.Rank, e.Detail)
}

// BackendError wraps a transport failure surfaced from Comm.Start/Wait or
// Comp.Start/Wait during run. There is no recovery path: a BackendError is
// fatal to the process because a partially completed collective has no
// meaningful result.
type BackendError struct {
	Command string
	Cause   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error in %q: %v", e.Command, e.Cause)
}

func (e *BackendError) Unwrap() error { return e.Cause }

// UserContractError documents a caller violation of the run-time buffer
// contract (mutating sendbuf/recvbuf while run is in flight). It is never
// constructed or returned by this package — per spec, it is undefined
// behavior and not detected — it exists only so the four-kind taxonomy is
// represented as a concrete type for documentation.
type UserContractError struct {
	Detail string
}

func (e *UserContractError) Error() string {
	return fmt.Sprintf("user contract violation: %s (undetected by design)", e.Detail)
}

// Join aggregates independent per-edge or per-rank failures (e.g. several
// Colls in one batch failing concurrently) into one error without losing
// any individual cause, using go-multierror's formatting.
func Join(errs ...error) error {
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// Context is the Diagnostic Context threaded through the planner in place
// of process-wide printid/pFile/buffsize globals: it knows which rank is
// allowed to print and accumulates per-rank counters surfaced at the end
// of init.
type Context struct {
	Rank      int
	PrintRank int
	logger    *log.Logger

	staged   int
	released int
}

func NewContext(rank, printRank int, logger *log.Logger) *Context {
	return &Context{Rank: rank, PrintRank: printRank, logger: logger}
}

// IsPrintRank reports whether this rank is the single designated printer.
func (c *Context) IsPrintRank() bool { return c.Rank == c.PrintRank }

// Report logs err at error level, but only from the print rank, so a
// cluster-wide init failure produces one diagnostic instead of P of them.
func (c *Context) Report(err error) {
	if !c.IsPrintRank() || err == nil {
		return
	}
	c.logger.Errorf("init failed: %v", err)
}

// TrackStaged/TrackReleased record staging-buffer allocation lifecycle so
// a ResourceError's cleanup path can be verified complete (staged ==
// released) once init aborts.
func (c *Context) TrackStaged()   { c.staged++ }
func (c *Context) TrackReleased() { c.released++ }

// Balanced reports whether every tracked staging allocation has been
// released, used to assert the no-leak guarantee on a ResourceError path.
func (c *Context) Balanced() bool { return c.staged == c.released }
