// Package coll is the intermediate representation the tree, ring and
// stripe builders lower a primitive into: a Coll is one logical
// collective step, made of point-to-point Edges that the executor can run
// concurrently, plus an optional fold (local reduction) applied once every
// contributing edge has landed.
//
// An Edge never carries a concrete buffer pointer. Every participant in a
// plan computes the identical tree/ring/stripe structure independently
// (SPMD, no coordination), so an edge's endpoints usually name a rank the
// local process has no buffer for. Location defers that resolution to
// whichever Env a given rank's Implementer binds against, mirroring how a
// real back-end only ever exposes a caller's own local pointers.
package coll

import (
	"github.com/lsds/hccp/srcs/go/buffer"
	"github.com/lsds/hccp/srcs/go/hierarchy"
)

// LocKind distinguishes where on a rank a Location's bytes live.
type LocKind int

const (
	UserSend LocKind = iota
	UserRecv
	Staging
)

func (k LocKind) String() string {
	switch k {
	case UserSend:
		return "send"
	case UserRecv:
		return "recv"
	default:
		return "staging"
	}
}

// Location names a byte range on a specific rank: either the caller's own
// send/recv buffer at Offset, or a planner-owned staging allocation
// identified by Tag within that rank's Arena.
type Location struct {
	Rank   int
	Kind   LocKind
	Tag    int
	Offset int
}

// Edge is a single point-to-point data movement between two ranks.
type Edge struct {
	Src, Dst int
	SLoc     Location
	DLoc     Location
	Count    int
	Library  hierarchy.Library
}

// Coll is one step of a lowered primitive: a set of edges that may run
// concurrently. When Reduce is set, the implementer groups c.Edges by
// DLoc and folds each group's arrivals together with Op; FoldLoc is set
// only when every edge shares one target and names it directly, as a
// convenience for callers that don't need to regroup. A Coll with more
// than one distinct DLoc (e.g. a scatter fanning out to many peers at
// once) leaves FoldLoc unset and relies on the per-DLoc grouping.
type Coll struct {
	Name  string
	Level int
	Edges []Edge

	Reduce  bool
	Op      buffer.Op
	Custom  buffer.CustomFunc
	FoldLoc Location
	// Seed marks every DLoc folded in this Coll as receiving its very
	// first contribution ever at that Location: the fold treats each
	// group's first edge as a plain copy rather than an operator
	// application, so a fresh accumulator never needs an
	// operator-specific identity element. A Coll with Seed false folds
	// every edge, including each group's first, onto whatever that
	// Location already holds from an earlier Coll.
	Seed bool
}

// Participants returns the sorted, de-duplicated set of ranks touched by
// c, used by the executor to know which local peers a Coll involves.
func (c Coll) Participants() []int {
	seen := map[int]bool{}
	var out []int
	add := func(r int) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, e := range c.Edges {
		add(e.Src)
		add(e.Dst)
	}
	return out
}

// Empty reports whether c has no work at all.
func (c Coll) Empty() bool { return len(c.Edges) == 0 }
