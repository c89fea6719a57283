// Package lower is the Implementer: it takes the per-batch coll.Coll lists
// produced by tree/ring/stripe and turns them into per-batch Command lists
// bound to concrete backend.Comm/backend.Comp handles, resolving every
// coll.Location against a backend.Env. Adjacent Colls sharing a library and
// touching disjoint buffer ranges are fused into one Comm so the executor
// issues a single start/wait pair for them.
package lower

import (
	"context"
	"fmt"

	"github.com/lsds/hccp/srcs/go/backend"
	"github.com/lsds/hccp/srcs/go/buffer"
	"github.com/lsds/hccp/srcs/go/coll"
	"github.com/lsds/hccp/srcs/go/hierarchy"
)

// Action is the kind of a lowered Command.
type Action int

const (
	CommRun Action = iota
	CompRun
)

func (a Action) String() string {
	if a == CommRun {
		return "comm_run"
	}
	return "comp_run"
}

// Command is one lowered, executable unit of a batch's command list: a
// bound Comm (for a data-movement step) or a bound Comp (for a fold). Every
// Command additionally carries the counts the Reporter needs without
// re-walking the Coll it came from.
type Command struct {
	Name    string
	Action  Action
	Comm    backend.Comm
	Comp    backend.Comp
	NumSend int
	NumRecv int
	NumComp int
}

// Start issues the command's start phase (comm_start or compute_start in
// spec terms) without blocking.
func (c *Command) Start(ctx context.Context) error {
	if c.Action == CompRun {
		return c.Comp.Start(ctx)
	}
	return c.Comm.Start(ctx)
}

// Wait blocks until the command started by Start has landed.
func (c *Command) Wait(ctx context.Context) error {
	if c.Action == CompRun {
		return c.Comp.Wait(ctx)
	}
	return c.Comm.Wait(ctx)
}

// group is a set of coll.Edges all folding into the same Location within
// one Coll, replayed in the order they were appended so the first arrival
// can be told apart from the rest.
type group struct {
	loc   coll.Location
	edges []coll.Edge
}

// Implementer lowers Coll lists for one local rank against a Factory/Env
// pair and that rank's World; the library tag of each Comm it builds comes
// from the edges of the Colls being lowered.
type Implementer struct {
	factory backend.Factory
	env     backend.Env
	world   backend.World
	rank    int
}

func New(factory backend.Factory, env backend.Env, world backend.World) *Implementer {
	return &Implementer{factory: factory, env: env, world: world, rank: world.Rank()}
}

// Lower turns one batch's Coll list into a Command list. Every rank in a
// plan builds the identical Coll list (SPMD), so the skip/fuse decisions
// below run in lockstep across ranks and every rank's command_batch ends
// up the same length — an edge simply registers no local work on a rank
// that is neither its src nor its dst.
func (im *Implementer) Lower(colls []*coll.Coll) ([]*Command, error) {
	var cmds []*Command
	i := 0
	for i < len(colls) {
		c := colls[i]
		if c.Empty() {
			i++
			continue
		}
		if c.Reduce {
			cmd, err := im.lowerReduce(c)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, cmd)
			i++
			continue
		}
		// Fuse a run of adjacent non-reduce Colls sharing a library and
		// touching disjoint buffer ranges.
		j := i + 1
		lib, libOK := soleLibrary(c)
		for libOK && j < len(colls) && fusable(colls[i:j], colls[j], lib) {
			j++
		}
		cmd, err := im.lowerComm(colls[i:j])
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
		i = j
	}
	return cmds, nil
}

func soleLibrary(c *coll.Coll) (hierarchy.Library, bool) {
	if len(c.Edges) == 0 {
		return 0, false
	}
	lib := c.Edges[0].Library
	for _, e := range c.Edges[1:] {
		if e.Library != lib {
			return 0, false
		}
	}
	return lib, true
}

// fusable reports whether c can be merged into run, a run started with lib:
// a non-reduce Coll whose edges all share lib too and that reads or writes
// no element range an edge of run writes, nor writes one an edge of run reads.
func fusable(run []*coll.Coll, c *coll.Coll, lib hierarchy.Library) bool {
	if c.Reduce {
		return false
	}
	if l, ok := soleLibrary(c); !ok || l != lib {
		return false
	}
	overlap := func(a coll.Location, an int, b coll.Location, bn int) bool {
		return a.Rank == b.Rank && a.Kind == b.Kind && a.Tag == b.Tag && a.Offset < b.Offset+bn && b.Offset < a.Offset+an
	}
	for _, prev := range run {
		for _, w := range prev.Edges {
			for _, e := range c.Edges {
				if overlap(w.DLoc, w.Count, e.SLoc, e.Count) || overlap(w.DLoc, w.Count, e.DLoc, e.Count) || overlap(w.SLoc, w.Count, e.DLoc, e.Count) {
					return false
				}
			}
		}
	}
	return true
}

func (im *Implementer) lowerComm(run []*coll.Coll) (*Command, error) {
	lib, _ := soleLibrary(run[0])
	comm, err := im.factory.NewComm(im.world, lib)
	if err != nil {
		return nil, fmt.Errorf("lower: new comm: %w", err)
	}
	name := run[0].Name
	var nsend, nrecv int
	for _, c := range run {
		for _, e := range c.Edges {
			if e.Src != im.rank && e.Dst != im.rank {
				continue // not this rank's edge to drive
			}
			if e.Src == e.Dst && e.SLoc == e.DLoc {
				continue // self-transfer to the identical Location is a no-op
			}
			sbuf, soff := im.resolve(e.SLoc, e.Count)
			rbuf, roff := im.resolve(e.DLoc, e.Count)
			if err := comm.Add(sbuf, soff, rbuf, roff, e.Count, e.Src, e.Dst); err != nil {
				return nil, fmt.Errorf("lower: %s: %w", c.Name, err)
			}
			if e.Src == im.rank {
				nsend++
			}
			if e.Dst == im.rank {
				nrecv++
			}
		}
	}
	return &Command{Name: name, Action: CommRun, Comm: comm, NumSend: nsend, NumRecv: nrecv}, nil
}

func (im *Implementer) lowerReduce(c *coll.Coll) (*Command, error) {
	comp, err := im.factory.NewComp(im.world)
	if err != nil {
		return nil, fmt.Errorf("lower: new comp: %w", err)
	}
	groups := groupByDLoc(c.Edges)
	ncomp := 0
	for _, g := range groups {
		if g.loc.Rank != im.rank {
			continue
		}
		inputs := make([]*buffer.Buffer, len(g.edges))
		for k, e := range g.edges {
			b, off := im.resolve(e.SLoc, e.Count)
			inputs[k] = b.Slice(off, off+e.Count)
		}
		out, off := im.resolve(g.loc, g.edges[0].Count)
		output := out.Slice(off, off+g.edges[0].Count)
		if err := comp.Add(c.Op, c.Custom, inputs, output, c.Seed); err != nil {
			return nil, fmt.Errorf("lower: %s: %w", c.Name, err)
		}
		ncomp++
	}
	return &Command{Name: c.Name, Action: CompRun, Comp: comp, NumComp: ncomp}, nil
}

// groupByDLoc buckets edges by their fold target, preserving first-seen
// order of both groups and edges within a group.
func groupByDLoc(edges []coll.Edge) []*group {
	idx := map[coll.Location]int{}
	var groups []*group
	for _, e := range edges {
		i, ok := idx[e.DLoc]
		if !ok {
			i = len(groups)
			idx[e.DLoc] = i
			groups = append(groups, &group{loc: e.DLoc})
		}
		groups[i].edges = append(groups[i].edges, e)
	}
	return groups
}

// resolve maps a coll.Location to its backing Buffer and element offset.
// Staging locations are sized from count on first touch via
// EnsureStaging, since a Location carries no size of its own.
func (im *Implementer) resolve(loc coll.Location, count int) (*buffer.Buffer, int) {
	switch loc.Kind {
	case coll.UserSend:
		return im.env.UserSend(loc.Rank), loc.Offset
	case coll.UserRecv:
		return im.env.UserRecv(loc.Rank), loc.Offset
	default:
		return im.env.EnsureStaging(loc.Rank, loc.Tag, loc.Offset+count), loc.Offset
	}
}
