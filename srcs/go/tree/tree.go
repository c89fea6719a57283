// Package tree expands a broadcast or reduce primitive across a level
// hierarchy by recursively electing a bridge rank per foreign group,
// exactly as far as the hierarchy's groupsize sequence dictates: once a
// group has shrunk to size one, every remaining receiver is necessarily
// "foreign" and gets bridged directly, so the recursion terminates on its
// own without a separate terminal case.
package tree

import (
	"fmt"
	"sort"

	"github.com/lsds/hccp/srcs/go/buffer"
	"github.com/lsds/hccp/srcs/go/coll"
	"github.com/lsds/hccp/srcs/go/hierarchy"
	"github.com/lsds/hccp/srcs/go/primitive"
)

// ArenaSet lazily hands out one staging Arena per rank.
type ArenaSet struct {
	dtype  buffer.DataType
	arenas map[int]*coll.Arena
}

func NewArenaSet(dtype buffer.DataType) *ArenaSet {
	return &ArenaSet{dtype: dtype, arenas: map[int]*coll.Arena{}}
}

func (s *ArenaSet) For(rank int) *coll.Arena {
	a, ok := s.arenas[rank]
	if !ok {
		a = coll.NewArena(s.dtype)
		s.arenas[rank] = a
	}
	return a
}

// TotalLive sums every rank's unreleased staging allocations, sampled
// once a batch's builders have finished so a caller can tell a leaked
// Release (a builder that allocated but never gave a buffer back) from a
// batch that cleaned up after itself.
func (s *ArenaSet) TotalLive() int {
	total := 0
	for _, a := range s.arenas {
		total += a.Outstanding()
	}
	return total
}

type topoEdge struct {
	Level      int
	Src, Dst   int
	DstIsFinal bool
}

type task struct {
	sender int
	recv   []int
}

// buildTopology runs the recursive bridge election from virtualSender to
// virtualRecvIDs and returns the resulting edges, one set per level,
// without committing to a data direction — callers interpret Src->Dst as
// a broadcast hop, or reverse it for a reduce convergence.
func buildTopology(h *hierarchy.Hierarchy, startLevel, virtualSender int, virtualRecvIDs []int) []topoEdge {
	var edges []topoEdge
	queue := []task{{sender: virtualSender, recv: append([]int(nil), virtualRecvIDs...)}}
	for level := startLevel; level < h.NumLevels() && len(queue) > 0; level++ {
		var next []task
		for _, t := range queue {
			g0 := h.Group(t.sender, level)
			var local []int
			foreign := map[int][]int{}
			for _, r := range t.recv {
				if h.Group(r, level) == g0 {
					local = append(local, r)
				} else {
					fg := h.Group(r, level)
					foreign[fg] = append(foreign[fg], r)
				}
			}
			if len(local) > 0 {
				next = append(next, task{sender: t.sender, recv: local})
			}
			for _, g := range sortedKeys(foreign) {
				remaining := foreign[g]
				bridge := h.Bridge(t.sender, g, level)
				edges = append(edges, topoEdge{
					Level:      level,
					Src:        t.sender,
					Dst:        bridge,
					DstIsFinal: containsInt(remaining, bridge),
				})
				next = append(next, task{sender: bridge, recv: remaining})
			}
		}
		queue = next
	}
	return edges
}

func sortedKeys(m map[int][]int) []int {
	ks := make([]int, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Ints(ks)
	return ks
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func removeInt(xs []int, v int) []int {
	out := make([]int, 0, len(xs))
	for _, x := range xs {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// BuildBroadcast lowers a BROADCAST primitive into one Coll per level it
// touches, plus a same-rank self-copy Coll if the sender is also a
// receiver.
func BuildBroadcast(h *hierarchy.Hierarchy, arenas *ArenaSet, startLevel int, p primitive.Primitive) ([]*coll.Coll, error) {
	if p.Kind != primitive.Broadcast {
		return nil, fmt.Errorf("tree: BuildBroadcast given a %s primitive", p.Kind)
	}
	others := removeInt(p.RecvIDs, p.SendID)
	edges := buildTopology(h, startLevel, p.SendID, others)

	perLevel := map[int]*coll.Coll{}
	var order []int
	src := map[int]coll.Location{p.SendID: {Rank: p.SendID, Kind: coll.UserSend, Offset: p.SendOffset}}

	for _, te := range edges {
		c, ok := perLevel[te.Level]
		if !ok {
			c = &coll.Coll{Name: fmt.Sprintf("%s@bcast/L%d", p.Name, te.Level), Level: te.Level}
			perLevel[te.Level] = c
			order = append(order, te.Level)
		}
		var dloc coll.Location
		if te.DstIsFinal {
			dloc = coll.Location{Rank: te.Dst, Kind: coll.UserRecv, Offset: p.RecvOffset}
		} else {
			_, tag := arenas.For(te.Dst).Alloc(p.Count)
			dloc = coll.Location{Rank: te.Dst, Kind: coll.Staging, Tag: tag, Offset: 0}
		}
		c.Edges = append(c.Edges, coll.Edge{
			Src: te.Src, Dst: te.Dst,
			SLoc: src[te.Src], DLoc: dloc,
			Count: p.Count, Library: h.Library(te.Level),
		})
		src[te.Dst] = dloc
	}

	sort.Ints(order)
	colls := make([]*coll.Coll, 0, len(order)+1)
	for _, l := range order {
		colls = append(colls, perLevel[l])
	}

	if containsInt(p.RecvIDs, p.SendID) {
		colls = append(colls, &coll.Coll{
			Name:  fmt.Sprintf("%s@bcast/self", p.Name),
			Level: h.NumLevels() - 1,
			Edges: []coll.Edge{{
				Src: p.SendID, Dst: p.SendID,
				SLoc:  coll.Location{Rank: p.SendID, Kind: coll.UserSend, Offset: p.SendOffset},
				DLoc:  coll.Location{Rank: p.SendID, Kind: coll.UserRecv, Offset: p.RecvOffset},
				Count: p.Count,
			}},
		})
	}
	return colls, nil
}

// BuildReduce lowers a REDUCE primitive by building the identical
// bridge-election topology rooted at recvid over the sender set, then
// reversing it: data flows leaf-to-root, executed innermost level first,
// folding contributions with p.Op at every convergence point.
func BuildReduce(h *hierarchy.Hierarchy, arenas *ArenaSet, startLevel int, p primitive.Primitive) ([]*coll.Coll, error) {
	if p.Kind != primitive.Reduce {
		return nil, fmt.Errorf("tree: BuildReduce given a %s primitive", p.Kind)
	}
	others := removeInt(p.SendIDs, p.RecvID)
	edges := buildTopology(h, startLevel, p.RecvID, others)

	byLevelDesc := map[int][]topoEdge{}
	var levels []int
	for _, te := range edges {
		if _, ok := byLevelDesc[te.Level]; !ok {
			levels = append(levels, te.Level)
		}
		byLevelDesc[te.Level] = append(byLevelDesc[te.Level], te)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(levels)))

	stagingTag := map[int]int{}
	leafFinal := map[int]bool{}
	seeded := map[int]bool{}
	sourceOf := func(rank int, isFinalLeaf bool, off int) coll.Location {
		if isFinalLeaf {
			return coll.Location{Rank: rank, Kind: coll.UserSend, Offset: off}
		}
		tag := stagingTag[rank]
		return coll.Location{Rank: rank, Kind: coll.Staging, Tag: tag, Offset: 0}
	}

	var colls []*coll.Coll
	for _, level := range levels {
		byDst := map[int][]topoEdge{}
		var dstOrder []int
		for _, te := range byLevelDesc[level] {
			if _, ok := byDst[te.Src]; !ok {
				dstOrder = append(dstOrder, te.Src)
			}
			byDst[te.Src] = append(byDst[te.Src], te)
		}
		sort.Ints(dstOrder)
		for _, realDst := range dstOrder {
			c := &coll.Coll{
				Name:   fmt.Sprintf("%s@reduce/L%d/r%d", p.Name, level, realDst),
				Level:  level,
				Reduce: true,
				Op:     p.Op,
				Custom: p.Custom,
				Seed:   !seeded[realDst],
			}
			seeded[realDst] = true
			var fold coll.Location
			if realDst == p.RecvID {
				fold = coll.Location{Rank: realDst, Kind: coll.UserRecv, Offset: p.RecvOffset}
			} else {
				if _, ok := stagingTag[realDst]; !ok {
					_, tag := arenas.For(realDst).Alloc(p.Count)
					stagingTag[realDst] = tag
				}
				fold = coll.Location{Rank: realDst, Kind: coll.Staging, Tag: stagingTag[realDst], Offset: 0}
			}
			// realDst may itself be a declared sender as well as the
			// bridge for its own subtree: fold its own contribution into
			// the same staging right here, at the level where that
			// staging is seeded, so a later outer-level hop forwards the
			// subtree's full sum rather than just realDst's own value.
			if realDst != p.RecvID && containsInt(p.SendIDs, realDst) {
				c.Edges = append(c.Edges, coll.Edge{
					Src: realDst, Dst: realDst,
					SLoc:  coll.Location{Rank: realDst, Kind: coll.UserSend, Offset: p.SendOffset},
					DLoc:  fold,
					Count: p.Count, Library: h.Library(level),
				})
			}
			for _, te := range byDst[realDst] {
				realSrc := te.Dst
				_, alreadyStaged := stagingTag[realSrc]
				if te.DstIsFinal && !alreadyStaged {
					leafFinal[realSrc] = true
				} else if !alreadyStaged {
					_, tag := arenas.For(realSrc).Alloc(p.Count)
					stagingTag[realSrc] = tag
				}
				c.Edges = append(c.Edges, coll.Edge{
					Src: realSrc, Dst: realDst,
					SLoc:  sourceOf(realSrc, leafFinal[realSrc], p.SendOffset),
					DLoc:  fold,
					Count: p.Count, Library: h.Library(level),
				})
				if !leafFinal[realSrc] {
					if tag, ok := stagingTag[realSrc]; ok {
						arenas.For(realSrc).Release(tag)
						delete(stagingTag, realSrc)
					}
				}
			}
			colls = append(colls, c)
		}
	}

	if containsInt(p.SendIDs, p.RecvID) {
		colls = append(colls, &coll.Coll{
			Name:   fmt.Sprintf("%s@reduce/self", p.Name),
			Level:  h.NumLevels() - 1,
			Reduce: true,
			Op:     p.Op,
			Custom: p.Custom,
			Seed:   len(others) == 0,
			FoldLoc: coll.Location{
				Rank: p.RecvID, Kind: coll.UserRecv, Offset: p.RecvOffset,
			},
			Edges: []coll.Edge{{
				Src: p.RecvID, Dst: p.RecvID,
				SLoc: coll.Location{Rank: p.RecvID, Kind: coll.UserSend, Offset: p.SendOffset},
				DLoc: coll.Location{Rank: p.RecvID, Kind: coll.UserRecv, Offset: p.RecvOffset},
				Count: p.Count,
			}},
		})
	}
	return colls, nil
}
