// Package stripe rewrites a broadcast or reduce whose sender and some
// receiver live in different top-level groups into nodesize parallel
// inter-group wires instead of one long link: split the payload across
// the sender's group, fan the chunks out to their counterparts in every
// receiving group, then reassemble locally in each receiving group.
package stripe

import (
	"fmt"
	"sort"

	"github.com/lsds/hccp/srcs/go/coll"
	"github.com/lsds/hccp/srcs/go/hierarchy"
	"github.com/lsds/hccp/srcs/go/primitive"
	"github.com/lsds/hccp/srcs/go/tree"
)

func chunkOffsets(count, n int) [][2]int {
	s := count / n
	out := make([][2]int, n)
	off := 0
	for i := 0; i < n; i++ {
		l := s
		if i == n-1 {
			l = count - off
		}
		out[i] = [2]int{off, l}
		off += l
	}
	return out
}

func groupsOf(h *hierarchy.Hierarchy, ranks []int, level int) []int {
	seen := map[int]bool{}
	var gs []int
	for _, r := range ranks {
		g := h.Group(r, level)
		if !seen[g] {
			seen[g] = true
			gs = append(gs, g)
		}
	}
	sort.Ints(gs)
	return gs
}

// Applies reports whether a broadcast is inter-group at level: the sender
// and at least one receiver disagree on group membership.
func Applies(h *hierarchy.Hierarchy, level int, sender int, others []int) bool {
	g0 := h.Group(sender, level)
	for _, r := range others {
		if h.Group(r, level) != g0 {
			return true
		}
	}
	return false
}

// BuildBroadcast implements the split/inter-group/merge algorithm for one
// inter-group broadcast at level. nodesize is groupsize[level].
func BuildBroadcast(h *hierarchy.Hierarchy, arenas *tree.ArenaSet, level int, p primitive.Primitive) ([]*coll.Coll, error) {
	if p.Kind != primitive.Broadcast {
		return nil, fmt.Errorf("stripe: BuildBroadcast given a %s primitive", p.Kind)
	}
	nodesize := h.GroupSize(level)
	senderGroup := h.Group(p.SendID, level)
	chunks := chunkOffsets(p.Count, nodesize)
	recvGroups := groupsOf(h, p.RecvIDs, level)
	intraLib := h.Library(level)
	if level+1 < h.NumLevels() {
		intraLib = h.Library(level + 1)
	}

	var colls []*coll.Coll

	// Split phase: sendid hands chunk q to peer q in its own group.
	split := &coll.Coll{Name: fmt.Sprintf("%s@stripe/split", p.Name), Level: level}
	peerChunk := make(map[int]coll.Location, nodesize) // in-sender-group ordinal -> location holding that chunk
	senderOrdinal := h.Ordinal(p.SendID, level)
	peerChunk[senderOrdinal] = coll.Location{Rank: p.SendID, Kind: coll.UserSend, Offset: p.SendOffset + chunks[senderOrdinal][0]}
	for q := 0; q < nodesize; q++ {
		if q == senderOrdinal {
			continue
		}
		peer := senderGroup*nodesize + q
		_, tag := arenas.For(peer).Alloc(chunks[q][1])
		loc := coll.Location{Rank: peer, Kind: coll.Staging, Tag: tag, Offset: 0}
		peerChunk[q] = loc
		split.Edges = append(split.Edges, coll.Edge{
			Src: p.SendID, Dst: peer,
			SLoc: coll.Location{Rank: p.SendID, Kind: coll.UserSend, Offset: p.SendOffset + chunks[q][0]},
			DLoc: loc, Count: chunks[q][1], Library: intraLib,
		})
	}
	if len(split.Edges) > 0 {
		colls = append(colls, split)
	}

	// Inter-group phase: peer q in the sender's group forwards chunk q to
	// its counterpart in every receiving group.
	inter := &coll.Coll{Name: fmt.Sprintf("%s@stripe/inter", p.Name), Level: level}
	groupChunk := map[int]map[int]coll.Location{} // group -> ordinal -> location
	for _, g := range recvGroups {
		if g == senderGroup {
			continue
		}
		groupChunk[g] = map[int]coll.Location{}
		for q := 0; q < nodesize; q++ {
			counterpart := g*nodesize + q
			_, tag := arenas.For(counterpart).Alloc(chunks[q][1])
			loc := coll.Location{Rank: counterpart, Kind: coll.Staging, Tag: tag, Offset: 0}
			groupChunk[g][q] = loc
			inter.Edges = append(inter.Edges, coll.Edge{
				Src: senderGroup*nodesize + q, Dst: counterpart,
				SLoc: peerChunk[q], DLoc: loc, Count: chunks[q][1], Library: h.Library(level),
			})
		}
	}
	if len(inter.Edges) > 0 {
		colls = append(colls, inter)
	}

	// Merge phase: every receiver group reassembles the full buffer by
	// gathering every chunk from whichever member holds it, including the
	// sender's own group if it also has receivers.
	groupChunk[senderGroup] = peerChunk
	merge := &coll.Coll{Name: fmt.Sprintf("%s@stripe/merge", p.Name), Level: level}
	for _, g := range recvGroups {
		chunkAt := groupChunk[g]
		for _, r := range p.RecvIDs {
			if h.Group(r, level) != g {
				continue
			}
			for q := 0; q < nodesize; q++ {
				holder := chunkAt[q]
				merge.Edges = append(merge.Edges, coll.Edge{
					Src: holder.Rank, Dst: r,
					SLoc: holder,
					DLoc: coll.Location{Rank: r, Kind: coll.UserRecv, Offset: p.RecvOffset + chunks[q][0]},
					Count: chunks[q][1], Library: intraLib,
				})
			}
		}
	}
	if len(merge.Edges) > 0 {
		colls = append(colls, merge)
	}
	return colls, nil
}

// BuildReduce implements the reduce dual: split (scatter local chunks to
// group peers, folding per chunk), inter-group forward with a per-chunk
// fold at the receiving group's peer of the same ordinal, then a plain
// copy of each fully reduced chunk into recvid's recvbuf at that chunk's
// own offset, rather than a full all-reduce inside the group.
func BuildReduce(h *hierarchy.Hierarchy, arenas *tree.ArenaSet, level int, p primitive.Primitive) ([]*coll.Coll, error) {
	if p.Kind != primitive.Reduce {
		return nil, fmt.Errorf("stripe: BuildReduce given a %s primitive", p.Kind)
	}
	nodesize := h.GroupSize(level)
	recvGroup := h.Group(p.RecvID, level)
	chunks := chunkOffsets(p.Count, nodesize)
	sendGroups := groupsOf(h, p.SendIDs, level)
	intraLib := h.Library(level)
	if level+1 < h.NumLevels() {
		intraLib = h.Library(level + 1)
	}

	var colls []*coll.Coll

	// Each contributor scatters its own buffer into nodesize chunks
	// addressed to its own group peers, one chunk per peer ordinal,
	// folding contributions from the same group into one partial per
	// chunk before the inter-group hop.
	scatterFold := map[int]map[int]coll.Location{} // group -> ordinal -> partial location
	scatter := &coll.Coll{Name: fmt.Sprintf("%s@stripe/scatter", p.Name), Level: level, Reduce: true, Op: p.Op, Custom: p.Custom, Seed: true}
	for _, g := range sendGroups {
		scatterFold[g] = map[int]coll.Location{}
		for q := 0; q < nodesize; q++ {
			peer := g*nodesize + q
			_, tag := arenas.For(peer).Alloc(chunks[q][1])
			scatterFold[g][q] = coll.Location{Rank: peer, Kind: coll.Staging, Tag: tag, Offset: 0}
		}
	}
	for _, s := range p.SendIDs {
		g := h.Group(s, level)
		for q := 0; q < nodesize; q++ {
			peer := g*nodesize + q
			scatter.Edges = append(scatter.Edges, coll.Edge{
				Src: s, Dst: peer,
				SLoc:  coll.Location{Rank: s, Kind: coll.UserSend, Offset: p.SendOffset + chunks[q][0]},
				DLoc:  scatterFold[g][q],
				Count: chunks[q][1], Library: intraLib,
			})
		}
	}
	if len(scatter.Edges) > 0 {
		colls = append(colls, scatter)
	}

	// Inter-group: each group's ordinal-q peer forwards its partial for
	// chunk q to the receiving group's ordinal-q peer, which folds every
	// incoming group's partial together.
	interFold := map[int]coll.Location{}
	inter := &coll.Coll{Name: fmt.Sprintf("%s@stripe/inter", p.Name), Level: level, Reduce: true, Op: p.Op, Custom: p.Custom, Seed: true}
	for q := 0; q < nodesize; q++ {
		leader := recvGroup*nodesize + q
		_, tag := arenas.For(leader).Alloc(chunks[q][1])
		interFold[q] = coll.Location{Rank: leader, Kind: coll.Staging, Tag: tag, Offset: 0}
	}
	for _, g := range sendGroups {
		if g == recvGroup {
			continue
		}
		for q := 0; q < nodesize; q++ {
			inter.Edges = append(inter.Edges, coll.Edge{
				Src: g*nodesize + q, Dst: recvGroup*nodesize + q,
				SLoc: scatterFold[g][q], DLoc: interFold[q],
				Count: chunks[q][1], Library: h.Library(level),
			})
		}
	}
	if own, ok := scatterFold[recvGroup]; ok {
		for q := 0; q < nodesize; q++ {
			inter.Edges = append(inter.Edges, coll.Edge{
				Src: recvGroup*nodesize + q, Dst: recvGroup*nodesize + q,
				SLoc: own[q], DLoc: interFold[q], Count: chunks[q][1],
			})
		}
	}
	if len(inter.Edges) > 0 {
		colls = append(colls, inter)
	}

	// Final delivery: each chunk is already fully reduced at its own
	// leader after the inter-group fold, so gathering it into the
	// destination's recvbuf is a plain copy at that chunk's own offset —
	// distinct chunks must never be folded into one another.
	final := &coll.Coll{Name: fmt.Sprintf("%s@stripe/final", p.Name), Level: level}
	for q := 0; q < nodesize; q++ {
		leader := recvGroup*nodesize + q
		final.Edges = append(final.Edges, coll.Edge{
			Src: leader, Dst: p.RecvID,
			SLoc:  interFold[q],
			DLoc:  coll.Location{Rank: p.RecvID, Kind: coll.UserRecv, Offset: p.RecvOffset + chunks[q][0]},
			Count: chunks[q][1], Library: intraLib,
		})
	}
	colls = append(colls, final)
	return colls, nil
}
