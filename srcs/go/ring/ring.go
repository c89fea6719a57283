// Package ring builds a cyclic inter-group topology for a top-level
// broadcast or reduce among a set of group leaders, trading the star's
// single bottleneck link for ringnodes-1 chunked steps that keep every
// leader's outbound link busy at once.
package ring

import (
	"fmt"

	"github.com/lsds/hccp/srcs/go/coll"
	"github.com/lsds/hccp/srcs/go/hierarchy"
	"github.com/lsds/hccp/srcs/go/primitive"
)

// chunkOffsets splits count into n chunks the same way partition.Stripes
// does (last chunk absorbs the remainder), returned as (offset, length)
// pairs indexed by chunk id.
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

// BuildBroadcast scatters p's buffer one chunk per leader, all-gathers
// those chunks around the ring, then lands every leader's now-complete
// set of chunks in its own UserRecv. The scatter seeds leader i with
// chunk i (a direct edge from the sender, even when the sender is itself
// one of the leaders, so the all-gather below never has to special-case
// "already local"); at ring step k every leader forwards chunk (i-k) mod
// n to (i+1) mod n and receives chunk (i-k-1) mod n from (i-1) mod n, so
// every leader ends with every chunk after n-1 steps; the final landing
// copies each of those n chunks into the leader's receive buffer.
func BuildBroadcast(h *hierarchy.Hierarchy, arenas interface {
	For(int) *coll.Arena
}, level int, leaders []int, p primitive.Primitive) ([]*coll.Coll, error) {
	if p.Kind != primitive.Broadcast {
		return nil, fmt.Errorf("ring: BuildBroadcast given a %s primitive", p.Kind)
	}
	n := len(leaders)
	if n < 3 {
		return nil, fmt.Errorf("ring: need at least 3 leaders, got %d", n)
	}
	chunks := chunkOffsets(p.Count, n)

	tags := make(map[int]map[int]int) // leader -> chunk id -> staging tag
	for _, r := range leaders {
		tags[r] = map[int]int{}
	}
	own := func(rank, chunkID int) coll.Location {
		tag, ok := tags[rank][chunkID]
		if !ok {
			_, tag = arenas.For(rank).Alloc(chunks[chunkID][1])
			tags[rank][chunkID] = tag
		}
		return coll.Location{Rank: rank, Kind: coll.Staging, Tag: tag, Offset: 0}
	}

	scatter := &coll.Coll{Name: fmt.Sprintf("%s@ring-bcast/scatter", p.Name), Level: level}
	for i, r := range leaders {
		scatter.Edges = append(scatter.Edges, coll.Edge{
			Src: p.SendID, Dst: r,
			SLoc:  coll.Location{Rank: p.SendID, Kind: coll.UserSend, Offset: p.SendOffset + chunks[i][0]},
			DLoc:  own(r, i),
			Count: chunks[i][1], Library: h.Library(level),
		})
	}
	colls := []*coll.Coll{scatter}

	for k := 0; k < n-1; k++ {
		c := &coll.Coll{Name: fmt.Sprintf("%s@ring-bcast/step%d", p.Name, k), Level: level}
		for i, from := range leaders {
			to := leaders[(i+1)%n]
			chunkID := mod(i-k, n)
			dloc := own(to, chunkID)
			c.Edges = append(c.Edges, coll.Edge{
				Src: from, Dst: to,
				SLoc: own(from, chunkID), DLoc: dloc,
				Count: chunks[chunkID][1], Library: h.Library(level),
			})
		}
		colls = append(colls, c)
	}

	land := &coll.Coll{Name: fmt.Sprintf("%s@ring-bcast/land", p.Name), Level: level}
	for _, r := range leaders {
		for c := 0; c < n; c++ {
			land.Edges = append(land.Edges, coll.Edge{
				Src: r, Dst: r,
				SLoc:  own(r, c),
				DLoc:  coll.Location{Rank: r, Kind: coll.UserRecv, Offset: p.RecvOffset + chunks[c][0]},
				Count: chunks[c][1],
			})
		}
	}
	colls = append(colls, land)

	for _, r := range leaders {
		for _, tag := range tags[r] {
			arenas.For(r).Release(tag)
		}
	}
	return colls, nil
}

// BuildReduce issues the reduce-scatter half of a ring, then gathers the
// n fully-reduced chunks into p.RecvID: at step k, leader i forwards its
// running partial sum for chunk (i-k) mod n to (i+1) mod n, which folds
// it with Op into its own contribution for that chunk. After n-1 steps,
// leader (i+1) mod n holds the complete reduction of chunk (i-k) mod n
// for the final k — equivalently, chunk c's home position c ends up
// fully reduced at position (c-1) mod n, which the final gather reads
// from directly.
func BuildReduce(h *hierarchy.Hierarchy, arenas interface {
	For(int) *coll.Arena
}, level int, leaders []int, p primitive.Primitive) ([]*coll.Coll, error) {
	if p.Kind != primitive.Reduce {
		return nil, fmt.Errorf("ring: BuildReduce given a %s primitive", p.Kind)
	}
	n := len(leaders)
	if n < 3 {
		return nil, fmt.Errorf("ring: need at least 3 leaders, got %d", n)
	}
	chunks := chunkOffsets(p.Count, n)

	tags := make(map[int]map[int]int)
	for _, r := range leaders {
		tags[r] = map[int]int{}
	}
	own := func(rank, chunkID int) coll.Location {
		tag, ok := tags[rank][chunkID]
		if !ok {
			_, tag = arenas.For(rank).Alloc(chunks[chunkID][1])
			tags[rank][chunkID] = tag
		}
		return coll.Location{Rank: rank, Kind: coll.Staging, Tag: tag, Offset: 0}
	}

	// Seed every leader's home chunk (chunk index == its position in
	// leaders) with its own contribution before the ring starts turning;
	// a fold's first contribution into any Location is a copy, so this
	// seed and every later ring hop into the same Location compose into
	// one correct n-way accumulation per chunk.
	seed := &coll.Coll{Name: fmt.Sprintf("%s@ring-reduce/seed", p.Name), Level: level, Reduce: true, Op: p.Op, Custom: p.Custom, Seed: true}
	for i, r := range leaders {
		seed.Edges = append(seed.Edges, coll.Edge{
			Src: r, Dst: r,
			SLoc:  coll.Location{Rank: r, Kind: coll.UserSend, Offset: p.SendOffset + chunks[i][0]},
			DLoc:  own(r, i),
			Count: chunks[i][1],
		})
	}
	colls := []*coll.Coll{seed}

	for k := 0; k < n-1; k++ {
		c := &coll.Coll{
			Name: fmt.Sprintf("%s@ring-reduce/step%d", p.Name, k), Level: level,
			Reduce: true, Op: p.Op, Custom: p.Custom, Seed: true,
		}
		for i, from := range leaders {
			to := leaders[(i+1)%n]
			chunkID := mod(i-k, n)
			target := own(to, chunkID)
			// The relayed running sum for chunkID, plus to's own raw
			// contribution for that same chunk — this is the one and
			// only time to ever sees chunkID, so both must land here.
			c.Edges = append(c.Edges,
				coll.Edge{
					Src: from, Dst: to,
					SLoc: own(from, chunkID), DLoc: target,
					Count: chunks[chunkID][1], Library: h.Library(level),
				},
				coll.Edge{
					Src: to, Dst: to,
					SLoc:  coll.Location{Rank: to, Kind: coll.UserSend, Offset: p.SendOffset + chunks[chunkID][0]},
					DLoc:  target,
					Count: chunks[chunkID][1],
				},
			)
		}
		colls = append(colls, c)
	}

	// Chunk c is homed at position c and relayed c+k -> c+k+1 at step k
	// (k=0..n-2), so after the last step it rests fully reduced at
	// position (c+n-1) mod n = (c-1) mod n; gather each chunk from there
	// straight into the root's receive buffer.
	gather := &coll.Coll{Name: fmt.Sprintf("%s@ring-reduce/gather", p.Name), Level: level}
	for c := 0; c < n; c++ {
		from := leaders[mod(c-1, n)]
		gather.Edges = append(gather.Edges, coll.Edge{
			Src: from, Dst: p.RecvID,
			SLoc:  own(from, c),
			DLoc:  coll.Location{Rank: p.RecvID, Kind: coll.UserRecv, Offset: p.RecvOffset + chunks[c][0]},
			Count: chunks[c][1], Library: h.Library(level),
		})
	}
	colls = append(colls, gather)

	for _, r := range leaders {
		for _, tag := range tags[r] {
			arenas.For(r).Release(tag)
		}
	}
	return colls, nil
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
