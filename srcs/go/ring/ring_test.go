package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsds/hccp/srcs/go/buffer"
	"github.com/lsds/hccp/srcs/go/hierarchy"
	"github.com/lsds/hccp/srcs/go/primitive"
	"github.com/lsds/hccp/srcs/go/tree"
)

// TestBroadcastCriticalPathBytesMatchRingShape checks that any one
// leader's total outbound bytes across the ring equal (n-1)/n of the
// whole payload, the bandwidth shape a ring buys over a star's single
// bottleneck link.
func TestBroadcastCriticalPathBytesMatchRingShape(t *testing.T) {
	h, err := hierarchy.New([]int{16, 4, 1}, []hierarchy.Library{hierarchy.IntraNodeIPC, hierarchy.IntraNodeIPC})
	require.NoError(t, err)

	const count = 800
	leaders := []int{0, 1, 2, 3}
	n := len(leaders)

	sendbuf := buffer.New(count, buffer.I32)
	recvbuf := buffer.New(count, buffer.I32)
	p := primitive.NewBroadcast(sendbuf, 0, recvbuf, 0, count, leaders[0], leaders, "ring-bcast")

	arenas := tree.NewArenaSet(buffer.I32)
	colls, err := BuildBroadcast(h, arenas, 1, leaders, p)
	require.NoError(t, err)
	require.Len(t, colls, n+1, "scatter, n-1 ring steps, and a final land")

	bytesFrom := map[int]int{}
	for _, c := range colls {
		if c.Name == "ring-bcast@ring-bcast/scatter" || c.Name == "ring-bcast@ring-bcast/land" {
			continue
		}
		for _, e := range c.Edges {
			bytesFrom[e.Src] += e.Count
		}
	}
	want := (n - 1) * count / n
	for _, leader := range leaders {
		assert.Equal(t, want, bytesFrom[leader], "leader %d critical-path element count", leader)
	}
}

func TestBroadcastRejectsFewerThanThreeLeaders(t *testing.T) {
	h, err := hierarchy.New([]int{4, 1}, []hierarchy.Library{hierarchy.IntraNodeIPC})
	require.NoError(t, err)
	sendbuf := buffer.New(4, buffer.I32)
	recvbuf := buffer.New(4, buffer.I32)
	p := primitive.NewBroadcast(sendbuf, 0, recvbuf, 0, 4, 0, []int{0, 1}, "bcast")
	arenas := tree.NewArenaSet(buffer.I32)
	_, err = BuildBroadcast(h, arenas, 1, []int{0, 1}, p)
	assert.Error(t, err)
}

// TestReduceCriticalPathBytesMatchRingShape checks the reduce-scatter
// dual: every leader's relayed (non-seed, non-local) contribution across
// the ring sums to the same (n-1)/n shape.
func TestReduceCriticalPathBytesMatchRingShape(t *testing.T) {
	h, err := hierarchy.New([]int{16, 4, 1}, []hierarchy.Library{hierarchy.IntraNodeIPC, hierarchy.IntraNodeIPC})
	require.NoError(t, err)

	const count = 800
	leaders := []int{0, 1, 2, 3}
	n := len(leaders)

	sendbuf := buffer.New(count, buffer.F32)
	recvbuf := buffer.New(count, buffer.F32)
	p := primitive.NewReduce(sendbuf, 0, recvbuf, 0, count, leaders, leaders[0], buffer.SUM, "ring-reduce")

	arenas := tree.NewArenaSet(buffer.F32)
	colls, err := BuildReduce(h, arenas, 1, leaders, p)
	require.NoError(t, err)
	require.Len(t, colls, n+1, "one seed coll, n-1 ring steps, one gather")

	relayed := map[int]int{}
	for _, c := range colls {
		if c.Name == "ring-reduce@ring-reduce/seed" || c.Name == "ring-reduce@ring-reduce/gather" {
			continue
		}
		for _, e := range c.Edges {
			if e.Src == e.Dst {
				continue // a step's local raw contribution, not a ring hop
			}
			relayed[e.Src] += e.Count
		}
	}
	want := (n - 1) * count / n
	for _, leader := range leaders {
		assert.Equal(t, want, relayed[leader], "leader %d relayed element count", leader)
	}
}
