package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsds/hccp/srcs/go/buffer"
	"github.com/lsds/hccp/srcs/go/hierarchy"
	"github.com/lsds/hccp/srcs/go/primitive"
)

func TestBroadcastOutermostEdgeCountMatchesTouchedGroups(t *testing.T) {
	// Hierarchy {8,4,1}: two groups of 4 at level 1, {0..3} and {4..7}.
	h, err := hierarchy.New([]int{8, 4, 1}, []hierarchy.Library{hierarchy.IntraNodeIPC, hierarchy.IntraNodeIPC})
	require.NoError(t, err)

	sendbuf := buffer.New(16, buffer.F32)
	recvbuf := buffer.New(16, buffer.F32)
	all := []int{0, 1, 2, 3, 4, 5, 6, 7}
	p := primitive.NewBroadcast(sendbuf, 0, recvbuf, 0, 16, 0, all, "bcast")

	arenas := NewArenaSet(buffer.F32)
	colls, err := BuildBroadcast(h, arenas, 1, p)
	require.NoError(t, err)

	outer := 0
	for _, c := range colls {
		if c.Level != 1 {
			continue
		}
		outer += len(c.Edges)
	}
	// Receivers touch both groups (0 and 1); the sender's own group needs
	// no bridge edge, leaving exactly one: rank 0 to rank 4.
	assert.Equal(t, 1, outer)
}

func TestBroadcastOutermostEdgeCountGrowsWithGroupsTouched(t *testing.T) {
	// Hierarchy {16,4,1}: four groups of 4 at level 1.
	h, err := hierarchy.New([]int{16, 4, 1}, []hierarchy.Library{hierarchy.IntraNodeIPC, hierarchy.IntraNodeIPC})
	require.NoError(t, err)

	sendbuf := buffer.New(8, buffer.I32)
	recvbuf := buffer.New(8, buffer.I32)
	// Receivers land in all four groups (0,4,8,12 are each group's first rank).
	recvids := []int{0, 4, 8, 12}
	p := primitive.NewBroadcast(sendbuf, 0, recvbuf, 0, 8, 0, recvids, "bcast")

	arenas := NewArenaSet(buffer.I32)
	colls, err := BuildBroadcast(h, arenas, 1, p)
	require.NoError(t, err)

	outer := 0
	for _, c := range colls {
		if c.Level == 1 {
			outer += len(c.Edges)
		}
	}
	// Four groups touched, sender's own group counts once without an
	// edge, leaving three bridge edges.
	assert.Equal(t, 3, outer)
}

func TestBroadcastSelfCopyWhenSenderIsAlsoReceiver(t *testing.T) {
	h, err := hierarchy.New([]int{4, 1}, []hierarchy.Library{hierarchy.IntraNodeIPC})
	require.NoError(t, err)

	sendbuf := buffer.New(4, buffer.I32)
	recvbuf := buffer.New(4, buffer.I32)
	p := primitive.NewBroadcast(sendbuf, 0, recvbuf, 0, 4, 0, []int{0, 1, 2, 3}, "bcast")

	arenas := NewArenaSet(buffer.I32)
	colls, err := BuildBroadcast(h, arenas, 1, p)
	require.NoError(t, err)

	foundSelf := false
	for _, c := range colls {
		if len(c.Edges) == 1 && c.Edges[0].Src == 0 && c.Edges[0].Dst == 0 {
			foundSelf = true
		}
	}
	assert.True(t, foundSelf, "expected a self-copy Coll for sender rank 0")
}

func TestReduceMirrorsBroadcastEdgeCount(t *testing.T) {
	h, err := hierarchy.New([]int{8, 4, 1}, []hierarchy.Library{hierarchy.IntraNodeIPC, hierarchy.IntraNodeIPC})
	require.NoError(t, err)

	sendbuf := buffer.New(4, buffer.F64)
	recvbuf := buffer.New(4, buffer.F64)
	all := []int{0, 1, 2, 3, 4, 5, 6, 7}
	p := primitive.NewReduce(sendbuf, 0, recvbuf, 0, 4, all, 0, buffer.SUM, "reduce")

	arenas := NewArenaSet(buffer.F64)
	colls, err := BuildReduce(h, arenas, 1, p)
	require.NoError(t, err)

	outer := 0
	for _, c := range colls {
		if c.Level == 1 {
			outer += len(c.Edges)
		}
	}
	assert.Equal(t, 1, outer)
}

func TestArenaSetTotalLiveReflectsUnreleasedAllocations(t *testing.T) {
	arenas := NewArenaSet(buffer.I32)
	assert.Equal(t, 0, arenas.TotalLive())

	_, tag0 := arenas.For(0).Alloc(8)
	_, _ = arenas.For(1).Alloc(8)
	assert.Equal(t, 2, arenas.TotalLive())

	arenas.For(0).Release(tag0)
	assert.Equal(t, 1, arenas.TotalLive())
}

func TestReduceLeavesNoLiveStagingOnceFinalFoldLands(t *testing.T) {
	// A full reduce builds and releases every non-leaf staging allocation
	// as it folds upward; once BuildReduce returns, nothing should remain
	// live (the final fold writes straight into the root's UserRecv).
	h, err := hierarchy.New([]int{8, 4, 1}, []hierarchy.Library{hierarchy.IntraNodeIPC, hierarchy.IntraNodeIPC})
	require.NoError(t, err)

	sendbuf := buffer.New(4, buffer.I32)
	recvbuf := buffer.New(4, buffer.I32)
	all := []int{0, 1, 2, 3, 4, 5, 6, 7}
	p := primitive.NewReduce(sendbuf, 0, recvbuf, 0, 4, all, 0, buffer.SUM, "reduce")

	arenas := NewArenaSet(buffer.I32)
	_, err = BuildReduce(h, arenas, 1, p)
	require.NoError(t, err)
	assert.Equal(t, 0, arenas.TotalLive())
}

func TestTrivialHierarchySingleRankProducesNoCrossRankEdges(t *testing.T) {
	h, err := hierarchy.New([]int{1}, nil)
	require.NoError(t, err)

	sendbuf := buffer.New(4, buffer.I32)
	recvbuf := buffer.New(4, buffer.I32)
	p := primitive.NewBroadcast(sendbuf, 0, recvbuf, 0, 4, 0, []int{0}, "bcast")

	arenas := NewArenaSet(buffer.I32)
	colls, err := BuildBroadcast(h, arenas, 1, p)
	require.NoError(t, err)

	for _, c := range colls {
		for _, e := range c.Edges {
			assert.Equal(t, e.Src, e.Dst)
		}
	}
}
