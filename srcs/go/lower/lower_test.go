package lower

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsds/hccp/srcs/go/backend"
	"github.com/lsds/hccp/srcs/go/buffer"
	"github.com/lsds/hccp/srcs/go/coll"
	"github.com/lsds/hccp/srcs/go/hierarchy"
)

func newImplementer(rank int) (*Implementer, *backend.MockEnv) {
	env := backend.NewMockEnv(buffer.I32)
	factory := &backend.MockFactory{Env: env}
	world := backend.NewMockCluster(1).World(rank)
	return New(factory, env, world), env
}

func TestLowerFusesAdjacentCollsSharingOneLibrary(t *testing.T) {
	im, env := newImplementer(0)
	sendbuf := buffer.New(8, buffer.I32)
	recvbuf := buffer.New(8, buffer.I32)
	env.SetSend(0, sendbuf)
	env.SetRecv(1, recvbuf)

	c1 := &coll.Coll{Name: "a", Edges: []coll.Edge{{
		Src: 0, Dst: 1, Count: 4, Library: hierarchy.IntraNodeIPC,
		SLoc: coll.Location{Rank: 0, Kind: coll.UserSend, Offset: 0},
		DLoc: coll.Location{Rank: 1, Kind: coll.UserRecv, Offset: 0},
	}}}
	c2 := &coll.Coll{Name: "b", Edges: []coll.Edge{{
		Src: 0, Dst: 1, Count: 4, Library: hierarchy.IntraNodeIPC,
		SLoc: coll.Location{Rank: 0, Kind: coll.UserSend, Offset: 4},
		DLoc: coll.Location{Rank: 1, Kind: coll.UserRecv, Offset: 4},
	}}}

	cmds, err := im.Lower([]*coll.Coll{c1, c2})
	require.NoError(t, err)
	require.Len(t, cmds, 1, "both Colls share a library and should fuse into one command")
	assert.Equal(t, CommRun, cmds[0].Action)
	assert.Equal(t, 2, cmds[0].NumSend)
}

func TestLowerDoesNotFuseAcrossDifferentLibraries(t *testing.T) {
	im, env := newImplementer(0)
	sendbuf := buffer.New(8, buffer.I32)
	recvbuf := buffer.New(8, buffer.I32)
	env.SetSend(0, sendbuf)
	env.SetRecv(1, recvbuf)

	c1 := &coll.Coll{Name: "a", Edges: []coll.Edge{{
		Src: 0, Dst: 1, Count: 4, Library: hierarchy.IntraNodeIPC,
		SLoc: coll.Location{Rank: 0, Kind: coll.UserSend, Offset: 0},
		DLoc: coll.Location{Rank: 1, Kind: coll.UserRecv, Offset: 0},
	}}}
	c2 := &coll.Coll{Name: "b", Edges: []coll.Edge{{
		Src: 0, Dst: 1, Count: 4, Library: hierarchy.InterNodeMessage,
		SLoc: coll.Location{Rank: 0, Kind: coll.UserSend, Offset: 4},
		DLoc: coll.Location{Rank: 1, Kind: coll.UserRecv, Offset: 4},
	}}}

	cmds, err := im.Lower([]*coll.Coll{c1, c2})
	require.NoError(t, err)
	assert.Len(t, cmds, 2, "differing libraries must not fuse")
}

func TestLowerSkipsSelfTransferToIdenticalLocation(t *testing.T) {
	im, env := newImplementer(0)
	buf := buffer.New(8, buffer.I32)
	env.SetSend(0, buf)

	loc := coll.Location{Rank: 0, Kind: coll.UserSend, Offset: 0}
	c := &coll.Coll{Name: "self", Edges: []coll.Edge{{Src: 0, Dst: 0, Count: 4, SLoc: loc, DLoc: loc}}}

	cmds, err := im.Lower([]*coll.Coll{c})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, 0, cmds[0].NumSend)
	assert.Equal(t, 0, cmds[0].NumRecv)
}

func TestLowerEmptyCollProducesNoCommand(t *testing.T) {
	im, _ := newImplementer(0)
	cmds, err := im.Lower([]*coll.Coll{{Name: "empty"}})
	require.NoError(t, err)
	assert.Len(t, cmds, 0)
}

func TestLowerReduceFoldsAllInputsAtTheirRank(t *testing.T) {
	im, env := newImplementer(0)
	a := buffer.New(4, buffer.I32)
	b := buffer.New(4, buffer.I32)
	out := buffer.New(4, buffer.I32)
	env.SetSend(1, a)
	env.SetSend(2, b)
	env.SetRecv(0, out)

	fold := coll.Location{Rank: 0, Kind: coll.UserRecv, Offset: 0}
	c := &coll.Coll{
		Name: "reduce", Reduce: true, Op: buffer.SUM, Seed: true,
		Edges: []coll.Edge{
			{Src: 1, Dst: 0, Count: 4, SLoc: coll.Location{Rank: 1, Kind: coll.UserSend, Offset: 0}, DLoc: fold},
			{Src: 2, Dst: 0, Count: 4, SLoc: coll.Location{Rank: 2, Kind: coll.UserSend, Offset: 0}, DLoc: fold},
		},
	}

	cmds, err := im.Lower([]*coll.Coll{c})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, CompRun, cmds[0].Action)
	assert.Equal(t, 1, cmds[0].NumComp)
}

func TestLowerReduceSkipsGroupsNotOwnedByThisRank(t *testing.T) {
	env := backend.NewMockEnv(buffer.I32)
	factory := &backend.MockFactory{Env: env}
	world := backend.NewMockCluster(2).World(1) // rank 1, not the fold's owner (rank 0)
	im := New(factory, env, world)
	a := buffer.New(4, buffer.I32)
	out := buffer.New(4, buffer.I32)
	env.SetSend(1, a)
	env.SetRecv(0, out)

	fold := coll.Location{Rank: 0, Kind: coll.UserRecv, Offset: 0}
	c := &coll.Coll{
		Name: "reduce", Reduce: true, Op: buffer.SUM, Seed: true,
		Edges: []coll.Edge{
			{Src: 1, Dst: 0, Count: 4, SLoc: coll.Location{Rank: 1, Kind: coll.UserSend, Offset: 0}, DLoc: fold},
		},
	}

	cmds, err := im.Lower([]*coll.Coll{c})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, 0, cmds[0].NumComp, "rank 1 drives no fold, only rank 0 owns the fold target")
}
