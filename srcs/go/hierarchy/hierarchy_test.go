package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsMismatchedLibraryCount(t *testing.T) {
	_, err := New([]int{8, 4, 1}, []Library{IntraNodeIPC})
	assert.Error(t, err)
}

func TestNewRejectsNonDivisibleGroupSize(t *testing.T) {
	_, err := New([]int{8, 3, 1}, []Library{IntraNodeIPC, IntraNodeIPC})
	assert.Error(t, err)
}

func TestNewRejectsIncreasingGroupSize(t *testing.T) {
	_, err := New([]int{4, 8}, []Library{IntraNodeIPC})
	assert.Error(t, err)
}

func TestNewRejectsNonUnitInnermostGroupSize(t *testing.T) {
	_, err := New([]int{8, 4}, []Library{IntraNodeIPC})
	assert.Error(t, err)
}

func TestNewRejectsEmptyGroupSize(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestGroupAndOrdinalPartitionRanksConsistently(t *testing.T) {
	h, err := New([]int{8, 4, 1}, []Library{IntraNodeIPC, IntraNodeIPC})
	require.NoError(t, err)

	for r := 0; r < 8; r++ {
		g := h.Group(r, 1)
		o := h.Ordinal(r, 1)
		assert.Equal(t, r, g*h.GroupSize(1)+o, "rank %d: group/ordinal must recombine to itself", r)
	}
	assert.Equal(t, 0, h.Group(0, 1))
	assert.Equal(t, 0, h.Group(3, 1))
	assert.Equal(t, 1, h.Group(4, 1))
	assert.Equal(t, 1, h.Group(7, 1))
}

func TestBridgeLandsInTargetGroupAtSenderOrdinal(t *testing.T) {
	h, err := New([]int{8, 4, 1}, []Library{IntraNodeIPC, IntraNodeIPC})
	require.NoError(t, err)

	bridge := h.Bridge(2, 1, 1) // sender rank 2 (ordinal 2 within group 0) bridges to group 1
	assert.Equal(t, 1, h.Group(bridge, 1))
	assert.Equal(t, h.Ordinal(2, 1), h.Ordinal(bridge, 1))
}

func TestLibraryIndexesByHopNotLevel(t *testing.T) {
	h, err := New([]int{8, 4, 1}, []Library{InterNodeMessage, IntraNodeIPC})
	require.NoError(t, err)
	assert.Equal(t, InterNodeMessage, h.Library(1))
	assert.Equal(t, IntraNodeIPC, h.Library(2))
}

func TestValidateRejectsOutOfRangeRank(t *testing.T) {
	h, err := New([]int{4, 1}, []Library{IntraNodeIPC})
	require.NoError(t, err)
	assert.NoError(t, h.Validate(0, 1, 2, 3))
	assert.Error(t, h.Validate(4))
	assert.Error(t, h.Validate(-1))
}
