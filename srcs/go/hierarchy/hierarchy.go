// Package hierarchy models the fixed, ordered participant set and the
// arbitrary L-level grouping imposed on it: a decreasing groupsize
// sequence with a transport Library tag chosen for each hop between
// adjacent levels.
package hierarchy

import "fmt"

// Library identifies a back-end transport tag selected per level.
type Library int

const (
	IntraNodeIPC Library = iota
	InterNodeMessage
	VendorCollective
	HostStaging
)

var libNames = map[Library]string{
	IntraNodeIPC:     "intra",
	InterNodeMessage: "inter",
	VendorCollective: "vendor",
	HostStaging:      "host-staging",
}

func (l Library) String() string { return libNames[l] }

// Hierarchy is a fixed, ordered rank set 0..P-1 partitioned by a decreasing
// groupsize sequence groupsize[0]=P >= groupsize[1] >= ... >= groupsize[L-1]=1,
// with a Library tag chosen for the hop between level l-1 and level l.
type Hierarchy struct {
	P         int
	groupsize []int
	lib       []Library
}

// New validates and constructs a Hierarchy. It only checks internal
// consistency of groupsize/lib; whether groupsize[0] matches the actual
// participant count is the caller's concern, checked against a
// diagnostic context at init time.
func New(groupsize []int, lib []Library) (*Hierarchy, error) {
	if len(groupsize) == 0 {
		return nil, fmt.Errorf("hierarchy: empty groupsize")
	}
	if len(lib) != len(groupsize)-1 {
		return nil, fmt.Errorf("hierarchy: expected %d library tags for %d levels, got %d", len(groupsize)-1, len(groupsize), len(lib))
	}
	for i := 1; i < len(groupsize); i++ {
		if groupsize[i] <= 0 {
			return nil, fmt.Errorf("hierarchy: groupsize[%d]=%d must be positive", i, groupsize[i])
		}
		if groupsize[i-1] < groupsize[i] {
			return nil, fmt.Errorf("hierarchy: groupsize must be non-increasing, groupsize[%d]=%d < groupsize[%d]=%d", i-1, groupsize[i-1], i, groupsize[i])
		}
		if groupsize[i-1]%groupsize[i] != 0 {
			return nil, fmt.Errorf("hierarchy: groupsize[%d]=%d does not evenly divide groupsize[%d]=%d", i, groupsize[i], i-1, groupsize[i-1])
		}
	}
	if last := groupsize[len(groupsize)-1]; last != 1 {
		return nil, fmt.Errorf("hierarchy: innermost groupsize must be 1, got %d", last)
	}
	gs := append([]int(nil), groupsize...)
	ls := append([]Library(nil), lib...)
	return &Hierarchy{P: groupsize[0], groupsize: gs, lib: ls}, nil
}

// NumLevels returns L, the number of entries in groupsize.
func (h *Hierarchy) NumLevels() int { return len(h.groupsize) }

// GroupSize returns groupsize[level].
func (h *Hierarchy) GroupSize(level int) int { return h.groupsize[level] }

// Library returns the back-end tag for the hop from level-1 to level
// (1 <= level < NumLevels).
func (h *Hierarchy) Library(level int) Library { return h.lib[level-1] }

// Group returns the index of the group rank r belongs to at level.
func (h *Hierarchy) Group(r, level int) int {
	return r / h.groupsize[level]
}

// InGroup reports whether a and b share a group at level.
func (h *Hierarchy) InGroup(a, b, level int) bool {
	return h.Group(a, level) == h.Group(b, level)
}

// GroupMembers returns every rank sharing r's group at level.
func (h *Hierarchy) GroupMembers(r, level int) []int {
	sz := h.groupsize[level]
	base := (r / sz) * sz
	members := make([]int, sz)
	for i := range members {
		members[i] = base + i
	}
	return members
}

// Ordinal returns r's position within its own group at level (0..groupsize[level)-1]).
func (h *Hierarchy) Ordinal(r, level int) int {
	return r % h.groupsize[level]
}

// Bridge elects the receiving rank in foreign group g that a sender's edge
// at level l lands on: recvid = g*groupsize[l] + (sendid mod groupsize[l]).
// The sender's in-group ordinal is preserved across groups so parallel
// bridges never collide on one physical link.
func (h *Hierarchy) Bridge(sendid, g, level int) int {
	return g*h.groupsize[level] + h.Ordinal(sendid, level)
}

// Validate checks that every rank in ranks lies in [0, P).
func (h *Hierarchy) Validate(ranks ...int) error {
	for _, r := range ranks {
		if r < 0 || r >= h.P {
			return fmt.Errorf("hierarchy: rank %d out of range [0,%d)", r, h.P)
		}
	}
	return nil
}
