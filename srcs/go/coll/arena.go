package coll

import (
	"container/heap"

	"github.com/lsds/hccp/srcs/go/buffer"
)

// Arena hands out staging buffers for one batch's worth of lowering and
// takes them back with Release, reusing a freed buffer for the next
// allocation of equal or smaller size instead of growing forever. The tree
// reduce and ring builders call Release once the last edge reading a
// staging buffer has been emitted; the tree broadcast and stripe builders
// do not release. Every Alloc returns a fresh tag, and lowering resolves
// staging through backend.Env by (rank, tag).
type Arena struct {
	dtype   buffer.DataType
	free    freeList
	nextTag int
	live    map[int]*slot
}

type slot struct {
	tag int
	buf *buffer.Buffer
}

// freeList orders idle slots by ascending byte capacity so Alloc can
// best-fit instead of always taking the largest free buffer.
type freeList []*slot

func (q freeList) Len() int            { return len(q) }
func (q freeList) Less(i, j int) bool  { return len(q[i].buf.Data) < len(q[j].buf.Data) }
func (q freeList) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *freeList) Push(x interface{}) { *q = append(*q, x.(*slot)) }
func (q *freeList) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func NewArena(dtype buffer.DataType) *Arena {
	a := &Arena{dtype: dtype, live: map[int]*slot{}}
	heap.Init(&a.free)
	return a
}

// Alloc returns a staging Buffer of count elements and a tag to Release it
// with. It reuses the smallest idle slot that already fits count elements,
// reslicing it to count elements, or allocates fresh if none fit.
func (a *Arena) Alloc(count int) (*buffer.Buffer, int) {
	need := count * a.dtype.Size()
	var reused *slot
	var rest freeList
	for a.free.Len() > 0 {
		s := heap.Pop(&a.free).(*slot)
		if len(s.buf.Data) >= need {
			reused = s
			break
		}
		rest = append(rest, s)
	}
	for _, s := range rest {
		heap.Push(&a.free, s)
	}
	a.nextTag++
	tag := a.nextTag
	if reused != nil {
		reused.buf.Count = count
		reused.buf.Data = reused.buf.Data[:need]
		reused.tag = tag
		a.live[tag] = reused
		return reused.buf, tag
	}
	buf := buffer.New(count, a.dtype)
	s := &slot{tag: tag, buf: buf}
	a.live[tag] = s
	return buf, tag
}

// Release returns tag's buffer to the free list for reuse by a later
// Alloc within the same batch.
func (a *Arena) Release(tag int) {
	s, ok := a.live[tag]
	if !ok {
		return
	}
	delete(a.live, tag)
	heap.Push(&a.free, s)
}

// Outstanding reports how many allocations are currently unreleased,
// used by tests to assert a builder released every staging buffer it
// allocated.
func (a *Arena) Outstanding() int { return len(a.live) }
