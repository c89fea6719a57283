// Package primitive holds the immutable descriptors a caller adds to a Comm
// before init: BROADCAST and REDUCE, plus the Epoch/fence bookkeeping that
// groups them. Each primitive carries its own endpoint sets (recvids for a
// broadcast, sendids for a reduce) rather than a single shared peer graph.
package primitive

import (
	"fmt"

	"github.com/lsds/hccp/srcs/go/buffer"
)

// Kind distinguishes a BROADCAST from a REDUCE primitive.
type Kind int

const (
	Broadcast Kind = iota
	Reduce
)

func (k Kind) String() string {
	if k == Broadcast {
		return "BROADCAST"
	}
	return "REDUCE"
}

// Primitive is one user-declared point-to-point transfer, immutable once
// added to an Epoch. For a BROADCAST, SendID is the sole sender and
// RecvIDs the receiver set; for a REDUCE, SendIDs are the contributors and
// RecvID the sole accumulator.
type Primitive struct {
	Kind Kind

	SendBuf *buffer.Buffer
	RecvBuf *buffer.Buffer

	SendOffset int
	RecvOffset int
	Count      int

	SendID  int // BROADCAST only
	RecvIDs []int // BROADCAST only

	SendIDs []int // REDUCE only
	RecvID  int   // REDUCE only

	Op     buffer.Op
	Custom buffer.CustomFunc // set only when Op == buffer.Custom
	Name   string
}

// NewBroadcast constructs a BROADCAST primitive. count and the two offsets
// are in elements of sendbuf.Type (== recvbuf.Type).
func NewBroadcast(sendbuf *buffer.Buffer, sendoffset int, recvbuf *buffer.Buffer, recvoffset, count, sendid int, recvids []int, name string) Primitive {
	return Primitive{
		Kind:       Broadcast,
		SendBuf:    sendbuf,
		RecvBuf:    recvbuf,
		SendOffset: sendoffset,
		RecvOffset: recvoffset,
		Count:      count,
		SendID:     sendid,
		RecvIDs:    append([]int(nil), recvids...),
		Name:       name,
	}
}

// NewReduce constructs a REDUCE primitive with the given associative Op.
func NewReduce(sendbuf *buffer.Buffer, sendoffset int, recvbuf *buffer.Buffer, recvoffset, count int, sendids []int, recvid int, op buffer.Op, name string) Primitive {
	return Primitive{
		Kind:       Reduce,
		SendBuf:    sendbuf,
		RecvBuf:    recvbuf,
		SendOffset: sendoffset,
		RecvOffset: recvoffset,
		Count:      count,
		SendIDs:    append([]int(nil), sendids...),
		RecvID:     recvid,
		Op:         op,
		Name:       name,
	}
}

// WithCustom attaches a CustomFunc to a REDUCE primitive built with
// Op: buffer.Custom; the zero value panics inside buffer.Transform if
// invoked without one.
func (p Primitive) WithCustom(fn buffer.CustomFunc) Primitive {
	p.Custom = fn
	return p
}

// Endpoints returns every rank referenced by the primitive.
func (p Primitive) Endpoints() []int {
	if p.Kind == Broadcast {
		return append([]int{p.SendID}, p.RecvIDs...)
	}
	return append(append([]int{}, p.SendIDs...), p.RecvID)
}

// Validate checks the primitive is well-formed independent of any
// hierarchy (non-negative count/offsets, non-empty endpoint sets).
func (p Primitive) Validate() error {
	if p.Count < 0 {
		return fmt.Errorf("primitive %q: negative count %d", p.Name, p.Count)
	}
	if p.SendOffset < 0 || p.RecvOffset < 0 {
		return fmt.Errorf("primitive %q: negative offset", p.Name)
	}
	switch p.Kind {
	case Broadcast:
		if len(p.RecvIDs) == 0 {
			return fmt.Errorf("primitive %q: broadcast with no receivers", p.Name)
		}
	case Reduce:
		if len(p.SendIDs) == 0 {
			return fmt.Errorf("primitive %q: reduce with no senders", p.Name)
		}
	}
	return nil
}

// Slice returns the stripe of p spanning element range [begin, end) of its
// count, used by the Partitioner (package partition).
func (p Primitive) Slice(begin, end int, suffix string) Primitive {
	q := p
	q.SendOffset = p.SendOffset + begin
	q.RecvOffset = p.RecvOffset + begin
	q.Count = end - begin
	q.Name = fmt.Sprintf("%s%s", p.Name, suffix)
	return q
}

// Epoch is an append-only list of primitives, closed by a fence. Primitives
// within one epoch may be freely reordered by the planner; epochs serialize
// against each other.
type Epoch struct {
	Primitives []Primitive
}

func (e *Epoch) Add(p Primitive) {
	e.Primitives = append(e.Primitives, p)
}

func (e *Epoch) Empty() bool { return len(e.Primitives) == 0 }
