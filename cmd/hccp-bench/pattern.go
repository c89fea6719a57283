package main

import (
	"fmt"
	"math"

	"github.com/lsds/hccp/srcs/go/buffer"
	"github.com/lsds/hccp/srcs/go/comm"
)

// addPattern declares, on rank r's Comm, the broadcast/reduce primitives
// that realize pattern. Every supported pattern is a direct primitive or a
// composition of them the way scatter/allgather are described as sums of
// broadcasts — gather and alltoall have no such composition (a gather's
// result is a concatenation, not a reduction) and are refused rather than
// approximated.
//
// allreduce is deliberately absent: composing it as reduce-then-broadcast
// would need the second stage's sender location on rank 0 to resolve to
// the first stage's output buffer, but backend.Env resolves a UserSend
// location once per rank for the whole compiled plan, not per primitive.
// A real deployment's Env can do this because the caller passes a fresh
// pointer to every add_bcast call; this harness's fixed-slot MockEnv
// cannot without re-registering rank 0's send buffer between epochs,
// which init's single compile pass has no hook for.
func addPattern(c *comm.Comm, pattern string, r, np, count int, sendbufs, recvbufs []*buffer.Buffer, op buffer.Op) error {
	allRanks := make([]int, np)
	for i := range allRanks {
		allRanks[i] = i
	}
	switch pattern {
	case "pt2pt":
		return c.AddBcast(sendbufs[r], 0, recvbufs[r], 0, count, 0, []int{np - 1}, "pt2pt")
	case "broadcast":
		return c.AddBcast(sendbufs[r], 0, recvbufs[r], 0, count, 0, allRanks, "broadcast")
	case "allgather":
		for p := 0; p < np; p++ {
			name := fmt.Sprintf("allgather[%d]", p)
			if err := c.AddBcast(sendbufs[r], 0, recvbufs[r], p*count, count, p, allRanks, name); err != nil {
				return err
			}
		}
		return nil
	case "scatter":
		for p := 0; p < np; p++ {
			name := fmt.Sprintf("scatter[%d]", p)
			if err := c.AddBcast(sendbufs[r], p*count, recvbufs[r], 0, count, 0, []int{p}, name); err != nil {
				return err
			}
		}
		return nil
	case "reduce":
		return c.AddReduce(sendbufs[r], 0, recvbufs[r], 0, count, allRanks, 0, op, "reduce")
	}
	return fmt.Errorf("pattern %q has no broadcast/reduce composition", pattern)
}

// bufSizes returns the element counts to allocate for sendbuf/recvbuf on
// every rank so pattern's addPattern calls have room, mirroring the
// concrete scenarios' buffer shapes (a scatter's sender holds the whole
// np*count range; an allgather's receiver does).
func bufSizes(pattern string, np, count int) (sendCount, recvCount int) {
	switch pattern {
	case "scatter":
		return np * count, count
	case "allgather":
		return count, np * count
	default:
		return count, count
	}
}

// fillPattern seeds sendbuf on rank r with a value derived from r so
// validate can tell contributions apart: element i of rank r's buffer is
// r*1000+i, truncated to the buffer's dtype range for narrow int types.
func fillPattern(b *buffer.Buffer, r int) {
	for i := 0; i < b.Count; i++ {
		setElem(b, i, float64(r*1000+i))
	}
}

func setElem(b *buffer.Buffer, i int, v float64) {
	switch b.Type {
	case buffer.I32:
		b.AsI32()[i] = int32(v)
	case buffer.I64:
		b.AsI64()[i] = int64(v)
	case buffer.F32:
		b.AsF32()[i] = float32(v)
	case buffer.F64:
		b.AsF64()[i] = v
	case buffer.U8:
		b.AsU8()[i] = uint8(math.Mod(v, 256))
	default:
		panic("hccp-bench: unsupported dtype " + b.Type.String())
	}
}

func elemAt(b *buffer.Buffer, i int) float64 {
	switch b.Type {
	case buffer.I32:
		return float64(b.AsI32()[i])
	case buffer.I64:
		return float64(b.AsI64()[i])
	case buffer.F32:
		return float64(b.AsF32()[i])
	case buffer.F64:
		return b.AsF64()[i]
	case buffer.U8:
		return float64(b.AsU8()[i])
	default:
		panic("hccp-bench: unsupported dtype " + b.Type.String())
	}
}

// validate checks recvbufs against the reference semantics for pattern,
// executed serially in-process the way the Reporter's calibration runs do
// not, so it is independent of anything the compiled plan itself computed.
func validate(pattern string, sendbufs, recvbufs []*buffer.Buffer, count int, op buffer.Op) error {
	np := len(sendbufs)
	switch pattern {
	case "pt2pt":
		return compareRange(sendbufs[0], 0, recvbufs[np-1], 0, count)
	case "broadcast":
		for r := 0; r < np; r++ {
			if err := compareRange(sendbufs[0], 0, recvbufs[r], 0, count); err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
		}
		return nil
	case "allgather":
		for r := 0; r < np; r++ {
			for p := 0; p < np; p++ {
				if err := compareRange(sendbufs[p], 0, recvbufs[r], p*count, count); err != nil {
					return fmt.Errorf("rank %d chunk %d: %w", r, p, err)
				}
			}
		}
		return nil
	case "scatter":
		for p := 0; p < np; p++ {
			if err := compareRange(sendbufs[0], p*count, recvbufs[p], 0, count); err != nil {
				return fmt.Errorf("rank %d: %w", p, err)
			}
		}
		return nil
	case "reduce":
		for i := 0; i < count; i++ {
			want := elemAt(sendbufs[0], i)
			for p := 1; p < np; p++ {
				want = applyRef(want, elemAt(sendbufs[p], i), op)
			}
			if got := elemAt(recvbufs[0], i); got != want {
				return fmt.Errorf("element %d: got %v want %v", i, got, want)
			}
		}
		return nil
	}
	return fmt.Errorf("pattern %q has no reference model", pattern)
}

func compareRange(send *buffer.Buffer, soff int, recv *buffer.Buffer, roff, count int) error {
	for i := 0; i < count; i++ {
		if got, want := elemAt(recv, roff+i), elemAt(send, soff+i); got != want {
			return fmt.Errorf("element %d: got %v want %v", i, got, want)
		}
	}
	return nil
}

func applyRef(a, b float64, op buffer.Op) float64 {
	switch op {
	case buffer.SUM:
		return a + b
	case buffer.MIN:
		return math.Min(a, b)
	case buffer.MAX:
		return math.Max(a, b)
	case buffer.PROD:
		return a * b
	default:
		panic("hccp-bench: reference model has no builtin for custom op")
	}
}
