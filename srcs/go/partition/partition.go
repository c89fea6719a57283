// Package partition splits each primitive's count into numbatch contiguous
// stripes so independent batches can be pipelined by the Executor. The
// last stripe absorbs any remainder rather than spreading it across the
// front, keeping stripe boundaries stable as numbatch varies.
package partition

import (
	"fmt"

	"github.com/lsds/hccp/srcs/go/primitive"
)

// Stripes splits count into up to numbatch contiguous stripe lengths.
// s = count/numbatch; every stripe but the last has length s, the last
// absorbs the remainder. If count < numbatch (s == 0), the whole count
// collapses into a single stripe at index 0 and every other index is
// elided; the returned lengths always sum exactly to count.
func Stripes(count, numbatch int) []int {
	if numbatch <= 0 {
		panic("partition: numbatch must be positive")
	}
	if count == 0 {
		return nil
	}
	s := count / numbatch
	if s == 0 {
		return []int{count}
	}
	lens := make([]int, numbatch)
	for i := range lens {
		lens[i] = s
	}
	lens[numbatch-1] += count - s*numbatch
	return lens
}

// Batch pairs a primitive's per-batch stripe with the batch index it
// belongs to, forming one row of the partitioner's numbatch x numprimitive
// output table. Ordering within a batch preserves the insertion order of
// the source epoch.
type Batch struct {
	Index     int
	Primitive primitive.Primitive
}

// Split partitions every primitive in epoch into up to numbatch Batches
// each, preserving insertion order within each batch index.
func Split(prims []primitive.Primitive, numbatch int) [][]primitive.Primitive {
	out := make([][]primitive.Primitive, numbatch)
	for _, p := range prims {
		lens := Stripes(p.Count, numbatch)
		offset := 0
		for i, l := range lens {
			if l == 0 {
				continue
			}
			out[i] = append(out[i], p.Slice(offset, offset+l, fmt.Sprintf("[batch:%d]", i)))
			offset += l
		}
	}
	return out
}
