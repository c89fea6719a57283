package buffer

import (
	"fmt"
	"unsafe"

	"github.com/lsds/hccp/srcs/go/utils/assert"
)

// Buffer is a typed, byte-backed vector: every sendbuf/recvbuf a caller
// supplies is a Buffer, sliced by element offset/count. A Buffer never
// owns the device memory it describes when it comes from the caller;
// staging buffers allocated by the planner (see package coll) do own
// theirs.
type Buffer struct {
	Data  []byte
	Count int
	Type  DataType
}

func New(count int, dtype DataType) *Buffer {
	return &Buffer{
		Data:  make([]byte, count*dtype.Size()),
		Count: count,
		Type:  dtype,
	}
}

// Slice returns a Buffer aliasing the elements [begin, end) of b.
func (b *Buffer) Slice(begin, end int) *Buffer {
	sz := b.Type.Size()
	return &Buffer{
		Data:  b.Data[begin*sz : end*sz],
		Count: end - begin,
		Type:  b.Type,
	}
}

func (b *Buffer) CopyFrom(c *Buffer) {
	assert.OK(b.copyFrom(c))
}

func (b *Buffer) copyFrom(c *Buffer) error {
	if b.Count != c.Count {
		return fmt.Errorf("buffer: inconsistent count: %d vs %d", b.Count, c.Count)
	}
	if b.Type != c.Type {
		return fmt.Errorf("buffer: inconsistent type: %d vs %d", b.Type, c.Type)
	}
	copy(b.Data, c.Data)
	return nil
}

// SameLocation reports whether b and c alias the same underlying storage,
// used to detect and elide a self-transfer.
func (b *Buffer) SameLocation(c *Buffer) bool {
	if len(b.Data) == 0 || len(c.Data) == 0 {
		return len(b.Data) == 0 && len(c.Data) == 0
	}
	return &b.Data[0] == &c.Data[0]
}

func (b *Buffer) AsF32() []float32 {
	assert.True(b.Type == F32)
	return unsafe.Slice((*float32)(unsafe.Pointer(&b.Data[0])), b.Count)
}

func (b *Buffer) AsF64() []float64 {
	assert.True(b.Type == F64)
	return unsafe.Slice((*float64)(unsafe.Pointer(&b.Data[0])), b.Count)
}

func (b *Buffer) AsI8() []int8 {
	assert.True(b.Type == I8)
	return unsafe.Slice((*int8)(unsafe.Pointer(&b.Data[0])), b.Count)
}

func (b *Buffer) AsU8() []uint8 {
	assert.True(b.Type == U8)
	return b.Data
}

func (b *Buffer) AsI32() []int32 {
	assert.True(b.Type == I32)
	return unsafe.Slice((*int32)(unsafe.Pointer(&b.Data[0])), b.Count)
}

func (b *Buffer) AsI64() []int64 {
	assert.True(b.Type == I64)
	return unsafe.Slice((*int64)(unsafe.Pointer(&b.Data[0])), b.Count)
}
