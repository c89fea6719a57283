package buffer

// DataType is the element type carried by a Buffer. Offsets and counts
// throughout the planner are expressed in elements, never bytes; only the
// buffer layer converts to byte extents.
type DataType int

const (
	U8 DataType = iota
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	F16
	F32
	F64
)

var sizes = map[DataType]int{
	U8: 1, U16: 2, U32: 4, U64: 8,
	I8: 1, I16: 2, I32: 4, I64: 8,
	F16: 2, F32: 4, F64: 8,
}

func (t DataType) Size() int {
	return sizes[t]
}

var names = map[DataType]string{
	U8: "u8", U16: "u16", U32: "u32", U64: "u64",
	I8: "i8", I16: "i16", I32: "i32", I64: "i64",
	F16: "f16", F32: "f32", F64: "f64",
}

func (t DataType) String() string {
	return names[t]
}
