package buffer

// Op is the associative reduction operator applied by a REDUCE primitive.
// The compiler never validates that a caller-supplied Op is actually
// associative; that is the caller's responsibility.
type Op int

const (
	SUM Op = iota
	MIN
	MAX
	PROD
	// Custom marks an Op whose behavior is supplied out of band via
	// WithCustom; Transform dispatches to it instead of a builtin.
	Custom
)

var opNames = map[Op]string{
	SUM: "SUM", MIN: "MIN", MAX: "MAX", PROD: "PROD", Custom: "CUSTOM",
}

func (op Op) String() string { return opNames[op] }

// CustomFunc reduces src into dst element-by-element; both slices have the
// same DataType and Count. The planner never inspects the bytes, only wires
// the call at compute time.
type CustomFunc func(dst, src *Buffer)

// Transform performs dst[i] = op(dst[i], src[i]) for every element.
// Assumes dst and src share Count and Type; the caller is responsible
// for that invariant.
func Transform(dst, src *Buffer, op Op, custom CustomFunc) {
	if op == Custom {
		custom(dst, src)
		return
	}
	switch dst.Type {
	case F32:
		transformF32(dst.AsF32(), src.AsF32(), op)
	case F64:
		transformF64(dst.AsF64(), src.AsF64(), op)
	case I32:
		transformI32(dst.AsI32(), src.AsI32(), op)
	case I64:
		transformI64(dst.AsI64(), src.AsI64(), op)
	case U8:
		transformU8(dst.AsU8(), src.AsU8(), op)
	default:
		panic("buffer: unsupported dtype for builtin op: " + dst.Type.String())
	}
}

func transformF32(dst, src []float32, op Op) {
	for i := range dst {
		dst[i] = applyF(dst[i], src[i], op)
	}
}

func transformF64(dst, src []float64, op Op) {
	for i := range dst {
		dst[i] = applyF64(dst[i], src[i], op)
	}
}

func transformI32(dst, src []int32, op Op) {
	for i := range dst {
		dst[i] = int32(applyI(int64(dst[i]), int64(src[i]), op))
	}
}

func transformI64(dst, src []int64, op Op) {
	for i := range dst {
		dst[i] = applyI(dst[i], src[i], op)
	}
}

func transformU8(dst, src []uint8, op Op) {
	for i := range dst {
		dst[i] = uint8(applyI(int64(dst[i]), int64(src[i]), op))
	}
}

func applyF(a, b float32, op Op) float32 {
	switch op {
	case SUM:
		return a + b
	case MIN:
		if a < b {
			return a
		}
		return b
	case MAX:
		if a > b {
			return a
		}
		return b
	case PROD:
		return a * b
	default:
		panic("buffer: unknown op")
	}
}

func applyF64(a, b float64, op Op) float64 {
	switch op {
	case SUM:
		return a + b
	case MIN:
		if a < b {
			return a
		}
		return b
	case MAX:
		if a > b {
			return a
		}
		return b
	case PROD:
		return a * b
	default:
		panic("buffer: unknown op")
	}
}

func applyI(a, b int64, op Op) int64 {
	switch op {
	case SUM:
		return a + b
	case MIN:
		if a < b {
			return a
		}
		return b
	case MAX:
		if a > b {
			return a
		}
		return b
	case PROD:
		return a * b
	default:
		panic("buffer: unknown op")
	}
}
