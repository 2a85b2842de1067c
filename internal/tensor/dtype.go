package tensor

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"
)

// DType describes the element encoding of a tensor payload.
type DType uint8

const (
	F32 DType = iota
	F16
	BF16
)

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	default:
		return "dtype(?)"
	}
}

// ElemSize returns the byte size of one encoded element.
func (d DType) ElemSize() (int, bool) {
	switch d {
	case F32:
		return 4, true
	case F16, BF16:
		return 2, true
	default:
		return 0, false
	}
}

func decodeRaw(dst []float32, raw []byte, dtype DType) {
	switch dtype {
	case F32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case F16:
		for i := range dst {
			dst[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case BF16:
		for i := range dst {
			dst[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:])) << 16)
		}
	default:
		panic("tensor: unsupported dtype for decode")
	}
}

// EncodeF16 encodes f32 values to little-endian IEEE half precision.
func EncodeF16(src []float32) []byte {
	out := make([]byte, len(src)*2)
	for i, v := range src {
		binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
	}
	return out
}
