// Numeric and character conversion for the transfer engine. All in-memory
// scalars are little-endian.
package xfer

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/sourceryinstitute/libcaf-go/descriptor"
)

func readInt(b []byte, kind int32) int64 {
	switch kind {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case 8:
		return int64(binary.LittleEndian.Uint64(b))
	default:
		return 0
	}
}

func writeInt(b []byte, kind int32, v int64) {
	switch kind {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
}

func readFloat(b []byte, kind int32) float64 {
	switch kind {
	case 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return 0
	}
}

func writeFloat(b []byte, kind int32, v float64) {
	switch kind {
	case 4:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case 8:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

// convertScalar converts one element of src (typed srcType) into an
// ElemLen(dstType)-sized buffer typed dstType:
//
//	integer -> integer truncates in width
//	integer/real/complex cross-convert with host C semantics
//	complex -> integer uses the real part only
//	character conversions pad/narrow, handled separately in convertCharacter
//	unsupported pairs fail with an internal error
func convertScalar(src []byte, srcType descriptor.TypeTag, dstType descriptor.TypeTag) ([]byte, error) {
	dst := make([]byte, dstType.ElemLen())
	if srcType.Base == descriptor.TypeCharacter || dstType.Base == descriptor.TypeCharacter {
		return nil, errors.New("xfer: convert_type: use convertCharacter for character kinds")
	}

	var real, imag float64
	switch srcType.Base {
	case descriptor.TypeInteger, descriptor.TypeLogical:
		real = float64(readInt(src, srcType.Kind))
	case descriptor.TypeReal:
		real = readFloat(src, srcType.Kind)
	case descriptor.TypeComplex:
		half := len(src) / 2
		real = readFloat(src[:half], srcType.Kind)
		imag = readFloat(src[half:], srcType.Kind)
	default:
		return nil, errors.Errorf("xfer: convert_type: unsupported source type %v", srcType.Base)
	}

	switch dstType.Base {
	case descriptor.TypeInteger, descriptor.TypeLogical:
		writeInt(dst, dstType.Kind, int64(real)) // complex -> integer: real part only
	case descriptor.TypeReal:
		writeFloat(dst, dstType.Kind, real)
	case descriptor.TypeComplex:
		half := len(dst) / 2
		writeFloat(dst[:half], dstType.Kind, real)
		writeFloat(dst[half:], dstType.Kind, imag)
	default:
		return nil, errors.Errorf("xfer: convert_type: unsupported destination type %v", dstType.Base)
	}
	return dst, nil
}

// decodeChars splits a character buffer into one rune per character,
// respecting kind 1 (Latin-1 byte per char) vs kind 4 (4-byte code point).
func decodeChars(b []byte, kind int32) []rune {
	n := len(b) / int(kind)
	out := make([]rune, n)
	for i := 0; i < n; i++ {
		if kind == 1 {
			out[i] = rune(b[i])
		} else {
			out[i] = rune(binary.LittleEndian.Uint32(b[i*4:]))
		}
	}
	return out
}

func encodeChars(rs []rune, kind int32) []byte {
	out := make([]byte, len(rs)*int(kind))
	for i, r := range rs {
		if kind == 1 {
			if r > 0xFF {
				r = '?' // narrowing: unrepresentable code point
			}
			out[i] = byte(r)
		} else {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(r))
		}
	}
	return out
}

// spaceCode returns the padding code point: a literal space for kind 1,
// U+0020 for kind 4 (the same value, but the two kinds pad as different
// byte widths).
func spaceCode() rune { return ' ' }

// convertCharacter converts src (dstCharLen characters are produced,
// always — callers pass the destination's *character count*, never its
// byte count). Lengthening
// pads with spaceCode(); narrowing truncates (the caller is responsible
// for deciding whether truncation is legal; convertCharacter does not
// itself reject it, matching the runtime's lenient assignment semantics).
func convertCharacter(src []byte, srcKind int32, dstCharLen int, dstKind int32) []byte {
	rs := decodeChars(src, srcKind)
	out := make([]rune, dstCharLen)
	for i := range out {
		if i < len(rs) {
			out[i] = rs[i]
		} else {
			out[i] = spaceCode()
		}
	}
	return encodeChars(out, dstKind)
}
