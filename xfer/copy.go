package xfer

import "github.com/sourceryinstitute/libcaf-go/descriptor"

// identicalRepr reports whether a value of srcType occupying srcElemLen
// bytes can be copied byte-for-byte into a dstType slot of dstElemLen
// bytes. Equal Base/Kind is not enough on its own for character data: two
// character(kind=1) values of different declared lengths still need
// pad/truncate handling even though their TypeTag is identical.
func identicalRepr(srcType, dstType descriptor.TypeTag, srcElemLen, dstElemLen int32) bool {
	return sameType(srcType, dstType) && srcElemLen == dstElemLen
}

// convertElement converts one raw scalar from srcType to dstType, a thin
// dispatch over convertScalar/convertCharacter that also short-circuits the
// identical-representation case with a plain copy. dstElemLen is the
// destination descriptor's actual per-element byte count: for character
// data this is charLen*charWidth, which TypeTag carries no field for on
// its own.
func convertElement(raw []byte, srcType, dstType descriptor.TypeTag, dstElemLen int32) ([]byte, error) {
	if identicalRepr(srcType, dstType, int32(len(raw)), dstElemLen) {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	}
	if srcType.Base == descriptor.TypeCharacter && dstType.Base == descriptor.TypeCharacter {
		dstCharLen := int(dstElemLen) / int(dstType.Kind)
		return convertCharacter(raw, srcType.Kind, dstCharLen, dstType.Kind), nil
	}
	return convertScalar(raw, srcType, dstType)
}

// ConvertElement is convertElement exported for the reference-chain
// interpreter (component E), which needs the same scalar/character
// conversion rules at each leaf of a ref chain but does not otherwise
// share this package's transfer ladder.
func ConvertElement(raw []byte, srcType, dstType descriptor.TypeTag, dstElemLen int32) ([]byte, error) {
	return convertElement(raw, srcType, dstType, dstElemLen)
}

func writeElement(dst, raw []byte, dstType, srcType descriptor.TypeTag, dstElemLen int32) error {
	elem, err := convertElement(raw, srcType, dstType, dstElemLen)
	if err != nil {
		return err
	}
	copy(dst[:dstElemLen], elem)
	return nil
}

// scatterContiguous writes n elements read as one contiguous srcType blob
// into dst as n contiguous dstType elements, converting each one unless
// the two representations are identical (in which case it is a single
// memcpy).
func scatterContiguous(dst, blob []byte, dstType, srcType descriptor.TypeTag, n int64, dstElemLen, srcElemLen int32) error {
	if identicalRepr(srcType, dstType, srcElemLen, dstElemLen) {
		copy(dst[:n*int64(dstElemLen)], blob)
		return nil
	}
	for i := int64(0); i < n; i++ {
		raw := blob[i*int64(srcElemLen) : (i+1)*int64(srcElemLen)]
		if err := writeElement(dst[i*int64(dstElemLen):], raw, dstType, srcType, dstElemLen); err != nil {
			return err
		}
	}
	return nil
}

// gatherRange reads count elements starting at byte offset off in src
// (a single contiguous run) and returns them re-typed as dstType, ready
// for a Put.
func gatherRange(src *descriptor.Descriptor, off, count int64, dstType descriptor.TypeTag, dstElemLen int32) ([]byte, error) {
	raw := src.Base[off : off+count*int64(src.ElemLen)]
	if identicalRepr(src.Type, dstType, src.ElemLen, dstElemLen) {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	}
	out := make([]byte, count*int64(dstElemLen))
	for i := int64(0); i < count; i++ {
		elem, err := convertElement(raw[i*int64(src.ElemLen):(i+1)*int64(src.ElemLen)], src.Type, dstType, dstElemLen)
		if err != nil {
			return nil, err
		}
		copy(out[i*int64(dstElemLen):], elem)
	}
	return out, nil
}

// scatter is the self-image fallback (ladder step 1): blob holds an entire
// window's raw payload, and src/dst describe possibly-strided views into
// it and the caller's memory respectively, walked one element at a time.
func scatter(blob []byte, dst, src *descriptor.Descriptor) error {
	dstOff := elementOffsets(dst)
	srcOff := elementOffsets(src)
	for i := range srcOff {
		raw := blob[srcOff[i] : srcOff[i]+int64(src.ElemLen)]
		if err := writeElement(dst.Base[dstOff[i]:], raw, dst.Type, src.Type, dst.ElemLen); err != nil {
			return err
		}
	}
	return nil
}
