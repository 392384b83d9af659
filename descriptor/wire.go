// Wire encoding for Descriptor's shape: the part of a descriptor that
// travels with a remote-function request (rfunc) or a descriptor-carrying
// reply. Base never crosses the wire; a decoded Descriptor is always
// shape-only.
package descriptor

import "github.com/tinylib/msgp/msgp"

// MarshalMsg appends d's shape to b, hand-written in the style of
// msgp-generated code rather than go:generate'd.
func (d *Descriptor) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendInt32(b, d.ElemLen)
	b = msgp.AppendInt32(b, d.Version)
	b = msgp.AppendInt32(b, d.Rank)
	b = msgp.AppendInt32(b, int32(d.Attribute))
	b = msgp.AppendInt32(b, int32(d.Type.Base))
	b = msgp.AppendInt32(b, d.Type.Kind)
	b = msgp.AppendInt64(b, d.Offset)
	b = msgp.AppendInt64(b, d.Span)
	for k := int32(0); k < d.Rank; k++ {
		b = msgp.AppendInt64(b, d.Dims[k].Lower)
		b = msgp.AppendInt64(b, d.Dims[k].Upper)
		b = msgp.AppendInt64(b, d.Dims[k].Stride)
	}
	return b, nil
}

// UnmarshalMsg decodes a Descriptor shape previously produced by
// MarshalMsg. The returned Descriptor has a nil Base.
func (d *Descriptor) UnmarshalMsg(b []byte) ([]byte, error) {
	var err error
	var base, kind int32
	if d.ElemLen, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, err
	}
	if d.Version, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, err
	}
	if d.Rank, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, err
	}
	if base, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, err
	}
	d.Attribute = Attribute(base)
	if base, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, err
	}
	if kind, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, err
	}
	d.Type = TypeTag{Base: BaseType(base), Kind: kind}
	if d.Offset, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return b, err
	}
	if d.Span, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return b, err
	}
	for k := int32(0); k < d.Rank; k++ {
		if d.Dims[k].Lower, b, err = msgp.ReadInt64Bytes(b); err != nil {
			return b, err
		}
		if d.Dims[k].Upper, b, err = msgp.ReadInt64Bytes(b); err != nil {
			return b, err
		}
		if d.Dims[k].Stride, b, err = msgp.ReadInt64Bytes(b); err != nil {
			return b, err
		}
	}
	d.Base = nil
	return b, nil
}
