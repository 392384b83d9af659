package transport

import (
	"encoding/binary"

	"github.com/tinylib/msgp/msgp"
)

// Cmd is the remote-function request kind.
type Cmd int32

const (
	CmdUnset Cmd = iota
	CmdGet
	CmdPresent
	CmdSend
	CmdTransfer
)

// Flags is the bitset carried in every Message header.
type Flags uint32

const (
	FlagDstHasDesc Flags = 1 << iota
	FlagSrcHasDesc
	FlagCharArray
	FlagIncludeDescriptor
	FlagTransferDesc
	// FlagDataCompressed marks Message.Data/Reply.Data as an lz4-framed
	// payload that must be decompressed before use, set by the sender when
	// the uncompressed size meets config.Get().CompressMinSize.
	FlagDataCompressed
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Message is the fixed header plus variable payload for one remote-function
// request. DstDesc/SrcDesc/AddData/Data are present only when the
// corresponding flag bit is set; callers marshal them with msgp-style
// MarshalMsg/UnmarshalMsg (see descriptor.Descriptor's wire codec in the
// descriptor package, and rfunc's AddData envelope) before placing the
// bytes here.
type Message struct {
	Cmd              Cmd
	Flags            Flags
	TransferSize     int64
	OptCharLen       int32
	Win              Handle // zero means "addressed by RAID, not a window"
	SrcImage         int
	DestImage        int
	DestTag          int64
	AccessorIndex    int
	RAID             int64
	DestOptCharLen   int32
	// DstWin/DstRAID/DstAccessorIndex/DstAddData/ForwardImage address the
	// third image a CmdTransfer forwards to; unused by get/present/send.
	// ForwardImage is the image the fetched data is forwarded to;
	// DstAddData is the destination-side add-data the forwarded send
	// carries alongside it.
	DstWin           Handle
	DstRAID          int64
	DstAccessorIndex int
	ForwardImage     int
	DstDesc          []byte
	SrcDesc          []byte
	AddData          []byte
	DstAddData       []byte
	Data             []byte
}

// MarshalMsg appends msg's wire encoding to b, hand-written in the style of
// msgp-generated code (see github.com/tinylib/msgp/msgp) rather than
// go:generate'd, so every field is encoded in a fixed, explicit order.
func (msg *Message) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendInt32(b, int32(msg.Cmd))
	b = msgp.AppendUint32(b, uint32(msg.Flags))
	b = msgp.AppendInt64(b, msg.TransferSize)
	b = msgp.AppendInt32(b, msg.OptCharLen)
	b = msgp.AppendUint64(b, uint64(msg.Win))
	b = msgp.AppendInt(b, msg.SrcImage)
	b = msgp.AppendInt(b, msg.DestImage)
	b = msgp.AppendInt64(b, msg.DestTag)
	b = msgp.AppendInt(b, msg.AccessorIndex)
	b = msgp.AppendInt64(b, msg.RAID)
	b = msgp.AppendInt32(b, msg.DestOptCharLen)
	b = msgp.AppendUint64(b, uint64(msg.DstWin))
	b = msgp.AppendInt64(b, msg.DstRAID)
	b = msgp.AppendInt(b, msg.DstAccessorIndex)
	b = msgp.AppendInt(b, msg.ForwardImage)
	b = msgp.AppendBytes(b, msg.DstDesc)
	b = msgp.AppendBytes(b, msg.SrcDesc)
	b = msgp.AppendBytes(b, msg.AddData)
	b = msgp.AppendBytes(b, msg.DstAddData)
	b = msgp.AppendBytes(b, msg.Data)
	return b, nil
}

// UnmarshalMsg decodes a Message previously produced by MarshalMsg,
// returning the unconsumed remainder of b.
func (msg *Message) UnmarshalMsg(b []byte) ([]byte, error) {
	var cmd, flags, win, dstWin int64
	var err error
	var v32 int32
	var u32 uint32
	var u64 uint64

	if v32, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, err
	}
	cmd = int64(v32)
	if u32, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	flags = int64(u32)
	if msg.TransferSize, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return b, err
	}
	if msg.OptCharLen, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, err
	}
	if u64, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return b, err
	}
	win = int64(u64)
	if msg.SrcImage, b, err = msgp.ReadIntBytes(b); err != nil {
		return b, err
	}
	if msg.DestImage, b, err = msgp.ReadIntBytes(b); err != nil {
		return b, err
	}
	if msg.DestTag, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return b, err
	}
	if msg.AccessorIndex, b, err = msgp.ReadIntBytes(b); err != nil {
		return b, err
	}
	if msg.RAID, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return b, err
	}
	if msg.DestOptCharLen, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, err
	}
	if u64, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return b, err
	}
	dstWin = int64(u64)
	if msg.DstRAID, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return b, err
	}
	if msg.DstAccessorIndex, b, err = msgp.ReadIntBytes(b); err != nil {
		return b, err
	}
	if msg.ForwardImage, b, err = msgp.ReadIntBytes(b); err != nil {
		return b, err
	}
	if msg.DstDesc, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return b, err
	}
	if msg.SrcDesc, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return b, err
	}
	if msg.AddData, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return b, err
	}
	if msg.DstAddData, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return b, err
	}
	if msg.Data, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return b, err
	}

	msg.Cmd = Cmd(cmd)
	msg.Flags = Flags(flags)
	msg.Win = Handle(win)
	msg.DstWin = Handle(dstWin)
	return b, nil
}

// Reply is the message sent back to the caller of a remote-function
// request: either raw data, descriptor+data (INCLUDE_DESCRIPTOR), or a
// one-byte ack/boolean.
type Reply struct {
	Ack   bool
	Byte  byte
	Flags Flags
	Desc  []byte
	Data  []byte
	Err   string
}

// MarshalMsg appends r's wire encoding to b.
func (r *Reply) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendBool(b, r.Ack)
	b = msgp.AppendUint8(b, r.Byte)
	b = msgp.AppendUint32(b, uint32(r.Flags))
	b = msgp.AppendBytes(b, r.Desc)
	b = msgp.AppendBytes(b, r.Data)
	b = msgp.AppendString(b, r.Err)
	return b, nil
}

// UnmarshalMsg decodes a Reply previously produced by MarshalMsg.
func (r *Reply) UnmarshalMsg(b []byte) ([]byte, error) {
	var err error
	var u32 uint32
	if r.Ack, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, err
	}
	if r.Byte, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return b, err
	}
	if u32, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	r.Flags = Flags(u32)
	if r.Desc, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return b, err
	}
	if r.Data, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return b, err
	}
	if r.Err, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	return b, nil
}

func beInt64(b []byte) int64        { return int64(binary.BigEndian.Uint64(b)) }
func putBeInt64(b []byte, v int64)  { binary.BigEndian.PutUint64(b, uint64(v)) }
func beInt32(b []byte) int32        { return int32(binary.BigEndian.Uint32(b)) }
func putBeInt32(b []byte, v int32)  { binary.BigEndian.PutUint32(b, uint32(v)) }
