package rfunc

import (
	"github.com/pkg/errors"

	"github.com/sourceryinstitute/libcaf-go/descriptor"
	"github.com/sourceryinstitute/libcaf-go/transport"
)

// Manager is the ABI-facing entry point for the four remote-function
// operations (get_from_remote, is_present_on_remote, send_to_remote,
// transfer_between_remotes). One Manager per image; all share the same
// process-global Table.
type Manager struct {
	job      *transport.Job
	imageID  int
	table    *Table
	channels map[int]*Channel
}

// NewManager wires a Manager against every channel already started for
// job, keyed by image id so self-addressed calls can bypass the inbox.
func NewManager(job *transport.Job, imageID int, table *Table, channels map[int]*Channel) *Manager {
	return &Manager{job: job, imageID: imageID, table: table, channels: channels}
}

func (m *Manager) roundTrip(image int, msg *transport.Message) (*transport.Reply, error) {
	if ch, ok := m.channels[image]; ok && image == m.imageID {
		return ch.dispatch(msg), nil
	}
	return m.job.Send(image, msg)
}

// GetFromRemote implements get_from_remote(): invoke the getter accessor
// named by hash on image, returning its value and, if requested, a
// descriptor for it.
func (m *Manager) GetFromRemote(image int, hash int64, addData []byte, wantDesc bool) ([]byte, *descriptor.Descriptor, error) {
	idx, ok := m.table.Index(hash)
	if !ok {
		return nil, nil, errors.New("rfunc: get_from_remote: accessor not registered")
	}
	msg := &transport.Message{
		Cmd:           transport.CmdGet,
		AccessorIndex: idx,
		AddData:       addData,
		SrcImage:      m.imageID,
		DestImage:     image,
	}
	if wantDesc {
		msg.Flags |= transport.FlagIncludeDescriptor
	}
	rep, err := m.roundTrip(image, msg)
	if err != nil {
		return nil, nil, err
	}
	if rep.Err != "" {
		return nil, nil, errors.New(rep.Err)
	}
	var desc *descriptor.Descriptor
	if len(rep.Desc) > 0 {
		desc = &descriptor.Descriptor{}
		if _, err := desc.UnmarshalMsg(rep.Desc); err != nil {
			return nil, nil, errors.Wrap(err, "rfunc: get_from_remote: malformed descriptor")
		}
	}
	data, err := decompressIfNeeded(rep.Data, rep.Flags)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rfunc: get_from_remote: decompress")
	}
	return data, desc, nil
}

// IsPresentOnRemote implements is_present_on_remote().
func (m *Manager) IsPresentOnRemote(image int, hash int64, addData []byte) (bool, error) {
	idx, ok := m.table.Index(hash)
	if !ok {
		return false, errors.New("rfunc: is_present_on_remote: accessor not registered")
	}
	msg := &transport.Message{
		Cmd:           transport.CmdPresent,
		AccessorIndex: idx,
		AddData:       addData,
		SrcImage:      m.imageID,
		DestImage:     image,
	}
	rep, err := m.roundTrip(image, msg)
	if err != nil {
		return false, err
	}
	if rep.Err != "" {
		return false, errors.New(rep.Err)
	}
	return rep.Ack, nil
}

// SendToRemote implements send_to_remote(): push data to image's receiver
// accessor named by hash.
func (m *Manager) SendToRemote(image int, hash int64, addData, data []byte) error {
	idx, ok := m.table.Index(hash)
	if !ok {
		return errors.New("rfunc: send_to_remote: accessor not registered")
	}
	msg := &transport.Message{
		Cmd:           transport.CmdSend,
		AccessorIndex: idx,
		AddData:       addData,
		Data:          data,
		TransferSize:  int64(len(data)),
		SrcImage:      m.imageID,
		DestImage:     image,
	}
	if cdata, compressed := maybeCompress(msg.Data); compressed {
		msg.Data = cdata
		msg.Flags |= transport.FlagDataCompressed
	}
	rep, err := m.roundTrip(image, msg)
	if err != nil {
		return err
	}
	if rep.Err != "" {
		return errors.New(rep.Err)
	}
	return nil
}

// TransferBetweenRemotes implements transfer_between_remotes(): fetch via
// srcHash on src and deliver via dstHash on dst, without the caller ever
// seeing the payload. Three shapes are distinguished so the common cases
// never pay for a message this image isn't actually part of:
//
//   - src == dst == this image: two direct function calls, no messaging.
//   - src == dst, remote: a single CmdTransfer message telling that image
//     to forward to itself, half the round trips of get-then-send.
//   - otherwise: get_from_remote followed by send_to_remote, each of which
//     self-optimizes individually when one side happens to be this image.
func (m *Manager) TransferBetweenRemotes(src int, srcHash int64, srcAddData []byte, dst int, dstHash int64, dstAddData []byte) error {
	if src == m.imageID && dst == m.imageID {
		return m.transferLocal(srcHash, srcAddData, dstHash, dstAddData)
	}
	if src == dst {
		return m.transferForward(src, srcHash, srcAddData, dstHash, dstAddData)
	}
	data, _, err := m.GetFromRemote(src, srcHash, srcAddData, false)
	if err != nil {
		return errors.Wrap(err, "rfunc: transfer_between_remotes: get leg")
	}
	return m.SendToRemote(dst, dstHash, dstAddData, data)
}

func (m *Manager) transferLocal(srcHash int64, srcAddData []byte, dstHash int64, dstAddData []byte) error {
	srcIdx, ok := m.table.Index(srcHash)
	if !ok {
		return errors.New("rfunc: transfer_between_remotes: source accessor not registered")
	}
	dstIdx, ok := m.table.Index(dstHash)
	if !ok {
		return errors.New("rfunc: transfer_between_remotes: destination accessor not registered")
	}
	srcAcc, ok := m.table.at(srcIdx)
	if !ok || srcAcc.kind != KindGetter {
		return errors.New("rfunc: transfer_between_remotes: source accessor wrong kind")
	}
	dstAcc, ok := m.table.at(dstIdx)
	if !ok || dstAcc.kind != KindReceiver {
		return errors.New("rfunc: transfer_between_remotes: destination accessor wrong kind")
	}
	data, _, err := srcAcc.getter(srcAddData)
	if err != nil {
		return err
	}
	return dstAcc.receiver(dstAddData, data)
}

func (m *Manager) transferForward(image int, srcHash int64, srcAddData []byte, dstHash int64, dstAddData []byte) error {
	srcIdx, ok := m.table.Index(srcHash)
	if !ok {
		return errors.New("rfunc: transfer_between_remotes: source accessor not registered")
	}
	dstIdx, ok := m.table.Index(dstHash)
	if !ok {
		return errors.New("rfunc: transfer_between_remotes: destination accessor not registered")
	}
	msg := &transport.Message{
		Cmd:              transport.CmdTransfer,
		AccessorIndex:    srcIdx,
		AddData:          srcAddData,
		DstAccessorIndex: dstIdx,
		DstAddData:       dstAddData,
		ForwardImage:     image,
		SrcImage:         m.imageID,
		DestImage:        image,
	}
	rep, err := m.roundTrip(image, msg)
	if err != nil {
		return err
	}
	if rep.Err != "" {
		return errors.New(rep.Err)
	}
	return nil
}
