package rfunc

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sourceryinstitute/libcaf-go/cmn/atomic"
	"github.com/sourceryinstitute/libcaf-go/cmn/config"
	"github.com/sourceryinstitute/libcaf-go/transport"
)

// rpcRequest is one inbound remote-function request waiting on Channel's
// communication thread.
type rpcRequest struct {
	msg   *transport.Message
	reply chan *transport.Reply
}

// Channel is one image's communication thread: a goroutine bound to the
// image's inbox, dedicated to remote-function dispatch so that ordinary
// sync traffic on the transport substrate can never be misrouted onto it
// (spec.md §5 "the channel is a dedicated duplicate communicator").
type Channel struct {
	job     *transport.Job
	imageID int
	table   *Table

	inbox chan rpcRequest
	done  chan struct{}

	running  sync.Map // ra_id (int64) -> []byte, the "running accesses" list
	nextRAID atomic.Int64

	msgsIn  prometheus.Counter
	msgsOut prometheus.Counter
}

// NewChannel spawns imageID's communication thread and installs it as the
// transport substrate's handler for that image.
func NewChannel(job *transport.Job, imageID int, table *Table) *Channel {
	c := &Channel{
		job:     job,
		imageID: imageID,
		table:   table,
		inbox:   make(chan rpcRequest, config.Get().ChannelBufSize),
		done:    make(chan struct{}),
		msgsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "caf_rfunc_messages_received_total",
			Help:        "Remote-function requests dispatched by this image's communication thread.",
			ConstLabels: prometheus.Labels{"image": itoa(imageID)},
		}),
		msgsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "caf_rfunc_messages_forwarded_total",
			Help:        "Remote-function requests this image's communication thread forwarded on (transfer).",
			ConstLabels: prometheus.Labels{"image": itoa(imageID)},
		}),
	}
	go c.loop()
	job.SetHandler(imageID, c.handle) //nolint:errcheck
	return c
}

// Close ends the communication thread, the substrate analogue of the
// zero-length termination message described in spec.md §4.F.
func (c *Channel) Close() { close(c.done) }

// handle is installed as the transport substrate's per-image Handler: every
// inbound request is handed to the communication thread's own goroutine
// rather than executed on the sender's goroutine, matching "the
// communication thread on the peer performs probe/recv from its side."
func (c *Channel) handle(_ int, msg *transport.Message) (*transport.Reply, error) {
	req := rpcRequest{msg: msg, reply: make(chan *transport.Reply, 1)}
	select {
	case c.inbox <- req:
	case <-c.done:
		return nil, transport.ErrClosed
	}
	select {
	case rep := <-req.reply:
		return rep, nil
	case <-c.done:
		return nil, transport.ErrClosed
	}
}

func (c *Channel) loop() {
	for {
		select {
		case req := <-c.inbox:
			c.msgsIn.Inc()
			req.reply <- c.dispatch(req.msg)
		case <-c.done:
			return
		}
	}
}

// dispatch executes one request against the accessor table and returns its
// reply; callers addressing their own image invoke this directly instead
// of going through handle/the inbox, the "self-optimization" bypass
// described in spec.md §4.F.
func (c *Channel) dispatch(msg *transport.Message) *transport.Reply {
	switch msg.Cmd {
	case transport.CmdGet:
		return c.dispatchGet(msg)
	case transport.CmdPresent:
		return c.dispatchPresent(msg)
	case transport.CmdSend:
		return c.dispatchSend(msg)
	case transport.CmdTransfer:
		return c.dispatchTransfer(msg)
	default:
		return &transport.Reply{Err: "rfunc: unknown command"}
	}
}

// resolveAddData returns msg's add-data payload: inline AddData bytes
// normally, or a previously stashed running-access payload when the
// request is addressed by ra_id rather than a window (msg.Win == 0), per
// the "the id lets a request reference extra data that lives in its own
// message buffer" Running accesses contract.
func (c *Channel) resolveAddData(msg *transport.Message) []byte {
	if msg.Win == 0 && msg.RAID != 0 {
		if v, ok := c.running.Load(msg.RAID); ok {
			c.running.Delete(msg.RAID)
			return v.([]byte)
		}
	}
	return msg.AddData
}

// NewRunningAccess stashes payload under a fresh id, for a caller that
// cannot fit its add-data inline (e.g. it lives in its own message buffer,
// not in registered memory).
func (c *Channel) NewRunningAccess(payload []byte) int64 {
	id := c.nextRAID.Inc()
	c.running.Store(id, payload)
	return id
}

func (c *Channel) dispatchGet(msg *transport.Message) *transport.Reply {
	acc, ok := c.table.at(msg.AccessorIndex)
	if !ok || acc.kind != KindGetter {
		return &transport.Reply{Err: "rfunc: get: accessor not found or wrong kind"}
	}
	data, desc, err := acc.getter(c.resolveAddData(msg))
	if err != nil {
		return &transport.Reply{Err: err.Error()}
	}
	var flags transport.Flags
	if cdata, compressed := maybeCompress(data); compressed {
		data = cdata
		flags |= transport.FlagDataCompressed
	}
	rep := &transport.Reply{Data: data, Flags: flags}
	if msg.Flags.Has(transport.FlagIncludeDescriptor) && desc != nil {
		b, _ := desc.MarshalMsg(nil) //nolint:errcheck
		rep.Desc = b
	}
	return rep
}

func (c *Channel) dispatchPresent(msg *transport.Message) *transport.Reply {
	acc, ok := c.table.at(msg.AccessorIndex)
	if !ok || acc.kind != KindPredicate {
		return &transport.Reply{Err: "rfunc: present: accessor not found or wrong kind"}
	}
	present, err := acc.predicate(c.resolveAddData(msg))
	if err != nil {
		return &transport.Reply{Err: err.Error()}
	}
	b := byte(0)
	if present {
		b = 1
	}
	return &transport.Reply{Ack: present, Byte: b}
}

func (c *Channel) dispatchSend(msg *transport.Message) *transport.Reply {
	acc, ok := c.table.at(msg.AccessorIndex)
	if !ok || acc.kind != KindReceiver {
		return &transport.Reply{Err: "rfunc: send: accessor not found or wrong kind"}
	}
	data, err := decompressIfNeeded(msg.Data, msg.Flags)
	if err != nil {
		return &transport.Reply{Err: "rfunc: send: " + err.Error()}
	}
	if err := acc.receiver(c.resolveAddData(msg), data); err != nil {
		return &transport.Reply{Err: err.Error()}
	}
	return &transport.Reply{Ack: true, Byte: 1}
}

// dispatchTransfer implements the "transfer" command: fetch via the source
// accessor on this image, then compose a new "send" request carrying that
// data plus the destination-side add-data and forward it to the third
// image named by msg.ForwardImage. If that image is this one, the forward
// is performed locally without a further message.
func (c *Channel) dispatchTransfer(msg *transport.Message) *transport.Reply {
	acc, ok := c.table.at(msg.AccessorIndex)
	if !ok || acc.kind != KindGetter {
		return &transport.Reply{Err: "rfunc: transfer: source accessor not found or wrong kind"}
	}
	data, desc, err := acc.getter(c.resolveAddData(msg))
	if err != nil {
		return &transport.Reply{Err: err.Error()}
	}
	fwd := &transport.Message{
		Cmd:           transport.CmdSend,
		AccessorIndex: msg.DstAccessorIndex,
		AddData:       msg.DstAddData,
		Data:          data,
		TransferSize:  int64(len(data)),
		SrcImage:      c.imageID,
		DestImage:     msg.ForwardImage,
	}
	if cdata, compressed := maybeCompress(fwd.Data); compressed {
		fwd.Data = cdata
		fwd.Flags |= transport.FlagDataCompressed
	}
	if msg.Flags.Has(transport.FlagTransferDesc) && desc != nil {
		b, _ := desc.MarshalMsg(nil) //nolint:errcheck
		fwd.DstDesc = b
		fwd.Flags |= transport.FlagDstHasDesc
	}
	if msg.ForwardImage == c.imageID {
		return c.dispatchSend(fwd)
	}
	c.msgsOut.Inc()
	rep, err := c.job.Send(msg.ForwardImage, fwd)
	if err != nil {
		return &transport.Reply{Err: err.Error()}
	}
	return rep
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
