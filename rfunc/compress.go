package rfunc

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v3"

	"github.com/sourceryinstitute/libcaf-go/cmn/config"
	"github.com/sourceryinstitute/libcaf-go/transport"
)

// maybeCompress lz4-frames data when the channel's compression knob is on
// and data is large enough to be worth the CPU, mirroring the teacher's
// transport dmExtra.Compression knob on its own send path. It reports
// whether it compressed, so the caller can set FlagDataCompressed.
func maybeCompress(data []byte) ([]byte, bool) {
	c := config.Get()
	if !c.CompressChannelPayloads || int64(len(data)) < c.CompressMinSize {
		return data, false
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return data, false
	}
	if err := w.Close(); err != nil {
		return data, false
	}
	return buf.Bytes(), true
}

// decompressIfNeeded undoes maybeCompress based on the flag the sender set.
func decompressIfNeeded(data []byte, flags transport.Flags) ([]byte, error) {
	if !flags.Has(transport.FlagDataCompressed) {
		return data, nil
	}
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}
