package protocol

import (
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/danmuck/campaignd/internal/wml"
)

// Buffers renders d as the ordered wire buffers [metadata, size header, binary]
// so callers can hand them to a vectored write without joining them first.
func Buffers(d *NetworkData) (net.Buffers, error) {
	if _, _, ok := d.Root(); !ok {
		return nil, fmt.Errorf("%w: metadata needs exactly one root tag", ErrInvalidEnvelope)
	}
	meta := d.Metadata()
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	bin := d.Binary()
	header := strconv.AppendInt(make([]byte, 0, 21), int64(len(bin)), 10)
	header = append(header, '\n')

	bufs := net.Buffers{wml.Marshal(meta), header}
	if len(bin) > 0 {
		bufs = append(bufs, bin)
	}
	return bufs, nil
}

// Encode writes d to w and returns the number of bytes written.
func Encode(w io.Writer, d *NetworkData) (int64, error) {
	bufs, err := Buffers(d)
	if err != nil {
		return 0, err
	}
	return bufs.WriteTo(w)
}
