package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// TCP frame kinds. Line-delimited JSON alone can't carry raw stream
// bytes, so the TCP transport instead length-prefixes every frame with a
// one-byte kind tag ahead of a uint32 LE length: kind 0 is a JSON
// request/response/event, kind 1 is a stream binary payload (itself
// already self-framed as local_index || bytes, per spec).
const (
	TCPFrameJSON   byte = 0
	TCPFrameStream byte = 1
)

// WriteTCPFrame writes one length-prefixed frame of the given kind.
func WriteTCPFrame(w io.Writer, kind byte, payload []byte) error {
	header := make([]byte, 5)
	header[0] = kind
	binary.LittleEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadTCPFrame reads one length-prefixed frame, returning its kind and
// payload.
func ReadTCPFrame(r *bufio.Reader) (kind byte, payload []byte, err error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	kind = header[0]
	if kind != TCPFrameJSON && kind != TCPFrameStream {
		return 0, nil, fmt.Errorf("wire: unknown tcp frame kind %d", kind)
	}
	length := binary.LittleEndian.Uint32(header[1:])
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return kind, payload, nil
}
