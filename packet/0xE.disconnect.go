package packet

import (
	"bytes"
	"io"
)

// DISCONNECT notifies a clean disconnection. MQTT v3.1.1 3.14. No
// variable header or payload in this version.
type DISCONNECT struct {
	*FixedHeader
}

func (pkt *DISCONNECT) Kind() byte {
	return 0xE
}

func (pkt *DISCONNECT) Pack(w io.Writer) error {
	pkt.FixedHeader.Kind = 0xE
	pkt.FixedHeader.RemainingLength = 0
	return pkt.FixedHeader.Pack(w)
}

func (pkt *DISCONNECT) Unpack(buf *bytes.Buffer) error {
	if buf.Len() != 0 {
		return ErrMalformedPacket
	}
	return nil
}
