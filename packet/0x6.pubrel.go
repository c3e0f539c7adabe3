package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// PUBREL is the second step of the QoS 2 handshake. MQTT v3.1.1 3.6.
// Fixed-header flags must be DUP=0, QoS=1, RETAIN=0.
type PUBREL struct {
	*FixedHeader
	PacketID uint16
}

func (pkt *PUBREL) Kind() byte {
	return 0x6
}

func (pkt *PUBREL) Pack(w io.Writer) error {
	pkt.FixedHeader.Kind = 0x6
	pkt.FixedHeader.RemainingLength = 2
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := w.Write(i2b(pkt.PacketID))
	return err
}

func (pkt *PUBREL) Unpack(buf *bytes.Buffer) error {
	if buf.Len() != 2 {
		return ErrMalformedPacketID
	}
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
	return nil
}
