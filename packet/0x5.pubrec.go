package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// PUBREC is the first step of the QoS 2 handshake. MQTT v3.1.1 3.5.
//
// This broker answers the QoS 2 handshake (Pubrec, Pubrel, Pubcomp) so
// a client's exchange completes, but never forwards a QoS 2 publish to
// subscribers.
type PUBREC struct {
	*FixedHeader
	PacketID uint16
}

func (pkt *PUBREC) Kind() byte {
	return 0x5
}

func (pkt *PUBREC) Pack(w io.Writer) error {
	pkt.FixedHeader.Kind = 0x5
	pkt.FixedHeader.RemainingLength = 2
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := w.Write(i2b(pkt.PacketID))
	return err
}

func (pkt *PUBREC) Unpack(buf *bytes.Buffer) error {
	if buf.Len() != 2 {
		return ErrMalformedPacketID
	}
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
	return nil
}
