package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// PUBCOMP is the third step of the QoS 2 handshake. MQTT v3.1.1 3.7.
type PUBCOMP struct {
	*FixedHeader
	PacketID uint16
}

func (pkt *PUBCOMP) Kind() byte {
	return 0x7
}

func (pkt *PUBCOMP) Pack(w io.Writer) error {
	pkt.FixedHeader.Kind = 0x7
	pkt.FixedHeader.RemainingLength = 2
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := w.Write(i2b(pkt.PacketID))
	return err
}

func (pkt *PUBCOMP) Unpack(buf *bytes.Buffer) error {
	if buf.Len() != 2 {
		return ErrMalformedPacketID
	}
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
	return nil
}
