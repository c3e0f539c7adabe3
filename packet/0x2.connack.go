package packet

import (
	"bytes"
	"fmt"
	"io"
)

// CONNACK acknowledges a Connect. MQTT v3.1.1 3.2.
type CONNACK struct {
	*FixedHeader

	// SessionPresent occupies bit 0 of the first variable-header byte;
	// bits 7-1 are reserved and must be 0. Meaningful only when the
	// preceding Connect had CleanSession=0 (always false in this broker,
	// which never persists sessions across a disconnect).
	SessionPresent uint8

	// ConnectReturnCode is one of the codes in 3.2.2.3.
	ConnectReturnCode ReasonCode
}

func (pkt *CONNACK) Kind() byte {
	return 0x2
}

func (pkt *CONNACK) String() string {
	return fmt.Sprintf("[0x2]CONNACK return=%d", pkt.ConnectReturnCode.Code)
}

func (pkt *CONNACK) Pack(w io.Writer) error {
	pkt.FixedHeader.Kind = 0x2
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.WriteByte(pkt.SessionPresent & 0x01)
	buf.WriteByte(pkt.ConnectReturnCode.Code)

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *CONNACK) Unpack(buf *bytes.Buffer) error {
	if buf.Len() != 2 {
		return ErrMalformedPacket
	}
	b := buf.Next(2)
	if b[0]&0xFE != 0 {
		return ErrMalformedPacket
	}
	pkt.SessionPresent = b[0]
	pkt.ConnectReturnCode = ReasonCode{Code: b[1]}
	return nil
}
