package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// SUBACK acknowledges a Subscribe, one return code per filter in the
// same order. MQTT v3.1.1 3.9.
type SUBACK struct {
	*FixedHeader
	PacketID    uint16
	ReturnCodes []ReasonCode
}

func (pkt *SUBACK) Kind() byte {
	return 0x9
}

func (pkt *SUBACK) Pack(w io.Writer) error {
	pkt.FixedHeader.Kind = 0x9
	buf := GetBuffer()
	defer PutBuffer(buf)
	buf.Write(i2b(pkt.PacketID))
	for _, rc := range pkt.ReturnCodes {
		buf.WriteByte(rc.Code)
	}
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *SUBACK) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 3 {
		return ErrMalformedPacket
	}
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
	for buf.Len() != 0 {
		pkt.ReturnCodes = append(pkt.ReturnCodes, ReasonCode{Code: buf.Next(1)[0]})
	}
	return nil
}
