package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// UNSUBSCRIBE removes one or more topic subscriptions. MQTT v3.1.1
// 3.10. Fixed-header flags must be DUP=0, QoS=1, RETAIN=0.
type UNSUBSCRIBE struct {
	*FixedHeader
	PacketID     uint16
	TopicFilters []string
}

func (pkt *UNSUBSCRIBE) Kind() byte {
	return 0xA
}

func (pkt *UNSUBSCRIBE) Pack(w io.Writer) error {
	pkt.FixedHeader.Kind = 0xA
	buf := GetBuffer()
	defer PutBuffer(buf)
	buf.Write(i2b(pkt.PacketID))
	if len(pkt.TopicFilters) == 0 {
		return ErrProtocolViolationNoFilters
	}
	for _, filter := range pkt.TopicFilters {
		buf.Write(s2b(filter))
	}
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *UNSUBSCRIBE) Unpack(buf *bytes.Buffer) error {
	if pkt.Dup != 0x0 || pkt.QoS != 0x1 || pkt.Retain != 0x0 {
		return ErrMalformedFlags
	}
	if buf.Len() < 2 {
		return ErrMalformedPacketID
	}
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
	for buf.Len() != 0 {
		if buf.Len() < 2 {
			return ErrMalformedTopic
		}
		pkt.TopicFilters = append(pkt.TopicFilters, decodeUTF8[string](buf))
	}
	if len(pkt.TopicFilters) == 0 {
		return ErrProtocolViolationNoFilters
	}
	return nil
}
