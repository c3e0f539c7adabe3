package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// SUBSCRIBE requests one or more topic subscriptions. MQTT v3.1.1 3.8.
// Fixed-header flags must be DUP=0, QoS=1, RETAIN=0 [MQTT-3.8.1-1].
type SUBSCRIBE struct {
	*FixedHeader
	PacketID      uint16
	Subscriptions []Subscription
}

// Subscription is one (filter, requested QoS) pair from a Subscribe payload.
type Subscription struct {
	TopicFilter string
	MaximumQoS  byte
}

func (s *Subscription) String() string {
	return s.TopicFilter + "/" + string('0'+s.MaximumQoS)
}

func (pkt *SUBSCRIBE) Kind() byte {
	return 0x8
}

func (pkt *SUBSCRIBE) Pack(w io.Writer) error {
	pkt.FixedHeader.Kind = 0x8
	buf := GetBuffer()
	defer PutBuffer(buf)
	buf.Write(i2b(pkt.PacketID))

	if len(pkt.Subscriptions) == 0 {
		return ErrProtocolViolationNoFilters
	}
	for _, subscription := range pkt.Subscriptions {
		if subscription.TopicFilter == "" {
			return ErrProtocolViolationNoFilters
		}
		buf.Write(s2b(subscription.TopicFilter))
		buf.WriteByte(subscription.MaximumQoS)
	}
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *SUBSCRIBE) Unpack(buf *bytes.Buffer) error {
	if pkt.Dup != 0x0 || pkt.QoS != 0x1 || pkt.Retain != 0x0 {
		return ErrMalformedFlags
	}
	if buf.Len() < 2 {
		return ErrMalformedPacketID
	}
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))

	for buf.Len() != 0 {
		if buf.Len() < 3 {
			return ErrMalformedPacket
		}
		subscription := Subscription{}
		subscription.TopicFilter = decodeUTF8[string](buf)
		qos := buf.Next(1)[0]
		if qos&0xFC != 0 {
			return ErrMalformedFlags
		}
		if qos > 0x02 {
			return ErrProtocolViolationQosOutOfRange
		}
		subscription.MaximumQoS = qos
		pkt.Subscriptions = append(pkt.Subscriptions, subscription)
	}
	if len(pkt.Subscriptions) == 0 {
		return ErrProtocolViolationNoFilters
	}
	return nil
}
