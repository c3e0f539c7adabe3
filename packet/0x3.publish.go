package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// PUBLISH carries an application message. MQTT v3.1.1 3.3.
//
// Flags (fixed header): DUP (bit 3), QoS (bits 2-1), RETAIN (bit 0).
type PUBLISH struct {
	*FixedHeader

	// PacketID is present only when QoS > 0 [MQTT-2.3.1-5].
	PacketID uint16

	Message *Message
}

// Message is the variable-header topic name plus the payload.
type Message struct {
	TopicName string
	Content   []byte
}

func (m *Message) String() string {
	return fmt.Sprintf("topic=%s len(content)=%d", m.TopicName, len(m.Content))
}

func (pkt *PUBLISH) Kind() byte {
	return 0x3
}

func validateTopicName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty topic name", ErrProtocolViolationInvalidTopic)
	}
	if strings.ContainsAny(name, "+#") {
		return fmt.Errorf("%w: topic name contains wildcard characters", ErrProtocolViolationSurplusWildcard)
	}
	return nil
}

func (pkt *PUBLISH) Pack(w io.Writer) error {
	pkt.FixedHeader.Kind = 0x3
	buf := GetBuffer()
	defer PutBuffer(buf)

	if pkt.FixedHeader.QoS == 3 {
		return ErrProtocolViolationQosOutOfRange
	}
	if err := validateTopicName(pkt.Message.TopicName); err != nil {
		return err
	}

	buf.Write(s2b(pkt.Message.TopicName))
	if pkt.FixedHeader.QoS > 0 {
		if pkt.PacketID == 0 {
			return ErrMalformedPacketID
		}
		buf.Write(i2b(pkt.PacketID))
	}
	buf.Write(pkt.Message.Content)

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *PUBLISH) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return ErrMalformedTopic
	}
	topicLength := int(binary.BigEndian.Uint16(buf.Next(2)))
	if buf.Len() < topicLength {
		return ErrMalformedTopic
	}
	pkt.Message = &Message{TopicName: string(buf.Next(topicLength))}
	if err := validateTopicName(pkt.Message.TopicName); err != nil {
		return err
	}

	if pkt.FixedHeader.QoS > 0 {
		if buf.Len() < 2 {
			return ErrMalformedPacketID
		}
		pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
		if pkt.PacketID == 0 {
			return ErrMalformedPacketID
		}
	}

	// deep copy: buf is returned to the pool after Unpack returns
	pkt.Message.Content = append([]byte{}, buf.Bytes()...)
	return nil
}
