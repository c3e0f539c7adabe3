package packet

import (
	"bytes"
	"fmt"
	"io"
)

// CONNECT opens a session. MQTT v3.1.1 3.1. It is the only packet a
// server may legally receive first on a new connection.
type CONNECT struct {
	*FixedHeader

	ConnectFlags
	KeepAlive uint16

	ClientID string

	WillTopic   string
	WillPayload []byte

	Username string
	Password string
}

// ConnectFlags is the decoded form of the single connect-flags byte,
// MQTT v3.1.1 3.1.2.2. Bit 0 (reserved) must be 0 on the wire; it is
// not represented here because it never has an observable value.
type ConnectFlags struct {
	CleanSession bool
	WillFlag     bool
	WillQoS      uint8
	WillRetain   bool
	PasswordFlag bool
	UsernameFlag bool
}

var protocolNamePrefix = []byte{0x00, 0x04, 'M', 'Q', 'T', 'T'}

func (pkt *CONNECT) Kind() byte {
	return 0x1
}

func (pkt *CONNECT) String() string {
	return fmt.Sprintf("[0x1]CONNECT client_id=%s clean_session=%v", pkt.ClientID, pkt.CleanSession)
}

// Will reports the Connect's optional will message, nil if WillFlag is unset.
func (pkt *CONNECT) Will() *Will {
	if !pkt.WillFlag {
		return nil
	}
	return &Will{QoS: pkt.WillQoS, Retain: pkt.WillRetain, Topic: pkt.WillTopic, Message: pkt.WillPayload}
}

// Will is the optional message the broker publishes on the client's
// behalf when it disconnects without a clean Disconnect.
type Will struct {
	QoS     uint8
	Retain  bool
	Topic   string
	Message []byte
}

func (pkt *CONNECT) flagsByte() (byte, error) {
	if pkt.PasswordFlag && !pkt.UsernameFlag {
		return 0, ErrProtocolViolationPasswordNoFlag
	}
	if !pkt.WillFlag && (pkt.WillQoS != 0 || pkt.WillRetain) {
		return 0, ErrProtocolViolationWillFlagQos
	}
	if pkt.WillQoS > 2 {
		return 0, ErrProtocolViolationQosOutOfRange
	}
	var b byte
	if pkt.CleanSession {
		b |= 1 << 1
	}
	if pkt.WillFlag {
		b |= 1 << 2
	}
	b |= pkt.WillQoS << 3
	if pkt.WillRetain {
		b |= 1 << 5
	}
	if pkt.PasswordFlag {
		b |= 1 << 6
	}
	if pkt.UsernameFlag {
		b |= 1 << 7
	}
	return b, nil
}

func (pkt *CONNECT) Pack(w io.Writer) error {
	pkt.FixedHeader.Kind = 0x1
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(protocolNamePrefix)
	buf.WriteByte(pkt.Version)

	flags, err := pkt.flagsByte()
	if err != nil {
		return err
	}
	buf.WriteByte(flags)
	buf.Write(i2b(pkt.KeepAlive))

	buf.Write(s2b(pkt.ClientID))
	if pkt.WillFlag {
		buf.Write(s2b(pkt.WillTopic))
		buf.Write(s2b(string(pkt.WillPayload)))
	}
	if pkt.UsernameFlag {
		buf.Write(s2b(pkt.Username))
	}
	if pkt.PasswordFlag {
		buf.Write(s2b(pkt.Password))
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err = buf.WriteTo(w)
	return err
}

func (pkt *CONNECT) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 10 {
		return ErrMalformedProtocolName
	}
	if !bytes.Equal(buf.Next(6), protocolNamePrefix) {
		return ErrMalformedProtocolName
	}
	pkt.Version = buf.Next(1)[0]

	flags := buf.Next(1)[0]
	if flags&0x01 != 0 {
		return ErrProtocolViolationReservedBit
	}
	pkt.CleanSession = flags&(1<<1) != 0
	pkt.WillFlag = flags&(1<<2) != 0
	pkt.WillQoS = (flags >> 3) & 0x03
	pkt.WillRetain = flags&(1<<5) != 0
	pkt.PasswordFlag = flags&(1<<6) != 0
	pkt.UsernameFlag = flags&(1<<7) != 0

	if !pkt.WillFlag && (pkt.WillQoS != 0 || pkt.WillRetain) {
		return ErrProtocolViolationWillFlagQos
	}
	if pkt.WillQoS > 2 {
		return ErrProtocolViolationQosOutOfRange
	}
	if pkt.PasswordFlag && !pkt.UsernameFlag {
		return ErrProtocolViolationPasswordNoFlag
	}

	if buf.Len() < 2 {
		return ErrMalformedPacket
	}
	ka := buf.Next(2)
	pkt.KeepAlive = uint16(ka[0])<<8 | uint16(ka[1])
	return pkt.unpackPayload(buf)
}

func (pkt *CONNECT) unpackPayload(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return ErrMalformedPacket
	}
	pkt.ClientID = decodeUTF8[string](buf)

	if pkt.WillFlag {
		if buf.Len() < 2 {
			return ErrMalformedWillTopic
		}
		pkt.WillTopic = decodeUTF8[string](buf)
		if err := validateTopicName(pkt.WillTopic); err != nil {
			return err
		}
		if buf.Len() < 2 {
			return ErrMalformedWillTopic
		}
		pkt.WillPayload = []byte(decodeUTF8[string](buf))
	}
	if pkt.UsernameFlag {
		if buf.Len() < 2 {
			return ErrMalformedUsername
		}
		pkt.Username = decodeUTF8[string](buf)
	}
	if pkt.PasswordFlag {
		if buf.Len() < 2 {
			return ErrMalformedPassword
		}
		pkt.Password = decodeUTF8[string](buf)
	}
	if buf.Len() != 0 {
		return ErrMalformedPacket
	}
	return nil
}
