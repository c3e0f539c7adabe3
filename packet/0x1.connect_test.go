package packet

import (
	"bytes"
	"errors"
	"testing"
)

func TestCONNECT_RoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		pkt  *CONNECT
	}{
		{
			name: "clean session, no will, no auth",
			pkt: &CONNECT{
				FixedHeader:  &FixedHeader{Version: VERSION311},
				ConnectFlags: ConnectFlags{CleanSession: true},
				KeepAlive:    60,
				ClientID:     "",
			},
		},
		{
			name: "with username and password",
			pkt: &CONNECT{
				FixedHeader:  &FixedHeader{Version: VERSION311},
				ConnectFlags: ConnectFlags{CleanSession: true, UsernameFlag: true, PasswordFlag: true},
				KeepAlive:    30,
				ClientID:     "cam",
				Username:     "alice",
				Password:     "secret",
			},
		},
		{
			name: "with will",
			pkt: &CONNECT{
				FixedHeader:  &FixedHeader{Version: VERSION311},
				ConnectFlags: ConnectFlags{CleanSession: true, WillFlag: true, WillQoS: 1, WillRetain: true},
				KeepAlive:    15,
				ClientID:     "drone-1",
				WillTopic:    "drone-data/1",
				WillPayload:  []byte("offline"),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			if err := tc.pkt.Pack(buf); err != nil {
				t.Fatalf("Pack() error = %v", err)
			}
			got, err := Unpack(VERSION311, buf)
			if err != nil {
				t.Fatalf("Unpack() error = %v", err)
			}
			c, ok := got.(*CONNECT)
			if !ok {
				t.Fatalf("Unpack() returned %T, want *CONNECT", got)
			}
			if c.ClientID != tc.pkt.ClientID || c.Username != tc.pkt.Username || c.Password != tc.pkt.Password {
				t.Errorf("round trip mismatch: got %+v, want %+v", c, tc.pkt)
			}
			if c.ConnectFlags != tc.pkt.ConnectFlags {
				t.Errorf("flags mismatch: got %+v, want %+v", c.ConnectFlags, tc.pkt.ConnectFlags)
			}
		})
	}
}

func TestCONNECT_Scenario1Bytes(t *testing.T) {
	// 10 0C 00 04 4D 51 54 54 04 02 00 3C 00 00
	wire := []byte{0x10, 0x0C, 0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04, 0x02, 0x00, 0x3C, 0x00, 0x00}
	got, err := Unpack(VERSION311, bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	c := got.(*CONNECT)
	if !c.CleanSession || c.KeepAlive != 60 || c.ClientID != "" {
		t.Errorf("got %+v, want clean_session=true keep_alive=60 client_id=\"\"", c)
	}
}

func TestCONNECT_RejectReservedBit(t *testing.T) {
	wire := []byte{0x10, 0x0C, 0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04, 0x03, 0x00, 0x3C, 0x00, 0x00}
	_, err := Unpack(VERSION311, bytes.NewReader(wire))
	if !errors.Is(err, error(ErrProtocolViolationReservedBit)) {
		t.Errorf("got err=%v, want ErrProtocolViolationReservedBit", err)
	}
}

func TestCONNECT_RejectWillQosWithoutWillFlag(t *testing.T) {
	pkt := &CONNECT{
		FixedHeader:  &FixedHeader{Version: VERSION311},
		ConnectFlags: ConnectFlags{CleanSession: true, WillQoS: 1},
		ClientID:     "x",
	}
	if _, err := pkt.flagsByte(); err == nil {
		t.Error("expected error packing will-qos without will-flag")
	}
}

func TestCONNECT_RejectPasswordWithoutUsername(t *testing.T) {
	wire := []byte{0x10, 0x0C, 0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04, 0x40, 0x00, 0x3C, 0x00, 0x00}
	_, err := Unpack(VERSION311, bytes.NewReader(wire))
	if err == nil {
		t.Error("expected error for password flag without username flag")
	}
}
