package packet

import (
	"bytes"
	"testing"
)

func TestPUBREC_RoundTrip(t *testing.T) {
	pkt := &PUBREC{FixedHeader: &FixedHeader{Version: VERSION311}, PacketID: 9}
	buf := &bytes.Buffer{}
	if err := pkt.Pack(buf); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	got, err := Unpack(VERSION311, buf)
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	if got.(*PUBREC).PacketID != 9 {
		t.Errorf("got packet id=%d, want 9", got.(*PUBREC).PacketID)
	}
}
