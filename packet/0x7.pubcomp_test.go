package packet

import (
	"bytes"
	"testing"
)

func TestPUBCOMP_RoundTrip(t *testing.T) {
	pkt := &PUBCOMP{FixedHeader: &FixedHeader{Version: VERSION311}, PacketID: 11}
	buf := &bytes.Buffer{}
	if err := pkt.Pack(buf); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	got, err := Unpack(VERSION311, buf)
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	if got.(*PUBCOMP).PacketID != 11 {
		t.Errorf("got packet id=%d, want 11", got.(*PUBCOMP).PacketID)
	}
}
