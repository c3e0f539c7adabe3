package packet

import (
	"bytes"
	"testing"
)

func TestUNSUBACK_RoundTrip(t *testing.T) {
	pkt := &UNSUBACK{FixedHeader: &FixedHeader{Version: VERSION311}, PacketID: 5}
	buf := &bytes.Buffer{}
	if err := pkt.Pack(buf); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	got, err := Unpack(VERSION311, buf)
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	if got.(*UNSUBACK).PacketID != 5 {
		t.Errorf("got packet id=%d, want 5", got.(*UNSUBACK).PacketID)
	}
}
