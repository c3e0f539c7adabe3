package packet

import (
	"bytes"
	"testing"
)

func TestDISCONNECT_RoundTrip(t *testing.T) {
	pkt := &DISCONNECT{FixedHeader: &FixedHeader{Version: VERSION311}}
	buf := &bytes.Buffer{}
	if err := pkt.Pack(buf); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	want := []byte{0xE0, 0x00}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got % X, want % X", buf.Bytes(), want)
	}
	got, err := Unpack(VERSION311, bytes.NewReader(want))
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	if got.Kind() != 0xE {
		t.Errorf("got kind=%d, want 0xE", got.Kind())
	}
}
