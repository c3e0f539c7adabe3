package session

import (
	"net"
	"testing"

	"github.com/sauronmq/broker/internal/crypt"
	"github.com/sauronmq/broker/packet"
	"github.com/sauronmq/broker/topic"
)

func testCipher(t *testing.T) *crypt.Cipher {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := crypt.New(key)
	if err != nil {
		t.Fatalf("crypt.New: %v", err)
	}
	return c
}

func mustFilter(t *testing.T, raw string) topic.Filter {
	t.Helper()
	f, err := topic.ParseFilter(raw)
	if err != nil {
		t.Fatalf("ParseFilter(%q): %v", raw, err)
	}
	return f
}

func mustName(t *testing.T, raw string) topic.Name {
	t.Helper()
	n, err := topic.ParseName(raw)
	if err != nil {
		t.Fatalf("ParseName(%q): %v", raw, err)
	}
	return n
}

func TestSessionAlive(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	s := New("id-1", "alice", "pw", packet.VERSION311, nil, server, nil)

	if !s.Alive() {
		t.Fatal("a newly created session should be alive")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() returned %v", err)
	}
	if s.Alive() {
		t.Error("session should not be alive after Close")
	}
}

func TestSessionSubscriptionLifecycle(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	s := New("id-1", "alice", "pw", packet.VERSION311, nil, server, nil)
	defer s.Close()

	name := mustName(t, "drone-data/7")
	if s.IsSubscribed(name) {
		t.Fatal("should not be subscribed before AddSubscription")
	}

	s.AddSubscription("drone-data/+", mustFilter(t, "drone-data/+"))
	if !s.IsSubscribed(name) {
		t.Error("should be subscribed after AddSubscription")
	}

	// Re-adding under the same raw filter stacks rather than replacing.
	s.AddSubscription("drone-data/+", mustFilter(t, "drone-data/+"))
	if !s.IsSubscribed(name) {
		t.Error("should still be subscribed after re-adding the same filter")
	}

	s.RemoveSubscription("drone-data/+")
	if s.IsSubscribed(name) {
		t.Error("should not be subscribed after RemoveSubscription")
	}
}

func TestSessionAddSubscriptionDoesNotDeduplicate(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	s := New("id-1", "alice", "pw", packet.VERSION311, nil, server, nil)
	defer s.Close()

	s.AddSubscription("drone-data/+", mustFilter(t, "drone-data/+"))
	s.AddSubscription("drone-data/+", mustFilter(t, "drone-data/+"))
	if got := len(s.Filters()); got != 2 {
		t.Errorf("len(Filters()) = %d, want 2 after subscribing twice to the same filter", got)
	}
}

func TestSessionNextPacketIDIncrementsFromOne(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	s := New("id-1", "alice", "pw", packet.VERSION311, nil, server, nil)
	defer s.Close()

	if got := s.NextPacketID(); got != 1 {
		t.Errorf("first packet id = %d, want 1", got)
	}
	if got := s.NextPacketID(); got != 2 {
		t.Errorf("second packet id = %d, want 2", got)
	}
}

func TestSessionSendMarksDeadOnWriteError(t *testing.T) {
	server, client := net.Pipe()
	client.Close() // closing the peer makes writes on server fail
	s := New("id-1", "alice", "pw", packet.VERSION311, nil, server, nil)

	pingresp := &packet.PINGRESP{FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: 0xD}}
	if err := s.Send(pingresp); err == nil {
		t.Fatal("Send on a closed peer should fail")
	}
	if s.Alive() {
		t.Error("a failed Send should mark the session dead")
	}
}

func TestSessionWill(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	will := &packet.Will{Topic: "status/camera-1", Message: []byte("offline")}
	s := New("id-1", "alice", "pw", packet.VERSION311, will, server, nil)
	defer s.Close()

	if s.Will == nil || s.Will.Topic != "status/camera-1" {
		t.Error("session should carry the Connect's will")
	}
}

func TestSessionSendSealsUnderCipher(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	s := New("id-1", "alice", "pw", packet.VERSION311, nil, server, testCipher(t))
	defer s.Close()

	done := make(chan error, 1)
	go func() {
		pong := &packet.PINGRESP{FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: 0xD}}
		done <- s.Send(pong)
	}()

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	// A sealed PINGRESP carries a 4-byte length prefix plus a 12-byte
	// nonce and GCM tag around the 2-byte cleartext body, so it is
	// strictly longer than the 2 raw bytes an unsealed PINGRESP would be.
	if n <= 2 {
		t.Errorf("sealed frame length = %d, want > 2 (raw PINGRESP size)", n)
	}
}
