// Package session implements a broker client session (C4): the
// identifier, socket, subscription list, and liveness flag the task
// dispatcher mutates on every Connect/Subscribe/Publish/Disconnect.
package session

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/sauronmq/broker/internal/crypt"
	"github.com/sauronmq/broker/internal/wire"
	"github.com/sauronmq/broker/packet"
	"github.com/sauronmq/broker/topic"
)

type subscription struct {
	raw    string
	filter topic.Filter
}

// Session is the broker-side record of one connected identity.
// Subscriptions persist until the identity is explicitly removed;
// the stream is behind mu so the dispatcher's Connack/Publish/etc
// writes through Send never interleave bytes with each other. The
// listener's QoS 2 handshake replies are written under the listener's
// own lock, not this one.
type Session struct {
	ID       string
	Username string
	Password string
	Version  byte
	Will     *packet.Will

	conn   net.Conn
	cipher *crypt.Cipher
	mu     sync.Mutex
	alive  atomic.Bool

	subMu sync.Mutex
	subs  []subscription

	packetID uint16
}

// New wraps an accepted connection as a live session. cipher is nil
// unless the server has the optional per-packet encryption transform
// enabled, in which case every Send seals its packet the same way the
// listener's reader thread unseals inbound ones.
func New(id, username, password string, version byte, will *packet.Will, conn net.Conn, cipher *crypt.Cipher) *Session {
	s := &Session{ID: id, Username: username, Password: password, Version: version, Will: will, conn: conn, cipher: cipher}
	s.alive.Store(true)
	return s
}

// Alive reports whether the session's stream is still considered
// usable. A failed Send flips this to false.
func (s *Session) Alive() bool {
	return s.alive.Load()
}

// AddSubscription appends filter under raw. Subscribing twice to the
// same filter is not deduplicated: both entries are kept.
func (s *Session) AddSubscription(raw string, filter topic.Filter) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, subscription{raw: raw, filter: filter})
}

// RemoveSubscription drops every entry registered under raw.
func (s *Session) RemoveSubscription(raw string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	kept := s.subs[:0]
	for _, sub := range s.subs {
		if sub.raw != raw {
			kept = append(kept, sub)
		}
	}
	s.subs = kept
}

// Filters returns every filter currently registered for this session,
// for callers that need to clean up an external index on Close.
func (s *Session) Filters() []topic.Filter {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]topic.Filter, len(s.subs))
	for i, sub := range s.subs {
		out[i] = sub.filter
	}
	return out
}

// IsSubscribed reports whether any of the session's filters match name.
func (s *Session) IsSubscribed(name topic.Name) bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		if topic.Match(sub.filter, name) {
			return true
		}
	}
	return false
}

// NextPacketID returns the next outbound packet identifier for this
// session, starting at 1.
func (s *Session) NextPacketID() uint16 {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.packetID++
	return s.packetID
}

// Send encodes and writes pkt to the session's stream. A write error
// marks the session dead; the caller is responsible for posting a
// disconnect task in response.
func (s *Session) Send(pkt packet.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := wire.WritePacket(s.conn, pkt, s.cipher); err != nil {
		s.alive.Store(false)
		return err
	}
	return nil
}

// Close marks the session dead and closes its underlying stream.
func (s *Session) Close() error {
	s.alive.Store(false)
	return s.conn.Close()
}
