// Package wire sits between the MQTT packet codec and the raw socket,
// applying the broker's optional per-packet AES-256-GCM transform
// when a cipher is configured. With a nil cipher it is a thin pass
// through to packet.Pack/packet.Unpack.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/sauronmq/broker/internal/crypt"
	"github.com/sauronmq/broker/packet"
)

// WritePacket encodes pkt and writes it to w. When cipher is non-nil,
// the encoded bytes are sealed and sent as a 4-byte big-endian
// length-prefixed frame; encryption changes the wire framing, so both
// ends of a connection must agree on whether it is enabled.
func WritePacket(w io.Writer, pkt packet.Packet, cipher *crypt.Cipher) error {
	if cipher == nil {
		return pkt.Pack(w)
	}
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err != nil {
		return err
	}
	sealed, err := cipher.Seal(buf.Bytes())
	if err != nil {
		return err
	}
	frame := make([]byte, 4+len(sealed))
	binary.BigEndian.PutUint32(frame, uint32(len(sealed)))
	copy(frame[4:], sealed)
	_, err = w.Write(frame)
	return err
}

// Reader decodes one MQTT packet at a time from an underlying stream,
// transparently unsealing length-prefixed encrypted frames when
// cipher is set.
type Reader struct {
	r       *bufio.Reader
	version byte
	cipher  *crypt.Cipher
}

// NewReader wraps r. version is the protocol version passed to
// packet.Unpack for every decoded packet; it is usually 0 until the
// Connect packet itself reveals it, after which callers should call
// SetVersion.
func NewReader(r io.Reader, version byte, cipher *crypt.Cipher) *Reader {
	return &Reader{r: bufio.NewReader(r), version: version, cipher: cipher}
}

// SetVersion updates the protocol version used for subsequent decodes,
// once a Connect packet has revealed it.
func (pr *Reader) SetVersion(version byte) {
	pr.version = version
}

// Next decodes the next packet, blocking until one full packet (or
// frame, under encryption) has arrived.
func (pr *Reader) Next() (packet.Packet, error) {
	if pr.cipher == nil {
		return packet.Unpack(pr.version, pr.r)
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(pr.r, lenBuf[:]); err != nil {
		return nil, err
	}
	sealed := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(pr.r, sealed); err != nil {
		return nil, err
	}
	plain, err := pr.cipher.Open(sealed)
	if err != nil {
		return nil, err
	}
	return packet.Unpack(pr.version, bytes.NewReader(plain))
}
