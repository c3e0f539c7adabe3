package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sauronmq/broker/internal/crypt"
	"github.com/sauronmq/broker/internal/wire"
	"github.com/sauronmq/broker/packet"
	"golang.org/x/net/websocket"
)

// conn is the listener side of one accepted connection (C7's reader
// thread). It owns nothing but the socket and enough identity to
// label the tasks it posts; all durable per-client state lives in the
// session the dispatcher creates on a successful Connect.
type conn struct {
	server *Server

	cancelCtx context.CancelFunc

	rwc        net.Conn
	remoteAddr string

	tlsState *tls.ConnectionState

	curState atomic.Uint64 // packed (unix time<<8|uint8(ConnState))

	inFight   *InFight // QoS2 packets parsed but never progressed past Pubcomp
	ID        string
	version   byte
	PacketID  uint16
	connected bool // true once this stream's first packet (Connect) has been posted
	mu        sync.Mutex

	cipher *crypt.Cipher // non-nil enables the optional per-packet AES-256-GCM transform
	reader *wire.Reader
}

func (c *conn) setState(nc net.Conn, state ConnState, runHook bool) {
	srv := c.server
	switch state {
	case StateNew:
		srv.trackConn(c, true)
	case StateHijacked, StateClosed:
		srv.trackConn(c, false)
	default:
	}
	if state > 0xFF || state < 0 {
		panic("invalid conn state")
	}
	packedState := uint64(time.Now().Unix()<<8) | uint64(state)
	c.curState.Store(packedState)
	if !runHook {
		return
	}
	if hook := srv.ConnState; hook != nil {
		hook(nc, state)
	}
}

func (c *conn) Write(w []byte) (int, error) {
	if c.rwc == nil {
		return 0, fmt.Errorf("connection is nil or closed")
	}
	return c.rwc.Write(w)
}

func (c *conn) getState() (state ConnState, unixSec int64) {
	packedState := c.curState.Load()
	return ConnState(packedState & 0xFF), int64(packedState >> 8)
}

func (c *conn) close() {
	_ = c.rwc.Close()
}

// serve is the reader thread: decode, classify, post task, repeat.
// It never mutates shared broker state directly — every effect goes
// through server.dispatcher.Post.
func (c *conn) serve(ctx context.Context) {
	if ws, ok := c.rwc.(*websocket.Conn); ok {
		if req := ws.Request(); req != nil {
			c.remoteAddr = req.RemoteAddr
		}
	} else if ra := c.rwc.RemoteAddr(); ra != nil {
		c.remoteAddr = ra.String()
	}

	c.server.log().Info("connection accepted", zap.String("remote", c.remoteAddr))

	graceful := false
	defer func() {
		if err := recover(); err != nil && err != ErrAbortHandler {
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			c.server.log().Error("panic serving connection", zap.String("remote", c.remoteAddr), zap.Any("panic", err))
			c.server.log().Error(string(buf))
		}
		c.close()
		c.setState(c.rwc, StateClosed, true)
		if c.ID != "" {
			c.server.dispatcher.Post(task{kind: taskDisconnect, clientID: c.ID, graceful: graceful})
		}
	}()

	if tlsConn, ok := c.rwc.(*tls.Conn); ok {
		tlsTO := 10 * time.Second
		if tlsTO > 0 {
			dl := time.Now().Add(tlsTO)
			_ = c.rwc.SetReadDeadline(dl)
			_ = c.rwc.SetWriteDeadline(dl)
		}
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			var reason string
			if re, ok := err.(tls.RecordHeaderError); ok && re.Conn != nil {
				_, _ = io.WriteString(re.Conn, "HTTP/1.0 400 Bad Request\r\n\r\nClient sent an HTTP request to an HTTPS server.\n")
				_ = re.Conn.Close()
				reason = "client sent an HTTP request to an HTTPS server"
			} else {
				reason = err.Error()
			}
			c.server.log().Error("TLS handshake error", zap.String("remote", c.remoteAddr), zap.String("reason", reason))
			return
		}
		if tlsTO > 0 {
			_ = c.rwc.SetReadDeadline(time.Time{})
			_ = c.rwc.SetWriteDeadline(time.Time{})
		}
		c.tlsState = new(tls.ConnectionState)
		*c.tlsState = tlsConn.ConnectionState()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancelCtx = cancel
	defer cancel()

	c.reader = wire.NewReader(c.rwc, c.version, c.cipher)
	for {
		if idle := c.server.idleTimeout(); idle > 0 {
			_ = c.rwc.SetReadDeadline(time.Now().Add(idle))
		}
		pkt, err := c.reader.Next()
		stat.PacketReceived.Inc()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.server.log().Info("connection closed by peer", zap.String("client_id", c.ID), zap.String("remote", c.remoteAddr))
			} else {
				c.server.log().Warn("read error", zap.String("client_id", c.ID), zap.String("remote", c.remoteAddr), zap.Error(err))
			}
			return
		}
		if done := c.dispatch(pkt, &graceful); done {
			return
		}
		c.setState(c.rwc, StateIdle, true)
	}
}

// dispatch classifies one decoded packet and posts the matching task.
// It reports whether the reader thread should stop (a clean
// Disconnect was received, or the connection must be closed).
func (c *conn) dispatch(pkt packet.Packet, graceful *bool) (stop bool) {
	if !c.connected {
		connect, ok := pkt.(*packet.CONNECT)
		if !ok {
			c.server.log().Warn("first packet was not Connect", zap.String("remote", c.remoteAddr), zap.String("type", fmt.Sprintf("%T", pkt)))
			return true
		}
		c.connected = true
		c.ID, c.version = connect.ClientID, connect.Version
		c.reader.SetVersion(c.version)
		c.server.dispatcher.Post(task{kind: taskConnect, clientID: c.ID, conn: c, connect: connect})
		return false
	}

	switch p := pkt.(type) {
	case *packet.RESERVED:
		return false
	case *packet.CONNECT:
		// a second Connect on an already-connected stream is a protocol
		// violation; close rather than post another taskConnect.
		c.server.log().Warn("second Connect on established connection", zap.String("client_id", c.ID))
		return true
	case *packet.PUBLISH:
		switch p.QoS {
		case 0, 1:
			c.server.dispatcher.Post(task{kind: taskPublish, clientID: c.ID, publish: p})
		case 2:
			// QoS 2 is parsed but never delivered end-to-end; Pubrec is
			// sent directly so the client's handshake completes.
			c.inFight.Put(p)
			pubrec := &packet.PUBREC{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBREC}, PacketID: p.PacketID}
			c.writeDirect(pubrec)
		}
	case *packet.PUBACK:
		// no QoS1 bookkeeping: the dispatcher delivers at QoS 1 but
		// keeps no outbound in-flight state, so a Puback is ignored.
	case *packet.PUBREC:
		pubrel := &packet.PUBREL{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBREL, QoS: 1}, PacketID: p.PacketID}
		c.writeDirect(pubrel)
	case *packet.PUBREL:
		if _, ok := c.inFight.Get(p.PacketID); !ok {
			c.server.log().Warn("pubrel for unknown packet id", zap.String("client_id", c.ID), zap.Uint16("packet_id", p.PacketID))
		}
		pubcomp := &packet.PUBCOMP{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBCOMP}, PacketID: p.PacketID}
		c.writeDirect(pubcomp)
	case *packet.PUBCOMP:
	case *packet.SUBSCRIBE:
		c.server.dispatcher.Post(task{kind: taskSubscribe, clientID: c.ID, subscribe: p})
	case *packet.UNSUBSCRIBE:
		c.server.dispatcher.Post(task{kind: taskUnsubscribe, clientID: c.ID, unsubscribe: p})
	case *packet.PINGREQ:
		c.server.dispatcher.Post(task{kind: taskPing, clientID: c.ID})
	case *packet.DISCONNECT:
		*graceful = true
		return true
	default:
		c.server.log().Error("unexpected packet type", zap.String("client_id", c.ID), zap.Any("type", fmt.Sprintf("%T", p)))
	}
	return false
}

// writeDirect sends a reply that never touches dispatcher state
// (Pubrec/Pubrel/Pubcomp handshake bytes for the parsed-only QoS2 path).
func (c *conn) writeDirect(pkt packet.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wire.WritePacket(c.rwc, pkt, c.cipher); err != nil {
		c.server.log().Error("write failed", zap.String("client_id", c.ID), zap.Error(err))
		return
	}
	stat.PacketSent.Inc()
}
