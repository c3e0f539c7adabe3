package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/sauronmq/broker/internal/crypt"
	"github.com/sauronmq/broker/internal/wire"
	"github.com/sauronmq/broker/packet"
)

// Client is the broker's companion client library (C8): connect,
// subscribe/unsubscribe, publish, and dispatch received publishes to
// a handler, all over a single stream.
type Client struct {
	URL *url.URL

	conn *conn

	// DialContext optionally overrides how plain TCP connections are
	// established.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// DialTLSContext optionally overrides how TLS connections are
	// established.
	DialTLSContext func(ctx context.Context, network, addr string) (net.Conn, error)

	TLSClientConfig *tls.Config
	Timeout         time.Duration

	options Options
	recv    [0xF + 1]chan packet.Packet
	version byte
	cipher  *crypt.Cipher

	log *zap.Logger

	onMessage func(*packet.Message)
}

func (c *Client) ID() string {
	return c.conn.ID
}

// New builds a Client from options but does not dial; call
// ConnectAndSubscribe to dial and establish the session (Connect sends
// on a connection that has already been dialed).
func New(opts ...Option) *Client {
	options := newOptions(opts...)
	var err error
	client := &Client{
		options: options,
		conn:    &conn{inFight: newInFight()},
		recv:    [0xF + 1]chan packet.Packet{},
		version: options.Version,
		cipher:  options.Cipher,
		log:     zap.NewNop(),
	}

	for i := 1; i <= 0xF; i++ {
		client.recv[i] = make(chan packet.Packet, 1)
	}
	client.recv[PUBLISH] = make(chan packet.Packet, 10000)

	if client.URL, err = url.Parse(options.URL); err != nil {
		panic(err)
	}
	return client
}

// WithLogger attaches a zap logger; the default is a no-op logger.
func (c *Client) WithLogger(l *zap.Logger) *Client {
	if l != nil {
		c.log = l
	}
	return c
}

func (c *Client) Close() error {
	for i := 1; i <= 0xF; i++ {
		close(c.recv[i])
	}
	return nil
}

func (c *Client) dial(ctx context.Context, scheme, addr string) (net.Conn, error) {
	if c.DialContext != nil && (scheme == "tcp" || scheme == "mqtt") {
		con, err := c.DialContext(ctx, "tcp", addr)
		if con == nil && err == nil {
			err = errors.New("mqtt: DialContext hook returned (nil, nil)")
		}
		return con, err
	}
	if c.DialTLSContext != nil && (scheme == "tls" || scheme == "mqtts") {
		con, err := c.DialTLSContext(ctx, "tcp", addr)
		if con == nil && err == nil {
			err = errors.New("mqtt: DialTLSContext hook returned (nil, nil)")
		}
		return con, err
	}

	switch scheme {
	case "mqtt", "tcp":
		return (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	case "mqtts", "tls":
		return tls.DialWithDialer(&net.Dialer{}, "tcp", addr, c.TLSClientConfig)
	case "ws", "wss":
		path := c.URL.Path
		if path == "" {
			path = "/mqtt"
		}
		loc := &url.URL{Scheme: scheme, Host: addr, Path: path}
		originScheme := "http"
		if scheme == "wss" {
			originScheme = "https"
		}
		origin := &url.URL{Scheme: originScheme, Host: addr}

		cfg, err := websocket.NewConfig(loc.String(), origin.String())
		if err != nil {
			return nil, err
		}
		cfg.Protocol = []string{"mqtt"}
		if scheme == "wss" {
			cfg.TlsConfig = c.TLSClientConfig
		}
		ws, err := websocket.DialConfig(cfg)
		if err != nil {
			return nil, err
		}
		ws.PayloadType = websocket.BinaryFrame
		return ws, nil
	default:
		return (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	}
}

func (c *Client) unpack(ctx context.Context) error {
	reader := wire.NewReader(c.conn.rwc, c.version, c.cipher)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkt, err := reader.Next()
		if err != nil {
			c.log.Warn("unpack error", zap.String("client_id", c.conn.ID), zap.Error(err))
			return err
		}
		c.recv[pkt.Kind()] <- pkt
	}
}

func (c *Client) Connect(ctx context.Context) error {
	connect := &packet.CONNECT{
		FixedHeader: &packet.FixedHeader{Version: c.version, Kind: CONNECT},
		ConnectFlags: packet.ConnectFlags{
			CleanSession: true,
			UsernameFlag: c.options.Username != "",
			PasswordFlag: c.options.Password != "",
		},
		KeepAlive: 60,
		ClientID:  c.options.ClientID,
		Username:  c.options.Username,
		Password:  c.options.Password,
	}
	if err := wire.WritePacket(c.conn.rwc, connect, c.cipher); err != nil {
		c.log.Error("connect send failed", zap.String("client_id", c.options.ClientID), zap.Error(err))
		return err
	}
	c.conn.ID = connect.ClientID

	select {
	case <-ctx.Done():
		return ctx.Err()
	case pkt, ok := <-c.recv[CONNACK]:
		if !ok {
			return ctx.Err()
		}
		connack, ok := pkt.(*packet.CONNACK)
		if !ok {
			return errors.New("mqtt: invalid packet received")
		}
		if connack.ConnectReturnCode.Code != 0 {
			c.log.Warn("connect rejected", zap.String("client_id", c.options.ClientID), zap.Uint8("return_code", connack.ConnectReturnCode.Code))
			return connack.ConnectReturnCode
		}
		c.log.Info("connected", zap.String("client_id", c.options.ClientID), zap.String("server", c.URL.Host))
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context) error {
	sub := &packet.SUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: c.version, Kind: SUBSCRIBE, QoS: 1},
		PacketID:      1,
		Subscriptions: c.options.Subscriptions,
	}
	if err := wire.WritePacket(c.conn.rwc, sub, c.cipher); err != nil {
		c.log.Error("subscribe send failed", zap.String("client_id", c.options.ClientID), zap.Error(err))
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case pkt, ok := <-c.recv[SUBACK]:
		if !ok {
			return ctx.Err()
		}
		suback, ok := pkt.(*packet.SUBACK)
		if !ok {
			return errors.New("mqtt: invalid packet received")
		}
		for _, reason := range suback.ReturnCodes {
			if reason.Code == packet.CodeSubscribeFail.Code {
				return reason
			}
		}
		c.log.Info("subscribed", zap.String("client_id", c.options.ClientID))
	}
	return nil
}

func (c *Client) ServeMessageLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.ServeMessage(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) OnMessage(fn func(*packet.Message)) {
	c.onMessage = fn
}

func (c *Client) SubmitMessage(message *packet.Message, qos uint8) error {
	if c.conn.rwc == nil {
		return errors.New("mqtt: connect is nil")
	}
	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBLISH, QoS: qos},
		Message:     message,
	}
	if qos > 0 {
		c.conn.PacketID++
		pub.PacketID = c.conn.PacketID
	}
	if err := wire.WritePacket(c.conn.rwc, pub, c.cipher); err != nil {
		c.log.Error("publish send failed", zap.String("client_id", c.options.ClientID), zap.String("topic", message.TopicName), zap.Error(err))
		return err
	}
	return nil
}

func (c *Client) ServeMessage(ctx context.Context) error {
	var pub *packet.PUBLISH
	select {
	case <-ctx.Done():
		return ctx.Err()
	case pkt, ok := <-c.recv[PUBLISH]:
		if !ok {
			return fmt.Errorf("mqtt: invalid packet received")
		}
		pub, ok = pkt.(*packet.PUBLISH)
		if !ok {
			return errors.New("mqtt: invalid packet received")
		}

		switch pub.QoS {
		case 1:
			puback := &packet.PUBACK{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBACK}, PacketID: pub.PacketID}
			if err := wire.WritePacket(c.conn.rwc, puback, c.cipher); err != nil {
				return err
			}
		case 2:
			pubrec := &packet.PUBREC{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBREC}, PacketID: pub.PacketID}
			if err := wire.WritePacket(c.conn.rwc, pubrec, c.cipher); err != nil {
				return err
			}
			c.conn.inFight.Put(pub)
			return nil
		}
	case pkt, ok := <-c.recv[PUBREL]:
		if !ok {
			return fmt.Errorf("mqtt: invalid packet received")
		}
		pubrel, ok := pkt.(*packet.PUBREL)
		if !ok {
			return errors.New("mqtt: invalid packet received")
		}
		pub, ok = c.conn.inFight.Get(pubrel.PacketID)
		if !ok {
			return errors.New("mqtt: invalid packet received")
		}
		pubcomp := &packet.PUBCOMP{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBCOMP}, PacketID: pubrel.PacketID}
		if err := wire.WritePacket(c.conn.rwc, pubcomp, c.cipher); err != nil {
			return err
		}
	}
	if c.onMessage != nil {
		go c.onMessage(pub.Message)
	}
	return nil
}

// ConnectAndSubscribe dials, connects, subscribes, and serves the
// message loop, retrying every 3 seconds after any failure until ctx
// is canceled.
func (c *Client) ConnectAndSubscribe(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			timer.Reset(3 * time.Second)
		}
		if err := c.connectAndSubscribe(ctx); err != nil {
			count++
			if count == 1 || count%10 == 0 {
				c.log.Warn("connect/subscribe failed, retrying", zap.String("client_id", c.options.ClientID), zap.Int("attempt", count), zap.Error(err))
			}
		} else {
			count = 0
		}
	}
}

func (c *Client) connectAndSubscribe(ctx context.Context) error {
	var err error
	if c.conn.rwc, err = c.dial(ctx, c.URL.Scheme, c.URL.Host); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.unpack(ctx)
	})
	group.Go(func() error {
		<-ctx.Done()
		return c.Disconnect()
	})
	group.Go(func() error {
		if err := c.Connect(ctx); err != nil {
			return err
		}
		if len(c.options.Subscriptions) > 0 {
			if err := c.Subscribe(ctx); err != nil {
				return err
			}
		}
		return c.ServeMessageLoop(ctx)
	})

	return group.Wait()
}

func (c *Client) Disconnect() error {
	disconnect := &packet.DISCONNECT{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: DISCONNECT}}
	return wire.WritePacket(c.conn.rwc, disconnect, c.cipher)
}
