package mqtt

import (
	"io"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sauronmq/broker/internal/credential"
	"github.com/sauronmq/broker/internal/crypt"
	"github.com/sauronmq/broker/internal/session"
	"github.com/sauronmq/broker/internal/wire"
	"github.com/sauronmq/broker/packet"
	"github.com/sauronmq/broker/topic"
)

// reservedRegisterTopic is the only server-reserved topic this broker
// acts on: a publish here from the administrator identity registers a
// new credential row.
const reservedRegisterTopic = "$client-register"

type taskKind int

const (
	taskConnect taskKind = iota
	taskSubscribe
	taskUnsubscribe
	taskPublish
	taskPing
	taskDisconnect
)

// task is one state-mutating action posted by a reader thread. Only
// the fields relevant to kind are populated.
type task struct {
	kind        taskKind
	clientID    string
	conn        net.Conn // taskConnect only: the freshly accepted socket
	connect     *packet.CONNECT
	subscribe   *packet.SUBSCRIBE
	unsubscribe *packet.UNSUBSCRIBE
	publish     *packet.PUBLISH
	graceful    bool // taskDisconnect only
	fromWill    bool // taskPublish only: synthesized by handleDisconnect, not read off the wire
}

// Dispatcher is the broker's single-consumer task queue (C6): the
// sole mutator of the session registry and credential-connected
// flags. Every Connect/Subscribe/Unsubscribe/Publish/Ping/Disconnect
// is applied here, in the order it was posted.
type Dispatcher struct {
	queue  chan task
	creds  *credential.Manager
	log    *zap.Logger
	cipher *crypt.Cipher

	mu       sync.RWMutex
	sessions map[string]*session.Session

	// trie mirrors every session's subscriptions in a single topic-level
	// index, kept only for the admin introspection endpoint
	// (WriteSubscriptions); publish routing still scans sessions, since
	// the dispatcher is a single-consumer goroutine and that scan is
	// not the bottleneck it would be in a concurrent design.
	trie *topic.MemoryTrie
}

// NewDispatcher starts the dispatcher's consumer goroutine and
// returns immediately; Post is safe to call as soon as this returns.
// cipher is nil unless the server has the optional per-packet
// encryption transform enabled; every session it creates inherits it.
func NewDispatcher(creds *credential.Manager, log *zap.Logger, cipher *crypt.Cipher) *Dispatcher {
	d := &Dispatcher{
		queue:    make(chan task, 256),
		creds:    creds,
		log:      log,
		cipher:   cipher,
		sessions: make(map[string]*session.Session),
		trie:     topic.NewMemoryTrie(),
	}
	go d.run()
	return d
}

// Post enqueues t for the dispatcher's consumer goroutine. It blocks
// if the queue is full, applying backpressure to the reader thread
// that called it.
func (d *Dispatcher) Post(t task) {
	d.queue <- t
	stat.DispatcherDepth.Set(float64(len(d.queue)))
}

func (d *Dispatcher) run() {
	for t := range d.queue {
		switch t.kind {
		case taskConnect:
			d.handleConnect(t)
		case taskSubscribe:
			d.handleSubscribe(t)
		case taskUnsubscribe:
			d.handleUnsubscribe(t)
		case taskPublish:
			d.handlePublish(t)
		case taskPing:
			d.handlePing(t)
		case taskDisconnect:
			d.handleDisconnect(t)
		}
	}
}

func (d *Dispatcher) lookup(id string) *session.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessions[id]
}

// WriteSubscriptions prints the dispatcher's topic-level subscription
// index, for the admin HTTP mux's introspection route.
func (d *Dispatcher) WriteSubscriptions(w io.Writer) {
	d.trie.Print(w)
}

func (d *Dispatcher) handleConnect(t task) {
	c := t.connect
	reject := func(code packet.ReasonCode, reason string) {
		ack := &packet.CONNACK{FixedHeader: &packet.FixedHeader{Version: c.Version, Kind: CONNACK}, ConnectReturnCode: code}
		_ = wire.WritePacket(t.conn, ack, d.cipher)
		_ = t.conn.Close()
		stat.RejectedConnects.Inc()
		d.log.Warn("connect rejected", zap.String("client_id", c.ClientID), zap.String("username", c.Username), zap.String("reason", reason))
	}

	switch d.creds.AuthorizeConnect(c.Username, c.Password) {
	case credential.BadCredentials:
		reject(packet.ErrBadUsernameOrPassword, "bad credentials")
		return
	case credential.AlreadyConnected:
		reject(packet.ErrClientIdentifierNotValid, "credentials already connected")
		return
	}

	d.mu.Lock()
	if existing, ok := d.sessions[c.ClientID]; ok && existing.Alive() {
		d.mu.Unlock()
		d.creds.Release(c.Username, c.Password)
		reject(packet.ErrClientIdentifierNotValid, "duplicate identity")
		return
	}
	sess := session.New(c.ClientID, c.Username, c.Password, c.Version, c.Will(), t.conn, d.cipher)
	d.sessions[c.ClientID] = sess
	d.mu.Unlock()

	ack := &packet.CONNACK{FixedHeader: &packet.FixedHeader{Version: c.Version, Kind: CONNACK}, ConnectReturnCode: packet.CodeConnectionAccepted}
	if err := sess.Send(ack); err != nil {
		d.log.Error("connack write failed", zap.String("client_id", c.ClientID), zap.Error(err))
		return
	}
	d.log.Info("client connected", zap.String("client_id", c.ClientID), zap.String("username", c.Username))
}

func grantedCode(qos byte) packet.ReasonCode {
	switch qos {
	case 1:
		return packet.CodeGrantedQos1
	case 2:
		return packet.CodeGrantedQos2
	default:
		return packet.CodeGrantedQos0
	}
}

func (d *Dispatcher) handleSubscribe(t task) {
	sess := d.lookup(t.clientID)
	if sess == nil {
		return
	}
	reasons := make([]packet.ReasonCode, 0, len(t.subscribe.Subscriptions))
	for _, sub := range t.subscribe.Subscriptions {
		filter, err := topic.ParseFilter(sub.TopicFilter)
		if err != nil || sub.MaximumQoS > 2 {
			reasons = append(reasons, packet.CodeSubscribeFail)
			continue
		}
		sess.AddSubscription(sub.TopicFilter, filter)
		d.trie.Subscribe(filter)
		reasons = append(reasons, grantedCode(sub.MaximumQoS))
	}
	suback := &packet.SUBACK{FixedHeader: &packet.FixedHeader{Version: sess.Version, Kind: SUBACK}, PacketID: t.subscribe.PacketID, ReturnCodes: reasons}
	if err := sess.Send(suback); err != nil {
		d.log.Error("suback write failed", zap.String("client_id", t.clientID), zap.Error(err))
	}
}

func (d *Dispatcher) handleUnsubscribe(t task) {
	sess := d.lookup(t.clientID)
	if sess == nil {
		return
	}
	for _, raw := range t.unsubscribe.TopicFilters {
		sess.RemoveSubscription(raw)
		if filter, err := topic.ParseFilter(raw); err == nil {
			d.trie.Unsubscribe(filter)
		}
	}
	unsuback := &packet.UNSUBACK{FixedHeader: &packet.FixedHeader{Version: sess.Version, Kind: UNSUBACK}, PacketID: t.unsubscribe.PacketID}
	if err := sess.Send(unsuback); err != nil {
		d.log.Error("unsuback write failed", zap.String("client_id", t.clientID), zap.Error(err))
	}
}

func (d *Dispatcher) deliver(sess *session.Session, msg *packet.Message) {
	out := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: sess.Version, Kind: PUBLISH, QoS: 1},
		PacketID:    sess.NextPacketID(),
		Message:     msg,
	}
	if err := sess.Send(out); err != nil {
		d.log.Error("publish delivery failed", zap.String("client_id", sess.ID), zap.Error(err))
	}
}

func (d *Dispatcher) handlePublish(t task) {
	if !t.fromWill {
		if publisher := d.lookup(t.clientID); publisher == nil || !publisher.Alive() {
			d.log.Warn("publish rejected: no live session for client", zap.String("client_id", t.clientID))
			return
		}
	}

	pub := t.publish
	name, err := topic.ParseName(pub.Message.TopicName)
	if err != nil {
		d.log.Warn("publish rejected: invalid topic", zap.String("client_id", t.clientID), zap.String("topic", pub.Message.TopicName), zap.Error(err))
	} else if pub.Message.TopicName == reservedRegisterTopic {
		d.handleReservedRegister(t.clientID, pub.Message.Content)
	} else {
		d.mu.RLock()
		for _, sess := range d.sessions {
			if sess.Alive() && sess.IsSubscribed(name) {
				d.deliver(sess, pub.Message)
			}
		}
		d.mu.RUnlock()
	}

	if pub.QoS == 0 {
		return
	}
	if publisher := d.lookup(t.clientID); publisher != nil {
		puback := &packet.PUBACK{FixedHeader: &packet.FixedHeader{Version: publisher.Version, Kind: PUBACK}, PacketID: pub.PacketID}
		if err := publisher.Send(puback); err != nil {
			d.log.Error("puback write failed", zap.String("client_id", t.clientID), zap.Error(err))
		}
	}
}

func (d *Dispatcher) handleReservedRegister(publisherID string, payload []byte) {
	publisher := d.lookup(publisherID)
	if publisher == nil || !d.creds.IsAdmin(publisher.Username) {
		d.log.Warn("client-register rejected: publisher is not admin", zap.String("client_id", publisherID))
		return
	}
	parts := strings.Split(string(payload), ";")
	if len(parts) != 3 {
		d.log.Warn("client-register rejected: malformed payload", zap.ByteString("payload", payload))
		return
	}
	clientID, username, password := parts[0], parts[1], parts[2]
	d.creds.Register(username, password)
	d.log.Info("client registered", zap.String("registered_client_id", clientID), zap.String("username", username))
}

func (d *Dispatcher) handlePing(t task) {
	sess := d.lookup(t.clientID)
	if sess == nil {
		return
	}
	pong := &packet.PINGRESP{FixedHeader: &packet.FixedHeader{Version: sess.Version, Kind: PINGRESP}}
	if err := sess.Send(pong); err != nil {
		d.log.Error("pingresp write failed", zap.String("client_id", t.clientID), zap.Error(err))
	}
}

func (d *Dispatcher) handleDisconnect(t task) {
	d.mu.Lock()
	sess, ok := d.sessions[t.clientID]
	if ok {
		delete(d.sessions, t.clientID)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	d.creds.Release(sess.Username, sess.Password)
	for _, filter := range sess.Filters() {
		d.trie.Unsubscribe(filter)
	}
	_ = sess.Close()
	d.log.Info("client disconnected", zap.String("client_id", t.clientID), zap.Bool("graceful", t.graceful))

	if t.graceful || sess.Will == nil {
		return
	}
	var retain uint8
	if sess.Will.Retain {
		retain = 1
	}
	d.handlePublish(task{
		kind:     taskPublish,
		clientID: t.clientID,
		fromWill: true,
		publish: &packet.PUBLISH{
			FixedHeader: &packet.FixedHeader{Version: sess.Version, Kind: PUBLISH, QoS: sess.Will.QoS, Retain: retain},
			Message:     &packet.Message{TopicName: sess.Will.Topic, Content: sess.Will.Message},
		},
	})
}
