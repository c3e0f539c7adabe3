package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/sauronmq/broker/internal/credential"
	"github.com/sauronmq/broker/internal/crypt"
)

// shutdownPollIntervalMax is the max polling interval when checking
// quiescence during Server.Shutdown. Polling starts with a small
// interval and backs off to the max.
const shutdownPollIntervalMax = 500 * time.Millisecond
const size = 64 << 10

const (
	// StateNew represents a new connection that is expected to
	// send a request immediately. Connections begin at this
	// state and then transition to either StateIdle (after their
	// first packet) or StateClosed.
	StateNew ConnState = iota

	// StateActive represents a connection that has read 1 or more
	// bytes of a packet and is between reads.
	StateActive

	// StateIdle represents a connection that has finished handling
	// a packet and is waiting to read the next one.
	StateIdle

	// StateHijacked represents a hijacked connection.
	// This is a terminal state. It does not transition to StateClosed.
	StateHijacked

	// StateClosed represents a closed connection.
	// This is a terminal state. Hijacked connections do not
	// transition to StateClosed.
	StateClosed
)

// ErrAbortHandler is a sentinel panic value: a panic with it inside
// serve() is recovered without logging a stack trace. A clean
// Disconnect ends serve() by returning, not by panicking.
var ErrAbortHandler = errors.New("mqtt: abort Handler")

// A ConnState represents the state of a client connection to a server.
type ConnState int

// Server owns the listeners, the credential registry, and the task
// dispatcher (C6) that is the sole mutator of broker state.
type Server struct {
	// ConnState, if non-nil, is called on every connection state
	// transition.
	ConnState func(net.Conn, ConnState)

	// ConnContext optionally derives the per-connection context from
	// the base context.
	ConnContext func(ctx context.Context, c net.Conn) context.Context

	// TLSConfig optionally configures ServeTLS/ListenAndServeTLS.
	TLSConfig *tls.Config

	// IdleTimeout, if positive, closes a connection that sends no
	// packet within this duration (spec's segs_to_disconnect).
	IdleTimeout time.Duration

	inShutdown atomic.Bool

	mu            sync.RWMutex
	listeners     map[*net.Listener]struct{}
	activeConn    map[*conn]struct{}
	onShutdown    []func()
	listenerGroup sync.WaitGroup

	dispatcher *Dispatcher
	logger     *zap.Logger
	cipher     *crypt.Cipher
}

// NewServer builds a Server around the caller's credential registry
// creds, with its own dispatcher, shutting down when ctx is canceled. cipher is nil unless
// the optional per-packet AES-256-GCM transform is enabled, in which
// case every connection this server accepts, and every session its
// dispatcher creates, seals and unseals every packet with it.
func NewServer(ctx context.Context, creds *credential.Manager, logger *zap.Logger, cipher *crypt.Cipher) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		activeConn: make(map[*conn]struct{}),
		listeners:  make(map[*net.Listener]struct{}),
		dispatcher: NewDispatcher(creds, logger, cipher),
		logger:     logger,
		cipher:     cipher,
	}

	go func() {
		<-ctx.Done()
		if err := s.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("shutdown error", zap.Error(err))
		}
	}()
	return s
}

func (s *Server) log() *zap.Logger {
	return s.logger
}

// WriteSubscriptions prints the broker's current topic-level
// subscription index, for the admin HTTP mux's introspection route.
func (s *Server) WriteSubscriptions(w io.Writer) {
	s.dispatcher.WriteSubscriptions(w)
}

func (s *Server) idleTimeout() time.Duration {
	return s.IdleTimeout
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.mu.Lock()
	lnerr := s.closeListenersLocked()
	for _, f := range s.onShutdown {
		go f()
	}
	s.mu.Unlock()
	s.listenerGroup.Wait()

	pollIntervalBase := time.Millisecond
	nextPollInterval := func() time.Duration {
		interval := pollIntervalBase + time.Duration(rand.Intn(int(pollIntervalBase/10+1)))
		pollIntervalBase *= 2
		if pollIntervalBase > shutdownPollIntervalMax {
			pollIntervalBase = shutdownPollIntervalMax
		}
		return interval
	}

	timer := time.NewTimer(nextPollInterval())
	defer timer.Stop()
	for {
		if s.closeIdleConns() {
			return lnerr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			timer.Reset(nextPollInterval())
		}
	}
}

// closeIdleConns closes all idle connections and reports whether the
// server is quiescent.
func (s *Server) closeIdleConns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiescent := true
	for c := range s.activeConn {
		st, unixSec := c.getState()
		if st == StateNew && unixSec < time.Now().Unix()-5 {
			st = StateIdle
		}
		if st != StateIdle || unixSec == 0 {
			quiescent = false
			continue
		}
		_ = c.rwc.Close()
		delete(s.activeConn, c)
	}
	return quiescent
}

func (s *Server) closeListenersLocked() error {
	var err error
	for ln := range s.listeners {
		if cerr := (*ln).Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// newConn wraps rwc as the listener side of one accepted connection.
func (s *Server) newConn(rwc net.Conn) *conn {
	return &conn{server: s, rwc: rwc, inFight: newInFight(), cipher: s.cipher}
}

// Serve accepts inbound connections on l, decoding and dispatching
// each in its own reader goroutine (C7).
func (s *Server) Serve(l net.Listener) error {
	defer l.Close()

	if !s.trackListener(&l, true) {
		return ErrServerClosed
	}
	defer s.trackListener(&l, false)

	ctx := context.Background()

	for {
		rw, err := l.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			return err
		}
		connCtx := ctx
		if cc := s.ConnContext; cc != nil {
			connCtx = cc(connCtx, rw)
			if connCtx == nil {
				panic("ConnContext returned nil")
			}
		}
		c := s.newConn(rw)
		c.setState(c.rwc, StateNew, true)
		go c.serve(connCtx)
	}
}

func (s *Server) trackConn(c *conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		stat.ActiveConnections.Inc()
		s.activeConn[c] = struct{}{}
	} else {
		stat.ActiveConnections.Dec()
		delete(s.activeConn, c)
	}
}

// trackListener adds or removes a net.Listener to the set of tracked
// listeners. It reports whether the server is still up.
func (s *Server) trackListener(ln *net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.shuttingDown() {
			return false
		}
		s.listeners[ln] = struct{}{}
		s.listenerGroup.Add(1)
	} else {
		delete(s.listeners, ln)
		s.listenerGroup.Done()
	}
	return true
}

func (s *Server) shuttingDown() bool {
	return s.inShutdown.Load()
}

// ErrServerClosed is returned by Serve/ListenAndServe/etc. after
// Shutdown.
var ErrServerClosed = errors.New("mqtt: Server closed")

func (s *Server) ListenAndServe(opts ...Option) error {
	options := newOptions(opts...)
	if s.shuttingDown() {
		return ErrServerClosed
	}
	u, err := url.Parse(options.URL)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return err
	}
	s.logger.Info("mqtt listening", zap.String("address", u.Host))
	return s.Serve(ln)
}

func (s *Server) ServeTLS(l net.Listener, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return err
	}
	config := &tls.Config{Certificates: []tls.Certificate{cert}}
	tlsListener := tls.NewListener(l, config)
	return s.Serve(tlsListener)
}

func (s *Server) ListenAndServeTLS(certFile, keyFile string, opts ...Option) error {
	if s.shuttingDown() {
		return ErrServerClosed
	}
	options := newOptions(opts...)
	u, err := url.Parse(options.URL)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return err
	}
	s.logger.Info("mqtt(s) listening", zap.String("address", u.Host))
	return s.ServeTLS(ln, certFile, keyFile)
}

// ListenAndServeWebsocket runs an MQTT-over-websocket listener
// alongside the raw TCP transport, reusing the same dispatcher.
func (s *Server) ListenAndServeWebsocket(opts ...Option) error {
	if s.shuttingDown() {
		return ErrServerClosed
	}
	options := newOptions(opts...)
	u, err := url.Parse(options.URL)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/mqtt", websocket.Handler(func(ws *websocket.Conn) {
		ws.PayloadType = websocket.BinaryFrame
		c := s.newConn(ws)
		c.setState(c.rwc, StateNew, true)
		c.serve(context.Background())
	}))

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return err
	}
	s.logger.Info("websocket listening", zap.String("address", u.Host))
	return http.Serve(ln, mux)
}
