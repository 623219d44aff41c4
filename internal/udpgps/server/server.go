package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
	"nuha.dev/udpgps/internal/metrics"
	"nuha.dev/udpgps/internal/udpgps"
	"nuha.dev/udpgps/internal/udpgps/codec"
	"nuha.dev/udpgps/internal/udpgps/conn"
	"nuha.dev/udpgps/internal/util"
)

const (
	SESSION_STARTED  string = "session_started"
	SESSION_CONFLICT string = "session_conflict"
	SESSION_CLOSED   string = "session_closed"
	RECEIVE_FAILURE  string = "receive_failure"
	PROXY_HEADER_BAD string = "proxy_header_error"
)

// Observer receives what a session reads. OnSample is called once per
// datagram, OnError at most once, when the socket fails and the session ends.
// Both run on the session goroutine and should return quickly.
type Observer interface {
	OnSample(raw string)
	OnError(err error)
}

type ServerConfig struct {
	BindAddr    string
	BufferSize  int
	ProxyHeader bool
	Metrics     *metrics.Metrics
}

// Server hands out listener sessions, at most one active at a time.
type Server struct {
	mu      sync.Mutex
	log     log.Logger
	config  ServerConfig
	metrics *metrics.Metrics
	active  *Session
}

func NewServer(config *ServerConfig) *Server {
	s := &Server{}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "udp-server").Value()
	if config != nil {
		s.config = *config
	}
	if s.config.BufferSize <= 0 {
		s.config.BufferSize = codec.MaxDatagram
	}
	s.metrics = s.config.Metrics
	if s.metrics == nil {
		s.metrics = metrics.Default
	}
	return s
}

// Start binds the port and runs the receive loop on its own goroutine. It
// fails with udpgps.ErrConflict while another session is active; a bind
// failure is returned as a transport error and no session is created.
func (s *Server) Start(ctx context.Context, port uint16, observer Observer) (*Session, error) {
	if observer == nil {
		return nil, udpgps.ConfigError("observer cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.metrics.SessionConflicts.Inc()
		s.log.Warn().Str("event", SESSION_CONFLICT).Str("active_session", s.active.id).Msg("session already listening")
		return nil, udpgps.ErrConflict
	}

	addr := net.JoinHostPort(s.config.BindAddr, strconv.FormatUint(uint64(port), 10))
	lc := net.ListenConfig{}
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		s.log.Error().Err(err).Str("event", RECEIVE_FAILURE).Str("addr", addr).Msg("unable to bind")
		return nil, udpgps.ReceiveFailure(err)
	}

	sess := newSession(s, conn.NewPacketConn(pc, util.GenUUID()), observer)
	sess.ctx, sess.cancel = context.WithCancel(ctx)
	sess.stopClose = context.AfterFunc(sess.ctx, sess.forceClose)
	s.active = sess
	s.metrics.SessionsStarted.Inc()
	s.metrics.ActiveSessions.Inc()
	s.log.Info().Str("event", SESSION_STARTED).EmbedObject(sess.c).Msg("listening for data")

	sess.state.Store(int32(Listening))
	go sess.run()
	return sess, nil
}

// Active returns the running session, if any.
func (s *Server) Active() (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != nil
}

func (s *Server) release(sess *Session) {
	s.mu.Lock()
	if s.active == sess {
		s.active = nil
	}
	s.mu.Unlock()
	s.metrics.ActiveSessions.Dec()
}

type State int32

const (
	Idle State = iota
	Listening
	Stopping
	Closed
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Stopping:
		return "stopping"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Session is one bound socket and its receive loop. It is single-shot: once
// closed, a new session has to be started.
type Session struct {
	id        string
	srv       *Server
	c         *conn.PacketConn
	observer  Observer
	log       log.Logger
	state     atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	stopClose func() bool
	done      chan struct{}
	err       error
}

func newSession(s *Server, c *conn.PacketConn, observer Observer) *Session {
	sess := &Session{id: c.ID(), srv: s, c: c, observer: observer, done: make(chan struct{})}
	sess.log = s.log
	sess.log.Context = log.NewContext(s.log.Context).Str("session_id", sess.id).Value()
	return sess
}

func (sess *Session) ID() string {
	return sess.id
}

func (sess *Session) Addr() net.Addr {
	return sess.c.LocalAddr()
}

func (sess *Session) State() State {
	return State(sess.state.Load())
}

// Done is closed once the loop has exited and the socket is released.
func (sess *Session) Done() <-chan struct{} {
	return sess.done
}

// Err is the fatal receive error, nil when the session was cancelled.
// Only meaningful after Done is closed.
func (sess *Session) Err() error {
	return sess.err
}

func (sess *Session) Stat() (datagrams uint64, nbytes uint64) {
	return sess.c.Stat()
}

// Cancel asks the loop to stop and closes the socket so a pending read
// returns. Safe to call more than once.
func (sess *Session) Cancel() {
	sess.state.CompareAndSwap(int32(Listening), int32(Stopping))
	sess.cancel()
	sess.forceClose()
}

func (sess *Session) forceClose() {
	sess.state.CompareAndSwap(int32(Listening), int32(Stopping))
	_ = sess.c.Close()
}

func (sess *Session) run() {
	defer func() {
		sess.stopClose()
		sess.cancel()
		_ = sess.c.Close()
		sess.state.Store(int32(Closed))
		sess.srv.release(sess)
		pkts, nbytes := sess.c.Stat()
		sess.log.Info().Str("event", SESSION_CLOSED).EmbedObject(sess.c).Uint64("datagrams", pkts).Uint64("bytes", nbytes).Msg("stopped")
		close(sess.done)
	}()

	buf := make([]byte, sess.srv.config.BufferSize)
	for sess.ctx.Err() == nil {
		n, addr, err := sess.c.ReadFrom(buf)
		if err != nil {
			if sess.ctx.Err() != nil {
				return
			}
			sess.err = udpgps.ReceiveFailure(err)
			sess.srv.metrics.ReceiveFailures.Inc()
			sess.log.Error().Err(err).Str("event", RECEIVE_FAILURE).EmbedObject(sess.c).Msg("")
			sess.observer.OnError(sess.err)
			return
		}
		sess.srv.metrics.DatagramsReceived.Inc()
		sess.srv.metrics.BytesReceived.Add(float64(n))

		payload := buf[:n]
		if sess.srv.config.ProxyHeader {
			payload, addr = sess.stripProxyHeader(payload, addr)
		}
		sess.log.Trace().Str("from", addr.String()).Int("length", n).Msg("datagram received")
		sess.observer.OnSample(codec.Annotate(payload, addr))
	}
}

// stripProxyHeader removes a leading PROXY protocol header and returns the
// client address it carries. Datagrams without a valid header are
// passed through untouched.
func (sess *Session) stripProxyHeader(b []byte, from net.Addr) ([]byte, net.Addr) {
	r := bufio.NewReader(bytes.NewReader(b))
	h, err := proxyproto.Read(r)
	if err != nil {
		if !errors.Is(err, proxyproto.ErrNoProxyProtocol) {
			sess.log.Warn().Err(err).Str("event", PROXY_HEADER_BAD).Str("from", from.String()).Msg("delivering datagram as is")
		}
		return b, from
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return b, from
	}
	if h.SourceAddr != nil {
		from = h.SourceAddr
	}
	return rest, from
}
