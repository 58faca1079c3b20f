package websocket

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Server accepts incoming TCP (or TLS) connections, performs the WebSocket
// upgrade handshake on each, and hands the result to Callbacks. One
// acceptor goroutine per Server; one reader goroutine per accepted
// connection (spec §5).
type Server struct {
	listener  net.Listener
	callbacks Callbacks
	connOpts  []ConnOption
	keepAlive time.Duration
	tlsConfig *tls.Config
	log       zerolog.Logger

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

// ServerOption customizes a Server built by OpenServer.
type ServerOption func(*Server)

// WithServerLogger attaches a zerolog.Logger to a Server, instead of
// falling back to DefaultLogger().
func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithServerKeepAlive enables TCP keepalive on accepted connections (spec
// §4.G). Ignored for TLS listeners.
func WithServerKeepAlive(period time.Duration) ServerOption {
	return func(s *Server) { s.keepAlive = period }
}

// WithServerConnOptions applies opts to every Conn the server constructs.
func WithServerConnOptions(opts ...ConnOption) ServerOption {
	return func(s *Server) { s.connOpts = append(s.connOpts, opts...) }
}

// WithServerTLS makes the server accept "wss" connections on addr instead
// of plain TCP.
func WithServerTLS(cfg *tls.Config) ServerOption {
	return func(s *Server) { s.tlsConfig = cfg }
}

// OpenServer starts listening on addr and returns a Server that will, for
// every accepted connection, perform the opening handshake and then invoke
// callbacks from that connection's own reader goroutine (spec §4.A, §4.B,
// §5). Accepting begins immediately in a background goroutine.
func OpenServer(addr string, callbacks Callbacks, opts ...ServerOption) (*Server, error) {
	s := &Server{
		callbacks: callbacks,
		log:       DefaultLogger(),
		conns:     make(map[*Conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	var ln net.Listener
	var err error
	if s.tlsConfig != nil {
		ln, err = tls.Listen("tcp", addr, s.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("websocket: failed to listen on %s: %v", addr, err)
	}
	s.listener = ln
	s.log = s.log.With().Str("addr", ln.Addr().String()).Logger()

	go s.acceptLoop()
	return s, nil
}

// Addr is the server's bound local address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) acceptLoop() {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Error().Err(err).Msg("accept failed, acceptor exiting")
			}
			return
		}
		go s.handleAccepted(nc)
	}
}

func (s *Server) handleAccepted(nc net.Conn) {
	applyKeepAlive(nc, s.keepAlive)

	// The Conn exists (in StateHandshake) before the handshake is attempted
	// so a failure here still has somewhere to route OnClose through (spec
	// §4.F: HANDSHAKE + malformed/timeout -> CLOSED, invoke onClose).
	c := newConn(RoleServer, nc, s.callbacks, s.connOpts)

	leftover, err := serverHandshake(nc)
	if err != nil {
		s.log.Debug().Err(err).Str("peer", nc.RemoteAddr().String()).Msg("handshake failed")
		c.finalize(err)
		return
	}
	c.preRead = leftover
	c.setState(StateOpen)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.finalize(errors.New("websocket: server closed"))
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	if s.callbacks.OnOpen != nil {
		s.callbacks.OnOpen(c)
	}
	c.readLoop()

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Close stops accepting new connections and closes every connection
// currently tracked by the server. It does not wait for their OnClose
// callbacks to finish running.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("websocket: server already closed")
	}
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := s.listener.Close()
	for _, c := range conns {
		_ = c.Close(CloseGoingAway)
	}
	return err
}
