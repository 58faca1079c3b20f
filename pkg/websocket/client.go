package websocket

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// defaultDialTimeout bounds how long OpenClient waits for the TCP (or TLS)
// connection to establish, before the separate handshakeTimeout governs
// the upgrade exchange itself.
const defaultDialTimeout = 5 * time.Second

// ClientOption customizes a Conn built by OpenClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	tlsConfig   *tls.Config
	dialTimeout time.Duration
	keepAlive   time.Duration
	header      http.Header
	connOpts    []ConnOption
	log         zerolog.Logger
	logSet      bool
}

// WithClientTLS dials "wss" instead of "ws" using cfg.
func WithClientTLS(cfg *tls.Config) ClientOption {
	return func(c *clientConfig) { c.tlsConfig = cfg }
}

// WithClientDialTimeout overrides the default 5s TCP dial timeout.
func WithClientDialTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.dialTimeout = d }
}

// WithClientKeepAlive enables TCP keepalive on the dialed connection.
// Ignored when WithClientTLS is also set.
func WithClientKeepAlive(period time.Duration) ClientOption {
	return func(c *clientConfig) { c.keepAlive = period }
}

// WithClientHeader adds extra header fields to the upgrade request (spec
// §6 mentions cookies/authentication as a caller concern, not the core's).
func WithClientHeader(h http.Header) ClientOption {
	return func(c *clientConfig) { c.header = h }
}

// WithClientConnOptions applies opts to the Conn that OpenClient
// constructs, before the handshake is attempted.
func WithClientConnOptions(opts ...ConnOption) ClientOption {
	return func(c *clientConfig) { c.connOpts = append(c.connOpts, opts...) }
}

// WithClientLogger attaches a zerolog.Logger to the dialed Conn.
func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *clientConfig) { c.log = l; c.logSet = true }
}

// OpenClient dials addr, performs the client-side opening handshake against
// path on host, and returns an open Conn with its reader goroutine already
// running (spec §4.B, §4.A). callbacks.OnOpen fires before OpenClient
// returns control to the reader goroutine, but after the handshake
// completes, matching the ordering guarantee given to server-side peers.
func OpenClient(ctx context.Context, addr, host, path string, callbacks Callbacks, opts ...ClientOption) (*Conn, error) {
	cfg := &clientConfig{dialTimeout: defaultDialTimeout, log: DefaultLogger()}
	for _, o := range opts {
		o(cfg)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.dialTimeout)
	defer cancel()

	var nc net.Conn
	var err error
	if cfg.tlsConfig != nil {
		d := tls.Dialer{Config: cfg.tlsConfig}
		nc, err = d.DialContext(dialCtx, "tcp", addr)
	} else {
		d := net.Dialer{}
		nc, err = d.DialContext(dialCtx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("websocket: failed to dial %s: %v", addr, err)
	}

	applyKeepAlive(nc, cfg.keepAlive)

	connOpts := cfg.connOpts
	if cfg.logSet {
		connOpts = append(connOpts, WithConnLogger(cfg.log))
	}
	// The Conn exists (in StateHandshake) before the handshake is attempted
	// so a failure here still has somewhere to route OnClose through (spec
	// §4.F: HANDSHAKE + malformed/timeout -> CLOSED, invoke onClose).
	c := newConn(RoleClient, nc, callbacks, connOpts)

	leftover, err := clientHandshake(nc, host, path, cfg.header)
	if err != nil {
		c.finalize(err)
		return nil, err
	}
	c.preRead = leftover
	c.setState(StateOpen)

	if callbacks.OnOpen != nil {
		callbacks.OnOpen(c)
	}
	go c.readLoop()
	return c, nil
}
