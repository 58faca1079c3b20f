package websocket

import (
	"net"
	"time"
)

// Transport is the byte-oriented, reliable, ordered duplex stream the core
// protocol engine depends on (spec §4.G). Any net.Conn (plain TCP or TLS)
// satisfies it already; it exists so tests can substitute net.Pipe() or a
// fake without touching a real socket.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
}

// applyKeepAlive configures TCP-level keepalive on the underlying
// connection, if it is a raw (non-TLS) *net.TCPConn, per spec §4.G: "Peer
// TCP-level keepalive is configured here, not in the core." TLS connections
// are left alone since *tls.Conn does not expose SetKeepAlive directly and
// the listener-side dialer already configured it before the handshake.
func applyKeepAlive(t Transport, period time.Duration) {
	if period <= 0 {
		return
	}
	tc, ok := t.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetKeepAlive(true)
	_ = tc.SetKeepAlivePeriod(period)
}
