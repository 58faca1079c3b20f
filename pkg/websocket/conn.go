package websocket

import (
	"crypto/rand"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrConnClosed is returned by Send and its variants once the connection
// has reached StateClosed, and by Close once closing has already begun.
var ErrConnClosed = errors.New("websocket: connection is closed")

// defaultMaxMessageSize bounds how large a single reassembled message (or
// a single unfragmented frame) may grow before the connection is closed
// with CloseMessageTooBig. Not named in spec.md; added so an unbounded
// peer can't force unbounded memory growth in the assembly buffer.
const defaultMaxMessageSize = 32 << 20 // 32 MiB

// Callbacks are invoked from the connection's own reader goroutine, in
// frame-arrival order, never concurrently with each other for the same
// Conn (spec §4.F, §5): OnOpen precedes any OnMessage, and OnClose follows
// all other callbacks and fires exactly once.
type Callbacks struct {
	OnOpen    func(c *Conn)
	OnMessage func(c *Conn, t MessageType, payload []byte)
	OnClose   func(c *Conn, err error)
}

// Conn is one WebSocket connection: one transport stream, one ingress
// accumulator, at most one pending fragmented message, and exactly one
// state at all times (spec §3).
type Conn struct {
	id        uuid.UUID
	role      Role
	transport Transport
	callbacks Callbacks
	log       zerolog.Logger

	maxMessageSize uint64

	// preRead holds bytes the handshake's bufio.Reader already buffered
	// past the upgrade request/response before readLoop takes over direct
	// reads of transport; see handshake.go's drainBuffered.
	preRead []byte

	mu             sync.Mutex
	state          State
	pending        *pendingMessage
	closeInitiated bool
	userData       any

	sendMu    sync.Mutex // Serializes individual frame writes to the transport.
	fragMu    sync.Mutex // Held for the duration of one fragmented send.
	closeOnce sync.Once
}

// ConnOption customizes a Conn constructed by OpenServer or OpenClient,
// following the teacher's SessionOption = func(*Session) idiom
// (pkg/devtools/session.go).
type ConnOption func(*Conn)

// WithMaxMessageSize overrides the default 32 MiB cap on a reassembled
// message's total size.
func WithMaxMessageSize(n uint64) ConnOption {
	return func(c *Conn) { c.maxMessageSize = n }
}

// WithConnLogger attaches a zerolog.Logger to one connection, instead of
// falling back to DefaultLogger().
func WithConnLogger(l zerolog.Logger) ConnOption {
	return func(c *Conn) { c.log = l }
}

func newConn(role Role, t Transport, callbacks Callbacks, opts []ConnOption) *Conn {
	c := &Conn{
		id:             uuid.New(),
		role:           role,
		transport:      t,
		callbacks:      callbacks,
		log:            DefaultLogger(),
		maxMessageSize: defaultMaxMessageSize,
		state:          StateHandshake,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With().Str("role", role.String()).Str("conn", c.id.String()).Logger()
	return c
}

// ID is the connection's unique identity, assigned at accept/dial time.
func (c *Conn) ID() uuid.UUID { return c.id }

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether c is in StateOpen (spec §6 public contract).
func IsConnected(c *Conn) bool { return c.State() == StateOpen }

// UserData returns the value last passed to SetUserData, or nil.
func (c *Conn) UserData() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userData
}

// SetUserData attaches an arbitrary value to the connection's user-data
// slot (spec §3). Guarded by the same mutex as connection state, since both
// are small pieces of per-connection bookkeeping not on the hot frame path.
func (c *Conn) SetUserData(v any) {
	c.mu.Lock()
	c.userData = v
	c.mu.Unlock()
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// transitionClosing moves an open (or still-handshaking) connection to
// StateClosing. A no-op if already closing or closed.
func (c *Conn) transitionClosing() {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateHandshake {
		c.state = StateClosing
	}
	c.mu.Unlock()
}

// deliverMessage invokes OnMessage for one fully-reassembled, fully
// validated message. Called only from the reader goroutine, so calls are
// naturally ordered and non-concurrent (spec §4.F dispatch ordering).
func (c *Conn) deliverMessage(t MessageType, payload []byte) {
	if c.callbacks.OnMessage == nil {
		return
	}
	c.callbacks.OnMessage(c, t, payload)
}

// writeFrame serializes and atomically writes one frame to the transport,
// masking it if this role's outbound frames must be masked (spec §4.C,
// §5: "each frame reaches the transport atomically"). Frames are not
// written once the connection has reached StateClosed.
func (c *Conn) writeFrame(opcode OpCode, fin bool, payload []byte) error {
	if c.State() == StateClosed {
		return ErrConnClosed
	}
	var keyPtr *[4]byte
	if c.role.sendShouldMask() {
		var key [4]byte
		if _, err := rand.Read(key[:]); err != nil {
			return err
		}
		keyPtr = &key
	}
	wire := serializeFrame(opcode, fin, keyPtr, payload)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := c.transport.Write(wire)
	if err != nil {
		c.log.Error().Err(err).Msg("transport write failed")
	}
	return err
}

func (c *Conn) writeControl(opcode OpCode, payload []byte) error {
	return c.writeFrame(opcode, true, payload)
}

// Send writes a complete, single-frame (FIN=1) TEXT or BINARY message
// (spec §6: send(Connection, {TEXT|BINARY}, bytes)).
func (c *Conn) Send(t MessageType, payload []byte) error {
	c.fragMu.Lock()
	defer c.fragMu.Unlock()
	return c.writeFrame(OpCode(t), true, payload)
}

// Ping sends a PING control frame carrying appData (<=125 bytes). There is
// no automatic heartbeat timer in this core (spec §1 Non-goals): callers
// that want one drive it themselves.
func (c *Conn) Ping(appData []byte) error {
	if len(appData) > 125 {
		return errors.New("websocket: ping payload must be <=125 bytes")
	}
	return c.writeControl(OpPing, appData)
}

// SendFragmentedStart begins a fragmented TEXT or BINARY message (FIN=0).
// It holds an internal lock until a subsequent SendFragmentedCont call with
// fin=true completes (or an error aborts the stream), so that no other
// fragmented or single-frame user message interleaves with this one on the
// wire; the engine's own control frames (e.g. a PONG reply) may still slip
// in between fragments, since each frame is written atomically (spec §5).
func (c *Conn) SendFragmentedStart(t MessageType, payload []byte) error {
	c.fragMu.Lock()
	err := c.writeFrame(OpCode(t), false, payload)
	if err != nil {
		c.fragMu.Unlock()
	}
	return err
}

// SendFragmentedCont sends the next fragment of a message begun by
// SendFragmentedStart. Pass fin=true on the last fragment.
func (c *Conn) SendFragmentedCont(fin bool, payload []byte) error {
	err := c.writeFrame(OpContinuation, fin, payload)
	if fin || err != nil {
		c.fragMu.Unlock()
	}
	return err
}

// Close initiates the closing handshake: sends a CLOSE frame carrying code
// and transitions to StateClosing. A code that ValidCloseCode rejects is
// never put on the wire (spec §3: "must not be sent"); CloseProtocolError
// is sent in its place, per spec §7's "invalid close code observed or
// attempted -> send CLOSE(1002)". The reader goroutine completes the
// transition to StateClosed (and fires OnClose) once the peer's echoed
// CLOSE arrives or the transport reaches EOF (spec §4.F).
func (c *Conn) Close(code uint16) error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.state = StateClosing
	c.closeInitiated = true
	c.mu.Unlock()

	if !ValidCloseCode(code) {
		code = CloseProtocolError
	}
	return c.writeControl(OpClose, closePayload(code, nil))
}

// finalize runs exactly once per connection: closes the transport,
// transitions to StateClosed, and invokes OnClose. err is nil for a clean
// peer-initiated close, and non-nil for transport failures, protocol
// errors, or timeouts (spec §7: these never reach user code except through
// OnClose).
func (c *Conn) finalize(err error) {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		_ = c.transport.Close()
		if err != nil {
			c.log.Debug().Err(err).Msg("connection closed")
		} else {
			c.log.Debug().Msg("connection closed")
		}
		if c.callbacks.OnClose != nil {
			c.callbacks.OnClose(c, normalizeCloseErr(err))
		}
	})
}

// normalizeCloseErr hides the internal close-handshake sentinel from user
// code: a clean, mutually-agreed close surfaces as a nil error.
func normalizeCloseErr(err error) error {
	if errors.Is(err, errRemoteClose) {
		return nil
	}
	return err
}
