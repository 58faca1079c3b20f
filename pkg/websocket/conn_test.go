package websocket

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pairedConns wires a RoleServer and a RoleClient Conn together over
// net.Pipe, past the handshake (both already StateOpen), mirroring how
// OpenServer/OpenClient hand off to readLoop.
func pairedConns(t *testing.T, serverCb, clientCb Callbacks) (server, client *Conn) {
	t.Helper()
	a, b := net.Pipe()
	server = newConn(RoleServer, a, serverCb, nil)
	server.setState(StateOpen)
	client = newConn(RoleClient, b, clientCb, nil)
	client.setState(StateOpen)
	if serverCb.OnOpen != nil {
		serverCb.OnOpen(server)
	}
	if clientCb.OnOpen != nil {
		clientCb.OnOpen(client)
	}
	go server.readLoop()
	go client.readLoop()
	return server, client
}

// recordingCallbacks accumulates every callback invocation, guarded by a
// mutex since the reader goroutine calls them concurrently with test
// assertions.
type recordingCallbacks struct {
	mu       sync.Mutex
	opened   bool
	messages []recordedMessage
	closed   bool
	closeErr error
}

type recordedMessage struct {
	t       MessageType
	payload []byte
}

func newRecordingCallbacks() (*recordingCallbacks, Callbacks) {
	r := &recordingCallbacks{}
	cb := Callbacks{
		OnOpen: func(c *Conn) {
			r.mu.Lock()
			r.opened = true
			r.mu.Unlock()
		},
		OnMessage: func(c *Conn, t MessageType, payload []byte) {
			cp := append([]byte(nil), payload...)
			r.mu.Lock()
			r.messages = append(r.messages, recordedMessage{t, cp})
			r.mu.Unlock()
		},
		OnClose: func(c *Conn, err error) {
			r.mu.Lock()
			r.closed = true
			r.closeErr = err
			r.mu.Unlock()
		},
	}
	return r, cb
}

func (r *recordingCallbacks) waitClosed(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.closed
	}, time.Second, time.Millisecond)
}

func (r *recordingCallbacks) waitMessages(t *testing.T, n int) []recordedMessage {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.messages) >= n
	}, time.Second, time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedMessage(nil), r.messages...)
}

func TestConnSendAndReceiveText(t *testing.T) {
	serverRec, serverCb := newRecordingCallbacks()
	_, clientCb := newRecordingCallbacks()
	server, client := pairedConns(t, serverCb, clientCb)
	defer server.Close(CloseNormalClosure)
	defer client.Close(CloseNormalClosure)

	require.NoError(t, client.Send(TextMessage, []byte("hello")))

	msgs := serverRec.waitMessages(t, 1)
	require.Equal(t, TextMessage, msgs[0].t)
	require.Equal(t, []byte("hello"), msgs[0].payload)
}

// TestConnFragmentedEuroSign is spec §8 S3: the euro sign splits across a
// fragment boundary (0xE2 alone, then 0x82 0xAC), and must reassemble into
// one valid text message.
func TestConnFragmentedEuroSign(t *testing.T) {
	serverRec, serverCb := newRecordingCallbacks()
	_, clientCb := newRecordingCallbacks()
	server, client := pairedConns(t, serverCb, clientCb)
	defer server.Close(CloseNormalClosure)
	defer client.Close(CloseNormalClosure)

	euro := []byte("€")
	require.NoError(t, client.SendFragmentedStart(TextMessage, euro[:1]))
	require.NoError(t, client.SendFragmentedCont(true, euro[1:]))

	msgs := serverRec.waitMessages(t, 1)
	require.Equal(t, euro, msgs[0].payload)
}

// TestConnFragmentedInvalidUTF8 is the 1007 failure variant of S3: a
// corrupted continuation byte (0x28 is not a continuation byte) must close
// the connection with CloseInvalidData.
func TestConnFragmentedInvalidUTF8(t *testing.T) {
	serverRec, serverCb := newRecordingCallbacks()
	_, clientCb := newRecordingCallbacks()
	server, client := pairedConns(t, serverCb, clientCb)
	defer client.Close(CloseNormalClosure)

	require.NoError(t, client.SendFragmentedStart(TextMessage, []byte{0xE2}))
	// This Send may fail once the server has already closed its side; that
	// is an acceptable outcome of the protocol violation.
	_ = client.SendFragmentedCont(true, []byte{0x28, 0xA1})

	serverRec.waitClosed(t)
	var pe *ProtocolError
	require.ErrorAs(t, serverRec.closeErr, &pe)
	require.Equal(t, CloseInvalidData, pe.Code)
}

// TestConnPingPong is spec §8 S4: a PING elicits an automatic PONG carrying
// the same application data.
func TestConnPingPong(t *testing.T) {
	_, serverCb := newRecordingCallbacks()
	_, clientCb := newRecordingCallbacks()
	server, client := pairedConns(t, serverCb, clientCb)
	defer server.Close(CloseNormalClosure)
	defer client.Close(CloseNormalClosure)

	require.NoError(t, client.Ping([]byte("hi")))
	// No direct observation point for the PONG without a callback hook;
	// absence of a protocol error closing the connection demonstrates the
	// server accepted and answered it.
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateOpen, server.State())
	require.Equal(t, StateOpen, client.State())
}

// TestConnCloseHandshake is spec §8 S5: one side sends CLOSE, the other
// echoes it, and both sides reach StateClosed with a nil OnClose error.
func TestConnCloseHandshake(t *testing.T) {
	serverRec, serverCb := newRecordingCallbacks()
	clientRec, clientCb := newRecordingCallbacks()
	server, client := pairedConns(t, serverCb, clientCb)

	require.NoError(t, client.Close(CloseNormalClosure))

	serverRec.waitClosed(t)
	clientRec.waitClosed(t)
	require.NoError(t, serverRec.closeErr)
	require.NoError(t, clientRec.closeErr)
	require.Equal(t, StateClosed, server.State())
	require.Equal(t, StateClosed, client.State())
}

// TestConnOnOpenBeforeOnMessage checks the callback-ordering invariant:
// OnOpen always fires (here, synchronously before readLoop starts) before
// any OnMessage for the same connection.
func TestConnOnOpenBeforeOnMessage(t *testing.T) {
	serverRec, serverCb := newRecordingCallbacks()
	_, clientCb := newRecordingCallbacks()
	server, client := pairedConns(t, serverCb, clientCb)
	defer server.Close(CloseNormalClosure)
	defer client.Close(CloseNormalClosure)

	require.NoError(t, client.Send(TextMessage, []byte("x")))
	serverRec.waitMessages(t, 1)

	serverRec.mu.Lock()
	defer serverRec.mu.Unlock()
	require.True(t, serverRec.opened)
}

// TestConnMaskingRuleViolation is spec invariant 6: a server receiving an
// unmasked frame must close the connection with a protocol error.
func TestConnMaskingRuleViolation(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	serverRec, serverCb := newRecordingCallbacks()
	server := newConn(RoleServer, a, serverCb, nil)
	server.setState(StateOpen)
	go server.readLoop()

	// Write an unmasked text frame directly, as a misbehaving client would.
	wire := serializeFrame(OpText, true, nil, []byte("hi"))
	_, err := b.Write(wire)
	require.NoError(t, err)
	// net.Pipe is unbuffered: consume the server's CLOSE frame so its write
	// can complete and the connection can finalize.
	go func() { _, _ = io.Copy(io.Discard, b) }()

	serverRec.waitClosed(t)
	var pe *ProtocolError
	require.ErrorAs(t, serverRec.closeErr, &pe)
	require.Equal(t, CloseProtocolError, pe.Code)
}
