package websocket

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAcceptKeyRFCExample is spec §8 scenario S1: the exact key/accept
// pair from https://datatracker.ietf.org/doc/html/rfc6455#section-1.3.
func TestAcceptKeyRFCExample(t *testing.T) {
	got := acceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", got)
}

func TestHandshakeRoundTrip(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	serverErr := make(chan error, 1)
	go func() {
		_, err := serverHandshake(serverSide)
		serverErr <- err
	}()

	_, clientErr := clientHandshake(clientSide, "example.com", "/chat", nil)
	require.NoError(t, clientErr)
	require.NoError(t, <-serverErr)
}

func TestServerHandshakeRejectsNonUpgrade(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	done := make(chan error, 1)
	go func() {
		_, err := serverHandshake(serverSide)
		done <- err
	}()

	_, err := clientSide.Write([]byte("GET /chat HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)

	require.Error(t, <-done)
}

// TestServerHandshakeReturnsPipelinedBytes covers a peer that writes its
// first WebSocket frame immediately behind the upgrade request, in the
// same Write/TCP segment: bufio.Reader reads ahead past the blank line
// that ends the headers, so serverHandshake must hand those extra bytes
// back instead of letting them disappear with the discarded reader.
func TestServerHandshakeReturnsPipelinedBytes(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	const key = "dGhlIHNhbXBsZSBub25jZQ=="
	request := "GET /chat HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"

	maskKey := [4]byte{1, 2, 3, 4}
	frame := serializeFrame(OpText, true, &maskKey, []byte("hi"))

	writeErr := make(chan error, 1)
	go func() {
		_, err := clientSide.Write(append([]byte(request), frame...))
		writeErr <- err
	}()
	// net.Pipe is unbuffered: consume the 101 response so the server's
	// write of it can complete.
	go func() { _, _ = io.Copy(io.Discard, clientSide) }()

	leftover, err := serverHandshake(serverSide)
	require.NoError(t, err)
	require.NoError(t, <-writeErr)
	require.Equal(t, frame, leftover)
}
