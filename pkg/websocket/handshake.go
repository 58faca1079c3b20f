package websocket

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	handshakeTimeout = 10 * time.Second
	websocketGUID    = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
)

// nonce generates a randomly selected 16-byte value, Base64-encoded, for
// use as a Sec-WebSocket-Key (spec §4.B).
func nonce() (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// acceptKey computes the Sec-WebSocket-Accept value for a given
// Sec-WebSocket-Key: the Base64-encoded SHA-1 of the key concatenated with
// the WebSocket GUID, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.2.2.
func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// withHandshakeDeadline arranges for t to time out after handshakeTimeout,
// if t supports deadlines, and returns a func that clears the deadline
// again. Plain *net.TCPConn, *tls.Conn and the net.Pipe() connections used
// in tests all support this; a Transport without SetDeadline simply skips
// the timeout.
func withHandshakeDeadline(t Transport) func() {
	d, ok := t.(interface{ SetDeadline(time.Time) error })
	if !ok {
		return func() {}
	}
	_ = d.SetDeadline(time.Now().Add(handshakeTimeout))
	return func() { _ = d.SetDeadline(time.Time{}) }
}

// wrapHandshakeErr reports a failure that occurred while reading or writing
// during the handshake: a deadline set by withHandshakeDeadline expiring
// becomes a local *timeoutError (spec §7: handshake timeout is a local
// close, no WebSocket frame is owed); anything else is wrapped with msg.
func wrapHandshakeErr(err error, msg string) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return &timeoutError{reason: "handshake"}
	}
	return fmt.Errorf("%s: %v", msg, err)
}

// clientHandshake performs the client-side opening handshake over t:
// sends the GET /path upgrade request and validates the 101 response,
// per https://datatracker.ietf.org/doc/html/rfc6455#section-4.1.
//
// It returns any bytes the peer already sent past the response headers:
// bufio.Reader reads ahead in chunks, so a peer that pipelines its first
// WebSocket frame right behind the 101 response (the same TCP segment,
// or just a fast writer) leaves those bytes sitting in rw's internal
// buffer. The caller must prepend them to the connection's read
// accumulator instead of discarding rw, or that first frame is lost.
func clientHandshake(t Transport, host, path string, extraHeader http.Header) ([]byte, error) {
	cancelDeadline := withHandshakeDeadline(t)
	defer cancelDeadline()

	rw := bufio.NewReadWriter(bufio.NewReader(t), bufio.NewWriter(t))

	key, err := nonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate a nonce: %v", err)
	}
	if err := sendUpgradeRequest(rw, host, path, key, extraHeader); err != nil {
		return nil, wrapHandshakeErr(err, "failed to send the upgrade request")
	}
	if err := receiveUpgradeResponse(rw, key); err != nil {
		return nil, err
	}
	return drainBuffered(rw)
}

// drainBuffered returns (and consumes) whatever rw's bufio.Reader has
// already read from the transport but the handshake parser didn't use.
func drainBuffered(rw *bufio.ReadWriter) ([]byte, error) {
	n := rw.Reader.Buffered()
	if n == 0 {
		return nil, nil
	}
	leftover := make([]byte, n)
	if _, err := io.ReadFull(rw.Reader, leftover); err != nil {
		return nil, fmt.Errorf("failed to drain the buffered handshake reader: %v", err)
	}
	return leftover, nil
}

func sendUpgradeRequest(rw *bufio.ReadWriter, host, path, key string, extra http.Header) error {
	// The method of the request MUST be GET, and the HTTP version MUST be at
	// least 1.1 (spec §4.B / RFC 6455 §4.1).
	fmt.Fprintf(rw, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(rw, "Host: %s\r\n", host)
	fmt.Fprint(rw, "Upgrade: websocket\r\n")
	fmt.Fprint(rw, "Connection: Upgrade\r\n")
	fmt.Fprintf(rw, "Sec-WebSocket-Key: %s\r\n", key)
	fmt.Fprint(rw, "Sec-WebSocket-Version: 13\r\n")
	for k, vs := range extra {
		for _, v := range vs {
			fmt.Fprintf(rw, "%s: %s\r\n", k, v)
		}
	}
	fmt.Fprint(rw, "\r\n")
	return rw.Flush()
}

func receiveUpgradeResponse(rw *bufio.ReadWriter, key string) error {
	line, err := rw.ReadString('\n')
	if err != nil {
		return wrapHandshakeErr(err, "failed to read the response status line")
	}
	if !strings.HasPrefix(line, "HTTP/1.1 101") {
		return fmt.Errorf("expected status code 101, got %s", strings.TrimSpace(line))
	}

	gotUpgrade, gotConnection, gotAccept := false, false, false
	for {
		line, err = rw.ReadString('\n')
		if err != nil {
			return wrapHandshakeErr(err, "failed to read a response header line")
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		name, value, ok := splitHeaderLine(line)
		if !ok {
			continue
		}
		switch strings.ToLower(name) {
		case "upgrade":
			gotUpgrade = true
			if !strings.EqualFold(value, "websocket") {
				return fmt.Errorf("unexpected value in the Upgrade header: %q", value)
			}
		case "connection":
			gotConnection = true
			if !strings.EqualFold(value, "upgrade") {
				return fmt.Errorf("unexpected value in the Connection header: %q", value)
			}
		case "sec-websocket-accept":
			gotAccept = true
			want := acceptKey(key)
			if value != want {
				return fmt.Errorf("unexpected Sec-WebSocket-Accept value: got %q, expected %q", value, want)
			}
		}
	}
	if !gotUpgrade {
		return fmt.Errorf("websocket: upgrade response lacks an Upgrade header")
	}
	if !gotConnection {
		return fmt.Errorf("websocket: upgrade response lacks a Connection header")
	}
	if !gotAccept {
		return fmt.Errorf("websocket: upgrade response lacks a Sec-WebSocket-Accept header")
	}
	return nil
}

// serverHandshake performs the server-side opening handshake over t: reads
// the client's upgrade request and, if valid, writes the 101 response
// carrying the computed Sec-WebSocket-Accept (spec §4.B).
//
// Like clientHandshake, it returns any bytes already buffered past the
// request headers so the caller can hand them to the connection's read
// accumulator instead of dropping them (see clientHandshake's comment).
func serverHandshake(t Transport) ([]byte, error) {
	cancelDeadline := withHandshakeDeadline(t)
	defer cancelDeadline()

	rw := bufio.NewReadWriter(bufio.NewReader(t), bufio.NewWriter(t))

	line, err := rw.ReadString('\n')
	if err != nil {
		return nil, wrapHandshakeErr(err, "failed to read the request line")
	}
	if !strings.HasPrefix(line, "GET ") {
		return nil, fmt.Errorf("websocket: expected a GET request line, got %q", strings.TrimSpace(line))
	}

	gotUpgrade, gotConnection := false, false
	key := ""
	for {
		line, err = rw.ReadString('\n')
		if err != nil {
			return nil, wrapHandshakeErr(err, "failed to read a request header line")
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		name, value, ok := splitHeaderLine(line)
		if !ok {
			continue
		}
		switch strings.ToLower(name) {
		case "upgrade":
			gotUpgrade = strings.EqualFold(value, "websocket")
		case "connection":
			gotConnection = strings.Contains(strings.ToLower(value), "upgrade")
		case "sec-websocket-key":
			key = value
		}
	}
	if !gotUpgrade || !gotConnection {
		return nil, fmt.Errorf("websocket: request is not a valid upgrade")
	}
	if key == "" {
		return nil, fmt.Errorf("websocket: request lacks a Sec-WebSocket-Key header")
	}

	fmt.Fprint(rw, "HTTP/1.1 101 Switching Protocols\r\n")
	fmt.Fprint(rw, "Upgrade: websocket\r\n")
	fmt.Fprint(rw, "Connection: Upgrade\r\n")
	fmt.Fprintf(rw, "Sec-WebSocket-Accept: %s\r\n", acceptKey(key))
	fmt.Fprint(rw, "\r\n")
	if err := rw.Flush(); err != nil {
		return nil, wrapHandshakeErr(err, "failed to write the upgrade response")
	}
	return drainBuffered(rw)
}

// splitHeaderLine splits "Name: value" into its trimmed parts.
func splitHeaderLine(line string) (name, value string, ok bool) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}
