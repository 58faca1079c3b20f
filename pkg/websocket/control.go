package websocket

import (
	"encoding/binary"
)

// onControlFrame handles PING, PONG, and CLOSE (spec §4.E). Control frames
// may interleave with a fragmented data message in progress and never
// disturb c.pending.
func (c *Conn) onControlFrame(h frameHeader, payload []byte) error {
	// parseFrameHeader already rejects !FIN and len>125 for control frames,
	// so only the opcode-specific semantics remain here.
	switch h.opcode {
	case OpPing:
		return c.replyPong(payload)
	case OpPong:
		return nil // Silently discarded.
	case OpClose:
		return c.onCloseFrame(payload)
	default:
		return newProtocolError(CloseProtocolError, "unhandled control opcode")
	}
}

func (c *Conn) replyPong(payload []byte) error {
	return c.writeControl(OpPong, payload)
}

// onCloseFrame validates and reacts to a received CLOSE frame (spec §4.E,
// §4.F): payload length must be 0 or in [2, 125]; a length of exactly 1 is
// a protocol error. A 2-byte code, if present, must be one ValidCloseCode
// accepts; any trailing bytes are a UTF-8 reason and must be valid. On
// success we echo a CLOSE with the same code (or 1000 if none was given)
// unless we already initiated the close ourselves, then move to closing.
func (c *Conn) onCloseFrame(payload []byte) error {
	switch {
	case len(payload) == 1:
		return newProtocolError(CloseProtocolError, "close frame with 1-byte payload")
	case len(payload) == 0:
		return c.finishClose(CloseNormalClosure, nil)
	}

	code := binary.BigEndian.Uint16(payload[0:2])
	if !ValidCloseCode(code) {
		return newProtocolError(CloseProtocolError, "invalid close code")
	}
	reason := payload[2:]
	if len(reason) > 0 {
		var v utf8Validator
		if v.feed(reason); !v.complete() {
			return newProtocolError(CloseInvalidData, "invalid UTF-8 in close reason")
		}
	}
	return c.finishClose(code, reason)
}

// finishClose reacts to a validly-received CLOSE frame: it echoes one CLOSE
// frame back (unless this side already sent one) and schedules the
// transport to be closed. Never sends a second CLOSE frame in response to
// the peer's echo of ours (spec §4.E: "If we initiated the close, do not
// echo a second frame.").
func (c *Conn) finishClose(code uint16, reason []byte) error {
	c.mu.Lock()
	alreadyInitiated := c.closeInitiated
	c.closeInitiated = true
	c.mu.Unlock()

	if !alreadyInitiated {
		_ = c.writeControl(OpClose, closePayload(code, reason))
	}
	c.transitionClosing()
	return errRemoteClose
}

// closePayload builds a CLOSE frame payload: a 2-byte big-endian close code
// followed by an optional UTF-8 reason.
func closePayload(code uint16, reason []byte) []byte {
	b := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(b, code)
	copy(b[2:], reason)
	return b
}
