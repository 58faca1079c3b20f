package websocket

import (
	"time"
)

// reassemblyTimeout is how long a fragmented message may stay incomplete
// before the connection is closed locally (spec §4.D, §5): 30 seconds,
// wall-clock, from the first non-FIN fragment. Checked opportunistically
// whenever a new frame arrives, not on its own timer.
const reassemblyTimeout = 30 * time.Second

// pendingMessage is a fragmented data message in progress. At most one
// exists per connection at a time (spec §3).
type pendingMessage struct {
	opcode    OpCode
	payload   []byte
	utf8      utf8Validator
	started   time.Time
	firstSeen bool
}

// onFrame handles one fully-parsed, fully-buffered, unmasked frame (masking
// has already been checked and undone by the caller). It is the entry point
// for both the message assembler (spec §4.D) and the control handler
// (spec §4.E), dispatched by opcode per the table in §4.D.
//
// Returns a *ProtocolError when the frame violates a framing rule and the
// connection must send a CLOSE with that error's code; a plain error for a
// local-only failure (e.g. reassembly timeout); nil otherwise.
func (c *Conn) onFrame(h frameHeader, payload []byte) error {
	if c.pending != nil && !c.pending.started.IsZero() {
		if time.Since(c.pending.started) > reassemblyTimeout {
			c.pending = nil
			return &timeoutError{reason: "fragmented message reassembly"}
		}
	}

	switch {
	case h.opcode.isControl():
		return c.onControlFrame(h, payload)
	case h.opcode == OpText || h.opcode == OpBinary:
		return c.onDataFrame(h, payload)
	case h.opcode == OpContinuation:
		return c.onContinuationFrame(h, payload)
	default:
		// parseFrameHeader already rejects unknown opcodes; unreachable.
		return newProtocolError(CloseProtocolError, "unhandled opcode")
	}
}

func (c *Conn) onDataFrame(h frameHeader, payload []byte) error {
	if c.pending != nil {
		return newProtocolError(CloseProtocolError, "data frame while a fragmented message is pending")
	}
	if h.fin {
		// Single-frame message: validate and deliver immediately.
		if h.opcode == OpText {
			var v utf8Validator
			if v.feed(payload); !v.complete() {
				return newProtocolError(CloseInvalidData, "invalid UTF-8 in text message")
			}
		}
		c.deliverMessage(MessageType(h.opcode), payload)
		return nil
	}
	// First fragment of a new message.
	pm := &pendingMessage{opcode: h.opcode, started: time.Now(), firstSeen: true}
	pm.payload = append(pm.payload, payload...)
	if h.opcode == OpText {
		if pm.utf8.feed(payload) == utf8Fail {
			return newProtocolError(CloseInvalidData, "invalid UTF-8 in text fragment")
		}
	}
	c.pending = pm
	return nil
}

func (c *Conn) onContinuationFrame(h frameHeader, payload []byte) error {
	if c.pending == nil {
		return newProtocolError(CloseProtocolError, "continuation frame without a pending message")
	}
	pm := c.pending
	if uint64(len(pm.payload)+len(payload)) > c.maxMessageSize {
		c.pending = nil
		return newProtocolError(CloseMessageTooBig, "reassembled message exceeds maximum size")
	}
	pm.payload = append(pm.payload, payload...)
	if pm.opcode == OpText {
		status := pm.utf8.feed(payload)
		if status == utf8Fail {
			c.pending = nil
			return newProtocolError(CloseInvalidData, "invalid UTF-8 in text fragment")
		}
	}
	if !h.fin {
		return nil
	}
	if pm.opcode == OpText && !pm.utf8.complete() {
		c.pending = nil
		return newProtocolError(CloseInvalidData, "incomplete UTF-8 sequence at end of text message")
	}
	c.pending = nil
	c.deliverMessage(MessageType(pm.opcode), pm.payload)
	return nil
}
