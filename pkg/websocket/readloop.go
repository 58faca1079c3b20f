package websocket

import (
	"errors"
)

// readBufferSize is the chunk size used for each Transport.Read call while
// accumulating frame bytes.
const readBufferSize = 4096

// readLoop is the connection's single logical reader task (spec §5): it
// owns the ingress accumulator, is the only goroutine that calls c.onFrame,
// and is therefore the only place frame-arrival-ordered callbacks are
// invoked from. It runs until the transport closes or the close handshake
// completes, then calls c.finalize exactly once.
func (c *Conn) readLoop() {
	buf := make([]byte, readBufferSize)
	acc := c.preRead
	c.preRead = nil
	if len(acc) > 0 {
		if done := c.drain(&acc); done {
			return
		}
	}

	for {
		n, rerr := c.transport.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			if done := c.drain(&acc); done {
				return
			}
		}
		if rerr != nil {
			c.finalize(rerr)
			return
		}
	}
}

// drain repeatedly parses complete frames out of acc and dispatches them,
// returning true once the connection has finalized (clean close, protocol
// error, or reassembly timeout) and the caller should stop reading.
func (c *Conn) drain(acc *[]byte) bool {
	for {
		h, status, perr := parseFrameHeader(*acc)
		switch status {
		case frameNeedMore:
			return false
		case frameError:
			c.failProtocol(perr.(*ProtocolError))
			return true
		}

		if h.opcode.isData() || h.opcode == OpContinuation {
			if h.payloadLen > c.maxMessageSize {
				c.failProtocol(newProtocolError(CloseMessageTooBig, "declared payload length exceeds maximum message size"))
				return true
			}
		}

		total := h.headerLen + int(h.payloadLen)
		if len(*acc) < total {
			return false
		}
		payload := (*acc)[h.headerLen:total]
		*acc = (*acc)[total:]

		// Invariant 6: a server must see MASK set on every frame before
		// unmasking, and a client must see it unset.
		if h.masked != c.role.recvShouldMask() {
			c.failProtocol(newProtocolError(CloseProtocolError, "masking rule violated for this role"))
			return true
		}
		if h.masked {
			unmask(payload, h.maskKey)
		}

		// Once we've initiated our own close, discard everything except the
		// peer's echoed CLOSE (spec §5 Cancellation).
		if c.State() == StateClosing && h.opcode != OpClose {
			continue
		}

		if done := c.dispatch(h, payload); done {
			return true
		}
	}
}

// dispatch runs one parsed, unmasked frame through the assembler/control
// handler and reacts to the outcome. Returns true once the connection has
// finalized.
func (c *Conn) dispatch(h frameHeader, payload []byte) bool {
	err := c.onFrame(h, payload)
	if err == nil {
		return false
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		c.failProtocol(pe)
		return true
	}
	if errors.Is(err, errRemoteClose) {
		c.finalize(err)
		return true
	}
	var te *timeoutError
	if errors.As(err, &te) {
		// Local close only: no WebSocket close frame is owed (spec §7).
		c.finalize(err)
		return true
	}
	c.finalize(err)
	return true
}

// failProtocol reacts to a *ProtocolError discovered anywhere in the
// ingress pipeline: send CLOSE with its code, move to CLOSING, then
// finalize (spec §4.F: "OPEN, protocol error -> CLOSING, send CLOSE with
// appropriate code"). If the CLOSE frame itself can't be written, that
// transport failure becomes the reported cause, via wrapProtocolError,
// rather than being discarded.
func (c *Conn) failProtocol(pe *ProtocolError) {
	if werr := c.writeControl(OpClose, closePayload(pe.Code, nil)); werr != nil {
		pe = wrapProtocolError(pe.Code, pe.Reason, werr)
	}
	c.transitionClosing()
	c.finalize(pe)
}
