// Package websocket is a WebSocket protocol engine (RFC 6455): HTTP upgrade
// handshake, frame parsing/serialization, fragmented message reassembly,
// incremental UTF-8 validation of text payloads, control-frame handling
// (ping/pong/close), and the close-code state machine. It can run as a
// server accepting many concurrent peers (OpenServer) or as a client
// dialing one remote (OpenClient).
//
// The byte transport (plain TCP or TLS), connection acceptance/dial,
// keepalive socket options, and the public callback surface are the only
// external collaborators; everything else is self-contained.
//
// Not supported: per-message compression (RFC 7692), subprotocol
// negotiation, HTTP routing beyond the upgrade request line, origin/CORS
// checks, authenticated proxies, and pinging on a timer (callers that want
// a heartbeat call Conn.Ping themselves).
package websocket
