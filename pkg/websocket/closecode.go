package websocket

// Close codes, per https://datatracker.ietf.org/doc/html/rfc6455#section-7.4.1.
const (
	CloseNormalClosure   uint16 = 1000
	CloseGoingAway       uint16 = 1001
	CloseProtocolError   uint16 = 1002
	CloseUnsupportedData uint16 = 1003
	CloseInvalidData     uint16 = 1007
	ClosePolicyViolation uint16 = 1008
	CloseMessageTooBig   uint16 = 1009
	CloseMandatoryExt    uint16 = 1010
	CloseInternalError   uint16 = 1011
)

// ValidCloseCode reports whether code is a value that a peer is allowed to
// send in (and accept from) a CLOSE frame, per spec §3:
//
//	valid:   1000, 1001, 1002, 1003, 1007-1011, [3000, 4999]
//	invalid: <1000, 1004, 1005, 1006, 1012-1014, 1015, 1016-2999, >=5000
func ValidCloseCode(code uint16) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1011:
		return true
	case code >= 3000 && code <= 4999:
		return true
	default:
		return false
	}
}
