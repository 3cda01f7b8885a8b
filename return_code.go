package mauzr

// ConnectReturnCode is the result a broker reports in CONNACK.
type ConnectReturnCode byte

// CONNACK return codes.
const (
	ConnectAccepted                    ConnectReturnCode = 0x00
	ConnectUnacceptableProtocolVersion ConnectReturnCode = 0x01
	ConnectIdentifierRejected          ConnectReturnCode = 0x02
	ConnectServerUnavailable           ConnectReturnCode = 0x03
	ConnectBadUsernameOrPassword       ConnectReturnCode = 0x04
	ConnectNotAuthorized               ConnectReturnCode = 0x05
)

// SubackFailure is the SUBACK return code for a refused subscription.
const SubackFailure byte = 0x80

// String returns the string representation of the return code.
func (c ConnectReturnCode) String() string {
	switch c {
	case ConnectAccepted:
		return "connection accepted"
	case ConnectUnacceptableProtocolVersion:
		return "unacceptable protocol version"
	case ConnectIdentifierRejected:
		return "identifier rejected"
	case ConnectServerUnavailable:
		return "server unavailable"
	case ConnectBadUsernameOrPassword:
		return "bad user name or password"
	case ConnectNotAuthorized:
		return "not authorized"
	default:
		return "unknown return code"
	}
}
