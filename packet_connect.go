package mauzr

import (
	"bytes"
	"errors"
	"io"
)

// CONNECT packet constants.
const (
	protocolName  = "MQTT"
	protocolLevel = 4
)

// Connect flag bit positions.
const (
	connectFlagReserved     = 0x01
	connectFlagCleanSession = 0x02
	connectFlagWillFlag     = 0x04
	connectFlagWillQoSShift = 3
	connectFlagWillRetain   = 0x20
	connectFlagPasswordFlag = 0x40
	connectFlagUsernameFlag = 0x80
)

// CONNECT packet errors.
var (
	ErrInvalidProtocolName  = errors.New("invalid protocol name")
	ErrInvalidProtocolLevel = errors.New("unsupported protocol level")
	ErrInvalidConnectFlags  = errors.New("invalid connect flags")
	ErrClientIDRequired     = errors.New("client ID required with clean session false")
	ErrPasswordWithoutUser  = errors.New("password requires a username")
)

// Will is the message the broker publishes when the client vanishes.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ConnectPacket represents an MQTT CONNECT packet.
type ConnectPacket struct {
	// ClientID is the client identifier.
	ClientID string

	// CleanSession asks the broker to drop any previous session state.
	CleanSession bool

	// KeepAlive is the keep alive interval in seconds.
	KeepAlive uint16

	// Will is the last will. Nil means no will.
	Will *Will

	// Username for authentication.
	Username string

	// Password for authentication.
	Password []byte
}

// Type returns the packet type.
func (p *ConnectPacket) Type() PacketType {
	return PacketCONNECT
}

// connectFlags returns the connect flags byte.
func (p *ConnectPacket) connectFlags() byte {
	var flags byte

	if p.CleanSession {
		flags |= connectFlagCleanSession
	}

	if p.Will != nil {
		flags |= connectFlagWillFlag
		flags |= (p.Will.QoS & 0x03) << connectFlagWillQoSShift
		if p.Will.Retain {
			flags |= connectFlagWillRetain
		}
	}

	if p.Username != "" {
		flags |= connectFlagUsernameFlag
	}

	if len(p.Password) > 0 {
		flags |= connectFlagPasswordFlag
	}

	return flags
}

// Encode writes the packet to the writer.
func (p *ConnectPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	if _, err := encodeString(&buf, protocolName); err != nil {
		return 0, err
	}
	buf.WriteByte(protocolLevel)
	buf.WriteByte(p.connectFlags())
	if _, err := encodeUint16(&buf, p.KeepAlive); err != nil {
		return 0, err
	}

	if _, err := encodeString(&buf, p.ClientID); err != nil {
		return 0, err
	}

	if p.Will != nil {
		if _, err := encodeString(&buf, p.Will.Topic); err != nil {
			return 0, err
		}
		if _, err := encodeBinary(&buf, p.Will.Payload); err != nil {
			return 0, err
		}
	}

	if p.Username != "" {
		if _, err := encodeString(&buf, p.Username); err != nil {
			return 0, err
		}
	}

	if len(p.Password) > 0 {
		if _, err := encodeBinary(&buf, p.Password); err != nil {
			return 0, err
		}
	}

	return writeWithHeader(w, PacketCONNECT, 0x00, buf.Bytes())
}

// Decode reads the packet from the reader.
func (p *ConnectPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketCONNECT {
		return 0, ErrInvalidPacketType
	}

	var totalRead int

	name, n, err := decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if name != protocolName {
		return totalRead, ErrInvalidProtocolName
	}

	var fixed [2]byte
	n, err = io.ReadFull(r, fixed[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if fixed[0] != protocolLevel {
		return totalRead, ErrInvalidProtocolLevel
	}

	flags := fixed[1]
	if flags&connectFlagReserved != 0 {
		return totalRead, ErrInvalidConnectFlags
	}
	p.CleanSession = flags&connectFlagCleanSession != 0

	p.KeepAlive, n, err = decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	p.ClientID, n, err = decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	if flags&connectFlagWillFlag != 0 {
		will := &Will{
			QoS:    (flags >> connectFlagWillQoSShift) & 0x03,
			Retain: flags&connectFlagWillRetain != 0,
		}

		will.Topic, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		will.Payload, n, err = decodeBinary(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if will.Payload == nil {
			will.Payload = []byte{}
		}

		p.Will = will
	} else if flags&(connectFlagWillRetain|0x18) != 0 {
		return totalRead, ErrInvalidConnectFlags
	}

	if flags&connectFlagUsernameFlag != 0 {
		p.Username, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	if flags&connectFlagPasswordFlag != 0 {
		p.Password, n, err = decodeBinary(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	return totalRead, p.Validate()
}

// Validate validates the packet contents.
func (p *ConnectPacket) Validate() error {
	if p.ClientID == "" && !p.CleanSession {
		return ErrClientIDRequired
	}

	if p.Will != nil {
		if p.Will.QoS > 2 {
			return ErrInvalidQoS
		}
		if p.Will.Topic == "" {
			return ErrTopicNameEmpty
		}
	}

	if len(p.Password) > 0 && p.Username == "" {
		return ErrPasswordWithoutUser
	}

	return nil
}
