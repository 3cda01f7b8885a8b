package mauzr

import (
	"io"
)

// subackRemainingLength is the remaining length of a single topic SUBACK.
const subackRemainingLength = 3

// SubackPacket represents an MQTT SUBACK packet answering a single topic subscribe.
type SubackPacket struct {
	PacketID   uint16
	GrantedQoS byte
}

// Type returns the packet type.
func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

// GetPacketID returns the packet identifier.
func (p *SubackPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *SubackPacket) SetPacketID(id uint16) { p.PacketID = id }

// Encode writes the packet to the writer.
func (p *SubackPacket) Encode(w io.Writer) (int, error) {
	if p.PacketID == 0 {
		return 0, ErrPacketIDRequired
	}
	body := []byte{byte(p.PacketID >> 8), byte(p.PacketID), p.GrantedQoS}
	return writeWithHeader(w, PacketSUBACK, 0x00, body)
}

// Decode reads the packet from the reader. A refused subscription (0x80) or
// any other code outside 0..2 fails the decode.
func (p *SubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBACK {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x00 {
		return 0, ErrInvalidPacketFlags
	}
	if header.RemainingLength != subackRemainingLength {
		return 0, ErrProtocolError
	}

	var buf [subackRemainingLength]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return n, err
	}

	p.PacketID = uint16(buf[0])<<8 | uint16(buf[1])
	p.GrantedQoS = buf[2]

	return n, p.Validate()
}

// Validate validates the packet contents.
func (p *SubackPacket) Validate() error {
	if p.PacketID == 0 {
		return ErrPacketIDRequired
	}
	if p.GrantedQoS == SubackFailure {
		return ErrSubscriptionRefused
	}
	if p.GrantedQoS > 2 {
		return ErrInvalidQoS
	}
	return nil
}
