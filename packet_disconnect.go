package mauzr

import (
	"io"
)

// DisconnectPacket represents an MQTT DISCONNECT packet.
//
// When Will is set, Encode first writes a PUBLISH of the will so a graceful
// disconnect announces the same state the broker would publish for a lost
// client. Decode never fills Will.
type DisconnectPacket struct {
	Will *Will

	// WillPacketID is used for the will PUBLISH when its QoS is above 0.
	WillPacketID uint16
}

// Type returns the packet type.
func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

// Encode writes the packet to the writer.
func (p *DisconnectPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var total int
	if p.Will != nil {
		n, err := p.willPublish().Encode(w)
		total += n
		if err != nil {
			return total, err
		}
	}

	n, err := encodeEmpty(w, PacketDISCONNECT)
	return total + n, err
}

// Decode reads the packet from the reader.
func (p *DisconnectPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return 0, decodeEmpty(header, PacketDISCONNECT)
}

// Validate validates the packet contents.
func (p *DisconnectPacket) Validate() error {
	if p.Will == nil {
		return nil
	}
	return p.willPublish().Validate()
}

func (p *DisconnectPacket) willPublish() *PublishPacket {
	pub := &PublishPacket{
		Topic:   p.Will.Topic,
		Payload: p.Will.Payload,
		QoS:     p.Will.QoS,
		Retain:  p.Will.Retain,
	}
	if pub.QoS > 0 {
		pub.PacketID = p.WillPacketID
	}
	return pub
}
