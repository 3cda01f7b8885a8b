package mauzr

import (
	"bytes"
	"io"
)

// SubscribePacket represents an MQTT SUBSCRIBE packet for a single topic filter.
type SubscribePacket struct {
	PacketID uint16
	Topic    string
	QoS      byte
}

// Type returns the packet type.
func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

// GetPacketID returns the packet identifier.
func (p *SubscribePacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *SubscribePacket) SetPacketID(id uint16) { p.PacketID = id }

// Encode writes the packet to the writer.
func (p *SubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	if _, err := encodeUint16(&buf, p.PacketID); err != nil {
		return 0, err
	}
	if _, err := encodeString(&buf, p.Topic); err != nil {
		return 0, err
	}
	buf.WriteByte(p.QoS)

	return writeWithHeader(w, PacketSUBSCRIBE, 0x02, buf.Bytes())
}

// Decode reads the packet from the reader.
func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBSCRIBE {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x02 {
		return 0, ErrInvalidPacketFlags
	}

	var totalRead int

	id, n, err := decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.PacketID = id

	p.Topic, n, err = decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	var qosBuf [1]byte
	n, err = io.ReadFull(r, qosBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.QoS = qosBuf[0]

	// Only single topic subscribes are spoken.
	if totalRead != int(header.RemainingLength) {
		return totalRead, ErrProtocolError
	}

	return totalRead, p.Validate()
}

// Validate validates the packet contents.
func (p *SubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrPacketIDRequired
	}
	if p.Topic == "" {
		return ErrTopicNameEmpty
	}
	if p.QoS > 2 {
		return ErrInvalidQoS
	}
	return nil
}
