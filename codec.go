package mauzr

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var (
	ErrUnknownPacketType = errors.New("unknown packet type")
)

// newPacket returns an empty packet for the given type.
func newPacket(t PacketType) (Packet, error) {
	switch t {
	case PacketCONNECT:
		return &ConnectPacket{}, nil
	case PacketCONNACK:
		return &ConnackPacket{}, nil
	case PacketPUBLISH:
		return &PublishPacket{}, nil
	case PacketPUBACK:
		return &PubackPacket{}, nil
	case PacketPUBREC:
		return &PubrecPacket{}, nil
	case PacketPUBREL:
		return &PubrelPacket{}, nil
	case PacketPUBCOMP:
		return &PubcompPacket{}, nil
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, nil
	case PacketSUBACK:
		return &SubackPacket{}, nil
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, nil
	case PacketUNSUBACK:
		return &UnsubackPacket{}, nil
	case PacketPINGREQ:
		return &PingreqPacket{}, nil
	case PacketPINGRESP:
		return &PingrespPacket{}, nil
	case PacketDISCONNECT:
		return &DisconnectPacket{}, nil
	default:
		return nil, ErrUnknownPacketType
	}
}

// DecodePacket decodes the packet introduced by opcode, which the caller has
// already consumed from r. Exactly the bytes announced by the remaining
// length are read. Every wire level violation is returned as a *ProtocolError.
func DecodePacket(opcode byte, r io.Reader) (Packet, int, error) {
	var header FixedHeader
	n, err := header.decodeAfterOpcode(opcode, r)
	n++
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, n, err
		}
		return nil, n, NewProtocolError(header.PacketType, err)
	}

	if err := header.ValidateFlags(); err != nil {
		return nil, n, NewProtocolError(header.PacketType, err)
	}

	buf := getRemaining(int(header.RemainingLength))
	defer putRemaining(buf)

	remaining := *buf
	if header.RemainingLength > 0 {
		rn, err := io.ReadFull(r, remaining)
		n += rn
		if err != nil {
			return nil, n, err
		}
	}

	packet, err := newPacket(header.PacketType)
	if err != nil {
		return nil, n, NewProtocolError(header.PacketType, err)
	}

	reader := bytes.NewReader(remaining)
	consumed, err := packet.Decode(reader, header)
	if err != nil {
		return nil, n, NewProtocolError(header.PacketType, err)
	}
	if consumed != len(remaining) {
		return nil, n, NewProtocolError(header.PacketType,
			fmt.Errorf("%d trailing bytes", len(remaining)-consumed))
	}

	return packet, n, nil
}

// ReadPacket reads a complete MQTT packet from the reader.
func ReadPacket(r io.Reader) (Packet, int, error) {
	var opcode [1]byte
	if _, err := io.ReadFull(r, opcode[:]); err != nil {
		return nil, 0, err
	}
	return DecodePacket(opcode[0], r)
}

// WritePacket writes a complete MQTT packet to the writer in one call.
func WritePacket(w io.Writer, packet Packet) (int, error) {
	data, err := EncodePacket(packet)
	if err != nil {
		return 0, err
	}
	return w.Write(data)
}

// EncodePacket returns the wire form of a packet.
func EncodePacket(packet Packet) ([]byte, error) {
	if err := packet.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := packet.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeWithHeader writes a fixed header announcing len(body) followed by body.
func writeWithHeader(w io.Writer, packetType PacketType, flags byte, body []byte) (int, error) {
	if len(body) > MaxRemainingLength {
		return 0, ErrRemainingLengthTooLarge
	}

	header := FixedHeader{
		PacketType:      packetType,
		Flags:           flags,
		RemainingLength: uint32(len(body)),
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := w.Write(body)
	return total + n, err
}
