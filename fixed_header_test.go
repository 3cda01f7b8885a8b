package mauzr

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedHeaderEncodeDecode(t *testing.T) {
	tests := []struct {
		name    string
		header  FixedHeader
		encoded []byte
	}{
		{
			name:    "PINGREQ",
			header:  FixedHeader{PacketType: PacketPINGREQ},
			encoded: []byte{0xc0, 0x00},
		},
		{
			name:    "PUBLISH QoS2 retain DUP",
			header:  FixedHeader{PacketType: PacketPUBLISH, Flags: 0x0d, RemainingLength: 200},
			encoded: []byte{0x3d, 0xc8, 0x01},
		},
		{
			name:    "SUBSCRIBE",
			header:  FixedHeader{PacketType: PacketSUBSCRIBE, Flags: 0x02, RemainingLength: 8},
			encoded: []byte{0x82, 0x08},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := tt.header.Encode(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.encoded, buf.Bytes())
			assert.Equal(t, len(tt.encoded), n)

			var decoded FixedHeader
			n, err = decoded.Decode(&buf)
			require.NoError(t, err)
			assert.Equal(t, len(tt.encoded), n)
			assert.Equal(t, tt.header, decoded)
		})
	}
}

func TestFixedHeaderEncodeErrors(t *testing.T) {
	var buf bytes.Buffer

	h := FixedHeader{PacketType: 0}
	_, err := h.Encode(&buf)
	assert.ErrorIs(t, err, ErrInvalidPacketType)

	h = FixedHeader{PacketType: PacketPUBLISH, RemainingLength: MaxRemainingLength + 1}
	_, err = h.Encode(&buf)
	assert.ErrorIs(t, err, ErrRemainingLengthTooLarge)
	assert.Zero(t, buf.Len())
}

func TestFixedHeaderFlags(t *testing.T) {
	h := FixedHeader{PacketType: PacketPUBLISH, Flags: 0x0b}
	assert.True(t, h.DUP())
	assert.Equal(t, byte(1), h.QoS())
	assert.True(t, h.Retain())
	assert.Equal(t, byte(0x3b), h.Opcode())

	h = FixedHeader{PacketType: PacketPUBLISH, Flags: 0x04}
	assert.False(t, h.DUP())
	assert.Equal(t, byte(2), h.QoS())
	assert.False(t, h.Retain())
}

func TestFixedHeaderValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		header  FixedHeader
		wantErr error
	}{
		{"PUBLISH QoS0", FixedHeader{PacketType: PacketPUBLISH, Flags: 0x00}, nil},
		{"PUBLISH QoS2 DUP retain", FixedHeader{PacketType: PacketPUBLISH, Flags: 0x0d}, nil},
		{"PUBLISH QoS3", FixedHeader{PacketType: PacketPUBLISH, Flags: 0x06}, ErrInvalidPacketFlags},
		{"PUBREL", FixedHeader{PacketType: PacketPUBREL, Flags: 0x02}, nil},
		{"PUBREL without bit", FixedHeader{PacketType: PacketPUBREL}, ErrInvalidPacketFlags},
		{"SUBSCRIBE", FixedHeader{PacketType: PacketSUBSCRIBE, Flags: 0x02}, nil},
		{"UNSUBSCRIBE wrong", FixedHeader{PacketType: PacketUNSUBSCRIBE, Flags: 0x03}, ErrInvalidPacketFlags},
		{"CONNACK", FixedHeader{PacketType: PacketCONNACK}, nil},
		{"PUBACK with flags", FixedHeader{PacketType: PacketPUBACK, Flags: 0x02}, ErrInvalidPacketFlags},
		{"DISCONNECT with flags", FixedHeader{PacketType: PacketDISCONNECT, Flags: 0x01}, ErrInvalidPacketFlags},
		{"reserved", FixedHeader{PacketType: 15}, ErrInvalidPacketType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.header.ValidateFlags()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
