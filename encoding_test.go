package mauzr

import (
	"bytes"
	"io"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{
			name:  "empty string",
			input: "",
		},
		{
			name:  "simple ASCII",
			input: "hello",
		},
		{
			name:  "UTF-8 characters",
			input: "temperatur/küche",
		},
		{
			name:  "max length string",
			input: strings.Repeat("a", 65535),
		},
		{
			name:    "string too long",
			input:   strings.Repeat("a", 65536),
			wantErr: ErrStringTooLong,
		},
		{
			name:    "string with null",
			input:   "hello\x00world",
			wantErr: ErrStringContainsNull,
		},
		{
			name:    "invalid UTF-8",
			input:   "\xff\xfe",
			wantErr: ErrInvalidUTF8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			n, err := encodeString(&buf, tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, buf.Len())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, 2+len(tt.input), n)

			decoded, n, err := decodeString(&buf)
			require.NoError(t, err)
			assert.Equal(t, 2+len(tt.input), n)
			assert.Equal(t, tt.input, decoded)
		})
	}
}

func TestDecodeStringErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"short length", []byte{0x00}, io.ErrUnexpectedEOF},
		{"short body", []byte{0x00, 0x03, 'a'}, io.ErrUnexpectedEOF},
		{"invalid UTF-8", []byte{0x00, 0x01, 0xff}, ErrInvalidUTF8},
		{"null character", []byte{0x00, 0x01, 0x00}, ErrStringContainsNull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeString(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEncodeDecodeBinary(t *testing.T) {
	var buf bytes.Buffer

	n, err := encodeBinary(&buf, []byte{0x00, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0x00, 0x02, 0x00, 0x01}, buf.Bytes())

	data, n, err := decodeBinary(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0x00, 0x01}, data)

	_, err = encodeBinary(&buf, make([]byte, 65536))
	assert.ErrorIs(t, err, ErrBinaryTooLong)
}

func TestEncodeDecodeUint16(t *testing.T) {
	for _, v := range []uint16{0, 1, 0x0102, 65535} {
		var buf bytes.Buffer
		n, err := encodeUint16(&buf, v)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		decoded, _, err := decodeUint16(&buf)
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	}
}

func TestRemainingLength(t *testing.T) {
	tests := []struct {
		value   uint32
		encoded []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{321, []byte{0xc1, 0x02}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{2097151, []byte{0xff, 0xff, 0x7f}},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		n, err := encodeRemainingLength(&buf, tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.encoded, buf.Bytes(), "value %d", tt.value)
		assert.Equal(t, len(tt.encoded), n)

		decoded, n, err := decodeRemainingLength(&buf)
		require.NoError(t, err)
		assert.Equal(t, tt.value, decoded)
		assert.Equal(t, len(tt.encoded), n)
	}
}

func TestRemainingLengthRoundTrip(t *testing.T) {
	values := []uint32{0, MaxRemainingLength}
	for range 2000 {
		values = append(values, rand.Uint32N(MaxRemainingLength+1))
	}

	for _, v := range values {
		var buf bytes.Buffer
		_, err := encodeRemainingLength(&buf, v)
		require.NoError(t, err)

		decoded, _, err := decodeRemainingLength(&buf)
		require.NoError(t, err)
		require.Equal(t, v, decoded)
	}
}

func TestRemainingLengthErrors(t *testing.T) {
	t.Run("too large to encode", func(t *testing.T) {
		for _, v := range []uint32{MaxRemainingLength + 1, 268435455} {
			var buf bytes.Buffer
			_, err := encodeRemainingLength(&buf, v)
			assert.ErrorIs(t, err, ErrRemainingLengthTooLarge)
			assert.Zero(t, buf.Len())
		}
	})

	t.Run("too large to decode", func(t *testing.T) {
		_, _, err := decodeRemainingLength(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x01}))
		assert.ErrorIs(t, err, ErrRemainingLengthTooLarge)
	})

	t.Run("five bytes", func(t *testing.T) {
		_, n, err := decodeRemainingLength(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0x01}))
		assert.ErrorIs(t, err, ErrRemainingLengthMalformed)
		assert.Equal(t, 4, n)
	})

	t.Run("truncated", func(t *testing.T) {
		_, _, err := decodeRemainingLength(bytes.NewReader([]byte{0x80}))
		assert.ErrorIs(t, err, io.EOF)
	})
}
