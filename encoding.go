package mauzr

import (
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"
)

// Encoding errors.
var (
	ErrStringTooLong            = errors.New("string exceeds maximum length of 65535 bytes")
	ErrBinaryTooLong            = errors.New("binary data exceeds maximum length of 65535 bytes")
	ErrInvalidUTF8              = errors.New("invalid UTF-8 string")
	ErrStringContainsNull       = errors.New("string contains null character")
	ErrRemainingLengthTooLarge  = errors.New("remaining length exceeds 2097151")
	ErrRemainingLengthMalformed = errors.New("malformed remaining length")
)

const (
	maxUint16 = 65535

	// MaxRemainingLength is the largest remaining length this codec encodes.
	MaxRemainingLength = 2097151

	lengthContinueBit = 0x80
	lengthValueMask   = 0x7F
	maxLengthBytes    = 4
)

// encodeString writes a UTF-8 string with 2-byte length prefix to w.
// Returns the number of bytes written.
func encodeString(w io.Writer, s string) (int, error) {
	if len(s) > maxUint16 {
		return 0, ErrStringTooLong
	}

	if !utf8.ValidString(s) {
		return 0, ErrInvalidUTF8
	}

	for i := range len(s) {
		if s[i] == 0 {
			return 0, ErrStringContainsNull
		}
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))

	n, err := w.Write(lenBuf[:])
	if err != nil {
		return n, err
	}

	n2, err := io.WriteString(w, s)
	return n + n2, err
}

// decodeString reads a UTF-8 string with 2-byte length prefix from r.
func decodeString(r io.Reader) (string, int, error) {
	buf, n, err := decodeBinary(r)
	if err != nil {
		return "", n, err
	}

	if !utf8.Valid(buf) {
		return "", n, ErrInvalidUTF8
	}

	for i := range len(buf) {
		if buf[i] == 0 {
			return "", n, ErrStringContainsNull
		}
	}

	return string(buf), n, nil
}

// encodeBinary writes binary data with 2-byte length prefix to w.
func encodeBinary(w io.Writer, data []byte) (int, error) {
	if len(data) > maxUint16 {
		return 0, ErrBinaryTooLong
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(data)))

	n, err := w.Write(lenBuf[:])
	if err != nil {
		return n, err
	}

	n2, err := w.Write(data)
	return n + n2, err
}

// decodeBinary reads binary data with 2-byte length prefix from r.
func decodeBinary(r io.Reader) ([]byte, int, error) {
	var lenBuf [2]byte
	n, err := io.ReadFull(r, lenBuf[:])
	if err != nil {
		return nil, n, err
	}

	length := binary.BigEndian.Uint16(lenBuf[:])
	if length == 0 {
		return nil, n, nil
	}

	buf := make([]byte, length)
	n2, err := io.ReadFull(r, buf)
	n += n2
	if err != nil {
		return nil, n, err
	}

	return buf, n, nil
}

// encodeUint16 writes a big endian 16 bit integer to w.
func encodeUint16(w io.Writer, v uint16) (int, error) {
	return w.Write([]byte{byte(v >> 8), byte(v)})
}

// decodeUint16 reads a big endian 16 bit integer from r.
func decodeUint16(r io.Reader) (uint16, int, error) {
	var buf [2]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, n, err
	}
	return binary.BigEndian.Uint16(buf[:]), n, nil
}

// encodeRemainingLength writes the remaining length field of a fixed header.
// Groups of 7 bits are emitted low first with the continuation bit set while
// more groups follow.
func encodeRemainingLength(w io.Writer, value uint32) (int, error) {
	if value > MaxRemainingLength {
		return 0, ErrRemainingLengthTooLarge
	}

	var buf [maxLengthBytes]byte
	n := 0

	for {
		encodedByte := byte(value % 128)
		value /= 128

		if value > 0 {
			encodedByte |= lengthContinueBit
		}

		buf[n] = encodedByte
		n++

		if value == 0 {
			break
		}
	}

	return w.Write(buf[:n])
}

// decodeRemainingLength reads the remaining length field of a fixed header.
// Returns the value, number of bytes read, and any error.
func decodeRemainingLength(r io.Reader) (uint32, int, error) {
	var value uint32
	var multiplier uint32 = 1
	var buf [1]byte
	bytesRead := 0

	for {
		if bytesRead == maxLengthBytes {
			return 0, bytesRead, ErrRemainingLengthMalformed
		}

		n, err := io.ReadFull(r, buf[:])
		bytesRead += n
		if err != nil {
			return 0, bytesRead, err
		}

		value += uint32(buf[0]&lengthValueMask) * multiplier
		if buf[0]&lengthContinueBit == 0 {
			break
		}

		multiplier *= 128
	}

	if value > MaxRemainingLength {
		return 0, bytesRead, ErrRemainingLengthTooLarge
	}

	return value, bytesRead, nil
}
