package mauzr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrUnknownFormat is returned by SerializerFromFormat for unsupported formats.
var ErrUnknownFormat = errors.New("unknown serializer format")

// Serializer converts values to payloads and back.
type Serializer interface {
	// Pack converts a value into a payload.
	Pack(v any) ([]byte, error)

	// Unpack converts a payload into a value.
	Unpack(data []byte) (any, error)

	// Format identifies the wire format, e.g. "str" or "struct/!f".
	Format() string

	// Description says what the handled value means.
	Description() string
}

// SameFormat reports whether two serializers handle the same format.
func SameFormat(a, b Serializer) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Format() == b.Format()
}

// SerializerFromFormat returns a serializer for a well known format string.
func SerializerFromFormat(format, desc string) (Serializer, error) {
	switch {
	case format == formatString:
		return NewStringSerializer(desc), nil
	case format == formatBytes:
		return NewBytesSerializer(desc), nil
	case format == formatJSON:
		return NewJSONSerializer(desc), nil
	case strings.HasPrefix(format, formatStructPrefix):
		return NewStructSerializer(strings.TrimPrefix(format, formatStructPrefix), desc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

const (
	formatString       = "str"
	formatBytes        = "bytes"
	formatJSON         = "json"
	formatStructPrefix = "struct/"
	formatTopic        = "topic"
)

// StringSerializer handles UTF-8 text.
type StringSerializer struct {
	desc string
}

// NewStringSerializer creates a StringSerializer.
func NewStringSerializer(desc string) *StringSerializer {
	return &StringSerializer{desc: desc}
}

// Pack accepts a string or nil.
func (s *StringSerializer) Pack(v any) ([]byte, error) {
	switch value := v.(type) {
	case nil:
		return []byte{}, nil
	case string:
		return []byte(value), nil
	case fmt.Stringer:
		return []byte(value.String()), nil
	default:
		return nil, NewSerializationError(formatString, fmt.Errorf("not a string: %T", v))
	}
}

// Unpack returns the payload as a string.
func (s *StringSerializer) Unpack(data []byte) (any, error) {
	if !utf8.Valid(data) {
		return nil, NewSerializationError(formatString, ErrInvalidUTF8)
	}
	return string(data), nil
}

// Format returns "str".
func (s *StringSerializer) Format() string { return formatString }

// Description returns the description.
func (s *StringSerializer) Description() string { return s.desc }

// BytesSerializer passes payloads through unchanged.
type BytesSerializer struct {
	desc string
}

// NewBytesSerializer creates a BytesSerializer.
func NewBytesSerializer(desc string) *BytesSerializer {
	return &BytesSerializer{desc: desc}
}

// Pack accepts a byte slice, a string or nil.
func (s *BytesSerializer) Pack(v any) ([]byte, error) {
	switch value := v.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return cloneBytes(value), nil
	case string:
		return []byte(value), nil
	default:
		return nil, NewSerializationError(formatBytes, fmt.Errorf("not bytes: %T", v))
	}
}

// Unpack returns a copy of the payload.
func (s *BytesSerializer) Unpack(data []byte) (any, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Format returns "bytes".
func (s *BytesSerializer) Format() string { return formatBytes }

// Description returns the description.
func (s *BytesSerializer) Description() string { return s.desc }

// JSONSerializer handles arbitrary JSON documents. Unpacked values use the
// generic encoding/json types.
type JSONSerializer struct {
	desc string
}

// NewJSONSerializer creates a JSONSerializer.
func NewJSONSerializer(desc string) *JSONSerializer {
	return &JSONSerializer{desc: desc}
}

// Pack marshals v.
func (s *JSONSerializer) Pack(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, NewSerializationError(formatJSON, err)
	}
	return data, nil
}

// Unpack unmarshals data.
func (s *JSONSerializer) Unpack(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, NewSerializationError(formatJSON, err)
	}
	return v, nil
}

// Format returns "json".
func (s *JSONSerializer) Format() string { return formatJSON }

// Description returns the description.
func (s *JSONSerializer) Description() string { return s.desc }
