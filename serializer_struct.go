package mauzr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Struct format errors.
var (
	ErrInvalidStructFormat = errors.New("invalid struct format")
	ErrStructValueCount    = errors.New("wrong number of struct values")
	ErrStructValueRange    = errors.New("struct value out of range")
	ErrStructValueType     = errors.New("struct value has wrong type")
	ErrStructPayloadSize   = errors.New("struct payload has wrong size")
)

type structField struct {
	code   byte
	size   int
	offset int
	// length of an 's' field
	length int
}

// StructSerializer packs fixed layout binary records described by a format
// string such as "!f" or "<hHx?". The first character may select the byte
// order: '!' and '>' big endian, '<' little endian, '=' native, '@' native
// with natural alignment (the default). Codes: x pad byte, ? bool, b/B int8,
// h/H int16, i/I and l/L int32, q/Q int64, e float16, f float32, d float64,
// s byte string. A decimal prefix repeats a code, or sets the length of s.
//
// A format with a single value packs and unpacks that value directly. With
// more values Pack expects and Unpack returns a []any.
type StructSerializer struct {
	layout string
	desc   string
	order  binary.ByteOrder
	fields []structField
	size   int
}

// NewStructSerializer parses layout and creates a StructSerializer.
func NewStructSerializer(layout, desc string) (*StructSerializer, error) {
	s := &StructSerializer{layout: layout, desc: desc}
	if err := s.parse(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StructSerializer) parse() error {
	format := s.layout
	order := binary.ByteOrder(binary.NativeEndian)
	align := true

	if len(format) > 0 {
		switch format[0] {
		case '!', '>':
			order, align = binary.BigEndian, false
			format = format[1:]
		case '<':
			order, align = binary.LittleEndian, false
			format = format[1:]
		case '=':
			align = false
			format = format[1:]
		case '@':
			format = format[1:]
		}
	}
	s.order = order

	offset := 0
	for i := 0; i < len(format); {
		count := 1
		start := i
		for i < len(format) && format[i] >= '0' && format[i] <= '9' {
			i++
		}
		if i > start {
			n, err := strconv.Atoi(format[start:i])
			if err != nil {
				return fmt.Errorf("%w: %q", ErrInvalidStructFormat, s.layout)
			}
			count = n
		}
		if i >= len(format) {
			return fmt.Errorf("%w: %q ends with a count", ErrInvalidStructFormat, s.layout)
		}

		code := format[i]
		i++

		size, ok := structCodeSize(code)
		if !ok {
			return fmt.Errorf("%w: unknown code %q in %q", ErrInvalidStructFormat, code, s.layout)
		}

		switch code {
		case 'x':
			offset += count
		case 's':
			s.fields = append(s.fields, structField{code: code, size: 1, offset: offset, length: count})
			offset += count
		default:
			for range count {
				if align {
					offset = (offset + size - 1) / size * size
				}
				s.fields = append(s.fields, structField{code: code, size: size, offset: offset})
				offset += size
			}
		}
	}

	if offset == 0 {
		return fmt.Errorf("%w: %q is empty", ErrInvalidStructFormat, s.layout)
	}
	s.size = offset
	return nil
}

func structCodeSize(code byte) (int, bool) {
	switch code {
	case 'x', '?', 'b', 'B', 's':
		return 1, true
	case 'h', 'H', 'e':
		return 2, true
	case 'i', 'I', 'l', 'L', 'f':
		return 4, true
	case 'q', 'Q', 'd':
		return 8, true
	default:
		return 0, false
	}
}

// Size returns the length of a packed record.
func (s *StructSerializer) Size() int { return s.size }

// Format returns "struct/" followed by the layout.
func (s *StructSerializer) Format() string { return formatStructPrefix + s.layout }

// Description returns the description.
func (s *StructSerializer) Description() string { return s.desc }

// Pack encodes v according to the layout.
func (s *StructSerializer) Pack(v any) ([]byte, error) {
	var values []any
	if len(s.fields) == 1 {
		values = []any{v}
	} else {
		list, ok := v.([]any)
		if !ok {
			return nil, s.fail(fmt.Errorf("%w: want []any, got %T", ErrStructValueType, v))
		}
		values = list
	}

	if len(values) != len(s.fields) {
		return nil, s.fail(fmt.Errorf("%w: want %d, got %d", ErrStructValueCount, len(s.fields), len(values)))
	}

	buf := make([]byte, s.size)
	for i, field := range s.fields {
		if err := s.put(buf[field.offset:], field, values[i]); err != nil {
			return nil, s.fail(fmt.Errorf("value %d: %w", i, err))
		}
	}
	return buf, nil
}

// Unpack decodes data according to the layout.
func (s *StructSerializer) Unpack(data []byte) (any, error) {
	if len(data) != s.size {
		return nil, s.fail(fmt.Errorf("%w: want %d bytes, got %d", ErrStructPayloadSize, s.size, len(data)))
	}

	values := make([]any, len(s.fields))
	for i, field := range s.fields {
		values[i] = s.get(data[field.offset:], field)
	}

	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}

func (s *StructSerializer) fail(err error) error {
	return NewSerializationError(s.Format(), err)
}

func (s *StructSerializer) put(buf []byte, field structField, v any) error {
	switch field.code {
	case '?':
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: want bool, got %T", ErrStructValueType, v)
		}
		buf[0] = 0
		if b {
			buf[0] = 1
		}
	case 's':
		var raw []byte
		switch value := v.(type) {
		case []byte:
			raw = value
		case string:
			raw = []byte(value)
		default:
			return fmt.Errorf("%w: want bytes, got %T", ErrStructValueType, v)
		}
		copy(buf[:field.length], raw)
	case 'b', 'h', 'i', 'l', 'q':
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		bits := uint(field.size * 8)
		if bits < 64 && (n < -(1<<(bits-1)) || n >= 1<<(bits-1)) {
			return fmt.Errorf("%w: %d does not fit %c", ErrStructValueRange, n, field.code)
		}
		s.putUint(buf, field.size, uint64(n))
	case 'B', 'H', 'I', 'L', 'Q':
		n, err := toUint64(v)
		if err != nil {
			return err
		}
		bits := uint(field.size * 8)
		if bits < 64 && n >= 1<<bits {
			return fmt.Errorf("%w: %d does not fit %c", ErrStructValueRange, n, field.code)
		}
		s.putUint(buf, field.size, n)
	case 'e':
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		half, err := float16Bits(f)
		if err != nil {
			return err
		}
		s.order.PutUint16(buf, half)
	case 'f':
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return fmt.Errorf("%w: %g does not fit f", ErrStructValueRange, f)
		}
		s.order.PutUint32(buf, math.Float32bits(float32(f)))
	case 'd':
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		s.order.PutUint64(buf, math.Float64bits(f))
	}
	return nil
}

func (s *StructSerializer) putUint(buf []byte, size int, n uint64) {
	switch size {
	case 1:
		buf[0] = byte(n)
	case 2:
		s.order.PutUint16(buf, uint16(n))
	case 4:
		s.order.PutUint32(buf, uint32(n))
	case 8:
		s.order.PutUint64(buf, n)
	}
}

func (s *StructSerializer) get(buf []byte, field structField) any {
	switch field.code {
	case '?':
		return buf[0] != 0
	case 's':
		return cloneBytes(buf[:field.length])
	case 'b':
		return int8(buf[0])
	case 'B':
		return buf[0]
	case 'h':
		return int16(s.order.Uint16(buf))
	case 'H':
		return s.order.Uint16(buf)
	case 'i', 'l':
		return int32(s.order.Uint32(buf))
	case 'I', 'L':
		return s.order.Uint32(buf)
	case 'q':
		return int64(s.order.Uint64(buf))
	case 'Q':
		return s.order.Uint64(buf)
	case 'e':
		return float32(float16Value(s.order.Uint16(buf)))
	case 'f':
		return math.Float32frombits(s.order.Uint32(buf))
	case 'd':
		return math.Float64frombits(s.order.Uint64(buf))
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d", ErrStructValueRange, n)
		}
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d", ErrStructValueRange, n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%w: want integer, got %T", ErrStructValueType, v)
	}
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	}

	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrStructValueRange, n)
	}
	return uint64(n), nil
}

func toFloat64(v any) (float64, error) {
	switch f := v.(type) {
	case float32:
		return float64(f), nil
	case float64:
		return f, nil
	}

	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("%w: want number, got %T", ErrStructValueType, v)
	}
	return float64(n), nil
}

// float16Bits converts f to IEEE 754 half precision, rounding to nearest even.
func float16Bits(f float64) (uint16, error) {
	var sign uint16
	if math.Signbit(f) {
		sign = 0x8000
		f = -f
	}

	switch {
	case math.IsNaN(f):
		return 0x7e00, nil
	case math.IsInf(f, 0):
		return sign | 0x7c00, nil
	case f == 0:
		return sign, nil
	}

	frac, exp := math.Frexp(f)
	e := exp - 1 + 15
	if e <= 0 {
		// Subnormal; rounding up to 1024 yields the smallest normal.
		return sign | uint16(math.RoundToEven(f*(1<<24))), nil
	}

	m := math.RoundToEven((2*frac - 1) * 1024)
	if m == 1024 {
		m = 0
		e++
	}
	if e >= 31 {
		return 0, fmt.Errorf("%w: %g does not fit e", ErrStructValueRange, f)
	}
	return sign | uint16(e)<<10 | uint16(m), nil
}

func float16Value(b uint16) float64 {
	sign := 1.0
	if b&0x8000 != 0 {
		sign = -1
	}

	e := int(b>>10) & 0x1f
	m := float64(b & 0x3ff)

	switch e {
	case 0:
		return sign * math.Ldexp(m, -24)
	case 31:
		if m == 0 {
			return math.Inf(int(sign))
		}
		return math.NaN()
	}
	return sign * math.Ldexp(1+m/1024, e-15)
}
