package keycodec

import (
	"encoding/binary"
	"math"

	"graphstore/internal/common"

	"github.com/pkg/errors"
)

// ErrMalformed reports input that was not produced by this package.
var ErrMalformed = errors.Wrap(common.ErrInvalidArgument, "malformed encoding")

const (
	encGroupSize = 8
	encMarker    = byte(0xFF)
	encPad       = byte(0x0)
)

var pads = make([]byte, encGroupSize)

// EncodeBytes guarantees the encoded value is in ascending order for comparison,
// encoding with the following rule:
//
//	[group1][marker1]...[groupN][markerN]
//	group is 8 bytes slice which is padding with 0.
//	marker is `0xFF - padding 0 count`
//
// Refer: https://github.com/facebook/mysql-5.6/wiki/MyRocks-record-format#memcomparable-format
func EncodeBytes(dst []byte, data []byte) []byte {
	dLen := len(data)
	if cap(dst)-len(dst) < (dLen/encGroupSize+1)*(encGroupSize+1) {
		grown := make([]byte, len(dst), len(dst)+(dLen/encGroupSize+1)*(encGroupSize+1))
		copy(grown, dst)
		dst = grown
	}
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			dst = append(dst, data[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			dst = append(dst, data[idx:]...)
			dst = append(dst, pads[:padCount]...)
		}
		dst = append(dst, encMarker-byte(padCount))
	}
	return dst
}

// DecodeBytes decodes bytes which is encoded by EncodeBytes before,
// returns the leftover bytes and decoded value if no error.
func DecodeBytes(b []byte) ([]byte, []byte, error) {
	data := make([]byte, 0, len(b))
	for {
		if len(b) < encGroupSize+1 {
			return nil, nil, errors.Wrap(ErrMalformed, "insufficient bytes to decode value")
		}
		groupBytes := b[:encGroupSize+1]
		group := groupBytes[:encGroupSize]
		marker := groupBytes[encGroupSize]

		padCount := encMarker - marker
		if padCount > encGroupSize {
			return nil, nil, errors.Wrapf(ErrMalformed, "invalid marker byte, group bytes %q", groupBytes)
		}

		realGroupSize := encGroupSize - padCount
		data = append(data, group[:realGroupSize]...)
		b = b[encGroupSize+1:]

		if padCount != 0 {
			for _, v := range group[realGroupSize:] {
				if v != encPad {
					return nil, nil, errors.Wrapf(ErrMalformed, "invalid padding byte, group bytes %q", groupBytes)
				}
			}
			break
		}
	}
	return b, data, nil
}

// EncodeInt64 maps v to 8 bytes whose unsigned order matches signed order.
func EncodeInt64(v int64) []byte {
	return AppendInt64(make([]byte, 0, 8), v)
}

func AppendInt64(dst []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(v)^(1<<63))
}

func DecodeInt64(b []byte) (int64, error) {
	if len(b) < 8 {
		return 0, errors.Wrap(ErrMalformed, "int64 needs 8 bytes")
	}
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63)), nil
}

// EncodeFloat64 maps f to 8 bytes whose unsigned order matches numeric order.
// Non-negative values get the sign bit set; negative values are inverted.
func EncodeFloat64(f float64) []byte {
	return AppendFloat64(make([]byte, 0, 8), f)
}

func AppendFloat64(dst []byte, f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		bits |= 1 << 63
	} else {
		bits = ^bits
	}
	return binary.BigEndian.AppendUint64(dst, bits)
}

func DecodeFloat64(b []byte) (float64, error) {
	if len(b) < 8 {
		return 0, errors.Wrap(ErrMalformed, "float64 needs 8 bytes")
	}
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}

// Tags for self-delimiting typed values. They sort above the id markers so a
// run of values can be told apart from the id that follows it.
const (
	valueTagNull   = byte(0x10)
	valueTagFalse  = byte(0x11)
	valueTagTrue   = byte(0x12)
	valueTagInt    = byte(0x13)
	valueTagFloat  = byte(0x14)
	valueTagBytes  = byte(0x15)
	valueTagLowest = valueTagNull
)

// AppendValue encodes a typed field or sort value so that byte order follows
// value order within one type. Supported: nil, bool, all integer kinds,
// float32/float64, string and []byte.
func AppendValue(dst []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(dst, valueTagNull), nil
	case bool:
		if x {
			return append(dst, valueTagTrue), nil
		}
		return append(dst, valueTagFalse), nil
	case int:
		return AppendInt64(append(dst, valueTagInt), int64(x)), nil
	case int8:
		return AppendInt64(append(dst, valueTagInt), int64(x)), nil
	case int16:
		return AppendInt64(append(dst, valueTagInt), int64(x)), nil
	case int32:
		return AppendInt64(append(dst, valueTagInt), int64(x)), nil
	case int64:
		return AppendInt64(append(dst, valueTagInt), x), nil
	case uint8:
		return AppendInt64(append(dst, valueTagInt), int64(x)), nil
	case uint16:
		return AppendInt64(append(dst, valueTagInt), int64(x)), nil
	case uint32:
		return AppendInt64(append(dst, valueTagInt), int64(x)), nil
	case float32:
		return AppendFloat64(append(dst, valueTagFloat), float64(x)), nil
	case float64:
		return AppendFloat64(append(dst, valueTagFloat), x), nil
	case string:
		return EncodeBytes(append(dst, valueTagBytes), []byte(x)), nil
	case []byte:
		return EncodeBytes(append(dst, valueTagBytes), x), nil
	default:
		return nil, errors.Wrapf(common.ErrInvalidArgument, "unsupported value type %T", v)
	}
}

// DecodeValue reverses AppendValue. Integers come back as int64, floats as
// float64 and strings as []byte.
func DecodeValue(b []byte) (any, []byte, error) {
	if len(b) == 0 {
		return nil, nil, errors.Wrap(ErrMalformed, "empty value")
	}
	tag, rest := b[0], b[1:]
	switch tag {
	case valueTagNull:
		return nil, rest, nil
	case valueTagFalse:
		return false, rest, nil
	case valueTagTrue:
		return true, rest, nil
	case valueTagInt:
		v, err := DecodeInt64(rest)
		if err != nil {
			return nil, nil, err
		}
		return v, rest[8:], nil
	case valueTagFloat:
		v, err := DecodeFloat64(rest)
		if err != nil {
			return nil, nil, err
		}
		return v, rest[8:], nil
	case valueTagBytes:
		rest, data, err := DecodeBytes(rest)
		if err != nil {
			return nil, nil, err
		}
		return data, rest, nil
	default:
		return nil, nil, errors.Wrapf(ErrMalformed, "unknown value tag 0x%02x", tag)
	}
}

func isValueTag(b byte) bool {
	return b >= valueTagLowest && b <= valueTagBytes
}
