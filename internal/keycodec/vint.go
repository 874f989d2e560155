package keycodec

import (
	"math"

	"github.com/pkg/errors"
)

// MaxVIntLen is the encoded size of the largest uint32.
const MaxVIntLen = 5

// AppendVInt appends v as 7-bit groups, most significant group first. Every
// group but the last has the continuation bit 0x80 set. Zero encodes as a
// single 0x00 byte.
func AppendVInt(dst []byte, v uint32) []byte {
	groups := 1
	for x := v >> 7; x != 0; x >>= 7 {
		groups++
	}
	for i := groups - 1; i >= 0; i-- {
		b := byte(v>>(7*uint(i))) & 0x7F
		if i > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

func EncodeVInt(v uint32) []byte {
	return AppendVInt(make([]byte, 0, MaxVIntLen), v)
}

// DecodeVInt returns the value and the number of bytes consumed.
func DecodeVInt(b []byte) (uint32, int, error) {
	var v uint64
	for i, c := range b {
		if i == MaxVIntLen {
			return 0, 0, errors.Wrap(ErrMalformed, "vint longer than 5 bytes")
		}
		v = v<<7 | uint64(c&0x7F)
		if c&0x80 == 0 {
			if v > math.MaxUint32 {
				return 0, 0, errors.Wrapf(ErrMalformed, "vint overflows uint32: %d", v)
			}
			return uint32(v), i + 1, nil
		}
	}
	return 0, 0, errors.Wrap(ErrMalformed, "vint truncated")
}
