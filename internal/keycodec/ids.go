package keycodec

import (
	"fmt"

	"github.com/pkg/errors"
)

type IdKind byte

const (
	IdNumber IdKind = 0x01
	IdString IdKind = 0x02
)

// Id identifies a vertex or edge. Encoded ids are self-delimiting, so an id
// is never a byte prefix of a different id.
type Id struct {
	Kind   IdKind
	Number int64
	Bytes  []byte
}

func NumberId(n int64) Id {
	return Id{Kind: IdNumber, Number: n}
}

func StringId(s string) Id {
	return Id{Kind: IdString, Bytes: []byte(s)}
}

func BytesId(b []byte) Id {
	return Id{Kind: IdString, Bytes: b}
}

func (id Id) String() string {
	if id.Kind == IdNumber {
		return fmt.Sprintf("%d", id.Number)
	}
	return fmt.Sprintf("%q", id.Bytes)
}

func (id Id) Equal(other Id) bool {
	if id.Kind != other.Kind {
		return false
	}
	if id.Kind == IdNumber {
		return id.Number == other.Number
	}
	return string(id.Bytes) == string(other.Bytes)
}

func AppendId(dst []byte, id Id) ([]byte, error) {
	switch id.Kind {
	case IdNumber:
		return AppendInt64(append(dst, byte(IdNumber)), id.Number), nil
	case IdString:
		return EncodeBytes(append(dst, byte(IdString)), id.Bytes), nil
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown id kind 0x%02x", byte(id.Kind))
	}
}

// DecodeId reads one id and returns the bytes after it.
func DecodeId(b []byte) (Id, []byte, error) {
	if len(b) == 0 {
		return Id{}, nil, errors.Wrap(ErrMalformed, "empty id")
	}
	switch IdKind(b[0]) {
	case IdNumber:
		n, err := DecodeInt64(b[1:])
		if err != nil {
			return Id{}, nil, err
		}
		return NumberId(n), b[9:], nil
	case IdString:
		rest, data, err := DecodeBytes(b[1:])
		if err != nil {
			return Id{}, nil, err
		}
		return BytesId(data), rest, nil
	default:
		return Id{}, nil, errors.Wrapf(ErrMalformed, "unknown id marker 0x%02x", b[0])
	}
}
