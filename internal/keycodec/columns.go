package keycodec

import (
	"graphstore/internal/common"

	"github.com/pkg/errors"
)

// Column is one named field of an Entry.
type Column struct {
	Name  []byte
	Value []byte
}

// Entry is an ordered list of columns stored as a single value.
type Entry []Column

// EncodeColumns packs columns as [nameLen vint][name][valueLen vint][value]
// repeated. There is no count; the blob ends where the last column ends.
func EncodeColumns(cols Entry) []byte {
	size := 0
	for _, c := range cols {
		size += 2*MaxVIntLen + len(c.Name) + len(c.Value)
	}
	out := make([]byte, 0, size)
	for _, c := range cols {
		out = AppendVInt(out, uint32(len(c.Name)))
		out = append(out, c.Name...)
		out = AppendVInt(out, uint32(len(c.Value)))
		out = append(out, c.Value...)
	}
	return out
}

// DecodeColumns parses a blob produced by EncodeColumns. A partial trailing
// field is an error.
func DecodeColumns(b []byte) (Entry, error) {
	var cols Entry
	for len(b) > 0 {
		name, rest, err := readField(b)
		if err != nil {
			return nil, errors.Wrapf(err, "column %d name", len(cols))
		}
		if len(rest) == 0 {
			return nil, errors.Wrapf(ErrMalformed, "column %d has no value", len(cols))
		}
		value, rest, err := readField(rest)
		if err != nil {
			return nil, errors.Wrapf(err, "column %d value", len(cols))
		}
		cols = append(cols, Column{Name: name, Value: value})
		b = rest
	}
	return cols, nil
}

func readField(b []byte) ([]byte, []byte, error) {
	n, used, err := DecodeVInt(b)
	if err != nil {
		return nil, nil, err
	}
	b = b[used:]
	if uint64(len(b)) < uint64(n) {
		return nil, nil, errors.Wrapf(ErrMalformed, "field wants %d bytes, %d left", n, len(b))
	}
	return common.CloneBytes(b[:n]), b[n:], nil
}

// Get returns the value of the first column called name.
func (e Entry) Get(name string) ([]byte, bool) {
	for _, c := range e {
		if string(c.Name) == name {
			return c.Value, true
		}
	}
	return nil, false
}
