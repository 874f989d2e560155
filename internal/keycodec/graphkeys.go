package keycodec

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

type Direction byte

const (
	DirectionOut Direction = 0x82
	DirectionIn  Direction = 0x8C
)

func (d Direction) String() string {
	switch d {
	case DirectionOut:
		return "OUT"
	case DirectionIn:
		return "IN"
	default:
		return "UNKNOWN"
	}
}

func (d Direction) Opposite() Direction {
	if d == DirectionOut {
		return DirectionIn
	}
	return DirectionOut
}

// VertexKey is the vertex table key: [vertexId].
func VertexKey(id Id) ([]byte, error) {
	return AppendId(nil, id)
}

// EdgeKey addresses one half-edge stored under its owner vertex:
//
//	[owner][direction][edgeLabel][subLabel][sortValues...][other]
//
// Every adjacency query is a prefix of this layout.
type EdgeKey struct {
	Owner      Id
	Direction  Direction
	EdgeLabel  uint32
	SubLabel   uint32
	SortValues []any
	Other      Id
}

func (e EdgeKey) Encode() ([]byte, error) {
	out, err := EdgeLabelPrefix(e.Owner, e.Direction, e.EdgeLabel)
	if err != nil {
		return nil, err
	}
	out = binary.BigEndian.AppendUint32(out, e.SubLabel)
	for _, v := range e.SortValues {
		if out, err = AppendValue(out, v); err != nil {
			return nil, err
		}
	}
	return AppendId(out, e.Other)
}

// Reverse returns the same edge as stored under the other vertex.
func (e EdgeKey) Reverse() EdgeKey {
	return EdgeKey{
		Owner:      e.Other,
		Direction:  e.Direction.Opposite(),
		EdgeLabel:  e.EdgeLabel,
		SubLabel:   e.SubLabel,
		SortValues: e.SortValues,
		Other:      e.Owner,
	}
}

// ParseEdgeKey splits an encoded edge key back into its parts.
func ParseEdgeKey(b []byte) (EdgeKey, error) {
	var e EdgeKey
	owner, rest, err := DecodeId(b)
	if err != nil {
		return e, errors.Wrap(err, "edge owner")
	}
	e.Owner = owner
	if len(rest) < 9 {
		return e, errors.Wrap(ErrMalformed, "edge key too short")
	}
	e.Direction = Direction(rest[0])
	if e.Direction != DirectionOut && e.Direction != DirectionIn {
		return e, errors.Wrapf(ErrMalformed, "bad edge direction 0x%02x", rest[0])
	}
	e.EdgeLabel = binary.BigEndian.Uint32(rest[1:5])
	e.SubLabel = binary.BigEndian.Uint32(rest[5:9])
	rest = rest[9:]
	for len(rest) > 0 && isValueTag(rest[0]) {
		var v any
		if v, rest, err = DecodeValue(rest); err != nil {
			return e, errors.Wrap(err, "edge sort value")
		}
		e.SortValues = append(e.SortValues, v)
	}
	if e.Other, rest, err = DecodeId(rest); err != nil {
		return e, errors.Wrap(err, "edge other vertex")
	}
	if len(rest) != 0 {
		return e, errors.Wrapf(ErrMalformed, "%d trailing bytes after edge key", len(rest))
	}
	return e, nil
}

// EdgePrefix selects every edge of a vertex.
func EdgePrefix(owner Id) ([]byte, error) {
	return AppendId(nil, owner)
}

// EdgeDirectionPrefix selects the edges of a vertex in one direction.
func EdgeDirectionPrefix(owner Id, dir Direction) ([]byte, error) {
	out, err := AppendId(nil, owner)
	if err != nil {
		return nil, err
	}
	return append(out, byte(dir)), nil
}

// EdgeLabelPrefix selects the edges of a vertex with one label.
func EdgeLabelPrefix(owner Id, dir Direction, edgeLabel uint32) ([]byte, error) {
	out, err := EdgeDirectionPrefix(owner, dir)
	if err != nil {
		return nil, err
	}
	return binary.BigEndian.AppendUint32(out, edgeLabel), nil
}

// EdgeSubLabelPrefix narrows EdgeLabelPrefix to one sub-label.
func EdgeSubLabelPrefix(owner Id, dir Direction, edgeLabel, subLabel uint32) ([]byte, error) {
	out, err := EdgeLabelPrefix(owner, dir, edgeLabel)
	if err != nil {
		return nil, err
	}
	return binary.BigEndian.AppendUint32(out, subLabel), nil
}

// IndexKey is a secondary index entry: [indexLabel][fieldValue][elementId].
func IndexKey(indexLabel uint32, fieldValue any, element Id) ([]byte, error) {
	out, err := IndexPrefix(indexLabel, fieldValue)
	if err != nil {
		return nil, err
	}
	return AppendId(out, element)
}

// IndexPrefix selects every element whose field equals fieldValue.
func IndexPrefix(indexLabel uint32, fieldValue any) ([]byte, error) {
	out := binary.BigEndian.AppendUint32(nil, indexLabel)
	return AppendValue(out, fieldValue)
}

// IndexLabelPrefix selects a whole index.
func IndexLabelPrefix(indexLabel uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, indexLabel)
}

// RangeIndexKeyInt is a range index entry over an integer field:
// [indexLabel][int64 order-preserving][elementId].
func RangeIndexKeyInt(indexLabel uint32, v int64, element Id) ([]byte, error) {
	return AppendId(RangeIndexBoundInt(indexLabel, v), element)
}

// RangeIndexKeyFloat is RangeIndexKeyInt for floating point fields.
func RangeIndexKeyFloat(indexLabel uint32, v float64, element Id) ([]byte, error) {
	return AppendId(RangeIndexBoundFloat(indexLabel, v), element)
}

// RangeIndexBoundInt is the key prefix of all entries equal to v, usable as
// a scan boundary.
func RangeIndexBoundInt(indexLabel uint32, v int64) []byte {
	return AppendInt64(binary.BigEndian.AppendUint32(nil, indexLabel), v)
}

func RangeIndexBoundFloat(indexLabel uint32, v float64) []byte {
	return AppendFloat64(binary.BigEndian.AppendUint32(nil, indexLabel), v)
}

// ParseIndexKey returns the field value and element id of an index key.
func ParseIndexKey(key []byte) (any, Id, error) {
	if len(key) < 4 {
		return nil, Id{}, errors.Wrap(ErrMalformed, "index key too short")
	}
	v, rest, err := DecodeValue(key[4:])
	if err != nil {
		return nil, Id{}, err
	}
	id, rest, err := DecodeId(rest)
	if err != nil {
		return nil, Id{}, err
	}
	if len(rest) != 0 {
		return nil, Id{}, errors.Wrap(ErrMalformed, "trailing bytes after index key")
	}
	return v, id, nil
}
