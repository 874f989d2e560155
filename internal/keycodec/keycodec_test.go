package keycodec

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"graphstore/internal/common"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVIntRoundTrip(t *testing.T) {
	cases := []struct {
		v       uint32
		encoded []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x81, 0x00}},
		{16384, []byte{0x81, 0x80, 0x00}},
		{math.MaxUint32, []byte{0x8F, 0xFF, 0xFF, 0xFF, 0x7F}},
	}
	for _, c := range cases {
		enc := EncodeVInt(c.v)
		assert.Equal(t, c.encoded, enc, "encode %d", c.v)

		got, n, err := DecodeVInt(enc)
		require.NoError(t, err)
		assert.Equal(t, c.v, got)
		assert.Equal(t, len(enc), n)
	}
}

func TestVIntDecodeErrors(t *testing.T) {
	_, _, err := DecodeVInt([]byte{0x81, 0x80})
	assert.True(t, errors.Is(err, common.ErrInvalidArgument), "truncated")

	_, _, err = DecodeVInt([]byte{0x90, 0x80, 0x80, 0x80, 0x00})
	assert.Error(t, err, "value above 32 bits")

	_, _, err = DecodeVInt([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
	assert.Error(t, err, "six groups")

	_, _, err = DecodeVInt(nil)
	assert.Error(t, err)
}

func TestColumns(t *testing.T) {
	entry := Entry{
		{Name: []byte("name"), Value: []byte("marko")},
		{Name: []byte("age"), Value: []byte{29}},
		{Name: []byte("empty"), Value: []byte{}},
	}
	blob := EncodeColumns(entry)

	got, err := DecodeColumns(blob)
	require.NoError(t, err)
	require.Len(t, got, 3)
	v, ok := got.Get("age")
	assert.True(t, ok)
	assert.Equal(t, []byte{29}, v)
	assert.Equal(t, []byte("marko"), got[0].Value)

	for cut := 1; cut < len(blob); cut++ {
		if _, err := DecodeColumns(blob[:cut]); err == nil {
			// a cut can only be valid on a column boundary
			cols, _ := DecodeColumns(blob[:cut])
			assert.Equal(t, cut, len(EncodeColumns(cols)))
		}
	}

	_, err = DecodeColumns([]byte{0x04, 'n', 'a', 'm', 'e'})
	assert.Error(t, err, "name without value")
}

func TestMemcomparableOrder(t *testing.T) {
	inputs := [][]byte{
		{}, {0}, {0, 0}, []byte("a"), []byte("ab"), []byte("abcdefgh"),
		[]byte("abcdefgh\x00"), []byte("abcdefghi"), {0xFF}, {0xFF, 0xFF},
	}
	encoded := make([][]byte, len(inputs))
	for i, in := range inputs {
		encoded[i] = EncodeBytes(nil, in)
		rest, out, err := DecodeBytes(encoded[i])
		require.NoError(t, err)
		assert.Empty(t, rest)
		assert.Equal(t, in, out)
	}
	for i := 1; i < len(encoded); i++ {
		assert.Equal(t, bytes.Compare(inputs[i-1], inputs[i]), bytes.Compare(encoded[i-1], encoded[i]), "%q vs %q", inputs[i-1], inputs[i])
	}
}

func TestOrderPreservingNumbers(t *testing.T) {
	ints := []int64{math.MinInt64, -1000, -1, 0, 1, 42, math.MaxInt64}
	for i := 1; i < len(ints); i++ {
		assert.Negative(t, bytes.Compare(EncodeInt64(ints[i-1]), EncodeInt64(ints[i])))
	}
	for _, v := range ints {
		got, err := DecodeInt64(EncodeInt64(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	floats := []float64{math.Inf(-1), -1e300, -2.5, -1, -math.SmallestNonzeroFloat64, 0, math.SmallestNonzeroFloat64, 1, 2.5, 1e300, math.Inf(1)}
	for i := 1; i < len(floats); i++ {
		assert.Negative(t, bytes.Compare(EncodeFloat64(floats[i-1]), EncodeFloat64(floats[i])), "%v < %v", floats[i-1], floats[i])
	}
	for _, v := range floats {
		got, err := DecodeFloat64(EncodeFloat64(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestIdsAreSelfDelimiting(t *testing.T) {
	short, err := VertexKey(StringId("ab"))
	require.NoError(t, err)
	long, err := VertexKey(StringId("abc"))
	require.NoError(t, err)
	assert.False(t, bytes.HasPrefix(long, short))

	for _, id := range []Id{NumberId(-7), NumberId(1 << 40), StringId(""), StringId("vertex:12345678")} {
		enc, err := AppendId(nil, id)
		require.NoError(t, err)
		got, rest, err := DecodeId(append(enc, 0xAA))
		require.NoError(t, err)
		assert.True(t, id.Equal(got), "%v", id)
		assert.Equal(t, []byte{0xAA}, rest)
	}
}

func TestEdgeKeyRoundTrip(t *testing.T) {
	e := EdgeKey{
		Owner:      StringId("marko"),
		Direction:  DirectionOut,
		EdgeLabel:  3,
		SubLabel:   9,
		SortValues: []any{int64(2017), "lop", 0.4},
		Other:      NumberId(42),
	}
	key, err := e.Encode()
	require.NoError(t, err)

	got, err := ParseEdgeKey(key)
	require.NoError(t, err)
	assert.True(t, got.Owner.Equal(e.Owner))
	assert.Equal(t, DirectionOut, got.Direction)
	assert.Equal(t, uint32(3), got.EdgeLabel)
	assert.Equal(t, uint32(9), got.SubLabel)
	assert.Equal(t, []any{int64(2017), []byte("lop"), 0.4}, got.SortValues)
	assert.True(t, got.Other.Equal(NumberId(42)))

	prefix, err := EdgeLabelPrefix(StringId("marko"), DirectionOut, 3)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(key, prefix))

	reversed, err := e.Reverse().Encode()
	require.NoError(t, err)
	inPrefix, err := EdgeDirectionPrefix(NumberId(42), DirectionIn)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(reversed, inPrefix))

	_, err = ParseEdgeKey(append(key, 0x00))
	assert.Error(t, err)
}

func TestEdgesSortBySortValues(t *testing.T) {
	var keys [][]byte
	for _, year := range []int64{2019, -5, 2001, 0} {
		k, err := EdgeKey{Owner: NumberId(1), Direction: DirectionOut, EdgeLabel: 1, SortValues: []any{year}, Other: NumberId(year)}.Encode()
		require.NoError(t, err)
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	var years []int64
	for _, k := range keys {
		e, err := ParseEdgeKey(k)
		require.NoError(t, err)
		years = append(years, e.SortValues[0].(int64))
	}
	assert.Equal(t, []int64{-5, 0, 2001, 2019}, years)
}

func TestIndexKeys(t *testing.T) {
	k, err := IndexKey(7, "josh", StringId("v1"))
	require.NoError(t, err)
	prefix, err := IndexPrefix(7, "josh")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(k, prefix))

	v, id, err := ParseIndexKey(k)
	require.NoError(t, err)
	assert.Equal(t, []byte("josh"), v)
	assert.True(t, id.Equal(StringId("v1")))

	_, err = IndexKey(7, struct{}{}, StringId("v1"))
	assert.True(t, errors.Is(err, common.ErrInvalidArgument))

	low, err := RangeIndexKeyInt(2, -10, NumberId(1))
	require.NoError(t, err)
	high, err := RangeIndexKeyInt(2, 10, NumberId(0))
	require.NoError(t, err)
	assert.Negative(t, bytes.Compare(low, high))
	assert.True(t, bytes.HasPrefix(high, RangeIndexBoundInt(2, 10)))

	fl, err := RangeIndexKeyFloat(2, -0.5, NumberId(1))
	require.NoError(t, err)
	fh, err := RangeIndexKeyFloat(2, 0.25, NumberId(1))
	require.NoError(t, err)
	assert.Negative(t, bytes.Compare(fl, fh))
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("abd"), PrefixEnd([]byte("abc")))
	assert.Equal(t, []byte{0x01, 0x03}, PrefixEnd([]byte{0x01, 0x02, 0xFF}))
	assert.Nil(t, PrefixEnd([]byte{0xFF, 0xFF}))
	assert.Nil(t, PrefixEnd(nil))

	r := PrefixRange([]byte("abc"))
	lo, hi := r.Bounds()
	var matched []string
	for _, k := range []string{"ab", "abc", "abcd", "abd"} {
		if common.InBounds([]byte(k), lo, hi) {
			matched = append(matched, k)
		}
	}
	assert.Equal(t, []string{"abc", "abcd"}, matched)
}
