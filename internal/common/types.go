package common

import "bytes"

// K and V are the raw key and value bytes.
type (
	K = []byte
	V = []byte
)

// VersionedValue is one entry of a key's version chain.
type VersionedValue struct {
	Value     V
	Version   uint64
	Deleted   bool
	DeletedAt uint64
}

func (v VersionedValue) Clone() VersionedValue {
	v.Value = CloneBytes(v.Value)
	return v
}

// Mutation is a buffered write: a put of Value, or a delete when Delete is set.
type Mutation struct {
	TableID uint32
	Key     K
	Value   V
	Delete  bool
}

type KeyValue struct {
	Key   K
	Value V
}

// ScanRange selects keys of one table. A nil End means the end of the table.
// Limit 0 means unlimited.
type ScanRange struct {
	Start          K
	StartInclusive bool
	End            K
	EndInclusive   bool
	Limit          int
}

// Bounds converts the range into a half-open [lo, hi) interval over byte
// keys. The successor of a key k in lexicographic order is k+0x00, which is
// how exclusive starts and inclusive ends are expressed.
func (r ScanRange) Bounds() (lo, hi []byte) {
	lo = CloneBytes(r.Start)
	if len(r.Start) > 0 && !r.StartInclusive {
		lo = append(lo, 0x00)
	}
	if r.End != nil {
		hi = CloneBytes(r.End)
		if r.EndInclusive {
			hi = append(hi, 0x00)
		}
	}
	return lo, hi
}

// InBounds reports whether key lies in [lo, hi). A nil hi is unbounded.
func InBounds(key, lo, hi []byte) bool {
	if bytes.Compare(key, lo) < 0 {
		return false
	}
	return hi == nil || bytes.Compare(key, hi) < 0
}

func CloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
