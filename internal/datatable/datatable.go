package datatable

import "graphstore/internal/common"

// DataTable is the committed, multi-version key space of one table.
// Implementations are not synchronized; the owning store serializes access.
type DataTable interface {
	// Get returns the newest version of key at or below asOf.
	Get(key []byte, asOf uint64) (common.VersionedValue, bool)
	// Latest returns the newest version of key regardless of snapshot.
	Latest(key []byte) (common.VersionedValue, bool)
	// Put appends a version. Versions of a key must be added in increasing order.
	Put(key []byte, value common.VersionedValue)
	// AscendRange visits keys in [lo, hi) in ascending order with the version
	// visible at asOf, tombstones included. A nil hi is unbounded.
	AscendRange(lo, hi []byte, asOf uint64, fn func(key []byte, value common.VersionedValue) bool)
	// GC drops versions shadowed by a newer version at or below safe and
	// returns how many were dropped.
	GC(safe uint64) int
	Size() int
	Clear()
}
