package store

import "graphstore/internal/common"

// TableInfo is the persisted identity of a table.
type TableInfo struct {
	ID              uint32
	Name            string
	PartitionMethod string
}

// Store holds committed state: table metadata and per-table version chains.
// Apply is atomic; readers never observe part of a commit. Scan callbacks
// run while the store is being read and must not call back into it.
type Store interface {
	CreateTable(info TableInfo) error
	DropTable(id uint32) error
	// Tables lists live tables. MaxTableID is the highest id ever created,
	// including dropped tables, so ids are never handed out twice.
	Tables() ([]TableInfo, error)
	MaxTableID() uint32

	Get(tableID uint32, key []byte, asOf uint64) (common.VersionedValue, bool, error)
	Latest(tableID uint32, key []byte) (common.VersionedValue, bool, error)
	// Scan visits keys in [lo, hi) ascending with the version visible at
	// asOf, tombstones included. A nil hi is unbounded.
	Scan(tableID uint32, lo, hi []byte, asOf uint64, fn func(key []byte, value common.VersionedValue) bool) error

	Apply(version uint64, mutations []common.Mutation) error
	LastVersion() uint64
	GC(safe uint64) (int, error)
	Close() error
}

func toVersioned(m common.Mutation, version uint64) common.VersionedValue {
	if m.Delete {
		return common.VersionedValue{Version: version, Deleted: true, DeletedAt: version}
	}
	return common.VersionedValue{Value: m.Value, Version: version}
}
