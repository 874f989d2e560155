package transactionmanager

import (
	"bytes"
	"sort"
	"sync"

	"graphstore/internal/common"
)

type Status uint8

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusCommitted:
		return "COMMITTED"
	case StatusAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

type TableKey struct {
	TableID uint32
	Key     string
}

// Transaction is the engine-side state of one transaction. Callers hold the
// embedded mutex while reading or changing it.
type Transaction struct {
	sync.Mutex

	ID           uint64
	StartVersion uint64
	status       Status

	// readSet maps each key read to the latest committed version seen; 0
	// means the key did not exist.
	readSet  map[TableKey]uint64
	writeIdx map[TableKey]int
	writes   []common.Mutation
}

func newTransaction(id, startVersion uint64) *Transaction {
	return &Transaction{
		ID:           id,
		StartVersion: startVersion,
		status:       StatusActive,
		readSet:      make(map[TableKey]uint64),
		writeIdx:     make(map[TableKey]int),
	}
}

func (tx *Transaction) Status() Status {
	return tx.status
}

func (tx *Transaction) IsActive() bool {
	return tx.status == StatusActive
}

// RecordRead keeps the first observation of a key.
func (tx *Transaction) RecordRead(tableID uint32, key []byte, version uint64) {
	tk := TableKey{TableID: tableID, Key: string(key)}
	if _, ok := tx.readSet[tk]; !ok {
		tx.readSet[tk] = version
	}
}

func (tx *Transaction) ReadSet() map[TableKey]uint64 {
	return tx.readSet
}

// AddWrite buffers m. A later write to the same key replaces the earlier one
// but keeps its original position.
func (tx *Transaction) AddWrite(m common.Mutation) {
	m.Key = common.CloneBytes(m.Key)
	m.Value = common.CloneBytes(m.Value)
	tk := TableKey{TableID: m.TableID, Key: string(m.Key)}
	if i, ok := tx.writeIdx[tk]; ok {
		tx.writes[i] = m
		return
	}
	tx.writeIdx[tk] = len(tx.writes)
	tx.writes = append(tx.writes, m)
}

func (tx *Transaction) PendingWrite(tableID uint32, key []byte) (common.Mutation, bool) {
	i, ok := tx.writeIdx[TableKey{TableID: tableID, Key: string(key)}]
	if !ok {
		return common.Mutation{}, false
	}
	return tx.writes[i], true
}

// PendingInRange returns buffered writes of one table with keys in [lo, hi),
// sorted by key.
func (tx *Transaction) PendingInRange(tableID uint32, lo, hi []byte) []common.Mutation {
	var out []common.Mutation
	for _, m := range tx.writes {
		if m.TableID == tableID && common.InBounds(m.Key, lo, hi) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}

func (tx *Transaction) Writes() []common.Mutation {
	return tx.writes
}

func (tx *Transaction) IsReadOnly() bool {
	return len(tx.writes) == 0
}

// finish moves the transaction to its terminal state and drops its sets.
func (tx *Transaction) finish(status Status) {
	tx.status = status
	tx.readSet = nil
	tx.writeIdx = nil
	tx.writes = nil
}
