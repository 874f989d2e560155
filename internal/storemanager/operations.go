package storemanager

import (
	"bytes"
	"math"

	"graphstore/internal/common"

	"github.com/pkg/errors"
)

func checkKey(key []byte) error {
	if len(key) == 0 {
		return errors.Wrap(common.ErrInvalidArgument, "empty key")
	}
	return nil
}

// Get reads key in the context of txID. Transaction 0 reads the latest
// committed state. A transaction first sees its own pending writes.
func (sm *StoreManager) Get(txID uint64, tableID uint32, key []byte) ([]byte, error) {
	if err := sm.checkRunning(); err != nil {
		return nil, err
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if err := sm.tableManager.Check(tableID); err != nil {
		return nil, err
	}

	if txID == 0 {
		v, ok, err := sm.store.Latest(tableID, key)
		if err != nil {
			return nil, err
		}
		return valueOf(v, ok, tableID, key)
	}

	tx, err := sm.activeTransaction(txID)
	if err != nil {
		return nil, err
	}
	defer tx.Unlock()

	if m, ok := tx.PendingWrite(tableID, key); ok {
		if m.Delete {
			return nil, errors.Wrapf(common.ErrKeyIsDeleted, "table %d key %q deleted in transaction %d", tableID, key, txID)
		}
		return common.CloneBytes(m.Value), nil
	}

	if err := sm.cc.onRead(tx, tableID, key); err != nil {
		return nil, err
	}
	v, ok, err := sm.store.Get(tableID, key, sm.cc.readVersion(tx))
	if err != nil {
		return nil, err
	}
	observed := uint64(0)
	if ok {
		observed = v.Version
	}
	sm.cc.observe(tx, tableID, key, observed)

	return valueOf(v, ok, tableID, key)
}

func valueOf(v common.VersionedValue, ok bool, tableID uint32, key []byte) ([]byte, error) {
	if !ok {
		return nil, errors.Wrapf(common.ErrKeyNotFound, "table %d key %q", tableID, key)
	}
	if v.Deleted {
		return nil, errors.Wrapf(common.ErrKeyIsDeleted, "table %d key %q deleted at version %d", tableID, key, v.DeletedAt)
	}
	return common.CloneBytes(v.Value), nil
}

// Set buffers a put in txID. With txID 0 it commits on its own.
func (sm *StoreManager) Set(txID uint64, tableID uint32, key []byte, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return sm.write(txID, common.Mutation{TableID: tableID, Key: key, Value: value})
}

// Del buffers a delete in txID. With txID 0 it commits on its own.
func (sm *StoreManager) Del(txID uint64, tableID uint32, key []byte) error {
	return sm.write(txID, common.Mutation{TableID: tableID, Key: key, Delete: true})
}

func (sm *StoreManager) write(txID uint64, m common.Mutation) error {
	if err := sm.checkRunning(); err != nil {
		return err
	}
	if err := checkKey(m.Key); err != nil {
		return err
	}
	if err := sm.tableManager.Check(m.TableID); err != nil {
		return err
	}

	if txID == 0 {
		return sm.autoCommit(func(id uint64) error {
			return sm.write(id, m)
		})
	}

	tx, err := sm.activeTransaction(txID)
	if err != nil {
		return err
	}
	defer tx.Unlock()

	if err := sm.cc.onWrite(tx, m.TableID, m.Key); err != nil {
		return err
	}
	tx.AddWrite(m)
	return nil
}

// autoCommit runs fn in a fresh transaction and commits it, rolling back
// when fn fails.
func (sm *StoreManager) autoCommit(fn func(txID uint64) error) error {
	txID, err := sm.StartTransaction()
	if err != nil {
		return err
	}
	if err := fn(txID); err != nil {
		if rerr := sm.RollbackTransaction(txID); rerr != nil {
			sm.logger.Warn("rollback of auto-commit transaction failed", "tx", txID, "error", rerr)
		}
		return err
	}
	return sm.CommitTransaction(txID)
}

type scanRow struct {
	key     []byte
	value   common.VersionedValue
	pending bool
}

// Scan returns the live entries of r in ascending key order. Inside a
// transaction the pending writes are merged over the snapshot. Scans take no
// range locks, so rows inserted by others may appear on a repeated scan.
func (sm *StoreManager) Scan(txID uint64, tableID uint32, r common.ScanRange) ([]common.KeyValue, error) {
	if err := sm.checkRunning(); err != nil {
		return nil, err
	}
	if r.Limit < 0 {
		return nil, errors.Wrapf(common.ErrInvalidArgument, "negative scan limit %d", r.Limit)
	}
	if err := sm.tableManager.Check(tableID); err != nil {
		return nil, err
	}
	lo, hi := r.Bounds()

	if txID == 0 {
		rows, err := sm.scanMerged(tableID, lo, hi, math.MaxUint64, nil, r.Limit)
		if err != nil {
			return nil, err
		}
		return toKeyValues(rows), nil
	}

	tx, err := sm.activeTransaction(txID)
	if err != nil {
		return nil, err
	}
	defer tx.Unlock()

	rows, err := sm.scanMerged(tableID, lo, hi, sm.cc.readVersion(tx), tx.PendingInRange(tableID, lo, hi), r.Limit)
	if err != nil {
		return nil, err
	}

	out := rows[:0]
	for _, row := range rows {
		if row.pending {
			out = append(out, row)
			continue
		}
		if err := sm.cc.onRead(tx, tableID, row.key); err != nil {
			return nil, err
		}
		if sm.cc.locksReads() {
			// re-read under the shared lock
			v, ok, err := sm.store.Latest(tableID, row.key)
			if err != nil {
				return nil, err
			}
			if !ok || v.Deleted {
				continue
			}
			row.value = v
		}
		sm.cc.observe(tx, tableID, row.key, row.value.Version)
		out = append(out, row)
	}
	return toKeyValues(out), nil
}

// scanMerged walks the store at asOf and overlays pending (sorted by key).
// Tombstones and pending deletes are dropped. limit 0 is unlimited.
func (sm *StoreManager) scanMerged(tableID uint32, lo, hi []byte, asOf uint64, pending []common.Mutation, limit int) ([]scanRow, error) {
	var rows []scanRow
	full := func() bool { return limit > 0 && len(rows) >= limit }
	emitPending := func(m common.Mutation) {
		if !m.Delete {
			rows = append(rows, scanRow{key: common.CloneBytes(m.Key), value: common.VersionedValue{Value: common.CloneBytes(m.Value)}, pending: true})
		}
	}

	p := 0
	err := sm.store.Scan(tableID, lo, hi, asOf, func(key []byte, v common.VersionedValue) bool {
		for p < len(pending) && bytes.Compare(pending[p].Key, key) < 0 && !full() {
			emitPending(pending[p])
			p++
		}
		if full() {
			return false
		}
		if p < len(pending) && bytes.Equal(pending[p].Key, key) {
			emitPending(pending[p])
			p++
		} else if !v.Deleted {
			rows = append(rows, scanRow{key: key, value: v})
		}
		return !full()
	})
	if err != nil {
		return nil, err
	}
	for ; p < len(pending) && !full(); p++ {
		emitPending(pending[p])
	}
	return rows, nil
}

func toKeyValues(rows []scanRow) []common.KeyValue {
	out := make([]common.KeyValue, len(rows))
	for i, row := range rows {
		out[i] = common.KeyValue{Key: row.key, Value: row.value.Value}
	}
	return out
}
