package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"

	"graphstore/internal/common"
	"graphstore/internal/keycodec"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Badger key layout:
//
//	m t <tableID:4>                          -> table metadata
//	m v                                      -> last applied version
//	m i                                      -> highest table id ever created
//	d <tableID:4> <memcomparable key> <^version:8> -> flags | deletedAt | value
//
// The memcomparable key keeps user key order and ends every key at a group
// boundary, so the version suffix never interleaves two user keys. Inverting
// the version puts the newest version of a key first.
const (
	prefixMeta = byte('m')
	prefixData = byte('d')
	metaTable  = byte('t')
	metaVer    = byte('v')
	metaMaxID  = byte('i')
)

func tableMetaKey(id uint32) []byte {
	return binary.BigEndian.AppendUint32([]byte{prefixMeta, metaTable}, id)
}

func tableDataPrefix(id uint32) []byte {
	return binary.BigEndian.AppendUint32([]byte{prefixData}, id)
}

func userKeyPrefix(tableID uint32, key []byte) []byte {
	return keycodec.EncodeBytes(tableDataPrefix(tableID), key)
}

func dataKey(tableID uint32, key []byte, version uint64) []byte {
	return binary.BigEndian.AppendUint64(userKeyPrefix(tableID, key), ^version)
}

// splitDataKey returns the user key and version of a data key.
func splitDataKey(k []byte) ([]byte, uint64, error) {
	if len(k) < 5+8 {
		return nil, 0, errors.Wrapf(common.ErrInternal, "short data key %x", k)
	}
	rest, userKey, err := keycodec.DecodeBytes(k[5:])
	if err != nil || len(rest) != 8 {
		return nil, 0, errors.Wrapf(common.ErrInternal, "bad data key %x", k)
	}
	return userKey, ^binary.BigEndian.Uint64(rest), nil
}

func encodeVersioned(v common.VersionedValue) []byte {
	return common.NewBinaryBuffer(9 + len(v.Value)).
		WriteBool(v.Deleted).WriteUint64(v.DeletedAt).WriteRaw(v.Value).GetBuffer()
}

func decodeVersioned(data []byte, version uint64) (common.VersionedValue, error) {
	v := common.VersionedValue{Version: version}
	bb := common.NewBinaryBufferFrom(&data, 0)
	var value []byte
	bb.ReadBool(&v.Deleted).ReadUint64(&v.DeletedAt).ReadRest(&value)
	if bb.Err() != nil {
		return v, errors.Wrap(common.ErrInternal, bb.Err().Error())
	}
	if !v.Deleted {
		v.Value = value
	}
	return v, nil
}

func encodeTableInfo(info TableInfo) []byte {
	return common.NewBinaryBuffer(16).WriteUint32(info.ID).WriteString(info.Name).WriteString(info.PartitionMethod).GetBuffer()
}

func decodeTableInfo(data []byte) (TableInfo, error) {
	var info TableInfo
	bb := common.NewBinaryBufferFrom(&data, 0)
	bb.ReadUint32(&info.ID).ReadString(&info.Name).ReadString(&info.PartitionMethod)
	if bb.Err() != nil {
		return info, errors.Wrap(common.ErrInternal, "corrupt table metadata")
	}
	return info, nil
}

// badgerLogger routes badger's printf logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) msg(format string, args []interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(l.msg(format, args))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(l.msg(format, args))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(l.msg(format, args))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(l.msg(format, args))
}

// BadgerStore keeps committed versions in badger. Each Apply is one badger
// transaction and dropping a table is a metadata delete plus DropPrefix.
type BadgerStore struct {
	db          *badger.DB
	lastVersion atomic.Uint64
	maxTableID  atomic.Uint32
	logger      *slog.Logger
}

// NewBadgerStore opens badger in dir, or purely in memory when inMemory is set.
func NewBadgerStore(dir string, inMemory bool, syncWrites bool, logger *slog.Logger) (*BadgerStore, error) {
	logger = logger.With("component", "badgerstore")

	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(syncWrites).WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}

	s := &BadgerStore{db: db, logger: logger}
	err = db.View(func(txn *badger.Txn) error {
		if v, err := getUint(txn, []byte{prefixMeta, metaVer}); err == nil {
			s.lastVersion.Store(v)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if v, err := getUint(txn, []byte{prefixMeta, metaMaxID}); err == nil {
			s.maxTableID.Store(uint32(v))
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "load badger metadata")
	}

	logger.Info("badger store opened", "dir", dir, "inMemory", inMemory, "version", s.lastVersion.Load())
	return s, nil
}

func getUint(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return errors.Wrapf(common.ErrInternal, "bad metadata value for %q", key)
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err
}

func checkTable(txn *badger.Txn, id uint32) error {
	_, err := txn.Get(tableMetaKey(id))
	if err == badger.ErrKeyNotFound {
		return errors.Wrapf(common.ErrTableNotFound, "table id %d", id)
	}
	return err
}

func (s *BadgerStore) CreateTable(info TableInfo) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(tableMetaKey(info.ID))
		if err == nil {
			return errors.Wrapf(common.ErrTableAlreadyExists, "table id %d", info.ID)
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(tableMetaKey(info.ID), encodeTableInfo(info)); err != nil {
			return err
		}
		if info.ID > s.maxTableID.Load() {
			return txn.Set([]byte{prefixMeta, metaMaxID}, binary.BigEndian.AppendUint64(nil, uint64(info.ID)))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if info.ID > s.maxTableID.Load() {
		s.maxTableID.Store(info.ID)
	}
	return nil
}

// DropTable removes the metadata first so the table is unreachable at once,
// then lets badger discard the data prefix.
func (s *BadgerStore) DropTable(id uint32) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := checkTable(txn, id); err != nil {
			return err
		}
		return txn.Delete(tableMetaKey(id))
	})
	if err != nil {
		return err
	}
	return errors.Wrapf(s.db.DropPrefix(tableDataPrefix(id)), "drop data of table %d", id)
}

func (s *BadgerStore) Tables() ([]TableInfo, error) {
	var infos []TableInfo
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixMeta, metaTable}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				info, err := decodeTableInfo(val)
				if err != nil {
					return err
				}
				infos = append(infos, info)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return infos, err
}

func (s *BadgerStore) MaxTableID() uint32 {
	return s.maxTableID.Load()
}

func (s *BadgerStore) Get(tableID uint32, key []byte, asOf uint64) (common.VersionedValue, bool, error) {
	var out common.VersionedValue
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		if err := checkTable(txn, tableID); err != nil {
			return err
		}
		prefix := userKeyPrefix(tableID, key)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(dataKey(tableID, key, asOf))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		item := it.Item()
		_, version, err := splitDataKey(item.Key())
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out, err = decodeVersioned(val, version)
			found = err == nil
			return err
		})
	})
	return out, found, err
}

func (s *BadgerStore) Latest(tableID uint32, key []byte) (common.VersionedValue, bool, error) {
	return s.Get(tableID, key, ^uint64(0))
}

func (s *BadgerStore) Scan(tableID uint32, lo, hi []byte, asOf uint64, fn func(key []byte, value common.VersionedValue) bool) error {
	if hi != nil && bytes.Compare(lo, hi) >= 0 {
		return s.db.View(func(txn *badger.Txn) error { return checkTable(txn, tableID) })
	}
	return s.db.View(func(txn *badger.Txn) error {
		if err := checkTable(txn, tableID); err != nil {
			return err
		}
		prefix := tableDataPrefix(tableID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var current []byte
		emitted := false
		for it.Seek(userKeyPrefix(tableID, lo)); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			userKey, version, err := splitDataKey(item.Key())
			if err != nil {
				return err
			}
			if hi != nil && bytes.Compare(userKey, hi) >= 0 {
				return nil
			}
			if current == nil || !bytes.Equal(userKey, current) {
				current, emitted = userKey, false
			}
			if emitted || version > asOf {
				continue
			}
			emitted = true

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			v, err := decodeVersioned(val, version)
			if err != nil {
				return err
			}
			if !fn(userKey, v) {
				return nil
			}
		}
		return nil
	})
}

// Apply writes all versions and the new last version in one transaction.
func (s *BadgerStore) Apply(version uint64, mutations []common.Mutation) error {
	if version <= s.lastVersion.Load() {
		return errors.Wrapf(common.ErrInternal, "apply version %d not above %d", version, s.lastVersion.Load())
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		checked := make(map[uint32]struct{})
		for _, m := range mutations {
			if _, ok := checked[m.TableID]; !ok {
				if err := checkTable(txn, m.TableID); err != nil {
					return err
				}
				checked[m.TableID] = struct{}{}
			}
			if err := txn.Set(dataKey(m.TableID, m.Key, version), encodeVersioned(toVersioned(m, version))); err != nil {
				return errors.Wrapf(err, "write key %x", m.Key)
			}
		}
		return txn.Set([]byte{prefixMeta, metaVer}, binary.BigEndian.AppendUint64(nil, version))
	})
	if err != nil {
		return err
	}
	s.lastVersion.Store(version)
	return nil
}

func (s *BadgerStore) LastVersion() uint64 {
	return s.lastVersion.Load()
}

// GC deletes versions shadowed by a newer version at or below safe.
func (s *BadgerStore) GC(safe uint64) (int, error) {
	var doomed [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixData}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var current []byte
		var shadowed bool
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			userPrefix := k[:len(k)-8]
			if current == nil || !bytes.Equal(userPrefix, current) {
				current, shadowed = userPrefix, false
			}
			if shadowed {
				doomed = append(doomed, k)
				continue
			}
			if ^binary.BigEndian.Uint64(k[len(k)-8:]) <= safe {
				shadowed = true
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range doomed {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, errors.Wrap(err, "flush gc batch")
	}
	return len(doomed), nil
}

func (s *BadgerStore) Close() error {
	return errors.Wrap(s.db.Close(), "close badger")
}
