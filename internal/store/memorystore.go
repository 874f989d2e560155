package store

import (
	"log/slog"
	"sort"
	"sync"

	"graphstore/internal/common"
	"graphstore/internal/datatable"
	"graphstore/internal/walmanager"

	"github.com/pkg/errors"
)

type memTable struct {
	info TableInfo
	data datatable.DataTable
}

// MemoryStore keeps every table in a btree. With a WalManager attached each
// change is logged before it is applied and the log is replayed on open.
type MemoryStore struct {
	m           sync.RWMutex
	tables      map[uint32]*memTable
	maxTableID  uint32
	lastVersion uint64
	walManager  *walmanager.WalManager
	logger      *slog.Logger
}

// NewMemoryStore builds the store and, when walManager is not nil, recovers
// its state from the log.
func NewMemoryStore(walManager *walmanager.WalManager, logger *slog.Logger) (*MemoryStore, error) {
	s := &MemoryStore{
		tables:     make(map[uint32]*memTable),
		walManager: walManager,
		logger:     logger.With("component", "memorystore"),
	}

	if walManager != nil {
		if err := walManager.Replay(s.replay); err != nil {
			return nil, err
		}
		s.logger.Info("recovered from wal", "tables", len(s.tables), "version", s.lastVersion)
	}

	return s, nil
}

func (s *MemoryStore) replay(record *common.WalRecord) error {
	switch record.Type {
	case common.WalRecordCreateTable:
		s.createTable(TableInfo{ID: record.TableID, Name: record.TableName, PartitionMethod: record.PartitionMethod})
	case common.WalRecordDropTable:
		delete(s.tables, record.TableID)
	case common.WalRecordCommit:
		for _, m := range record.Mutations {
			// mutations of a table dropped later in the log are gone anyway
			if t, ok := s.tables[m.TableID]; ok {
				t.data.Put(m.Key, toVersioned(m, record.Version))
			}
		}
		s.lastVersion = max(s.lastVersion, record.Version)
	}
	return nil
}

func (s *MemoryStore) createTable(info TableInfo) {
	s.tables[info.ID] = &memTable{info: info, data: datatable.NewBTreeDataTable()}
	s.maxTableID = max(s.maxTableID, info.ID)
}

func (s *MemoryStore) log(record *common.WalRecord) error {
	if s.walManager == nil {
		return nil
	}
	return s.walManager.AddRecord(record)
}

func (s *MemoryStore) CreateTable(info TableInfo) error {
	s.m.Lock()
	defer s.m.Unlock()

	if _, ok := s.tables[info.ID]; ok {
		return errors.Wrapf(common.ErrTableAlreadyExists, "table id %d", info.ID)
	}
	err := s.log(&common.WalRecord{
		Type:            common.WalRecordCreateTable,
		TableID:         info.ID,
		TableName:       info.Name,
		PartitionMethod: info.PartitionMethod,
	})
	if err != nil {
		return err
	}
	s.createTable(info)
	return nil
}

// DropTable unlinks the table's tree; its data goes with it.
func (s *MemoryStore) DropTable(id uint32) error {
	s.m.Lock()
	defer s.m.Unlock()

	if _, ok := s.tables[id]; !ok {
		return errors.Wrapf(common.ErrTableNotFound, "table id %d", id)
	}
	if err := s.log(&common.WalRecord{Type: common.WalRecordDropTable, TableID: id}); err != nil {
		return err
	}
	delete(s.tables, id)
	return nil
}

func (s *MemoryStore) Tables() ([]TableInfo, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	infos := make([]TableInfo, 0, len(s.tables))
	for _, t := range s.tables {
		infos = append(infos, t.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

func (s *MemoryStore) MaxTableID() uint32 {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.maxTableID
}

func (s *MemoryStore) table(id uint32) (*memTable, error) {
	t, ok := s.tables[id]
	if !ok {
		return nil, errors.Wrapf(common.ErrTableNotFound, "table id %d", id)
	}
	return t, nil
}

func (s *MemoryStore) Get(tableID uint32, key []byte, asOf uint64) (common.VersionedValue, bool, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	t, err := s.table(tableID)
	if err != nil {
		return common.VersionedValue{}, false, err
	}
	v, ok := t.data.Get(key, asOf)
	return v, ok, nil
}

func (s *MemoryStore) Latest(tableID uint32, key []byte) (common.VersionedValue, bool, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	t, err := s.table(tableID)
	if err != nil {
		return common.VersionedValue{}, false, err
	}
	v, ok := t.data.Latest(key)
	return v, ok, nil
}

func (s *MemoryStore) Scan(tableID uint32, lo, hi []byte, asOf uint64, fn func(key []byte, value common.VersionedValue) bool) error {
	s.m.RLock()
	defer s.m.RUnlock()

	t, err := s.table(tableID)
	if err != nil {
		return err
	}
	t.data.AscendRange(lo, hi, asOf, fn)
	return nil
}

// Apply checks every target table before touching any of them, logs the
// commit and then installs all versions under one write lock.
func (s *MemoryStore) Apply(version uint64, mutations []common.Mutation) error {
	s.m.Lock()
	defer s.m.Unlock()

	if version <= s.lastVersion {
		return errors.Wrapf(common.ErrInternal, "apply version %d not above %d", version, s.lastVersion)
	}
	for _, m := range mutations {
		if _, err := s.table(m.TableID); err != nil {
			return err
		}
	}
	if err := s.log(&common.WalRecord{Type: common.WalRecordCommit, Version: version, Mutations: mutations}); err != nil {
		return err
	}
	for _, m := range mutations {
		s.tables[m.TableID].data.Put(m.Key, toVersioned(m, version))
	}
	s.lastVersion = version
	return nil
}

func (s *MemoryStore) LastVersion() uint64 {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.lastVersion
}

func (s *MemoryStore) GC(safe uint64) (int, error) {
	s.m.Lock()
	defer s.m.Unlock()

	dropped := 0
	for _, t := range s.tables {
		dropped += t.data.GC(safe)
	}
	return dropped, nil
}

func (s *MemoryStore) Close() error {
	s.m.Lock()
	defer s.m.Unlock()

	for _, t := range s.tables {
		t.data.Clear()
	}
	if s.walManager != nil {
		return s.walManager.Close()
	}
	return nil
}
