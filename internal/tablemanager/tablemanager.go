package tablemanager

import (
	"sort"
	"sync"

	"graphstore/internal/common"
	"graphstore/internal/store"

	"github.com/pkg/errors"
)

// TableManager maps table names to ids. Ids are allocated from 1 upwards and
// never reused, even across restarts, so a recreated table can never see the
// data of a dropped one.
type TableManager struct {
	m      sync.RWMutex
	byName map[string]store.TableInfo
	byID   map[uint32]store.TableInfo
	nextID uint32
	store  store.Store
}

func NewTableManager(s store.Store) (*TableManager, error) {
	tables, err := s.Tables()
	if err != nil {
		return nil, errors.Wrap(err, "load tables")
	}

	tm := &TableManager{
		byName: make(map[string]store.TableInfo, len(tables)),
		byID:   make(map[uint32]store.TableInfo, len(tables)),
		nextID: s.MaxTableID() + 1,
		store:  s,
	}
	for _, info := range tables {
		tm.byName[info.Name] = info
		tm.byID[info.ID] = info
		tm.nextID = max(tm.nextID, info.ID+1)
	}
	return tm, nil
}

func (tm *TableManager) CreateTable(name string, partitionMethod string) (uint32, error) {
	if name == "" {
		return 0, errors.Wrap(common.ErrInvalidArgument, "empty table name")
	}

	tm.m.Lock()
	defer tm.m.Unlock()

	if _, ok := tm.byName[name]; ok {
		return 0, errors.Wrapf(common.ErrTableAlreadyExists, "table %q", name)
	}

	info := store.TableInfo{ID: tm.nextID, Name: name, PartitionMethod: partitionMethod}
	if err := tm.store.CreateTable(info); err != nil {
		return 0, err
	}
	tm.nextID++
	tm.byName[name] = info
	tm.byID[info.ID] = info

	return info.ID, nil
}

func (tm *TableManager) DropTable(id uint32) error {
	tm.m.Lock()
	defer tm.m.Unlock()

	info, ok := tm.byID[id]
	if !ok {
		return errors.Wrapf(common.ErrTableNotFound, "table id %d", id)
	}
	if err := tm.store.DropTable(id); err != nil {
		return err
	}
	delete(tm.byID, id)
	delete(tm.byName, info.Name)

	return nil
}

func (tm *TableManager) GetTableID(name string) (uint32, error) {
	tm.m.RLock()
	defer tm.m.RUnlock()

	info, ok := tm.byName[name]
	if !ok {
		return 0, errors.Wrapf(common.ErrTableNotFound, "table %q", name)
	}
	return info.ID, nil
}

func (tm *TableManager) GetTableName(id uint32) (string, error) {
	tm.m.RLock()
	defer tm.m.RUnlock()

	info, ok := tm.byID[id]
	if !ok {
		return "", errors.Wrapf(common.ErrTableNotFound, "table id %d", id)
	}
	return info.Name, nil
}

// Check returns a TABLE_NOT_FOUND error for unknown ids.
func (tm *TableManager) Check(id uint32) error {
	_, err := tm.GetTableName(id)
	return err
}

func (tm *TableManager) ListTables() []store.TableInfo {
	tm.m.RLock()
	defer tm.m.RUnlock()

	infos := make([]store.TableInfo, 0, len(tm.byID))
	for _, info := range tm.byID {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
