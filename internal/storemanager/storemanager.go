package storemanager

import (
	"log/slog"
	"sync"
	"time"

	"graphstore/internal/common"
	"graphstore/internal/config"
	"graphstore/internal/gsnmanager"
	"graphstore/internal/lockmanager"
	"graphstore/internal/store"
	"graphstore/internal/tablemanager"
	"graphstore/internal/transactionmanager"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

const (
	stateCreated int32 = iota
	stateRunning
	stateShutdown
)

type Options struct {
	Concurrency string
	LockTimeout time.Duration
}

func OptionsFromConfig(cfg config.EngineConfig) Options {
	return Options{Concurrency: cfg.Concurrency, LockTimeout: cfg.LockTimeout}
}

// Stats is a point-in-time view of engine counters.
type Stats struct {
	Concurrency        string
	Version            uint64
	ActiveTransactions int
	Tables             int
	Commits            uint64
	Aborts             uint64
	Conflicts          uint64
	Locks              map[string]any
}

// StoreManager is the transactional engine: it owns the table registry, the
// commit version, the live transactions and the concurrency strategy, and
// applies commits to the backing store.
type StoreManager struct {
	store              store.Store
	tableManager       *tablemanager.TableManager
	gsnManager         *gsnmanager.GsnManager
	transactionManager *transactionmanager.TransactionManager
	lockManager        *lockmanager.LockManager
	cc                 concurrencyControl

	// commitMu serializes validation and apply of every commit
	commitMu sync.Mutex
	state    atomic.Int32

	commits   atomic.Uint64
	aborts    atomic.Uint64
	conflicts atomic.Uint64

	logger *slog.Logger
}

func NewStoreManager(s store.Store, opts Options, logger *slog.Logger) (*StoreManager, error) {
	sm := &StoreManager{
		store:              s,
		transactionManager: transactionmanager.NewTransactionManager(),
		logger:             logger.With("component", "engine"),
	}

	cc, lockManager, err := newConcurrencyControl(opts, s)
	if err != nil {
		return nil, err
	}
	sm.cc = cc
	sm.lockManager = lockManager

	return sm, nil
}

// Initialize loads the table registry and resumes the commit version from
// the store.
func (sm *StoreManager) Initialize() error {
	if sm.state.Load() != stateCreated {
		return errors.Wrap(common.ErrInternal, "engine already initialized")
	}

	tableManager, err := tablemanager.NewTableManager(sm.store)
	if err != nil {
		return err
	}
	sm.tableManager = tableManager
	sm.gsnManager = gsnmanager.NewGsnManager(sm.store.LastVersion())
	sm.state.Store(stateRunning)

	sm.logger.Info("engine initialized",
		"concurrency", sm.cc.name(),
		"version", sm.gsnManager.Current(),
		"tables", len(tableManager.ListTables()))
	return nil
}

// Shutdown aborts every live transaction and closes the store. Every call
// after it fails.
func (sm *StoreManager) Shutdown() error {
	if !sm.state.CAS(stateRunning, stateShutdown) {
		if sm.state.Load() == stateCreated {
			sm.state.Store(stateShutdown)
			return sm.store.Close()
		}
		return nil
	}

	var err error
	for _, id := range sm.transactionManager.ActiveIDs() {
		if rerr := sm.rollback(id); rerr != nil && common.StatusOf(rerr) != common.StatusTransactionNotFound {
			err = multierr.Append(err, rerr)
		}
	}
	err = multierr.Append(err, sm.store.Close())

	sm.logger.Info("engine shut down", "commits", sm.commits.Load(), "aborts", sm.aborts.Load())
	return err
}

func (sm *StoreManager) checkRunning() error {
	switch sm.state.Load() {
	case stateRunning:
		return nil
	case stateCreated:
		return errors.Wrap(common.ErrClosed, "engine not initialized")
	default:
		return errors.WithStack(common.ErrClosed)
	}
}

func (sm *StoreManager) CreateTable(name string, partitionMethod string) (uint32, error) {
	if err := sm.checkRunning(); err != nil {
		return 0, err
	}
	id, err := sm.tableManager.CreateTable(name, partitionMethod)
	if err != nil {
		return 0, err
	}
	sm.logger.Info("table created", "table", name, "id", id, "partition", partitionMethod)
	return id, nil
}

func (sm *StoreManager) DropTable(tableID uint32) error {
	if err := sm.checkRunning(); err != nil {
		return err
	}
	if err := sm.tableManager.DropTable(tableID); err != nil {
		return err
	}
	sm.logger.Info("table dropped", "id", tableID)
	return nil
}

func (sm *StoreManager) GetTableID(name string) (uint32, error) {
	if err := sm.checkRunning(); err != nil {
		return 0, err
	}
	return sm.tableManager.GetTableID(name)
}

func (sm *StoreManager) GetTableName(tableID uint32) (string, error) {
	if err := sm.checkRunning(); err != nil {
		return "", err
	}
	return sm.tableManager.GetTableName(tableID)
}

func (sm *StoreManager) ListTables() ([]store.TableInfo, error) {
	if err := sm.checkRunning(); err != nil {
		return nil, err
	}
	return sm.tableManager.ListTables(), nil
}

// StartTransaction opens a transaction whose snapshot is the current commit
// version.
func (sm *StoreManager) StartTransaction() (uint64, error) {
	if err := sm.checkRunning(); err != nil {
		return 0, err
	}
	tx := sm.transactionManager.Begin(sm.gsnManager.Current)
	sm.logger.Debug("transaction started", "tx", tx.ID, "startVersion", tx.StartVersion)
	return tx.ID, nil
}

// activeTransaction returns tx locked. The caller unlocks it.
func (sm *StoreManager) activeTransaction(txID uint64) (*transactionmanager.Transaction, error) {
	if txID == 0 {
		return nil, errors.Wrap(common.ErrInvalidArgument, "transaction id 0 has no state")
	}
	tx, err := sm.transactionManager.Get(txID)
	if err != nil {
		return nil, err
	}
	tx.Lock()
	if !tx.IsActive() {
		tx.Unlock()
		return nil, errors.Wrapf(common.ErrTransactionNotFound, "transaction %d is %s", txID, tx.Status())
	}
	return tx, nil
}

// CommitTransaction validates and applies tx atomically at the next commit
// version. A failed commit leaves no effect and aborts tx.
func (sm *StoreManager) CommitTransaction(txID uint64) error {
	if err := sm.checkRunning(); err != nil {
		return err
	}
	tx, err := sm.activeTransaction(txID)
	if err != nil {
		return err
	}
	defer tx.Unlock()

	start := time.Now()
	version, err := sm.commitLocked(tx)
	if err != nil {
		sm.abortLocked(tx)
		if common.StatusOf(err) == common.StatusTransactionConflict {
			sm.conflicts.Inc()
			sm.logger.Debug("commit conflict", "tx", txID, "error", err)
		} else {
			sm.logger.Error("commit failed", "tx", txID, "error", err)
		}
		return err
	}

	sm.transactionManager.Finish(tx, transactionmanager.StatusCommitted)
	sm.cc.release(tx)
	sm.commits.Inc()
	sm.logger.Debug("transaction committed", "tx", txID, "version", version, "took", time.Since(start))
	return nil
}

func (sm *StoreManager) commitLocked(tx *transactionmanager.Transaction) (uint64, error) {
	sm.commitMu.Lock()
	defer sm.commitMu.Unlock()

	if err := sm.cc.validate(tx); err != nil {
		return 0, err
	}

	version := sm.gsnManager.Next()
	if !tx.IsReadOnly() {
		if err := sm.store.Apply(version, tx.Writes()); err != nil {
			return 0, errors.Wrapf(err, "apply transaction %d", tx.ID)
		}
	}
	sm.gsnManager.Advance(version)
	return version, nil
}

func (sm *StoreManager) abortLocked(tx *transactionmanager.Transaction) {
	sm.transactionManager.Finish(tx, transactionmanager.StatusAborted)
	sm.cc.release(tx)
	sm.aborts.Inc()
}

// RollbackTransaction discards tx's buffered writes and releases its locks.
func (sm *StoreManager) RollbackTransaction(txID uint64) error {
	if err := sm.checkRunning(); err != nil {
		return err
	}
	return sm.rollback(txID)
}

func (sm *StoreManager) rollback(txID uint64) error {
	tx, err := sm.activeTransaction(txID)
	if err != nil {
		return err
	}
	defer tx.Unlock()

	sm.abortLocked(tx)
	sm.logger.Debug("transaction rolled back", "tx", txID)
	return nil
}

// GC prunes versions no live snapshot can read any more.
func (sm *StoreManager) GC() (int, error) {
	if err := sm.checkRunning(); err != nil {
		return 0, err
	}
	safe := sm.transactionManager.OldestActiveStart(sm.gsnManager.Current())
	dropped, err := sm.store.GC(safe)
	if err != nil {
		return 0, err
	}
	sm.logger.Debug("gc finished", "safeVersion", safe, "dropped", dropped)
	return dropped, nil
}

func (sm *StoreManager) Stats() Stats {
	st := Stats{
		Concurrency:        sm.cc.name(),
		ActiveTransactions: sm.transactionManager.ActiveCount(),
		Commits:            sm.commits.Load(),
		Aborts:             sm.aborts.Load(),
		Conflicts:          sm.conflicts.Load(),
	}
	if sm.gsnManager != nil {
		st.Version = sm.gsnManager.Current()
	}
	if sm.tableManager != nil {
		st.Tables = len(sm.tableManager.ListTables())
	}
	if sm.lockManager != nil {
		st.Locks = sm.lockManager.GetLockStatistics()
	}
	return st
}
