package storemanager

import (
	"math"
	"time"

	"graphstore/internal/common"
	"graphstore/internal/config"
	"graphstore/internal/lockmanager"
	"graphstore/internal/store"
	"graphstore/internal/transactionmanager"

	"github.com/pkg/errors"
)

// concurrencyControl is the strategy that decides what a transaction sees
// and when it conflicts. Exactly one implementation is chosen when the
// engine is built. Hooks run with the transaction's mutex held; validate
// additionally runs inside the engine's commit critical section.
type concurrencyControl interface {
	name() string
	// locksReads is true when reads block on other transactions' writes.
	locksReads() bool
	// readVersion is the snapshot reads of tx are served from.
	readVersion(tx *transactionmanager.Transaction) uint64
	onRead(tx *transactionmanager.Transaction, tableID uint32, key []byte) error
	onWrite(tx *transactionmanager.Transaction, tableID uint32, key []byte) error
	// observe records the committed version a read returned, 0 when absent.
	observe(tx *transactionmanager.Transaction, tableID uint32, key []byte, version uint64)
	validate(tx *transactionmanager.Transaction) error
	release(tx *transactionmanager.Transaction)
}

func newConcurrencyControl(opts Options, s store.Store) (concurrencyControl, *lockmanager.LockManager, error) {
	switch opts.Concurrency {
	case config.ConcurrencyOptimistic, "":
		return &optimistic{store: s}, nil, nil
	case config.ConcurrencyPessimistic:
		if opts.LockTimeout <= 0 {
			return nil, nil, errors.Wrap(common.ErrInvalidArgument, "pessimistic concurrency needs a positive lock timeout")
		}
		lm := lockmanager.NewLockManager()
		return &pessimistic{lockManager: lm, lockTimeout: opts.LockTimeout}, lm, nil
	default:
		return nil, nil, errors.Wrapf(common.ErrInvalidArgument, "unknown concurrency %q", opts.Concurrency)
	}
}

// optimistic runs transactions against their start snapshot without
// blocking and validates the read and write sets at commit.
type optimistic struct {
	store store.Store
}

func (o *optimistic) name() string { return "optimistic" }

func (o *optimistic) locksReads() bool { return false }

func (o *optimistic) readVersion(tx *transactionmanager.Transaction) uint64 {
	return tx.StartVersion
}

func (o *optimistic) onRead(*transactionmanager.Transaction, uint32, []byte) error  { return nil }
func (o *optimistic) onWrite(*transactionmanager.Transaction, uint32, []byte) error { return nil }

func (o *optimistic) observe(tx *transactionmanager.Transaction, tableID uint32, key []byte, version uint64) {
	tx.RecordRead(tableID, key, version)
}

// validate fails when a key read has a different latest version than the
// one observed, or when a key written was committed by someone else after
// tx started.
func (o *optimistic) validate(tx *transactionmanager.Transaction) error {
	for tk, observed := range tx.ReadSet() {
		latest, err := o.latestVersion(tk.TableID, []byte(tk.Key))
		if err != nil {
			return err
		}
		if latest != observed {
			return errors.Wrapf(common.ErrTransactionConflict,
				"transaction %d read table %d key %q at version %d, now %d", tx.ID, tk.TableID, tk.Key, observed, latest)
		}
	}
	for _, m := range tx.Writes() {
		latest, err := o.latestVersion(m.TableID, m.Key)
		if err != nil {
			return err
		}
		if latest > tx.StartVersion {
			return errors.Wrapf(common.ErrTransactionConflict,
				"transaction %d writes table %d key %q committed at version %d after start %d", tx.ID, m.TableID, m.Key, latest, tx.StartVersion)
		}
	}
	return nil
}

func (o *optimistic) latestVersion(tableID uint32, key []byte) (uint64, error) {
	v, ok, err := o.store.Latest(tableID, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return v.Version, nil
}

func (o *optimistic) release(*transactionmanager.Transaction) {}

// pessimistic is strict two-phase locking: shared locks for reads,
// exclusive locks for writes, all held until commit or rollback. Reads see
// the latest committed state.
type pessimistic struct {
	lockManager *lockmanager.LockManager
	lockTimeout time.Duration
}

func (p *pessimistic) name() string { return "pessimistic" }

func (p *pessimistic) locksReads() bool { return true }

func (p *pessimistic) readVersion(*transactionmanager.Transaction) uint64 {
	return math.MaxUint64
}

func (p *pessimistic) onRead(tx *transactionmanager.Transaction, tableID uint32, key []byte) error {
	return p.lockManager.AcquireLock(tx.ID, lockmanager.LockKey{TableID: tableID, Key: string(key)}, lockmanager.ReadLock, p.lockTimeout)
}

func (p *pessimistic) onWrite(tx *transactionmanager.Transaction, tableID uint32, key []byte) error {
	return p.lockManager.AcquireLock(tx.ID, lockmanager.LockKey{TableID: tableID, Key: string(key)}, lockmanager.WriteLock, p.lockTimeout)
}

func (p *pessimistic) observe(*transactionmanager.Transaction, uint32, []byte, uint64) {}

func (p *pessimistic) validate(*transactionmanager.Transaction) error { return nil }

func (p *pessimistic) release(tx *transactionmanager.Transaction) {
	p.lockManager.ReleaseAllLocks(tx.ID)
}
