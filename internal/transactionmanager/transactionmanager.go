package transactionmanager

import (
	"sync"

	"graphstore/internal/common"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// TransactionManager is the arena of live transactions. Ids start at 1 and
// are never reused; 0 is reserved for auto-commit.
type TransactionManager struct {
	transactions         map[uint64]*Transaction
	currentTransactionId atomic.Uint64
	m                    sync.RWMutex
}

func NewTransactionManager() *TransactionManager {
	return &TransactionManager{
		transactions: make(map[uint64]*Transaction),
	}
}

// Begin registers a transaction. startVersion is read under the arena lock
// so OldestActiveStart never misses a snapshot that is being taken.
func (tm *TransactionManager) Begin(startVersion func() uint64) *Transaction {
	tm.m.Lock()
	defer tm.m.Unlock()

	tx := newTransaction(tm.currentTransactionId.Inc(), startVersion())
	tm.transactions[tx.ID] = tx

	return tx
}

// Get returns a live transaction. Finished or unknown ids are not found.
func (tm *TransactionManager) Get(id uint64) (*Transaction, error) {
	tm.m.RLock()
	tx, ok := tm.transactions[id]
	tm.m.RUnlock()

	if !ok {
		return nil, errors.Wrapf(common.ErrTransactionNotFound, "transaction %d", id)
	}
	return tx, nil
}

// Finish terminates tx exactly once. The caller holds tx's lock.
func (tm *TransactionManager) Finish(tx *Transaction, status Status) {
	tx.finish(status)

	tm.m.Lock()
	delete(tm.transactions, tx.ID)
	tm.m.Unlock()
}

// OldestActiveStart is the smallest start version of any live transaction,
// or fallback when none is live.
func (tm *TransactionManager) OldestActiveStart(fallback uint64) uint64 {
	tm.m.RLock()
	defer tm.m.RUnlock()

	oldest := fallback
	for _, tx := range tm.transactions {
		if tx.StartVersion < oldest {
			oldest = tx.StartVersion
		}
	}
	return oldest
}

func (tm *TransactionManager) ActiveCount() int {
	tm.m.RLock()
	defer tm.m.RUnlock()
	return len(tm.transactions)
}

// ActiveIDs is a snapshot of live transaction ids.
func (tm *TransactionManager) ActiveIDs() []uint64 {
	tm.m.RLock()
	defer tm.m.RUnlock()

	ids := make([]uint64, 0, len(tm.transactions))
	for id := range tm.transactions {
		ids = append(ids, id)
	}
	return ids
}
