package lockmanager

import (
	"sync"
	"time"

	"graphstore/internal/common"

	"github.com/pkg/errors"
)

// LockType represents the type of lock
type LockType int

const (
	ReadLock LockType = iota
	WriteLock
)

func (lt LockType) String() string {
	switch lt {
	case ReadLock:
		return "READ"
	case WriteLock:
		return "WRITE"
	default:
		return "UNKNOWN"
	}
}

// LockKey names one key of one table.
type LockKey struct {
	TableID uint32
	Key     string
}

// Lock represents a single lock held by a transaction
type Lock struct {
	TransactionID uint64
	Key           LockKey
	Type          LockType
	AcquiredAt    time.Time
}

// LockRequest represents a request for acquiring a lock
type LockRequest struct {
	TransactionID uint64
	Key           LockKey
	Type          LockType
	AcquiredCh    chan struct{}
	granted       bool
}

// LockManager grants shared (read) and exclusive (write) key locks held until
// the owning transaction releases everything at commit or rollback.
type LockManager struct {
	// lockTable maps key -> list of locks on that key
	lockTable map[LockKey][]*Lock
	// transactionLocks maps transaction ID -> list of locks held by that transaction
	transactionLocks map[uint64][]*Lock
	// waitingRequests maps key -> queue of waiting lock requests
	waitingRequests map[LockKey][]*LockRequest
	// waitingFor maps a blocked transaction to the request it waits on
	waitingFor map[uint64]*LockRequest
	mutex      sync.Mutex
}

func NewLockManager() *LockManager {
	return &LockManager{
		lockTable:        make(map[LockKey][]*Lock),
		transactionLocks: make(map[uint64][]*Lock),
		waitingRequests:  make(map[LockKey][]*LockRequest),
		waitingFor:       make(map[uint64]*LockRequest),
	}
}

// AcquireLock returns once the lock is held. It fails with a wrapped
// common.ErrTransactionConflict when waiting would close a cycle in the
// wait-for graph, and with common.ErrKeyIsLocked after timeout.
func (lm *LockManager) AcquireLock(transactionID uint64, key LockKey, lockType LockType, timeout time.Duration) error {
	lm.mutex.Lock()

	if lm.holdsAtLeast(transactionID, key, lockType) {
		lm.mutex.Unlock()
		return nil
	}

	if lm.canGrantLock(key, lockType, transactionID) {
		lm.grantLock(transactionID, key, lockType)
		lm.mutex.Unlock()
		return nil
	}

	if lm.wouldCauseDeadlock(transactionID, key, lockType) {
		lm.mutex.Unlock()
		return errors.Wrapf(common.ErrTransactionConflict, "deadlock: transaction %d on %s lock of table %d key %q", transactionID, lockType, key.TableID, key.Key)
	}

	request := &LockRequest{
		TransactionID: transactionID,
		Key:           key,
		Type:          lockType,
		AcquiredCh:    make(chan struct{}),
	}
	lm.waitingRequests[key] = append(lm.waitingRequests[key], request)
	lm.waitingFor[transactionID] = request
	lm.mutex.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-request.AcquiredCh:
		return nil
	case <-timer.C:
		lm.mutex.Lock()
		defer lm.mutex.Unlock()
		// granted while the timer fired
		if request.granted {
			return nil
		}
		lm.removeWaitingRequest(request)
		return errors.Wrapf(common.ErrKeyIsLocked, "lock timeout after %v: transaction %d table %d key %q", timeout, transactionID, key.TableID, key.Key)
	}
}

// ReleaseAllLocks releases all locks held by a transaction and wakes waiters
// that can now proceed.
func (lm *LockManager) ReleaseAllLocks(transactionID uint64) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if request, ok := lm.waitingFor[transactionID]; ok {
		lm.removeWaitingRequest(request)
	}

	locks := lm.transactionLocks[transactionID]
	delete(lm.transactionLocks, transactionID)

	touched := make(map[LockKey]struct{}, len(locks))
	for _, lock := range locks {
		lm.removeFromLockTable(lock)
		touched[lock.Key] = struct{}{}
	}
	for key := range touched {
		lm.processWaitingRequests(key)
	}
}

// HasLock checks if a transaction has a specific lock
func (lm *LockManager) HasLock(transactionID uint64, key LockKey, lockType LockType) bool {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	for _, lock := range lm.transactionLocks[transactionID] {
		if lock.Key == key && lock.Type == lockType {
			return true
		}
	}
	return false
}

// holdsAtLeast reports whether a lock of lockType or stronger is already held.
func (lm *LockManager) holdsAtLeast(transactionID uint64, key LockKey, lockType LockType) bool {
	for _, lock := range lm.lockTable[key] {
		if lock.TransactionID == transactionID && lock.Type >= lockType {
			return true
		}
	}
	return false
}

// canGrantLock checks if a lock can be granted immediately
func (lm *LockManager) canGrantLock(key LockKey, lockType LockType, transactionID uint64) bool {
	return len(lm.blockers(key, lockType, transactionID)) == 0
}

// blockers lists other transactions holding locks on key incompatible with lockType.
func (lm *LockManager) blockers(key LockKey, lockType LockType, transactionID uint64) []uint64 {
	var out []uint64
	for _, existingLock := range lm.lockTable[key] {
		if existingLock.TransactionID == transactionID {
			continue
		}
		if !areLocksCompatible(existingLock.Type, lockType) {
			out = append(out, existingLock.TransactionID)
		}
	}
	return out
}

// areLocksCompatible checks if two lock types are compatible
func areLocksCompatible(existing, requested LockType) bool {
	return existing == ReadLock && requested == ReadLock
}

func (lm *LockManager) grantLock(transactionID uint64, key LockKey, lockType LockType) {
	lock := &Lock{
		TransactionID: transactionID,
		Key:           key,
		Type:          lockType,
		AcquiredAt:    time.Now(),
	}
	lm.lockTable[key] = append(lm.lockTable[key], lock)
	lm.transactionLocks[transactionID] = append(lm.transactionLocks[transactionID], lock)
}

func (lm *LockManager) removeFromLockTable(lock *Lock) {
	locks := lm.lockTable[lock.Key]
	newLocks := make([]*Lock, 0, len(locks))
	for _, l := range locks {
		if l != lock {
			newLocks = append(newLocks, l)
		}
	}
	if len(newLocks) == 0 {
		delete(lm.lockTable, lock.Key)
	} else {
		lm.lockTable[lock.Key] = newLocks
	}
}

// processWaitingRequests grants queued requests on key that are now compatible
func (lm *LockManager) processWaitingRequests(key LockKey) {
	waitingQueue := lm.waitingRequests[key]
	if len(waitingQueue) == 0 {
		return
	}

	newQueue := make([]*LockRequest, 0, len(waitingQueue))
	for _, request := range waitingQueue {
		if lm.canGrantLock(key, request.Type, request.TransactionID) {
			lm.grantLock(request.TransactionID, key, request.Type)
			request.granted = true
			delete(lm.waitingFor, request.TransactionID)
			close(request.AcquiredCh)
		} else {
			newQueue = append(newQueue, request)
		}
	}

	if len(newQueue) == 0 {
		delete(lm.waitingRequests, key)
	} else {
		lm.waitingRequests[key] = newQueue
	}
}

// removeWaitingRequest drops a request that gave up waiting
func (lm *LockManager) removeWaitingRequest(request *LockRequest) {
	delete(lm.waitingFor, request.TransactionID)

	waitingQueue := lm.waitingRequests[request.Key]
	newQueue := make([]*LockRequest, 0, len(waitingQueue))
	for _, r := range waitingQueue {
		if r != request {
			newQueue = append(newQueue, r)
		}
	}

	if len(newQueue) == 0 {
		delete(lm.waitingRequests, request.Key)
	} else {
		lm.waitingRequests[request.Key] = newQueue
	}
}

// wouldCauseDeadlock walks the wait-for graph from the transactions that would
// block this request. Reaching the requester again means waiting closes a cycle.
func (lm *LockManager) wouldCauseDeadlock(transactionID uint64, key LockKey, lockType LockType) bool {
	visited := make(map[uint64]bool)
	stack := lm.blockers(key, lockType, transactionID)

	for len(stack) > 0 {
		holder := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if holder == transactionID {
			return true
		}
		if visited[holder] {
			continue
		}
		visited[holder] = true

		if request, ok := lm.waitingFor[holder]; ok {
			stack = append(stack, lm.blockers(request.Key, request.Type, holder)...)
		}
	}

	return false
}

// GetLockStatistics returns lock statistics for monitoring
func (lm *LockManager) GetLockStatistics() map[string]any {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	totalWaiting := 0
	for _, requests := range lm.waitingRequests {
		totalWaiting += len(requests)
	}

	return map[string]any{
		"total_keys_locked":   len(lm.lockTable),
		"active_transactions": len(lm.transactionLocks),
		"waiting_requests":    totalWaiting,
	}
}
