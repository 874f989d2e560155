package storemanager

import (
	"graphstore/internal/common"

	"github.com/pkg/errors"
)

type BatchOpType uint8

const (
	BatchGet BatchOpType = iota
	BatchSet
	BatchDel
)

func (t BatchOpType) String() string {
	switch t {
	case BatchGet:
		return "GET"
	case BatchSet:
		return "SET"
	case BatchDel:
		return "DEL"
	default:
		return "UNKNOWN"
	}
}

type BatchOp struct {
	Type    BatchOpType
	TableID uint32
	Key     []byte
	Value   []byte
}

// BatchResult carries the outcome of one op. Value is set for a successful
// get only.
type BatchResult struct {
	Status common.Status
	Value  []byte
	Err    error
}

// ExecuteBatch runs ops in order inside txID and returns one result per op.
// The error is BATCH_NOT_FULLY_SUCCESS when any op failed. With txID 0 the
// batch gets its own transaction, committed when every write succeeded and
// rolled back otherwise; failed gets do not prevent the commit.
func (sm *StoreManager) ExecuteBatch(txID uint64, ops []BatchOp) ([]BatchResult, error) {
	if err := sm.checkRunning(); err != nil {
		return nil, err
	}
	for i, op := range ops {
		if op.Type > BatchDel {
			return nil, errors.Wrapf(common.ErrInvalidArgument, "batch op %d has type %d", i, op.Type)
		}
	}

	own := txID == 0
	if own {
		id, err := sm.StartTransaction()
		if err != nil {
			return nil, err
		}
		txID = id
	}

	results := make([]BatchResult, len(ops))
	failed, writeFailed := 0, false
	for i, op := range ops {
		var err error
		switch op.Type {
		case BatchGet:
			results[i].Value, err = sm.Get(txID, op.TableID, op.Key)
		case BatchSet:
			err = sm.Set(txID, op.TableID, op.Key, op.Value)
		case BatchDel:
			err = sm.Del(txID, op.TableID, op.Key)
		}
		results[i].Status = common.StatusOf(err)
		results[i].Err = err
		if err != nil {
			failed++
			if op.Type != BatchGet {
				writeFailed = true
			}
		}
	}

	if own {
		if writeFailed {
			if err := sm.RollbackTransaction(txID); err != nil {
				sm.logger.Warn("rollback of batch transaction failed", "tx", txID, "error", err)
			}
		} else if err := sm.CommitTransaction(txID); err != nil {
			return results, err
		}
	}

	if failed > 0 {
		return results, errors.Wrapf(common.ErrBatchNotFullySuccess, "%d of %d ops failed", failed, len(ops))
	}
	return results, nil
}
