package session

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"sort"
	"sync"

	"graphstore/internal/common"
	"graphstore/internal/keycodec"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Engine is the part of the storage engine a session drives.
type Engine interface {
	StartTransaction() (uint64, error)
	CommitTransaction(txID uint64) error
	RollbackTransaction(txID uint64) error
	Get(txID uint64, tableID uint32, key []byte) ([]byte, error)
	Set(txID uint64, tableID uint32, key []byte, value []byte) error
	Del(txID uint64, tableID uint32, key []byte) error
	Scan(txID uint64, tableID uint32, r common.ScanRange) ([]common.KeyValue, error)
}

type EndKind uint8

const (
	EndExclusive EndKind = iota
	EndInclusive
	// EndPrefix ends the scan after the last key starting with End.
	EndPrefix
)

// Range selects keys for Scan. A nil End with EndExclusive or EndInclusive
// scans to the end of the table.
type Range struct {
	Start          []byte
	StartExclusive bool
	End            []byte
	EndKind        EndKind
	Limit          int
}

func (r Range) ScanRange() common.ScanRange {
	sr := common.ScanRange{
		Start:          r.Start,
		StartInclusive: !r.StartExclusive,
		End:            r.End,
		EndInclusive:   r.EndKind == EndInclusive,
		Limit:          r.Limit,
	}
	if r.EndKind == EndPrefix {
		sr.End = keycodec.PrefixEnd(r.End)
		sr.EndInclusive = false
	}
	return sr
}

// Session buffers a caller's puts and deletes and applies them as one
// engine transaction on Commit. Reads see committed state overlaid with the
// buffered mutations.
type Session struct {
	id     uuid.UUID
	engine Engine

	mu      sync.Mutex
	pending []common.Mutation

	logger *slog.Logger
}

func New(engine Engine, logger *slog.Logger) *Session {
	id := uuid.New()
	return &Session{
		id:     id,
		engine: engine,
		logger: logger.With("component", "session", "session", id.String()),
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) Put(tableID uint32, key, value []byte) error {
	if len(key) == 0 {
		return errors.Wrap(common.ErrInvalidArgument, "empty key")
	}
	if value == nil {
		value = []byte{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, common.Mutation{TableID: tableID, Key: common.CloneBytes(key), Value: common.CloneBytes(value)})
	return nil
}

func (s *Session) Delete(tableID uint32, key []byte) error {
	if len(key) == 0 {
		return errors.Wrap(common.ErrInvalidArgument, "empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, common.Mutation{TableID: tableID, Key: common.CloneBytes(key), Delete: true})
	return nil
}

// Commit replays the buffered mutations in order inside one engine
// transaction. The buffer is cleared whether or not the commit succeeds.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Session) flushLocked() error {
	if len(s.pending) == 0 {
		return nil
	}
	pending := s.pending
	s.pending = nil

	txID, err := s.engine.StartTransaction()
	if err != nil {
		return errors.Wrapf(err, "session %s", s.id)
	}
	for i, m := range pending {
		if m.Delete {
			err = s.engine.Del(txID, m.TableID, m.Key)
		} else {
			err = s.engine.Set(txID, m.TableID, m.Key, m.Value)
		}
		if err != nil {
			s.rollbackEngine(txID)
			return errors.Wrapf(err, "session %s replaying mutation %d of %d", s.id, i+1, len(pending))
		}
	}
	if err := s.engine.CommitTransaction(txID); err != nil {
		return errors.Wrapf(err, "session %s commit", s.id)
	}
	s.logger.Debug("session committed", "tx", txID, "mutations", len(pending))
	return nil
}

func (s *Session) rollbackEngine(txID uint64) {
	if err := s.engine.RollbackTransaction(txID); err != nil {
		s.logger.Warn("engine rollback failed", "tx", txID, "error", err)
	}
}

// Rollback drops the buffered mutations. The engine is not involved.
func (s *Session) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// lastPending returns the newest buffered mutation of key.
func (s *Session) lastPending(tableID uint32, key []byte) (common.Mutation, bool) {
	for i := len(s.pending) - 1; i >= 0; i-- {
		m := s.pending[i]
		if m.TableID == tableID && bytes.Equal(m.Key, key) {
			return m, true
		}
	}
	return common.Mutation{}, false
}

func (s *Session) Get(tableID uint32, key []byte) ([]byte, error) {
	s.mu.Lock()
	m, ok := s.lastPending(tableID, key)
	s.mu.Unlock()

	if ok {
		if m.Delete {
			return nil, errors.Wrapf(common.ErrKeyIsDeleted, "table %d key %q deleted in session %s", tableID, key, s.id)
		}
		return common.CloneBytes(m.Value), nil
	}
	return s.engine.Get(0, tableID, key)
}

// pendingInRange returns the newest buffered mutation of every key in
// [lo, hi), sorted by key.
func (s *Session) pendingInRange(tableID uint32, lo, hi []byte) []common.Mutation {
	latest := make(map[string]common.Mutation)
	for _, m := range s.pending {
		if m.TableID == tableID && common.InBounds(m.Key, lo, hi) {
			latest[string(m.Key)] = m
		}
	}
	out := make([]common.Mutation, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}

// Scan returns the live entries of r in key order.
func (s *Session) Scan(tableID uint32, r Range) ([]common.KeyValue, error) {
	if r.Limit < 0 {
		return nil, errors.Wrapf(common.ErrInvalidArgument, "negative scan limit %d", r.Limit)
	}
	sr := r.ScanRange()

	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := sr.Bounds()
	pending := s.pendingInRange(tableID, lo, hi)
	if len(pending) > 0 && sr.Limit > 0 {
		// each buffered delete can hide one committed row
		sr.Limit += len(pending)
	}

	committed, err := s.engine.Scan(0, tableID, sr)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return committed, nil
	}
	return mergeScan(committed, pending, r.Limit), nil
}

func mergeScan(committed []common.KeyValue, pending []common.Mutation, limit int) []common.KeyValue {
	out := make([]common.KeyValue, 0, len(committed)+len(pending))
	full := func() bool { return limit > 0 && len(out) >= limit }

	i, j := 0, 0
	for (i < len(committed) || j < len(pending)) && !full() {
		switch {
		case j == len(pending) || (i < len(committed) && bytes.Compare(committed[i].Key, pending[j].Key) < 0):
			out = append(out, committed[i])
			i++
		default:
			m := pending[j]
			if i < len(committed) && bytes.Equal(committed[i].Key, m.Key) {
				i++
			}
			if !m.Delete {
				out = append(out, common.KeyValue{Key: common.CloneBytes(m.Key), Value: common.CloneBytes(m.Value)})
			}
			j++
		}
	}
	return out
}

// Increase commits the buffered mutations, then adds delta to the 8-byte
// big-endian counter at key in a transaction of its own. A missing or
// deleted counter starts at zero. The new value is returned.
func (s *Session) Increase(tableID uint32, key []byte, delta int64) (int64, error) {
	if len(key) == 0 {
		return 0, errors.Wrap(common.ErrInvalidArgument, "empty key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(); err != nil {
		return 0, err
	}

	txID, err := s.engine.StartTransaction()
	if err != nil {
		return 0, errors.Wrapf(err, "session %s", s.id)
	}

	current := int64(0)
	raw, err := s.engine.Get(txID, tableID, key)
	switch common.StatusOf(err) {
	case common.StatusSuccess:
		if len(raw) != 8 {
			s.rollbackEngine(txID)
			return 0, errors.Wrapf(common.ErrInvalidArgument, "table %d key %q holds %d bytes, not a counter", tableID, key, len(raw))
		}
		current = int64(binary.BigEndian.Uint64(raw))
	case common.StatusKeyNotFound, common.StatusKeyIsDeleted:
	default:
		s.rollbackEngine(txID)
		return 0, err
	}

	next := current + delta
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(next))
	if err := s.engine.Set(txID, tableID, key, buf[:]); err != nil {
		s.rollbackEngine(txID)
		return 0, err
	}
	if err := s.engine.CommitTransaction(txID); err != nil {
		return 0, errors.Wrapf(err, "session %s increase", s.id)
	}
	return next, nil
}
