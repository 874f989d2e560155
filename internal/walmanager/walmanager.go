package walmanager

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"graphstore/internal/common"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// WalManager is an append-only log of table changes and applied commits.
// Records are framed with a length and a CRC so a torn tail left by a crash
// is detected and cut off on the next open.
type WalManager struct {
	lso        atomic.Int64 // offset where the next record goes
	m          sync.Mutex
	walFile    *os.File
	walHeader  *WalHeader
	firstRow   int64
	syncWrites bool
	logger     *slog.Logger
}

func NewWalManager(path string, syncWrites bool, logger *slog.Logger) (*WalManager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create wal directory")
	}

	walFile, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open wal")
	}

	walHeader := &WalHeader{Magic: WAL_MAGIC, Version: WAL_VERSION}
	firstRow, err := common.ReadAtInFile(walFile, 0, walHeader)
	if err == io.EOF {
		headerBytes, _ := walHeader.MarshalBinary()
		firstRow, err = common.WriteAtInFile(walFile, 0, headerBytes)
	}
	if err != nil {
		walFile.Close()
		return nil, errors.Wrapf(err, "wal header of %s", path)
	}

	walManager := &WalManager{
		walFile:    walFile,
		walHeader:  walHeader,
		firstRow:   firstRow,
		syncWrites: syncWrites,
		logger:     logger.With("component", "wal"),
	}
	walManager.lso.Store(firstRow)

	return walManager, nil
}

func (w *WalManager) AddRecord(record *common.WalRecord) error {
	data, err := record.MarshalBinary()
	if err != nil {
		return err
	}

	w.m.Lock()
	defer w.m.Unlock()

	newOffset, err := common.WriteAtInFile(w.walFile, w.lso.Load(), data)
	if err != nil {
		return errors.Wrapf(err, "append %s record", record.Type)
	}
	if w.syncWrites {
		if err := w.walFile.Sync(); err != nil {
			return errors.Wrap(err, "sync wal")
		}
	}

	w.lso.Store(newOffset)

	return nil
}

// Replay feeds every intact record to fn in log order and positions the log
// for appends after the last one. A torn or corrupt tail is truncated.
func (w *WalManager) Replay(fn func(record *common.WalRecord) error) error {
	w.m.Lock()
	defer w.m.Unlock()

	offset := w.firstRow
	count := 0
	for {
		record := &common.WalRecord{}
		next, err := common.ReadAtInFile(w.walFile, offset, record)
		if err == io.EOF {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, common.ErrCorruptFrame) {
			w.logger.Warn("truncating damaged wal tail", "offset", offset, "error", err)
			if err := w.walFile.Truncate(offset); err != nil {
				return errors.Wrap(err, "truncate wal")
			}
			break
		}
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return errors.Wrapf(err, "replay %s record at offset %d", record.Type, offset)
		}
		offset = next
		count++
	}

	w.lso.Store(offset)
	w.logger.Info("wal replayed", "records", count, "bytes", offset)

	return nil
}

func (w *WalManager) Size() int64 {
	return w.lso.Load()
}

func (w *WalManager) Close() error {
	w.m.Lock()
	defer w.m.Unlock()

	if w.walFile == nil {
		return nil
	}
	err := w.walFile.Sync()
	if cerr := w.walFile.Close(); err == nil {
		err = cerr
	}
	w.walFile = nil
	return errors.Wrap(err, "close wal")
}
