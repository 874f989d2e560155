package walmanager

import (
	"graphstore/internal/common"

	"github.com/pkg/errors"
)

const (
	WAL_MAGIC   = 0x47535741 // "GSWA"
	WAL_VERSION = 1
)

type WalHeader struct {
	Magic   uint32
	Version uint32
}

func (h *WalHeader) MarshalBinary() ([]byte, error) {
	bb := common.NewBinaryBuffer(8)

	bb.WriteUint32(h.Magic).WriteUint32(h.Version)

	return bb.GetBuffer(), nil
}

func (h *WalHeader) UnmarshalBinary(data []byte) error {
	bb := common.NewBinaryBufferFrom(&data, 0)

	bb.ReadUint32(&h.Magic).ReadUint32(&h.Version)
	if bb.Err() != nil {
		return errors.Wrap(bb.Err(), "wal header")
	}
	if h.Magic != WAL_MAGIC {
		return errors.Errorf("not a wal file: magic 0x%08x", h.Magic)
	}
	if h.Version != WAL_VERSION {
		return errors.Errorf("unsupported wal version %d", h.Version)
	}

	return nil
}
