package aggregate

import (
	"encoding/binary"
	"math"

	"graphstore/internal/common"

	"github.com/pkg/errors"
)

type Kind uint8

const (
	Count Kind = iota
	Sum
	Min
	Max
)

func (k Kind) String() string {
	switch k {
	case Count:
		return "COUNT"
	case Sum:
		return "SUM"
	case Min:
		return "MIN"
	case Max:
		return "MAX"
	default:
		return "UNKNOWN"
	}
}

type State uint8

const (
	StateInit State = iota
	StateAccumulating
	StateFinalize
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAccumulating:
		return "ACCUMULATING"
	case StateFinalize:
		return "FINALIZE"
	default:
		return "UNKNOWN"
	}
}

// Extractor turns a stored value into the number being aggregated.
type Extractor func(key, value []byte) (int64, error)

// BigEndianInt64 reads an 8-byte big-endian counter.
func BigEndianInt64(_, value []byte) (int64, error) {
	if len(value) != 8 {
		return 0, errors.Wrapf(common.ErrInvalidArgument, "value of %d bytes is not an int64", len(value))
	}
	return int64(binary.BigEndian.Uint64(value)), nil
}

// Accumulator folds entries into one result. It moves from INIT to
// ACCUMULATING on the first Add and to FINALIZE on Finalize, after which it
// accepts nothing more.
type Accumulator struct {
	kind    Kind
	extract Extractor
	state   State
	count   int64
	value   int64
}

// New returns an accumulator of kind. A nil extract means BigEndianInt64.
// COUNT never calls the extractor.
func New(kind Kind, extract Extractor) (*Accumulator, error) {
	if kind > Max {
		return nil, errors.Wrapf(common.ErrInvalidArgument, "unknown aggregate kind %d", kind)
	}
	if extract == nil {
		extract = BigEndianInt64
	}
	return &Accumulator{kind: kind, extract: extract}, nil
}

func (a *Accumulator) Kind() Kind   { return a.kind }
func (a *Accumulator) State() State { return a.state }

func (a *Accumulator) Add(kv common.KeyValue) error {
	if a.state == StateFinalize {
		return errors.Wrapf(common.ErrInvalidArgument, "%s accumulator already finalized", a.kind)
	}

	if a.kind == Count {
		a.count++
		a.state = StateAccumulating
		return nil
	}

	n, err := a.extract(kv.Key, kv.Value)
	if err != nil {
		return errors.Wrapf(err, "%s of key %q", a.kind, kv.Key)
	}

	switch a.kind {
	case Sum:
		if (n > 0 && a.value > math.MaxInt64-n) || (n < 0 && a.value < math.MinInt64-n) {
			return errors.Wrapf(common.ErrInvalidArgument, "sum overflows int64 at key %q", kv.Key)
		}
		a.value += n
	case Min:
		if a.count == 0 || n < a.value {
			a.value = n
		}
	case Max:
		if a.count == 0 || n > a.value {
			a.value = n
		}
	}
	a.count++
	a.state = StateAccumulating
	return nil
}

// Finalize closes the accumulator and returns its result. ok is false for
// MIN and MAX over no entries.
func (a *Accumulator) Finalize() (result int64, ok bool, err error) {
	if a.state == StateFinalize {
		return 0, false, errors.Wrapf(common.ErrInvalidArgument, "%s accumulator already finalized", a.kind)
	}
	a.state = StateFinalize

	switch a.kind {
	case Count:
		return a.count, true, nil
	case Sum:
		return a.value, true, nil
	default:
		return a.value, a.count > 0, nil
	}
}
