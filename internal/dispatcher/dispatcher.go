package dispatcher

import (
	"bytes"
	"log/slog"

	"graphstore/internal/aggregate"
	"graphstore/internal/common"
	"graphstore/internal/config"
	"graphstore/internal/session"

	"github.com/pkg/errors"
)

const (
	ShapeFullScan = "scan"
	ShapeIDs      = "ids"
	ShapePrefix   = "prefix"
	ShapeRange    = "range"
	ShapeResolved = "resolved"
)

// Reader is what the dispatcher reads through, normally a session.
type Reader interface {
	Get(tableID uint32, key []byte) ([]byte, error)
	Scan(tableID uint32, r session.Range) ([]common.KeyValue, error)
}

// PrefixQuery selects keys starting with Prefix, beginning at Start when set.
type PrefixQuery struct {
	Start  []byte
	Prefix []byte
}

// RangeQuery is a key range with explicit inclusivity. A nil End is open.
type RangeQuery struct {
	Start          []byte
	StartInclusive bool
	End            []byte
	EndInclusive   bool
}

// ResolvedRange is a byte range computed upstream, scanned as [Start, End).
type ResolvedRange struct {
	Start []byte
	End   []byte
}

// Query is one read request against a table. At most one of IDs, Prefix,
// Range and Resolved is used, in that order; none means the whole table.
type Query struct {
	TableID  uint32
	IDs      [][]byte
	Prefix   *PrefixQuery
	Range    *RangeQuery
	Resolved *ResolvedRange

	// PageToken resumes after the last key of a previous page.
	PageToken []byte
	// PageSize 0 means the dispatcher default.
	PageSize int
}

func (q *Query) Shape() string {
	switch {
	case len(q.IDs) > 0:
		return ShapeIDs
	case q.Prefix != nil:
		return ShapePrefix
	case q.Range != nil:
		return ShapeRange
	case q.Resolved != nil:
		return ShapeResolved
	default:
		return ShapeFullScan
	}
}

// Page is one batch of results in ascending key order. NextToken is nil on
// the last page.
type Page struct {
	Entries   []common.KeyValue
	NextToken []byte
}

type pageRequest struct {
	after []byte
	size  int
}

type Dispatcher struct {
	reader      Reader
	parallelism int
	pageSize    int
	logger      *slog.Logger
}

func New(reader Reader, cfg config.DispatcherConfig, logger *slog.Logger) *Dispatcher {
	parallelism, pageSize := cfg.BatchParallelism, cfg.PageSize
	if parallelism < 1 {
		parallelism = 1
	}
	if pageSize < 1 {
		pageSize = config.Default().Dispatcher.PageSize
	}
	return &Dispatcher{
		reader:      reader,
		parallelism: parallelism,
		pageSize:    pageSize,
		logger:      logger.With("component", "dispatcher"),
	}
}

// Execute runs q and returns one page of results.
func (d *Dispatcher) Execute(q *Query) (*Page, error) {
	if q == nil {
		return nil, errors.Wrap(common.ErrInvalidArgument, "nil query")
	}
	if q.TableID == 0 {
		return nil, errors.Wrap(common.ErrInvalidArgument, "table id 0")
	}
	if q.PageSize < 0 {
		return nil, errors.Wrapf(common.ErrInvalidArgument, "negative page size %d", q.PageSize)
	}

	shape := q.Shape()
	entry, ok := lookup(shape)
	if !ok {
		return nil, errors.Wrapf(common.ErrInternal, "no handler for query shape %q", shape)
	}

	page := pageRequest{after: q.PageToken, size: q.PageSize}
	if page.size == 0 {
		page.size = d.pageSize
	}

	rows, err := entry.Handler(d, q, page)
	if err != nil {
		return nil, err
	}

	out := &Page{Entries: rows}
	if len(rows) == page.size {
		out.NextToken = common.CloneBytes(rows[len(rows)-1].Key)
	}
	return out, nil
}

// Aggregate folds every page of q into acc and finalizes it.
func (d *Dispatcher) Aggregate(q *Query, acc *aggregate.Accumulator) (int64, bool, error) {
	cur := *q
	for {
		page, err := d.Execute(&cur)
		if err != nil {
			return 0, false, err
		}
		for _, kv := range page.Entries {
			if err := acc.Add(kv); err != nil {
				return 0, false, err
			}
		}
		if page.NextToken == nil {
			break
		}
		cur.PageToken = page.NextToken
	}
	return acc.Finalize()
}

// resume narrows r to the keys after the page token.
func resume(r session.Range, page pageRequest) session.Range {
	if page.after != nil && bytes.Compare(page.after, r.Start) >= 0 {
		r.Start = page.after
		r.StartExclusive = true
	}
	r.Limit = page.size
	return r
}

func (d *Dispatcher) scan(tableID uint32, r session.Range, page pageRequest) ([]common.KeyValue, error) {
	r = resume(r, page)
	if r.EndKind != session.EndPrefix && r.End != nil {
		c := bytes.Compare(r.Start, r.End)
		if c > 0 || (c == 0 && (r.StartExclusive || r.EndKind == session.EndExclusive)) {
			return []common.KeyValue{}, nil
		}
	}
	return d.reader.Scan(tableID, r)
}
