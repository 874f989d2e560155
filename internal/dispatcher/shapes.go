package dispatcher

import (
	"bytes"
	"sort"

	"graphstore/internal/common"
	"graphstore/internal/session"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
)

func init() {
	Register(ShapeFullScan, ensureFullScan, execScan)
	Register(ShapeIDs, ensureIDs, execIDs)
	Register(ShapePrefix, ensurePrefix, execScan)
	Register(ShapeRange, ensureRange, execScan)
	Register(ShapeResolved, ensureResolved, execScan)
}

type scanArgs struct {
	tableID uint32
	r       session.Range
}

func execScan(d *Dispatcher, in *scanArgs, page pageRequest) ([]common.KeyValue, error) {
	return d.scan(in.tableID, in.r, page)
}

func ensureFullScan(_ *Dispatcher, q *Query) (*scanArgs, error) {
	return &scanArgs{tableID: q.TableID}, nil
}

func ensurePrefix(_ *Dispatcher, q *Query) (*scanArgs, error) {
	if len(q.Prefix.Prefix) == 0 {
		return nil, errors.Wrap(common.ErrInvalidArgument, "prefix query needs a prefix")
	}
	start := q.Prefix.Start
	if start == nil {
		start = q.Prefix.Prefix
	}
	return &scanArgs{tableID: q.TableID, r: session.Range{
		Start:   common.CloneBytes(start),
		End:     common.CloneBytes(q.Prefix.Prefix),
		EndKind: session.EndPrefix,
	}}, nil
}

func ensureRange(_ *Dispatcher, q *Query) (*scanArgs, error) {
	rq := q.Range
	if rq.End != nil && bytes.Compare(rq.Start, rq.End) > 0 {
		return nil, errors.Wrapf(common.ErrInvalidArgument, "range start %q is after end %q", rq.Start, rq.End)
	}
	r := session.Range{
		Start:          common.CloneBytes(rq.Start),
		StartExclusive: !rq.StartInclusive,
		End:            common.CloneBytes(rq.End),
	}
	if rq.EndInclusive {
		r.EndKind = session.EndInclusive
	}
	return &scanArgs{tableID: q.TableID, r: r}, nil
}

func ensureResolved(_ *Dispatcher, q *Query) (*scanArgs, error) {
	rr := q.Resolved
	if rr.End != nil && bytes.Compare(rr.Start, rr.End) > 0 {
		return nil, errors.Wrapf(common.ErrInvalidArgument, "resolved range start %q is after end %q", rr.Start, rr.End)
	}
	return &scanArgs{tableID: q.TableID, r: session.Range{
		Start: common.CloneBytes(rr.Start),
		End:   common.CloneBytes(rr.End),
	}}, nil
}

type idsArgs struct {
	tableID uint32
	ids     [][]byte
}

// ensureIDs sorts and deduplicates the ids.
func ensureIDs(_ *Dispatcher, q *Query) (*idsArgs, error) {
	ids := make([][]byte, 0, len(q.IDs))
	for i, id := range q.IDs {
		if len(id) == 0 {
			return nil, errors.Wrapf(common.ErrInvalidArgument, "id %d is empty", i)
		}
		ids = append(ids, common.CloneBytes(id))
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i], ids[j]) < 0 })

	uniq := ids[:0]
	for _, id := range ids {
		if len(uniq) == 0 || !bytes.Equal(uniq[len(uniq)-1], id) {
			uniq = append(uniq, id)
		}
	}
	return &idsArgs{tableID: q.TableID, ids: uniq}, nil
}

// execIDs fetches the ids after the page token in windows of one page, each
// window in parallel, until a page is filled. Missing and deleted ids are
// skipped.
func execIDs(d *Dispatcher, in *idsArgs, page pageRequest) ([]common.KeyValue, error) {
	ids := in.ids
	if page.after != nil {
		i := sort.Search(len(ids), func(i int) bool { return bytes.Compare(ids[i], page.after) > 0 })
		ids = ids[i:]
	}

	rows := make([]common.KeyValue, 0, page.size)
	for len(ids) > 0 && len(rows) < page.size {
		n := min(page.size, len(ids))
		window := ids[:n]
		ids = ids[n:]

		found, err := d.getAll(in.tableID, window)
		if err != nil {
			return nil, err
		}
		rows = append(rows, found...)
	}
	if len(rows) > page.size {
		rows = rows[:page.size]
	}
	return rows, nil
}

func (d *Dispatcher) getAll(tableID uint32, ids [][]byte) ([]common.KeyValue, error) {
	p := pool.NewWithResults[*common.KeyValue]().WithErrors().WithMaxGoroutines(d.parallelism)
	for _, id := range ids {
		p.Go(func() (*common.KeyValue, error) {
			v, err := d.reader.Get(tableID, id)
			switch common.StatusOf(err) {
			case common.StatusSuccess:
				return &common.KeyValue{Key: id, Value: v}, nil
			case common.StatusKeyNotFound, common.StatusKeyIsDeleted:
				return nil, nil
			default:
				return nil, errors.Wrapf(err, "get id %q", id)
			}
		})
	}
	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	out := make([]common.KeyValue, 0, len(results))
	for _, kv := range results {
		if kv != nil {
			out = append(out, *kv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}
