package storemanager

import (
	"log/slog"
	"strconv"
	"testing"
	"time"

	"graphstore/internal/common"
	"graphstore/internal/config"
	"graphstore/internal/store"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineCase struct {
	name        string
	backend     string
	concurrency string
}

var engineCases = []engineCase{
	{"memory/optimistic", config.BackendMemory, config.ConcurrencyOptimistic},
	{"memory/pessimistic", config.BackendMemory, config.ConcurrencyPessimistic},
	{"badger/optimistic", config.BackendBadger, config.ConcurrencyOptimistic},
	{"badger/pessimistic", config.BackendBadger, config.ConcurrencyPessimistic},
}

func newEngine(t *testing.T, backend, concurrency string) *StoreManager {
	t.Helper()

	var s store.Store
	var err error
	if backend == config.BackendBadger {
		s, err = store.NewBadgerStore("", true, false, slog.Default())
	} else {
		s, err = store.NewMemoryStore(nil, slog.Default())
	}
	require.NoError(t, err)

	sm, err := NewStoreManager(s, Options{Concurrency: concurrency, LockTimeout: 100 * time.Millisecond}, slog.Default())
	require.NoError(t, err)
	require.NoError(t, sm.Initialize())
	t.Cleanup(func() { _ = sm.Shutdown() })
	return sm
}

func forEachEngine(t *testing.T, fn func(t *testing.T, sm *StoreManager)) {
	for _, c := range engineCases {
		t.Run(c.name, func(t *testing.T) {
			fn(t, newEngine(t, c.backend, c.concurrency))
		})
	}
}

func createTable(t *testing.T, sm *StoreManager, name string) uint32 {
	t.Helper()
	id, err := sm.CreateTable(name, "hash")
	require.NoError(t, err)
	return id
}

func keys(kvs []common.KeyValue) []string {
	out := make([]string, len(kvs))
	for i, kv := range kvs {
		out[i] = string(kv.Key)
	}
	return out
}

func TestTableLifecycle(t *testing.T) {
	forEachEngine(t, func(t *testing.T, sm *StoreManager) {
		id := createTable(t, sm, "vertices")
		assert.Equal(t, uint32(1), id)

		_, err := sm.CreateTable("vertices", "hash")
		assert.Equal(t, common.StatusTableAlreadyExists, common.StatusOf(err))
		_, err = sm.CreateTable("", "hash")
		assert.Equal(t, common.StatusInvalidArgument, common.StatusOf(err))

		got, err := sm.GetTableID("vertices")
		require.NoError(t, err)
		assert.Equal(t, id, got)
		name, err := sm.GetTableName(id)
		require.NoError(t, err)
		assert.Equal(t, "vertices", name)

		edges := createTable(t, sm, "edges")
		tables, err := sm.ListTables()
		require.NoError(t, err)
		require.Len(t, tables, 2)
		assert.Equal(t, id, tables[0].ID)
		assert.Equal(t, edges, tables[1].ID)
	})
}

func TestDropTableDoesNotResurrectKeys(t *testing.T) {
	forEachEngine(t, func(t *testing.T, sm *StoreManager) {
		id := createTable(t, sm, "t")
		require.NoError(t, sm.Set(0, id, common.K("k"), common.V("v")))

		require.NoError(t, sm.DropTable(id))
		_, err := sm.Get(0, id, common.K("k"))
		assert.Equal(t, common.StatusTableNotFound, common.StatusOf(err))
		_, err = sm.GetTableID("t")
		assert.Equal(t, common.StatusTableNotFound, common.StatusOf(err))
		assert.Equal(t, common.StatusTableNotFound, common.StatusOf(sm.DropTable(id)))

		again := createTable(t, sm, "t")
		assert.NotEqual(t, id, again)
		_, err = sm.Get(0, again, common.K("k"))
		assert.Equal(t, common.StatusKeyNotFound, common.StatusOf(err))
		kvs, err := sm.Scan(0, again, common.ScanRange{})
		require.NoError(t, err)
		assert.Empty(t, kvs)
	})
}

func TestAutoCommitAndDeletes(t *testing.T) {
	forEachEngine(t, func(t *testing.T, sm *StoreManager) {
		id := createTable(t, sm, "t")

		_, err := sm.Get(0, id, common.K("k"))
		assert.Equal(t, common.StatusKeyNotFound, common.StatusOf(err))

		require.NoError(t, sm.Set(0, id, common.K("k"), common.V("v1")))
		v, err := sm.Get(0, id, common.K("k"))
		require.NoError(t, err)
		assert.Equal(t, common.V("v1"), v)

		require.NoError(t, sm.Del(0, id, common.K("k")))
		_, err = sm.Get(0, id, common.K("k"))
		assert.Equal(t, common.StatusKeyIsDeleted, common.StatusOf(err))

		require.NoError(t, sm.Set(0, id, common.K("empty"), nil))
		v, err = sm.Get(0, id, common.K("empty"))
		require.NoError(t, err)
		assert.Empty(t, v)

		assert.Equal(t, common.StatusInvalidArgument, common.StatusOf(sm.Set(0, id, nil, common.V("x"))))
		assert.Equal(t, common.StatusTableNotFound, common.StatusOf(sm.Set(0, 99, common.K("k"), common.V("x"))))
		assert.Equal(t, uint64(3), sm.Stats().Version)
	})
}

func TestInputsAreCopied(t *testing.T) {
	sm := newEngine(t, config.BackendMemory, config.ConcurrencyOptimistic)
	id := createTable(t, sm, "t")

	key, value := []byte("k"), []byte("v")
	require.NoError(t, sm.Set(0, id, key, value))
	key[0], value[0] = 'x', 'x'

	got, err := sm.Get(0, id, common.K("k"))
	require.NoError(t, err)
	assert.Equal(t, common.V("v"), got)
	got[0] = 'z'

	again, err := sm.Get(0, id, common.K("k"))
	require.NoError(t, err)
	assert.Equal(t, common.V("v"), again)
}

func TestReadYourOwnWrites(t *testing.T) {
	forEachEngine(t, func(t *testing.T, sm *StoreManager) {
		id := createTable(t, sm, "t")
		require.NoError(t, sm.Set(0, id, common.K("gone"), common.V("x")))

		tx, err := sm.StartTransaction()
		require.NoError(t, err)

		require.NoError(t, sm.Set(tx, id, common.K("k"), common.V("mine")))
		v, err := sm.Get(tx, id, common.K("k"))
		require.NoError(t, err)
		assert.Equal(t, common.V("mine"), v)

		require.NoError(t, sm.Del(tx, id, common.K("gone")))
		_, err = sm.Get(tx, id, common.K("gone"))
		assert.Equal(t, common.StatusKeyIsDeleted, common.StatusOf(err))

		kvs, err := sm.Scan(tx, id, common.ScanRange{})
		require.NoError(t, err)
		assert.Equal(t, []string{"k"}, keys(kvs))

		// invisible to everyone else until commit
		_, err = sm.Get(0, id, common.K("k"))
		assert.Equal(t, common.StatusKeyNotFound, common.StatusOf(err))

		require.NoError(t, sm.CommitTransaction(tx))
		v, err = sm.Get(0, id, common.K("k"))
		require.NoError(t, err)
		assert.Equal(t, common.V("mine"), v)
	})
}

func TestRollbackDiscardsWrites(t *testing.T) {
	forEachEngine(t, func(t *testing.T, sm *StoreManager) {
		id := createTable(t, sm, "t")
		tx, err := sm.StartTransaction()
		require.NoError(t, err)
		require.NoError(t, sm.Set(tx, id, common.K("k"), common.V("v")))
		require.NoError(t, sm.RollbackTransaction(tx))

		_, err = sm.Get(0, id, common.K("k"))
		assert.Equal(t, common.StatusKeyNotFound, common.StatusOf(err))
		assert.Equal(t, common.StatusTransactionNotFound, common.StatusOf(sm.CommitTransaction(tx)))
		assert.Equal(t, common.StatusTransactionNotFound, common.StatusOf(sm.RollbackTransaction(tx)))
		assert.Equal(t, common.StatusTransactionNotFound, common.StatusOf(sm.Set(tx, id, common.K("k"), common.V("v"))))
		assert.Equal(t, common.StatusTransactionNotFound, common.StatusOf(sm.CommitTransaction(12345)))
	})
}

func TestScanRangeInclusivity(t *testing.T) {
	forEachEngine(t, func(t *testing.T, sm *StoreManager) {
		id := createTable(t, sm, "t")
		for _, k := range []string{"a", "b", "c", "d", "e"} {
			require.NoError(t, sm.Set(0, id, common.K(k), common.V(k)))
		}

		cases := []struct {
			name string
			r    common.ScanRange
			want []string
		}{
			{"half open", common.ScanRange{Start: common.K("b"), StartInclusive: true, End: common.K("d")}, []string{"b", "c"}},
			{"closed", common.ScanRange{Start: common.K("b"), StartInclusive: true, End: common.K("d"), EndInclusive: true}, []string{"b", "c", "d"}},
			{"open", common.ScanRange{Start: common.K("b"), End: common.K("d")}, []string{"c"}},
			{"start exclusive end inclusive", common.ScanRange{Start: common.K("b"), End: common.K("d"), EndInclusive: true}, []string{"c", "d"}},
			{"unbounded end", common.ScanRange{Start: common.K("c"), StartInclusive: true}, []string{"c", "d", "e"}},
			{"everything", common.ScanRange{}, []string{"a", "b", "c", "d", "e"}},
			{"limit", common.ScanRange{Limit: 2}, []string{"a", "b"}},
			{"empty", common.ScanRange{Start: common.K("d"), StartInclusive: true, End: common.K("b")}, []string{}},
		}
		for _, c := range cases {
			kvs, err := sm.Scan(0, id, c.r)
			require.NoError(t, err, c.name)
			assert.Equal(t, c.want, keys(kvs), c.name)
		}

		_, err := sm.Scan(0, id, common.ScanRange{Limit: -1})
		assert.Equal(t, common.StatusInvalidArgument, common.StatusOf(err))
	})
}

func TestScanMergesPendingWrites(t *testing.T) {
	forEachEngine(t, func(t *testing.T, sm *StoreManager) {
		id := createTable(t, sm, "t")
		for _, k := range []string{"b", "d", "f"} {
			require.NoError(t, sm.Set(0, id, common.K(k), common.V("old")))
		}
		require.NoError(t, sm.Del(0, id, common.K("f")))

		tx, err := sm.StartTransaction()
		require.NoError(t, err)
		require.NoError(t, sm.Set(tx, id, common.K("a"), common.V("new")))
		require.NoError(t, sm.Set(tx, id, common.K("d"), common.V("new")))
		require.NoError(t, sm.Del(tx, id, common.K("b")))
		require.NoError(t, sm.Set(tx, id, common.K("z"), common.V("new")))

		kvs, err := sm.Scan(tx, id, common.ScanRange{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "d", "z"}, keys(kvs))
		for _, kv := range kvs {
			assert.Equal(t, common.V("new"), kv.Value)
		}

		kvs, err = sm.Scan(tx, id, common.ScanRange{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "d"}, keys(kvs))
		require.NoError(t, sm.RollbackTransaction(tx))
	})
}

func TestOptimisticWriteConflict(t *testing.T) {
	sm := newEngine(t, config.BackendMemory, config.ConcurrencyOptimistic)
	id := createTable(t, sm, "t")

	t1, err := sm.StartTransaction()
	require.NoError(t, err)
	t2, err := sm.StartTransaction()
	require.NoError(t, err)

	require.NoError(t, sm.Set(t1, id, common.K("k"), common.V("t1")))
	require.NoError(t, sm.Set(t2, id, common.K("k"), common.V("t2")))
	require.NoError(t, sm.CommitTransaction(t1))

	err = sm.CommitTransaction(t2)
	assert.Equal(t, common.StatusTransactionConflict, common.StatusOf(err))

	v, err := sm.Get(0, id, common.K("k"))
	require.NoError(t, err)
	assert.Equal(t, common.V("t1"), v)

	// the failed transaction is gone
	assert.Equal(t, common.StatusTransactionNotFound, common.StatusOf(sm.RollbackTransaction(t2)))
	st := sm.Stats()
	assert.Equal(t, uint64(1), st.Commits)
	assert.Equal(t, uint64(1), st.Conflicts)
	assert.Equal(t, 0, st.ActiveTransactions)
}

func TestOptimisticReadConflict(t *testing.T) {
	sm := newEngine(t, config.BackendBadger, config.ConcurrencyOptimistic)
	id := createTable(t, sm, "t")
	require.NoError(t, sm.Set(0, id, common.K("balance"), common.V("10")))

	reader, err := sm.StartTransaction()
	require.NoError(t, err)
	v, err := sm.Get(reader, id, common.K("balance"))
	require.NoError(t, err)
	assert.Equal(t, common.V("10"), v)

	require.NoError(t, sm.Set(0, id, common.K("balance"), common.V("20")))

	// the snapshot is stable
	v, err = sm.Get(reader, id, common.K("balance"))
	require.NoError(t, err)
	assert.Equal(t, common.V("10"), v)

	require.NoError(t, sm.Set(reader, id, common.K("audit"), common.V("saw 10")))
	assert.Equal(t, common.StatusTransactionConflict, common.StatusOf(sm.CommitTransaction(reader)))
	_, err = sm.Get(0, id, common.K("audit"))
	assert.Equal(t, common.StatusKeyNotFound, common.StatusOf(err))
}

func TestReadOnlyCommitAdvancesVersion(t *testing.T) {
	sm := newEngine(t, config.BackendMemory, config.ConcurrencyOptimistic)
	before := sm.Stats().Version

	tx, err := sm.StartTransaction()
	require.NoError(t, err)
	require.NoError(t, sm.CommitTransaction(tx))
	assert.Equal(t, before+1, sm.Stats().Version)
}

func TestPessimisticLockTimeout(t *testing.T) {
	sm := newEngine(t, config.BackendMemory, config.ConcurrencyPessimistic)
	id := createTable(t, sm, "t")

	t1, err := sm.StartTransaction()
	require.NoError(t, err)
	t2, err := sm.StartTransaction()
	require.NoError(t, err)

	require.NoError(t, sm.Set(t1, id, common.K("k"), common.V("t1")))

	start := time.Now()
	_, err = sm.Get(t2, id, common.K("k"))
	assert.Equal(t, common.StatusKeyIsLocked, common.StatusOf(err))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	require.NoError(t, sm.CommitTransaction(t1))
	v, err := sm.Get(t2, id, common.K("k"))
	require.NoError(t, err)
	assert.Equal(t, common.V("t1"), v)
	require.NoError(t, sm.CommitTransaction(t2))
}

func TestPessimisticDeadlockPicksRequester(t *testing.T) {
	s, err := store.NewMemoryStore(nil, slog.Default())
	require.NoError(t, err)
	sm, err := NewStoreManager(s, Options{Concurrency: config.ConcurrencyPessimistic, LockTimeout: 5 * time.Second}, slog.Default())
	require.NoError(t, err)
	require.NoError(t, sm.Initialize())
	defer sm.Shutdown()
	id := createTable(t, sm, "t")

	t1, err := sm.StartTransaction()
	require.NoError(t, err)
	t2, err := sm.StartTransaction()
	require.NoError(t, err)
	require.NoError(t, sm.Set(t1, id, common.K("a"), common.V("t1")))
	require.NoError(t, sm.Set(t2, id, common.K("b"), common.V("t2")))

	blocked := make(chan error, 1)
	go func() {
		blocked <- sm.Set(t1, id, common.K("b"), common.V("t1"))
	}()
	require.Eventually(t, func() bool {
		return sm.Stats().Locks["waiting_requests"] == 1
	}, time.Second, 5*time.Millisecond)

	err = sm.Set(t2, id, common.K("a"), common.V("t2"))
	assert.Equal(t, common.StatusTransactionConflict, common.StatusOf(err))
	require.NoError(t, sm.RollbackTransaction(t2))

	require.NoError(t, <-blocked)
	require.NoError(t, sm.CommitTransaction(t1))

	kvs, err := sm.Scan(0, id, common.ScanRange{})
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, common.V("t1"), kvs[0].Value)
	assert.Equal(t, common.V("t1"), kvs[1].Value)
}

func TestConcurrentIncrements(t *testing.T) {
	const workers, rounds = 8, 25

	forEachEngine(t, func(t *testing.T, sm *StoreManager) {
		id := createTable(t, sm, "counters")
		require.NoError(t, sm.Set(0, id, common.K("n"), common.V("0")))

		increment := func() error {
			tx, err := sm.StartTransaction()
			if err != nil {
				return err
			}
			v, err := sm.Get(tx, id, common.K("n"))
			if err == nil {
				var n int
				n, err = strconv.Atoi(string(v))
				if err == nil {
					err = sm.Set(tx, id, common.K("n"), []byte(strconv.Itoa(n+1)))
				}
			}
			if err != nil {
				_ = sm.RollbackTransaction(tx)
				return err
			}
			return sm.CommitTransaction(tx)
		}

		var wg conc.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Go(func() {
				for r := 0; r < rounds; r++ {
					for {
						err := increment()
						if err == nil {
							break
						}
						st := common.StatusOf(err)
						if st != common.StatusTransactionConflict && st != common.StatusKeyIsLocked {
							t.Errorf("increment: %v", err)
							return
						}
					}
				}
			})
		}
		wg.Wait()

		v, err := sm.Get(0, id, common.K("n"))
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(workers*rounds), string(v))
		assert.Equal(t, 0, sm.Stats().ActiveTransactions)
	})
}

func TestGCKeepsSnapshotsReadable(t *testing.T) {
	forEachEngine(t, func(t *testing.T, sm *StoreManager) {
		id := createTable(t, sm, "t")
		require.NoError(t, sm.Set(0, id, common.K("k"), common.V("v1")))

		old, err := sm.StartTransaction()
		require.NoError(t, err)

		require.NoError(t, sm.Set(0, id, common.K("k"), common.V("v2")))
		require.NoError(t, sm.Set(0, id, common.K("k"), common.V("v3")))

		dropped, err := sm.GC()
		require.NoError(t, err)
		assert.Zero(t, dropped)

		if sm.Stats().Concurrency == config.ConcurrencyOptimistic {
			v, err := sm.Get(old, id, common.K("k"))
			require.NoError(t, err)
			assert.Equal(t, common.V("v1"), v)
		}
		require.NoError(t, sm.RollbackTransaction(old))

		dropped, err = sm.GC()
		require.NoError(t, err)
		assert.Equal(t, 2, dropped)

		v, err := sm.Get(0, id, common.K("k"))
		require.NoError(t, err)
		assert.Equal(t, common.V("v3"), v)
	})
}

func TestExecuteBatch(t *testing.T) {
	forEachEngine(t, func(t *testing.T, sm *StoreManager) {
		id := createTable(t, sm, "t")
		require.NoError(t, sm.Set(0, id, common.K("a"), common.V("1")))

		results, err := sm.ExecuteBatch(0, []BatchOp{
			{Type: BatchSet, TableID: id, Key: common.K("b"), Value: common.V("2")},
			{Type: BatchGet, TableID: id, Key: common.K("a")},
			{Type: BatchGet, TableID: id, Key: common.K("b")},
			{Type: BatchDel, TableID: id, Key: common.K("a")},
		})
		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.Equal(t, common.V("1"), results[1].Value)
		assert.Equal(t, common.V("2"), results[2].Value)

		// a read miss is reported but the writes still commit
		results, err = sm.ExecuteBatch(0, []BatchOp{
			{Type: BatchGet, TableID: id, Key: common.K("missing")},
			{Type: BatchSet, TableID: id, Key: common.K("c"), Value: common.V("3")},
		})
		assert.Equal(t, common.StatusBatchNotFullySuccess, common.StatusOf(err))
		assert.Equal(t, common.StatusKeyNotFound, results[0].Status)
		assert.Equal(t, common.StatusSuccess, results[1].Status)
		_, err = sm.Get(0, id, common.K("c"))
		require.NoError(t, err)

		// a failed write rolls the whole batch back
		results, err = sm.ExecuteBatch(0, []BatchOp{
			{Type: BatchSet, TableID: id, Key: common.K("d"), Value: common.V("4")},
			{Type: BatchSet, TableID: 404, Key: common.K("e"), Value: common.V("5")},
		})
		assert.Equal(t, common.StatusBatchNotFullySuccess, common.StatusOf(err))
		assert.Equal(t, common.StatusTableNotFound, results[1].Status)
		_, err = sm.Get(0, id, common.K("d"))
		assert.Equal(t, common.StatusKeyNotFound, common.StatusOf(err))

		_, err = sm.ExecuteBatch(0, []BatchOp{{Type: BatchOpType(9), TableID: id, Key: common.K("x")}})
		assert.Equal(t, common.StatusInvalidArgument, common.StatusOf(err))
	})
}

func TestShutdown(t *testing.T) {
	sm := newEngine(t, config.BackendMemory, config.ConcurrencyPessimistic)
	id := createTable(t, sm, "t")
	tx, err := sm.StartTransaction()
	require.NoError(t, err)
	require.NoError(t, sm.Set(tx, id, common.K("k"), common.V("v")))

	require.NoError(t, sm.Shutdown())
	require.NoError(t, sm.Shutdown())

	_, err = sm.Get(0, id, common.K("k"))
	assert.Equal(t, common.StatusInternalError, common.StatusOf(err))
	_, err = sm.StartTransaction()
	assert.Equal(t, common.StatusInternalError, common.StatusOf(err))
	assert.Equal(t, common.StatusInternalError, common.StatusOf(sm.CommitTransaction(tx)))
	assert.Equal(t, 0, sm.Stats().ActiveTransactions)
}

func TestUnknownConcurrency(t *testing.T) {
	s, err := store.NewMemoryStore(nil, slog.Default())
	require.NoError(t, err)
	_, err = NewStoreManager(s, Options{Concurrency: "mvto"}, slog.Default())
	assert.Equal(t, common.StatusInvalidArgument, common.StatusOf(err))
	_, err = NewStoreManager(s, Options{Concurrency: config.ConcurrencyPessimistic}, slog.Default())
	assert.Equal(t, common.StatusInvalidArgument, common.StatusOf(err))
}
