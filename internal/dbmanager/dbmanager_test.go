package dbmanager

import (
	"log/slog"
	"path/filepath"
	"testing"

	"graphstore/internal/common"
	"graphstore/internal/config"
	"graphstore/internal/dispatcher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configs(t *testing.T) map[string]*config.GraphStoreConfig {
	dir := t.TempDir()

	wal := config.Default()
	wal.Engine.UseWal = true
	wal.Engine.WalPath = filepath.Join(dir, "wal", "graphstore.wal")

	badger := config.Default()
	badger.Engine.Backend = config.BackendBadger
	badger.Engine.DataDir = filepath.Join(dir, "badger")
	badger.Engine.Concurrency = config.ConcurrencyPessimistic

	return map[string]*config.GraphStoreConfig{"memory+wal": wal, "badger": badger}
}

func TestReopenRestoresState(t *testing.T) {
	for name, cfg := range configs(t) {
		t.Run(name, func(t *testing.T) {
			dm, err := Open(cfg, slog.Default())
			require.NoError(t, err)

			id, err := dm.StoreManager.CreateTable("vertices", "hash")
			require.NoError(t, err)
			dropped, err := dm.StoreManager.CreateTable("scratch", "hash")
			require.NoError(t, err)

			sess := dm.NewSession()
			require.NoError(t, sess.Put(id, common.K("v1"), common.V("alice")))
			require.NoError(t, sess.Put(id, common.K("v2"), common.V("bob")))
			require.NoError(t, sess.Put(dropped, common.K("tmp"), common.V("x")))
			require.NoError(t, sess.Commit())
			require.NoError(t, sess.Delete(id, common.K("v2")))
			require.NoError(t, sess.Commit())
			require.NoError(t, dm.StoreManager.DropTable(dropped))
			version := dm.StoreManager.Stats().Version
			require.NoError(t, dm.Close())

			dm, err = Open(cfg, slog.Default())
			require.NoError(t, err)
			defer dm.Close()

			assert.Equal(t, version, dm.StoreManager.Stats().Version)
			got, err := dm.StoreManager.GetTableID("vertices")
			require.NoError(t, err)
			assert.Equal(t, id, got)
			_, err = dm.StoreManager.GetTableID("scratch")
			assert.Equal(t, common.StatusTableNotFound, common.StatusOf(err))

			page, err := dm.NewDispatcher(nil).Execute(&dispatcher.Query{TableID: id})
			require.NoError(t, err)
			require.Len(t, page.Entries, 1)
			assert.Equal(t, common.V("alice"), page.Entries[0].Value)

			// ids are never reused after a restart
			again, err := dm.StoreManager.CreateTable("scratch", "hash")
			require.NoError(t, err)
			assert.Greater(t, again, dropped)
		})
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Backend = "rocksdb"
	_, err := Open(cfg, slog.Default())
	assert.Error(t, err)
}

func TestCloseRejectsFurtherCalls(t *testing.T) {
	dm, err := Open(config.Default(), slog.Default())
	require.NoError(t, err)
	require.NoError(t, dm.Close())

	_, err = dm.StoreManager.StartTransaction()
	assert.Equal(t, common.StatusInternalError, common.StatusOf(err))
}
