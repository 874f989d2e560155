package main

import (
	"fmt"
	"log/slog"
	"os"

	"graphstore/internal/aggregate"
	"graphstore/internal/common"
	"graphstore/internal/config"
	"graphstore/internal/dbmanager"
	"graphstore/internal/dispatcher"
	"graphstore/internal/keycodec"
	"graphstore/internal/logger"
	"graphstore/internal/session"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/pflag"
)

type workload struct {
	workers  int
	vertices int
	fanout   int
}

func main() {
	flags := pflag.NewFlagSet("graphstore", pflag.ExitOnError)
	configPath := flags.String("config", "", "config file (json, yaml or toml)")
	w := workload{}
	flags.IntVar(&w.workers, "workers", 4, "concurrent writer sessions")
	flags.IntVar(&w.vertices, "vertices", 1000, "vertices to load")
	flags.IntVar(&w.fanout, "fanout", 3, "outgoing edges per vertex")
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.LoadConfig(*configPath, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New(cfg.LogLevel)
	if err := run(cfg, w, log); err != nil {
		log.Error("workload failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.GraphStoreConfig, w workload, log *slog.Logger) error {
	dm, err := dbmanager.Open(cfg, log)
	if err != nil {
		return err
	}
	defer dm.Close()

	vertices, err := ensureTable(dm, "vertices")
	if err != nil {
		return err
	}
	edges, err := ensureTable(dm, "edges")
	if err != nil {
		return err
	}
	counters, err := ensureTable(dm, "counters")
	if err != nil {
		return err
	}

	p := pool.New().WithErrors().WithMaxGoroutines(w.workers)
	for worker := 0; worker < w.workers; worker++ {
		p.Go(func() error {
			sess := dm.NewSession()
			for v := worker; v < w.vertices; v += w.workers {
				if err := loadVertex(sess, vertices, edges, int64(v), w); err != nil {
					return err
				}
				if err := sess.Commit(); err != nil {
					return errors.Wrapf(err, "worker %d vertex %d", worker, v)
				}
				if err := increaseWithRetry(sess, counters, common.K("vertices")); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	d := dm.NewDispatcher(nil)

	prefix, err := keycodec.EdgeDirectionPrefix(keycodec.NumberId(0), keycodec.DirectionOut)
	if err != nil {
		return err
	}
	page, err := d.Execute(&dispatcher.Query{TableID: edges, Prefix: &dispatcher.PrefixQuery{Prefix: prefix}})
	if err != nil {
		return err
	}

	count, err := aggregate.New(aggregate.Count, nil)
	if err != nil {
		return err
	}
	total, _, err := d.Aggregate(&dispatcher.Query{TableID: edges}, count)
	if err != nil {
		return err
	}

	dropped, err := dm.StoreManager.GC()
	if err != nil {
		return err
	}

	st := dm.StoreManager.Stats()
	log.Info("workload finished",
		"vertex0OutEdges", len(page.Entries),
		"edges", total,
		"gcDropped", dropped,
		"version", st.Version,
		"commits", st.Commits,
		"conflicts", st.Conflicts)
	return nil
}

// increaseWithRetry bumps a shared counter, retrying while other workers
// win the race for it.
func increaseWithRetry(sess *session.Session, tableID uint32, key []byte) error {
	for {
		_, err := sess.Increase(tableID, key, 1)
		switch common.StatusOf(err) {
		case common.StatusSuccess:
			return nil
		case common.StatusTransactionConflict, common.StatusKeyIsLocked:
			continue
		default:
			return err
		}
	}
}

func ensureTable(dm *dbmanager.DBManager, name string) (uint32, error) {
	id, err := dm.StoreManager.GetTableID(name)
	if common.StatusOf(err) == common.StatusTableNotFound {
		return dm.StoreManager.CreateTable(name, "hash")
	}
	return id, err
}

// loadVertex buffers vertex v with its outgoing edges and their reverse
// entries.
func loadVertex(sess *session.Session, vertices, edges uint32, v int64, w workload) error {
	id := keycodec.NumberId(v)
	key, err := keycodec.VertexKey(id)
	if err != nil {
		return err
	}
	props := keycodec.EncodeColumns(keycodec.Entry{
		{Name: []byte("name"), Value: []byte(fmt.Sprintf("v%d", v))},
	})
	if err := sess.Put(vertices, key, props); err != nil {
		return err
	}

	for i := 1; i <= w.fanout; i++ {
		edge := keycodec.EdgeKey{
			Owner:      id,
			Direction:  keycodec.DirectionOut,
			EdgeLabel:  1,
			SortValues: []any{int64(i)},
			Other:      keycodec.NumberId((v + int64(i)) % int64(w.vertices)),
		}
		for _, e := range []keycodec.EdgeKey{edge, edge.Reverse()} {
			ek, err := e.Encode()
			if err != nil {
				return err
			}
			if err := sess.Put(edges, ek, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
