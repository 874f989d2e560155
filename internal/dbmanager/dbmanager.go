package dbmanager

import (
	"log/slog"

	"graphstore/internal/config"
	"graphstore/internal/dispatcher"
	"graphstore/internal/session"
	"graphstore/internal/store"
	"graphstore/internal/storemanager"
	"graphstore/internal/walmanager"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// DBManager owns one engine and hands out sessions and dispatchers bound to
// it.
type DBManager struct {
	Config       *config.GraphStoreConfig
	StoreManager *storemanager.StoreManager
	logger       *slog.Logger
}

// Open builds the configured backend, replays its state and starts the
// engine on top of it.
func Open(cfg *config.GraphStoreConfig, logger *slog.Logger) (*DBManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := openStore(cfg.Engine, logger)
	if err != nil {
		return nil, err
	}

	storeManager, err := storemanager.NewStoreManager(s, storemanager.OptionsFromConfig(cfg.Engine), logger)
	if err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	if err := storeManager.Initialize(); err != nil {
		return nil, multierr.Append(err, storeManager.Shutdown())
	}

	logger.Info("database opened",
		"backend", cfg.Engine.Backend,
		"concurrency", cfg.Engine.Concurrency)

	return &DBManager{
		Config:       cfg,
		StoreManager: storeManager,
		logger:       logger,
	}, nil
}

func openStore(cfg config.EngineConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		return store.NewBadgerStore(cfg.DataDir, cfg.InMemory, cfg.SyncWal, logger)
	case config.BackendMemory:
		var walManager *walmanager.WalManager
		if cfg.UseWal {
			var err error
			walManager, err = walmanager.NewWalManager(cfg.WalPath, cfg.SyncWal, logger)
			if err != nil {
				return nil, err
			}
		}
		s, err := store.NewMemoryStore(walManager, logger)
		if err != nil {
			if walManager != nil {
				err = multierr.Append(err, walManager.Close())
			}
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (dm *DBManager) NewSession() *session.Session {
	return session.New(dm.StoreManager, dm.logger)
}

// NewDispatcher returns a dispatcher reading through sess, or through a
// fresh session when sess is nil.
func (dm *DBManager) NewDispatcher(sess *session.Session) *dispatcher.Dispatcher {
	if sess == nil {
		sess = dm.NewSession()
	}
	return dispatcher.New(sess, dm.Config.Dispatcher, dm.logger)
}

func (dm *DBManager) Close() error {
	err := dm.StoreManager.Shutdown()
	if err != nil {
		dm.logger.Error("database closed with errors", "error", err)
	}
	return err
}
