// Package daemon composes the ingestion daemon: config, lock, store,
// resolver, sync engine, and poller, wired through fx lifecycle hooks.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/kevinfeng77/imsgd/internal/bus"
	"github.com/kevinfeng77/imsgd/internal/config"
	"github.com/kevinfeng77/imsgd/internal/contacts"
	"github.com/kevinfeng77/imsgd/internal/identity"
	"github.com/kevinfeng77/imsgd/internal/lock"
	"github.com/kevinfeng77/imsgd/internal/logging"
	"github.com/kevinfeng77/imsgd/internal/session"
	"github.com/kevinfeng77/imsgd/internal/source"
	"github.com/kevinfeng77/imsgd/internal/status"
	"github.com/kevinfeng77/imsgd/internal/store"
	intsync "github.com/kevinfeng77/imsgd/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	PollOnce    bool // run a single poll and exit instead of looping
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideConfig,
			provideLock,
			provideStore,
			provideDirectory,
			provideResolver,
			provideSyncEngine,
			providePoller,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Info("no config file, using defaults", zap.Error(err))
		cfg = &config.Config{}
		cfg.ApplyDefaults()
	}
	return cfg
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.StoreDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideDirectory(cfg *config.Config, logger *zap.Logger) contacts.Directory {
	if cfg.ContactsPath == "" {
		logger.Info("no contacts directory configured, unknown participants get synthetic identities")
		return contacts.Empty{}
	}
	dir, err := contacts.LoadFile(cfg.ContactsPath)
	if err != nil {
		logger.Warn("contacts directory unavailable", zap.String("path", cfg.ContactsPath), zap.Error(err))
		return contacts.Empty{}
	}
	return dir
}

func provideResolver(db *store.DB, dir contacts.Directory) *identity.Resolver {
	return identity.NewResolver(db, dir)
}

func provideSyncEngine(p Params, cfg *config.Config, db *store.DB, resolver *identity.Resolver, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	snapshotPath := cfg.SnapshotPath
	if snapshotPath == "" {
		snapshotPath = session.SnapshotPath(p.SessionName)
	}
	return intsync.New(db, resolver, snapshotPath, cfg.BatchSize, b, logger, nil)
}

func providePoller(engine *intsync.Engine, machine *status.Machine, cfg *config.Config, logger *zap.Logger) *intsync.Poller {
	return intsync.NewPoller(engine, machine, cfg.PollInterval.Duration, logger)
}

func registerLifecycle(lc fx.Lifecycle, sd fx.Shutdowner, p Params, engine *intsync.Engine, poller *intsync.Poller, machine *status.Machine, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// A snapshot with the wrong shape can only produce garbage:
			// refuse to start polling against one.
			if err := verifySnapshot(engine.SnapshotPath()); err != nil {
				var schemaErr *source.SchemaError
				if errors.As(err, &schemaErr) {
					_ = machine.Transition(status.Error)
					return fmt.Errorf("snapshot schema check: %w", err)
				}
				// Missing or unreadable snapshot is retriable: the copier
				// may simply not have produced one yet.
				logger.Warn("snapshot not readable yet, polling will retry", zap.Error(err))
			}
			if err := machine.Transition(status.Idle); err != nil {
				return err
			}

			if p.PollOnce {
				go func() {
					if _, err := engine.PollOnce(context.Background()); err != nil {
						logger.Error("poll failed", zap.Error(err))
					}
					_ = sd.Shutdown()
				}()
				return nil
			}

			poller.Start()
			logger.Info("daemon started", zap.String("session", p.SessionName))
			return nil
		},
		OnStop: func(_ context.Context) error {
			poller.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// verifySnapshot opens the snapshot once to validate its schema before the
// poll loop begins.
func verifySnapshot(path string) error {
	snap, err := source.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = snap.Close() }()
	return snap.VerifySchema()
}
