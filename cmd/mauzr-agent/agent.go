package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/eqrx/mauzr"
	"github.com/eqrx/mauzr/extensions/mongostore"
	"github.com/eqrx/mauzr/extensions/sqlitestore"
)

const dataDirPermissions = 0o750

// agent owns the connector of one process together with its store, logger
// and metrics.
type agent struct {
	cfg     mauzr.Config
	logger  mauzr.Logger
	metrics *mauzr.MemoryMetrics
	conn    *mauzr.Connector
}

func newAgent(ctx context.Context, cfg mauzr.Config, logger mauzr.Logger, opts ...mauzr.Option) (*agent, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	metrics := mauzr.NewMemoryMetrics()

	base := []mauzr.Option{
		mauzr.WithStore(store),
		mauzr.WithLogger(logger),
		mauzr.WithMetrics(metrics),
	}

	conn, err := mauzr.NewConnector(cfg, append(base, opts...)...)
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, err
	}

	return &agent{cfg: cfg, logger: logger, metrics: metrics, conn: conn}, nil
}

// dataDir returns the state directory of the agent, DataPath/<Name>.
func dataDir(cfg mauzr.Config) string {
	return filepath.Join(cfg.DataPath, cfg.Name)
}

func openStore(ctx context.Context, cfg mauzr.Config) (mauzr.Store, error) {
	dir := dataDir(cfg)
	if err := os.MkdirAll(dir, dataDirPermissions); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	switch cfg.StoreBackend {
	case mauzr.StoreBackendSQLite:
		return sqlitestore.OpenDir(dir)
	case mauzr.StoreBackendMongo:
		return mongostore.Connect(ctx, mongostore.Config{URI: cfg.MongoURI, Agent: cfg.Name})
	case mauzr.StoreBackendMemory:
		return mauzr.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// connected returns a channel that receives a value after every completed
// handshake. Call it before run to not miss the first one.
func (a *agent) connected() <-chan struct{} {
	ch := make(chan struct{}, 1)
	a.conn.AddConnectionListener(func(up bool) {
		if !up {
			return
		}
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch
}

// run starts the connector and serves it until work returns, then shuts the
// connector down gracefully. work receives a context that is cancelled on
// signals or when the scheduler fails.
func (a *agent) run(ctx context.Context, work func(ctx context.Context) error) error {
	if err := a.conn.Start(); err != nil {
		return err
	}

	a.conn.Scheduler().Every(a.cfg.SyncInterval, a.logMetrics).Enable(false)

	g, gctx := errgroup.WithContext(ctx)

	// The loop keeps serving after a signal so Shutdown can drain the ledger.
	g.Go(func() error {
		return a.conn.Run(context.WithoutCancel(gctx))
	})

	g.Go(func() error {
		workErr := work(gctx)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.DrainTimeout+a.cfg.WriteTimeout)
		defer cancel()

		a.logger.Info("shutting down", nil)
		err := errors.Join(workErr, a.conn.Shutdown(shutdownCtx))
		a.logMetrics()
		return err
	})

	return g.Wait()
}

func (a *agent) logMetrics() {
	snapshot := a.metrics.Snapshot()

	fields := make(mauzr.LogFields, len(snapshot))
	for k, v := range snapshot {
		fields[k] = v
	}
	a.logger.Debug("metrics", fields)
}

// waitSignal blocks until ctx is done. It is the work of commands that only
// keep the session alive.
func waitSignal(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
