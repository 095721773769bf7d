// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package di

import (
	"context"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/FerretDB/ledgerstore/internal/backup"
	"github.com/FerretDB/ledgerstore/internal/config"
	"github.com/FerretDB/ledgerstore/internal/connmgr"
	"github.com/FerretDB/ledgerstore/internal/engine"
	"github.com/FerretDB/ledgerstore/internal/ledger"
	"github.com/FerretDB/ledgerstore/internal/monitor"
	"github.com/FerretDB/ledgerstore/internal/txn"
	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
	"github.com/FerretDB/ledgerstore/internal/util/state"
	"github.com/FerretDB/ledgerstore/internal/util/worker"
)

// StateFile is the name of the preferences file in the state directory.
const StateFile = "state.json"

// ProvideState creates the preferences provider.
//
// It is not a part of the wire provider set: the provider is created before logging is set up.
func ProvideState(cfg *config.Config) (*state.Provider, error) {
	p, err := state.NewProvider(filepath.Join(cfg.StateDir, StateFile))
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return p, nil
}

// ProvideDB opens the store and applies migrations.
func ProvideDB(ctx context.Context, cfg *config.Config, l *zap.Logger) (*engine.DB, func(), error) {
	db, err := engine.Open(ctx, &engine.OpenOpts{URI: cfg.SQLiteURL, L: l})
	if err != nil {
		return nil, nil, lazyerrors.Error(err)
	}

	if err = ledger.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, lazyerrors.Error(err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			l.Error("Failed to close store.", zap.Error(err))
		}
	}

	return db, cleanup, nil
}

// ProvideConnectionManager creates and initializes the connection manager with configured engine settings.
//
// Initialization errors are logged, but do not fail the construction;
// see [connmgr.Manager.Initialize].
func ProvideConnectionManager(ctx context.Context, cfg *config.Config, db *engine.DB, l *zap.Logger) (*connmgr.Manager, func(), error) {
	cm, err := connmgr.New(&connmgr.NewOpts{
		DB:             db,
		L:              l,
		MaxConnections: cfg.Connections.Max,
		IdleTimeout:    cfg.Connections.IdleTimeout,
		CheckInterval:  cfg.Connections.CheckInterval,
		Settings: []engine.Setting{
			{Name: engine.CacheSize, Value: cfg.Engine.CacheSize},
			{Name: engine.TempStore, Value: cfg.Engine.TempStore},
			{Name: engine.Synchronous, Value: cfg.Engine.Synchronous},
			{Name: engine.AutoCommit, Value: true},
		},
	})
	if err != nil {
		return nil, nil, lazyerrors.Error(err)
	}

	if err = cm.Initialize(ctx); err != nil {
		l.Warn("Store initialized with errors.", zap.Error(err))
	}

	return cm, cm.Shutdown, nil
}

// ProvideCoordinator creates the transaction coordinator.
func ProvideCoordinator(cm *connmgr.Manager, l *zap.Logger) (*txn.Coordinator, error) {
	return txn.New(&txn.NewOpts{ConnectionManager: cm, L: l})
}

// ProvidePool creates the background worker pool.
func ProvidePool(ctx context.Context, cfg *config.Config, l *zap.Logger) (*worker.Pool, func()) {
	p := worker.NewPool(ctx, cfg.Workers, l)

	return p, p.Close
}

// ProvideDataset creates the ledger dataset.
func ProvideDataset(l *zap.Logger) *ledger.Dataset {
	return ledger.NewDataset(l)
}

// ProvideMonitor creates the performance monitor.
func ProvideMonitor(cfg *config.Config, cm *connmgr.Manager, p *worker.Pool, l *zap.Logger) (*monitor.Monitor, error) {
	return monitor.New(&monitor.NewOpts{
		ConnectionManager: cm,
		Pool:              p,
		ReportsDir:        cfg.Reports.Dir,
		Keep:              cfg.Reports.Keep,
		L:                 l,
	})
}

// ProvideBackup creates the backup service.
func ProvideBackup(cfg *config.Config, ds *ledger.Dataset, c *txn.Coordinator, sp *state.Provider, l *zap.Logger) (*backup.Service, error) {
	return backup.New(&backup.NewOpts{
		Dir:         cfg.Backup.Dir,
		Keep:        cfg.Backup.Keep,
		Compress:    cfg.Backup.Compress,
		Dataset:     ds,
		Coordinator: c,
		State:       sp,
		L:           l,
	})
}

// ProvideRegistry creates a Prometheus registry with all collectors.
func ProvideRegistry(sp *state.Provider, db *engine.DB, cm *connmgr.Manager, c *txn.Coordinator, b *backup.Service) (*prometheus.Registry, error) {
	r := prometheus.NewRegistry()

	for _, col := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		sp.MetricsCollector(),
		db.DB,
		cm,
		c,
		b,
	} {
		if err := r.Register(col); err != nil {
			return nil, lazyerrors.Error(err)
		}
	}

	return r, nil
}
