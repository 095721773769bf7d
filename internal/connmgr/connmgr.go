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

// Package connmgr provides ConnectionManager: reference-counted access to the shared store handle.
//
// The limit on concurrent connections is soft: exceeding it is logged, but never blocks.
// The idle reaper prunes bookkeeping only; the shared handle is owned by the caller of [New].
package connmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/FerretDB/ledgerstore/internal/engine"
	"github.com/FerretDB/ledgerstore/internal/util/fsql"
	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
	"github.com/FerretDB/ledgerstore/internal/util/observability"
)

// Default values of [NewOpts] fields.
const (
	DefaultMaxConnections = 5
	DefaultIdleTimeout    = 30 * time.Second
	DefaultCheckInterval  = 10 * time.Second
)

// DefaultSettings returns engine settings applied by [Manager.Initialize] by default.
func DefaultSettings() []engine.Setting {
	return []engine.Setting{
		{Name: engine.CacheSize, Value: 4000},
		{Name: engine.TempStore, Value: "MEMORY"},
		{Name: engine.Synchronous, Value: "FULL"},
		{Name: engine.AutoCommit, Value: true},
	}
}

// Handle is a non-owned reference to the shared store connection.
//
// It must be returned with [Manager.ReleaseConnection] exactly once.
type Handle struct {
	*engine.DB

	id string
}

// ID returns handle identity used for usage bookkeeping.
func (h *Handle) ID() string {
	return h.id
}

// Stats represents a snapshot of connection bookkeeping.
type Stats struct {
	Active  int64
	Tracked int
	Max     int
	Config  map[string]any
}

// Manager is the ConnectionManager.
//
//nolint:vet // for readability
type Manager struct {
	l        *zap.Logger
	handle   *Handle
	settings []engine.Setting

	maxConnections int
	idleTimeout    time.Duration
	checkInterval  time.Duration

	active            atomic.Int64
	softLimitExceeded atomic.Uint64

	rw     sync.RWMutex
	usage  map[string]time.Time
	config map[string]any

	initM        sync.Mutex
	initialized  bool
	reaperCancel context.CancelFunc
	reaperDone   chan struct{}

	// for tests
	now func() time.Time
}

// NewOpts represents [New] options.
type NewOpts struct {
	DB             *engine.DB
	L              *zap.Logger
	MaxConnections int
	IdleTimeout    time.Duration
	CheckInterval  time.Duration
	Settings       []engine.Setting // DefaultSettings() if nil
}

// New creates a new Manager for the given shared store handle.
func New(opts *NewOpts) (*Manager, error) {
	if opts.DB == nil {
		return nil, lazyerrors.New("DB is nil")
	}

	m := &Manager{
		l:              opts.L.Named("connmgr"),
		handle:         &Handle{DB: opts.DB, id: fmt.Sprintf("conn-%p", opts.DB)},
		settings:       opts.Settings,
		maxConnections: opts.MaxConnections,
		idleTimeout:    opts.IdleTimeout,
		checkInterval:  opts.CheckInterval,
		usage:          map[string]time.Time{},
		config:         map[string]any{},
		now:            time.Now,
	}

	if m.settings == nil {
		m.settings = DefaultSettings()
	}

	if m.maxConnections <= 0 {
		m.maxConnections = DefaultMaxConnections
	}

	if m.idleTimeout <= 0 {
		m.idleTimeout = DefaultIdleTimeout
	}

	if m.checkInterval <= 0 {
		m.checkInterval = DefaultCheckInterval
	}

	return m, nil
}

// Initialize applies engine settings, runs a warm-up query, and starts the idle reaper.
//
// It is idempotent; repeated calls are no-ops until [Manager.Shutdown].
// The reaper is started even if settings could not be applied;
// the returned error joins all configuration and warm-up errors.
func (m *Manager) Initialize(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	m.initM.Lock()
	defer m.initM.Unlock()

	if m.initialized {
		m.l.Debug("Already initialized.")
		return nil
	}

	m.initialized = true

	var errs []error

	if err := m.ConfigureDatabaseSettings(ctx); err != nil {
		errs = append(errs, err)
	}

	var one int
	if err := m.handle.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		m.l.Error("Warm-up query failed.", zap.Error(err))
		errs = append(errs, lazyerrors.Error(err))
	}

	reaperCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.reaperCancel = cancel
	m.reaperDone = make(chan struct{})

	go m.runReaper(reaperCtx, m.reaperDone)

	m.l.Info(
		"Connection manager initialized.",
		zap.String("handle", m.handle.id), zap.Int("max", m.maxConnections),
		zap.Duration("idle_timeout", m.idleTimeout), zap.Duration("check_interval", m.checkInterval),
	)

	return errors.Join(errs...)
}

// ConfigureDatabaseSettings applies configured engine settings
// and re-reads actual values into the database config.
//
// Journal mode is read, but never set.
func (m *Manager) ConfigureDatabaseSettings(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	config := make(map[string]any, len(m.settings)+5)

	var errs []error

	for _, s := range m.settings {
		if err := engine.Set(ctx, m.handle, s); err != nil {
			m.l.Warn("Failed to apply setting.", zap.String("name", string(s.Name)), zap.Error(err))
			errs = append(errs, err)

			continue
		}

		config[string(s.Name)] = s.String()
	}

	for key, name := range map[string]engine.PragmaName{
		"journal_mode": engine.JournalMode,
		"locking_mode": engine.LockingMode,
	} {
		v, err := engine.GetString(ctx, m.handle, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		config[key] = v
	}

	for key, name := range map[string]engine.PragmaName{
		"synchronous_value": engine.Synchronous,
		"page_size":         engine.PageSize,
		"cache_size_value":  engine.CacheSize,
	} {
		v, err := engine.GetInt(ctx, m.handle, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		config[key] = v
	}

	m.rw.Lock()
	m.config = config
	m.rw.Unlock()

	m.l.Debug("Database settings configured.", zap.Any("config", config))

	return errors.Join(errs...)
}

// GetConnection returns the shared handle and records its usage.
//
// Exceeding the configured maximum is logged, but the call still succeeds.
func (m *Manager) GetConnection(ctx context.Context) *Handle {
	defer observability.FuncCall(ctx)()

	active := m.active.Add(1)

	m.rw.Lock()
	m.usage[m.handle.id] = m.now()
	m.rw.Unlock()

	if active > int64(m.maxConnections) {
		m.softLimitExceeded.Add(1)
		m.l.Warn(
			"Active connections exceed the soft limit.",
			zap.Int64("active", active), zap.Int("max", m.maxConnections),
		)
	}

	return m.handle
}

// ReleaseConnection updates handle usage and decrements the active counter.
//
// Unbalanced release is logged; the counter never goes below zero.
func (m *Manager) ReleaseConnection(h *Handle) {
	if h == nil {
		m.l.DPanic("Releasing nil handle.")
		return
	}

	m.rw.Lock()
	m.usage[h.id] = m.now()
	m.rw.Unlock()

	for {
		active := m.active.Load()
		if active <= 0 {
			m.l.Error("Unbalanced connection release.", zap.String("handle", h.id))
			return
		}

		if m.active.CompareAndSwap(active, active-1) {
			return
		}
	}
}

// WithConnection calls f with an acquired handle and releases it on every exit path.
func (m *Manager) WithConnection(ctx context.Context, f func(h *Handle) error) error {
	h := m.GetConnection(ctx)
	defer m.ReleaseConnection(h)

	return f(h)
}

// WithTransaction calls f inside a plain (non-nested) transaction on an acquired handle.
//
// For nested units of work use txn.Coordinator instead.
func (m *Manager) WithTransaction(ctx context.Context, f func(tx *fsql.Tx) error) error {
	return m.WithConnection(ctx, func(h *Handle) error {
		return h.InTransaction(ctx, f)
	})
}

// GetConnectionStats returns a snapshot of connection bookkeeping.
func (m *Manager) GetConnectionStats() Stats {
	m.rw.RLock()
	defer m.rw.RUnlock()

	return Stats{
		Active:  m.active.Load(),
		Tracked: len(m.usage),
		Max:     m.maxConnections,
		Config:  maps.Clone(m.config),
	}
}

// GetDatabaseConfig returns a snapshot of observed engine settings.
func (m *Manager) GetDatabaseConfig() map[string]any {
	m.rw.RLock()
	defer m.rw.RUnlock()

	return maps.Clone(m.config)
}

// DB returns the shared store handle without acquiring it.
func (m *Manager) DB() *engine.DB {
	return m.handle.DB
}

// Shutdown stops the reaper, clears bookkeeping, and resets counters.
//
// It is idempotent. It does not close the shared handle.
func (m *Manager) Shutdown() {
	m.initM.Lock()
	defer m.initM.Unlock()

	if m.reaperCancel != nil {
		m.reaperCancel()
		<-m.reaperDone

		m.reaperCancel = nil
		m.reaperDone = nil
	}

	m.rw.Lock()
	clear(m.usage)
	m.rw.Unlock()

	m.active.Store(0)

	if m.initialized {
		m.l.Info("Connection manager stopped.")
	}

	m.initialized = false
}
