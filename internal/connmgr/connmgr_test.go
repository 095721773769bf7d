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

package connmgr

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FerretDB/ledgerstore/internal/engine"
	"github.com/FerretDB/ledgerstore/internal/util/fsql"
	"github.com/FerretDB/ledgerstore/internal/util/testutil"
	"github.com/FerretDB/ledgerstore/internal/util/testutil/teststress"
)

func setup(t *testing.T, opts *NewOpts) *Manager {
	t.Helper()

	ctx := testutil.Ctx(t)

	db, err := engine.Open(ctx, &engine.OpenOpts{URI: testutil.DatabaseURI(t), L: testutil.Logger(t)})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	if opts == nil {
		opts = new(NewOpts)
	}

	opts.DB = db

	if opts.L == nil {
		opts.L = testutil.Logger(t)
	}

	m, err := New(opts)
	require.NoError(t, err)

	t.Cleanup(m.Shutdown)

	return m
}

func TestInitialize(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	m := setup(t, nil)

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Initialize(ctx), "Initialize should be idempotent")

	config := m.GetDatabaseConfig()
	assert.Equal(t, "4000", config["cache_size"])
	assert.Equal(t, "MEMORY", config["temp_store"])
	assert.Equal(t, "FULL", config["synchronous"])
	assert.Equal(t, "ON", config["auto_commit"])
	assert.Equal(t, "wal", config["journal_mode"])
	assert.Equal(t, int64(2), config["synchronous_value"])
	assert.Equal(t, int64(4000), config["cache_size_value"])
	assert.Equal(t, "normal", config["locking_mode"])
	assert.Contains(t, config, "page_size")

	// returned map is a copy
	config["cache_size"] = "1"
	assert.Equal(t, "4000", m.GetDatabaseConfig()["cache_size"])

	stats := m.GetConnectionStats()
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, DefaultMaxConnections, stats.Max)
	assert.Equal(t, "4000", stats.Config["cache_size"])
}

func TestInitializeInvalidSetting(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	m := setup(t, &NewOpts{
		Settings: []engine.Setting{
			{Name: engine.CacheSize, Value: "lots"},
			{Name: engine.TempStore, Value: "MEMORY"},
		},
		CheckInterval: 10 * time.Millisecond,
	})

	err := m.Initialize(ctx)
	require.Error(t, err)

	config := m.GetDatabaseConfig()
	assert.NotContains(t, config, "cache_size")
	assert.Equal(t, "MEMORY", config["temp_store"])
	assert.Contains(t, config, "journal_mode")

	// reaper is started anyway
	h := m.GetConnection(ctx)
	m.ReleaseConnection(h)
	assert.Equal(t, 1, m.GetConnectionStats().Tracked)
}

func TestSoftLimit(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	l, logs := testutil.ObservedLogger(t)
	m := setup(t, &NewOpts{L: l, MaxConnections: 5})

	require.NoError(t, m.Initialize(ctx))

	handles := make([]*Handle, 0, 6)

	for i := 0; i < 6; i++ {
		done := make(chan *Handle)

		go func() {
			done <- m.GetConnection(ctx)
		}()

		select {
		case h := <-done:
			require.NotNil(t, h)
			handles = append(handles, h)
		case <-time.After(5 * time.Second):
			t.Fatal("GetConnection blocked")
		}
	}

	assert.Equal(t, int64(6), m.GetConnectionStats().Active)

	warnings := logs.FilterMessage("Active connections exceed the soft limit.").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zap.WarnLevel, warnings[0].Level)
	assert.Equal(t, int64(6), warnings[0].ContextMap()["active"])
	assert.Equal(t, int64(5), warnings[0].ContextMap()["max"])

	// the 6th handle is valid
	var one int
	require.NoError(t, handles[5].QueryRowContext(ctx, "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)

	for _, h := range handles {
		m.ReleaseConnection(h)
	}

	assert.Equal(t, int64(0), m.GetConnectionStats().Active)

	expected := `
		# HELP ledgerstore_connections_soft_limit_exceeded_total The total number of acquisitions above the soft limit.
		# TYPE ledgerstore_connections_soft_limit_exceeded_total counter
		ledgerstore_connections_soft_limit_exceeded_total 1
	`
	require.NoError(t, promtest.CollectAndCompare(
		m, strings.NewReader(expected), "ledgerstore_connections_soft_limit_exceeded_total",
	))
}

func TestStress(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	m := setup(t, &NewOpts{L: testutil.LevelLogger(t, zap.NewAtomicLevelAt(zap.ErrorLevel))})

	require.NoError(t, m.Initialize(ctx))

	var peak atomic.Int64

	teststress.Stress(t, func(ready chan<- struct{}, start <-chan struct{}) {
		ready <- struct{}{}
		<-start

		for i := 0; i < 10; i++ {
			err := m.WithConnection(ctx, func(h *Handle) error {
				if n := m.GetConnectionStats().Active; n > peak.Load() {
					peak.Store(n)
				}

				var one int
				return h.QueryRowContext(ctx, "SELECT 1").Scan(&one)
			})
			assert.NoError(t, err)
		}
	})

	assert.Equal(t, int64(0), m.GetConnectionStats().Active)
	assert.Positive(t, peak.Load())
}

func TestUnbalancedRelease(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	l, logs := testutil.ObservedLogger(t)
	m := setup(t, &NewOpts{L: l})

	h := m.GetConnection(ctx)
	m.ReleaseConnection(h)
	m.ReleaseConnection(h)

	assert.Equal(t, int64(0), m.GetConnectionStats().Active)
	assert.Equal(t, 1, logs.FilterMessage("Unbalanced connection release.").Len())
}

func TestWithHelpers(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	m := setup(t, nil)

	require.NoError(t, m.Initialize(ctx))

	expected := errors.New("expected")

	err := m.WithConnection(ctx, func(h *Handle) error {
		assert.Equal(t, int64(1), m.GetConnectionStats().Active)
		assert.True(t, strings.HasPrefix(h.ID(), "conn-"))

		return expected
	})
	assert.ErrorIs(t, err, expected)
	assert.Equal(t, int64(0), m.GetConnectionStats().Active)

	assert.Panics(t, func() {
		_ = m.WithConnection(ctx, func(*Handle) error {
			panic("boom")
		})
	})
	assert.Equal(t, int64(0), m.GetConnectionStats().Active)

	err = m.WithTransaction(ctx, func(tx *fsql.Tx) error {
		_, err := tx.ExecContext(ctx, "CREATE TABLE t (v INTEGER)")
		require.NoError(t, err)

		_, err = tx.ExecContext(ctx, "INSERT INTO t VALUES (1)")
		require.NoError(t, err)

		return expected
	})
	assert.ErrorIs(t, err, expected)

	// table creation was rolled back too
	_, err = m.DB().ExecContext(ctx, "INSERT INTO t VALUES (1)")
	assert.Error(t, err)
}

func TestReaper(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	m := setup(t, &NewOpts{
		IdleTimeout:   time.Minute,
		CheckInterval: 10 * time.Millisecond,
	})

	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	m.now = func() time.Time { return time.Unix(0, now.Load()) }

	require.NoError(t, m.Initialize(ctx))

	h := m.GetConnection(ctx)
	m.ReleaseConnection(h)
	require.Equal(t, 1, m.GetConnectionStats().Tracked)

	// not idle yet
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, m.GetConnectionStats().Tracked)

	now.Add(int64(2 * time.Minute))

	require.Eventually(t, func() bool {
		return m.GetConnectionStats().Tracked == 0
	}, 5*time.Second, 10*time.Millisecond)

	// the shared handle is still usable
	var one int
	require.NoError(t, m.DB().QueryRowContext(ctx, "SELECT 1").Scan(&one))
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	m := setup(t, &NewOpts{CheckInterval: 10 * time.Millisecond})

	require.NoError(t, m.Initialize(ctx))

	m.GetConnection(ctx)
	require.Equal(t, int64(1), m.GetConnectionStats().Active)

	m.Shutdown()
	m.Shutdown()

	stats := m.GetConnectionStats()
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, 0, stats.Tracked)

	// can be initialized again
	require.NoError(t, m.Initialize(ctx))
}
