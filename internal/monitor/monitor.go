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

// Package monitor provides PerformanceMonitor: failure-isolated sampling of store performance.
package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/ledgerstore/internal/connmgr"
	"github.com/FerretDB/ledgerstore/internal/engine"
	"github.com/FerretDB/ledgerstore/internal/util/fsql"
	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
	"github.com/FerretDB/ledgerstore/internal/util/observability"
	"github.com/FerretDB/ledgerstore/internal/util/worker"
)

// ErrMissingTable indicates that a table required by benchmark probes does not exist.
var ErrMissingTable = errors.New("required table does not exist")

// DefaultReportsDir is the default directory for report files.
const DefaultReportsDir = "db_performance_reports"

// DefaultKeep is the default number of report files kept after generation.
const DefaultKeep = 10

// Report file name parts.
const (
	reportPrefix = "db_performance_"
	reportSuffix = ".txt"
)

// Tables used by benchmark probes.
const (
	primaryTable = "transactions"
	joinTable    = "categories"
)

// Prefixes of engine-internal names excluded from inventories.
var internalPrefixes = []string{"sqlite_", "android_"}

// probe is a single benchmark query.
type probe struct {
	description string
	query       string
	needsJoin   bool
}

// probes is a fixed battery of benchmark queries against the primary table.
var probes = []probe{{
	description: "Count all transactions",
	query:       "SELECT COUNT(*) FROM transactions",
}, {
	description: "Primary key lookup",
	query:       "SELECT * FROM transactions WHERE id = 1",
}, {
	description: "Filtered scan (income)",
	query:       "SELECT * FROM transactions WHERE is_income = 1 LIMIT 5",
}, {
	description: "Sort by date",
	query:       "SELECT * FROM transactions ORDER BY date DESC LIMIT 5",
}, {
	description: "Group by category",
	query:       "SELECT category_id, COUNT(*), SUM(amount) FROM transactions GROUP BY category_id LIMIT 10",
}, {
	description: "Join with categories",
	query:       "SELECT t.id, t.amount, c.name FROM transactions t LEFT JOIN categories c ON t.category_id = c.id LIMIT 10",
	needsJoin:   true,
}}

// Monitor is the PerformanceMonitor.
type Monitor struct {
	cm   *connmgr.Manager
	pool *worker.Pool
	dir  string
	keep int
	l    *zap.Logger

	// for tests
	now func() time.Time
}

// NewOpts represents [New] options.
type NewOpts struct {
	ConnectionManager *connmgr.Manager
	Pool              *worker.Pool
	ReportsDir        string // DefaultReportsDir if empty
	Keep              int    // DefaultKeep if zero
	L                 *zap.Logger
}

// New creates a new Monitor.
func New(opts *NewOpts) (*Monitor, error) {
	if opts.ConnectionManager == nil {
		return nil, lazyerrors.New("ConnectionManager is nil")
	}

	if opts.Pool == nil {
		return nil, lazyerrors.New("Pool is nil")
	}

	if opts.Keep < 0 {
		return nil, lazyerrors.Errorf("invalid Keep %d", opts.Keep)
	}

	dir := opts.ReportsDir
	if dir == "" {
		dir = DefaultReportsDir
	}

	keep := opts.Keep
	if keep == 0 {
		keep = DefaultKeep
	}

	return &Monitor{
		cm:   opts.ConnectionManager,
		pool: opts.Pool,
		dir:  dir,
		keep: keep,
		l:    opts.L.Named("monitor"),
		now:  time.Now,
	}, nil
}

// CollectPerformanceMetrics samples the store within a single connection acquisition.
//
// It never fails: problems are recorded in the report's Err field and in failed probe entries.
func (m *Monitor) CollectPerformanceMetrics(ctx context.Context) (report *Report) {
	defer observability.FuncCall(ctx)()

	start := time.Now()

	report = &Report{
		GeneratedAt: m.now(),
	}

	h := m.cm.GetConnection(ctx)

	defer func() {
		m.cm.ReleaseConnection(h)

		if p := recover(); p != nil {
			report.Err = lazyerrors.Errorf("collection panicked: %v", p)
		}

		report.CollectionDuration = time.Since(start)

		if report.Err != nil {
			m.l.Warn("Performance metrics collection was incomplete.", zap.Error(report.Err))
		}
	}()

	report.Err = m.collect(ctx, h, report)

	return
}

// collect fills the report; the returned error is the first fatal problem.
func (m *Monitor) collect(ctx context.Context, h *connmgr.Handle, report *Report) error {
	var errs []error

	diskDir := m.dir

	if !h.Memory() {
		files, err := engine.Files(h.Path())
		if err != nil {
			errs = append(errs, lazyerrors.Error(err))
		}

		report.Files = files
		diskDir = filepath.Dir(h.Path())
	}

	if free, err := diskFree(diskDir); err == nil {
		report.FreeDiskBytes = free
	} else {
		m.l.Debug("Failed to get free disk space.", zap.String("dir", diskDir), zap.Error(err))
	}

	report.Config = m.cm.GetDatabaseConfig()
	report.Connections = m.cm.GetConnectionStats()

	tables, err := listNames(ctx, h, "table")
	if err != nil {
		return errors.Join(append(errs, err)...)
	}

	report.Indexes, err = listNames(ctx, h, "index")
	if err != nil {
		errs = append(errs, err)
	}

	for _, t := range tables {
		ti := TableInfo{Name: t}

		if err := h.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(t)).Scan(&ti.Rows); err != nil {
			ti.Rows = -1
			ti.Error = err.Error()
		}

		report.Tables = append(report.Tables, ti)
	}

	if report.PageSize, err = engine.GetInt(ctx, h, engine.PageSize); err != nil {
		errs = append(errs, err)
	}

	if report.PageCount, err = engine.GetInt(ctx, h, engine.PageCount); err != nil {
		errs = append(errs, err)
	}

	if report.IntegrityCheck, err = integrityCheck(ctx, h); err != nil {
		errs = append(errs, err)
	}

	if !slices.Contains(tables, primaryTable) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingTable, primaryTable))
		return errors.Join(errs...)
	}

	hasJoin := slices.Contains(tables, joinTable)

	var total time.Duration

	for _, p := range probes {
		if p.needsJoin && !hasJoin {
			continue
		}

		qt := runProbe(ctx, h, p)
		if qt.Failed() {
			report.Failed++
			m.l.Debug("Probe failed.", zap.String("probe", p.description), zap.String("error", qt.Error))
		} else {
			report.Successful++
			total += qt.Duration
		}

		report.Queries = append(report.Queries, qt)
	}

	if report.Successful > 0 {
		report.AverageQueryTime = total / time.Duration(report.Successful)
	}

	return errors.Join(errs...)
}

// runProbe runs and times a single probe, reading all returned rows.
func runProbe(ctx context.Context, q fsql.Querier, p probe) (qt QueryTiming) {
	qt = QueryTiming{
		Description: p.description,
		Query:       p.query,
	}

	defer func() {
		if r := recover(); r != nil {
			qt.Duration = -1
			qt.Error = fmt.Sprint(r)
		}
	}()

	start := time.Now()

	rows, err := q.QueryContext(ctx, p.query)
	if err == nil {
		err = drain(rows)
	}

	if err != nil {
		qt.Duration = -1
		qt.Error = err.Error()

		return
	}

	qt.Duration = time.Since(start)

	return
}

// drain reads and closes all rows.
func drain(rows *sql.Rows) error {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	dest := make([]any, len(cols))
	for i := range dest {
		dest[i] = new(any)
	}

	for rows.Next() {
		if err = rows.Scan(dest...); err != nil {
			return err
		}
	}

	return rows.Err()
}

// listNames returns sorted names of schema objects of the given type, excluding internal ones.
func listNames(ctx context.Context, q fsql.Querier, typ string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = ? ORDER BY name", typ)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	defer rows.Close()

	var res []string

	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, lazyerrors.Error(err)
		}

		if isInternal(name) {
			continue
		}

		res = append(res, name)
	}

	if err = rows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// isInternal returns true for engine-internal schema object names.
func isInternal(name string) bool {
	for _, p := range internalPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}

	return false
}

// integrityCheck returns "ok" or problems found by SQLite, joined with "; ".
func integrityCheck(ctx context.Context, q fsql.Querier) (string, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return "", lazyerrors.Error(err)
	}

	defer rows.Close()

	var res []string

	for rows.Next() {
		var s string
		if err = rows.Scan(&s); err != nil {
			return "", lazyerrors.Error(err)
		}

		res = append(res, s)
	}

	if err = rows.Err(); err != nil {
		return "", lazyerrors.Error(err)
	}

	return strings.Join(res, "; "), nil
}

// quoteIdent quotes SQL identifier.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// GeneratePerformanceReport collects metrics and writes the text report
// to a new timestamp-named file under the reports directory.
//
// It returns the file path.
func (m *Monitor) GeneratePerformanceReport(ctx context.Context) (string, error) {
	defer observability.FuncCall(ctx)()

	report := m.CollectPerformanceMetrics(ctx)

	if err := os.MkdirAll(m.dir, 0o777); err != nil {
		m.l.Error("Failed to create reports directory.", zap.String("dir", m.dir), zap.Error(err))
		return "", lazyerrors.Error(err)
	}

	name := reportPrefix + report.GeneratedAt.Format("20060102_150405.000") + reportSuffix
	path := filepath.Join(m.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		m.l.Error("Failed to create report file.", zap.String("file", path), zap.Error(err))
		return "", lazyerrors.Error(err)
	}

	if _, err = report.WriteTo(f); err == nil {
		err = f.Sync()
	}

	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)

		m.l.Error("Failed to write report file.", zap.String("file", path), zap.Error(err))

		return "", lazyerrors.Error(err)
	}

	m.l.Info(
		"Performance report generated.",
		zap.String("file", path), zap.Int("successful", report.Successful), zap.Int("failed", report.Failed),
		zap.Duration("average", report.AverageQueryTime), zap.Duration("duration", report.CollectionDuration),
	)

	if err = m.cleanupOldReports(); err != nil {
		m.l.Warn("Failed to remove old performance reports.", zap.String("dir", m.dir), zap.Error(err))
	}

	return path, nil
}

// cleanupOldReports removes all but the newest report files; ties are broken by name.
//
// Other files in the reports directory are left intact.
func (m *Monitor) cleanupOldReports() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return lazyerrors.Error(err)
	}

	type reportFile struct {
		path    string
		modTime time.Time
	}

	var files []reportFile

	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(name, reportPrefix) || !strings.HasSuffix(name, reportSuffix) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			// removed concurrently
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return lazyerrors.Error(err)
		}

		files = append(files, reportFile{path: filepath.Join(m.dir, name), modTime: info.ModTime()})
	}

	if len(files) <= m.keep {
		return nil
	}

	slices.SortFunc(files, func(a, b reportFile) int {
		if c := b.modTime.Compare(a.modTime); c != 0 {
			return c
		}

		return strings.Compare(b.path, a.path)
	})

	var errs []error

	for _, f := range files[m.keep:] {
		if err = os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, lazyerrors.Error(err))
		}
	}

	m.l.Info("Old performance reports removed.", zap.Int("removed", len(files)-m.keep-len(errs)), zap.Int("kept", m.keep))

	return errors.Join(errs...)
}

// StartMonitoring schedules report generation on the worker pool and returns immediately.
func (m *Monitor) StartMonitoring(ctx context.Context) {
	defer observability.FuncCall(ctx)()

	m.pool.Submit("performance-report", func(ctx context.Context) error {
		_, err := m.GeneratePerformanceReport(ctx)
		return err
	})
}
