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

package monitor

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/ledgerstore/internal/connmgr"
	"github.com/FerretDB/ledgerstore/internal/engine"
)

// QueryTiming is a result of one benchmark probe.
type QueryTiming struct {
	Description string
	Query       string
	Duration    time.Duration // -1 if the probe failed
	Error       string
}

// Failed returns true if the probe failed.
func (qt *QueryTiming) Failed() bool {
	return qt.Duration < 0
}

// TableInfo describes one table.
type TableInfo struct {
	Name  string
	Rows  int64 // -1 if rows could not be counted
	Error string
}

// Report is an immutable result of [Monitor.CollectPerformanceMetrics].
//
//nolint:vet // for readability
type Report struct {
	GeneratedAt   time.Time
	Files         []engine.FileInfo
	FreeDiskBytes uint64 // 0 if unknown
	Config        map[string]any
	Connections   connmgr.Stats
	Tables        []TableInfo
	Indexes       []string
	PageSize      int64
	PageCount     int64

	// IntegrityCheck is "ok" for a healthy database, empty if the check did not run.
	IntegrityCheck string

	Queries            []QueryTiming
	Successful         int
	Failed             int
	AverageQueryTime   time.Duration // over successful probes only
	CollectionDuration time.Duration

	// Err is set if collection was incomplete.
	Err error
}

// Thresholds used by [Report.Evaluation] and [Report.Suggestions].
const (
	largeDatabase    = 10 << 20
	hugeDatabase     = 50 << 20
	largeWAL         = 5 << 20
	hugeWAL          = 20 << 20
	slowQueries      = 100 * time.Millisecond
	verySlowQueries  = 500 * time.Millisecond
	integrityHealthy = "ok"
)

// DatabaseSize returns page size multiplied by page count.
func (r *Report) DatabaseSize() int64 {
	return r.PageSize * r.PageCount
}

// WALSize returns the size of the write-ahead log file, or 0 if there is none.
func (r *Report) WALSize() int64 {
	for _, f := range r.Files {
		if f.Exists && strings.HasSuffix(f.Name, "-wal") {
			return f.Size
		}
	}

	return 0
}

// Evaluation returns one assessment line per area: size, WAL, queries and integrity.
func (r *Report) Evaluation() []string {
	var res []string

	switch size := r.DatabaseSize(); {
	case size > hugeDatabase:
		res = append(res, "Database is very large; archive or remove old data.")
	case size > largeDatabase:
		res = append(res, "Database is large; consider archiving old data.")
	default:
		res = append(res, "Database size is normal.")
	}

	switch wal := r.WALSize(); {
	case wal > hugeWAL:
		res = append(res, "WAL file is very large; run a checkpoint.")
	case wal > largeWAL:
		res = append(res, "WAL file is large; consider running a checkpoint.")
	default:
		res = append(res, "WAL file size is normal.")
	}

	switch {
	case r.Successful == 0:
		res = append(res, "Query time is unknown.")
	case r.AverageQueryTime > verySlowQueries:
		res = append(res, "Queries are very slow; review indexes and queries.")
	case r.AverageQueryTime > slowQueries:
		res = append(res, "Queries are slow; indexes may need tuning.")
	default:
		res = append(res, "Query time is normal.")
	}

	switch r.IntegrityCheck {
	case "":
		res = append(res, "Integrity was not checked.")
	case integrityHealthy:
		res = append(res, "Integrity is ok.")
	default:
		res = append(res, "Integrity check failed; the database needs repair.")
	}

	return res
}

// Suggestions returns optimization hints derived from configuration and measurements.
//
// The result is never empty.
func (r *Report) Suggestions() []string {
	var res []string

	if strings.EqualFold(fmt.Sprint(r.Config["journal_mode"]), "delete") {
		res = append(res, "Enable WAL journal mode.")
	}

	if strings.EqualFold(fmt.Sprint(r.Config["synchronous"]), "full") {
		res = append(res, "Consider synchronous=NORMAL to trade some durability for speed.")
	}

	if r.DatabaseSize() > largeDatabase {
		res = append(res, "Archive old data.", "Run VACUUM periodically to reclaim free pages.")
	}

	if r.WALSize() > largeWAL {
		res = append(res, "Run checkpoints periodically.", "Lower wal_autocheckpoint.")
	}

	if r.Successful > 0 && r.AverageQueryTime > slowQueries {
		res = append(res, "Review slow queries and add indexes.")
	}

	if len(res) == 0 {
		res = append(res, "No optimizations needed.")
	}

	return res
}

// WriteTo writes a human-readable text report.
//
// The output depends only on the report content.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder

	line := func(format string, a ...any) {
		fmt.Fprintf(&b, format, a...)
		b.WriteByte('\n')
	}

	line("=== Database performance report ===")
	line("Generated at: %s", r.GeneratedAt.Format(time.RFC3339Nano))
	line("Collection duration: %s", r.CollectionDuration)

	if r.Err != nil {
		line("Error: %s", r.Err)
	}

	line("")
	line("--- Files ---")

	if len(r.Files) == 0 {
		line("in-memory database")
	}

	for _, f := range r.Files {
		if !f.Exists {
			line("%s: absent", f.Name)
			continue
		}

		line("%s: %s (%d bytes)", f.Name, humanize.IBytes(uint64(f.Size)), f.Size)
	}

	if r.FreeDiskBytes > 0 {
		line("Free disk space: %s", humanize.IBytes(r.FreeDiskBytes))
	}

	line("")
	line("--- Configuration ---")

	keys := maps.Keys(r.Config)
	slices.Sort(keys)

	for _, k := range keys {
		line("%s = %v", k, r.Config[k])
	}

	line("")
	line("--- Connections ---")
	line("Active: %d", r.Connections.Active)
	line("Tracked: %d", r.Connections.Tracked)
	line("Max: %d", r.Connections.Max)

	line("")
	line("--- Storage ---")
	line("Page size: %d", r.PageSize)
	line("Page count: %d", r.PageCount)
	line("Database size: %s", humanize.IBytes(uint64(max(r.DatabaseSize(), 0))))

	if r.IntegrityCheck == "" {
		line("Integrity check: not run")
	} else {
		line("Integrity check: %s", r.IntegrityCheck)
	}

	line("")
	line("--- Tables (%d) ---", len(r.Tables))

	for _, t := range r.Tables {
		if t.Error != "" {
			line("%s: rows unknown (%s)", t.Name, t.Error)
			continue
		}

		line("%s: %s rows", t.Name, humanize.Comma(t.Rows))
	}

	line("")
	line("--- Indexes (%d) ---", len(r.Indexes))

	for _, i := range r.Indexes {
		line("%s", i)
	}

	line("")
	line("--- Queries ---")

	for _, q := range r.Queries {
		if q.Failed() {
			line("%s: FAILED (%s)", q.Description, q.Error)
			continue
		}

		line("%s: %s", q.Description, q.Duration)
	}

	line("Successful: %d, failed: %d", r.Successful, r.Failed)

	if r.Successful > 0 {
		line("Average query time: %s", r.AverageQueryTime)
	}

	line("")
	line("--- Evaluation ---")

	for _, e := range r.Evaluation() {
		line("- %s", e)
	}

	line("")
	line("--- Suggestions ---")

	for _, s := range r.Suggestions() {
		line("- %s", s)
	}

	n, err := io.WriteString(w, b.String())

	return int64(n), err
}

// check interfaces
var (
	_ io.WriterTo = (*Report)(nil)
)
