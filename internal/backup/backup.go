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

// Package backup provides BackupRecoveryService: JSON snapshots of the ledger
// with atomic restore and a retention policy.
package backup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/FerretDB/ledgerstore/internal/ledger"
	"github.com/FerretDB/ledgerstore/internal/txn"
	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
	"github.com/FerretDB/ledgerstore/internal/util/observability"
	"github.com/FerretDB/ledgerstore/internal/util/state"
)

// Errors returned by Service methods.
var (
	ErrInvalidName   = errors.New("invalid backup file name")
	ErrNotFound      = errors.New("backup file not found")
	ErrInvalidBackup = errors.New("invalid backup file")
)

// Defaults.
const (
	DefaultDir  = "db_backups"
	DefaultKeep = 5
)

// ValidationSummary describes a backup file without applying it.
type ValidationSummary struct {
	AccountCount     int
	CategoryCount    int
	TransactionCount int
	BudgetCount      int
	ExportTime       time.Time // zero if unknown
	Version          string
	ID               string
}

// Service is the BackupRecoveryService.
//
//nolint:vet // for readability
type Service struct {
	dir      string
	keep     int
	compress bool

	ds    *ledger.Dataset
	coord *txn.Coordinator
	sp    *state.Provider
	l     *zap.Logger

	*metricsCollector

	// for tests
	now func() time.Time
}

// NewOpts represents [New] options.
type NewOpts struct {
	Dir      string // DefaultDir if empty
	Keep     int    // DefaultKeep if zero
	Compress bool

	Dataset     *ledger.Dataset
	Coordinator *txn.Coordinator
	State       *state.Provider // optional
	L           *zap.Logger
}

// New creates a new Service.
func New(opts *NewOpts) (*Service, error) {
	if opts.Dataset == nil {
		return nil, lazyerrors.New("Dataset is nil")
	}

	if opts.Coordinator == nil {
		return nil, lazyerrors.New("Coordinator is nil")
	}

	if opts.Keep < 0 {
		return nil, lazyerrors.Errorf("invalid Keep %d", opts.Keep)
	}

	s := &Service{
		dir:              opts.Dir,
		keep:             opts.Keep,
		compress:         opts.Compress,
		ds:               opts.Dataset,
		coord:            opts.Coordinator,
		sp:               opts.State,
		l:                opts.L.Named("backup"),
		metricsCollector: newMetricsCollector(),
		now:              time.Now,
	}

	if s.dir == "" {
		s.dir = DefaultDir
	}

	if s.keep == 0 {
		s.keep = DefaultKeep
	}

	return s, nil
}

// Dir returns the effective backup directory.
//
// Preferences take precedence: custom_backup_uri with the file scheme,
// then custom_backup_path, then the configured directory.
func (s *Service) Dir() string {
	if s.sp == nil {
		return s.dir
	}

	st := s.sp.Get()

	if st.CustomBackupURI != "" {
		u, err := url.Parse(st.CustomBackupURI)
		if err == nil && u.Scheme == "file" && u.Path != "" {
			return filepath.FromSlash(u.Path)
		}

		s.l.Warn(
			"Unsupported custom backup URI, ignoring.",
			zap.String("uri", st.CustomBackupURI), zap.Error(err),
		)
	}

	if st.CustomBackupPath != "" {
		return st.CustomBackupPath
	}

	return s.dir
}

// resolve returns the path of the given backup file.
// Bare names are resolved against the backup directory.
func (s *Service) resolve(path string) string {
	if path == "" || strings.ContainsAny(path, `/\`) {
		return path
	}

	return filepath.Join(s.Dir(), path)
}

// CreateManualBackup writes a snapshot of the whole dataset to a file with the given name.
//
// The name may contain arbitrary Unicode, spaces and punctuation, but not path separators.
// Empty name selects a generated one.
func (s *Service) CreateManualBackup(ctx context.Context, name string) (*File, error) {
	if name == "" {
		name = generatedName(manualPrefix, s.now(), s.compress)
	}

	return s.create(ctx, name)
}

// CreateScheduledBackup writes a snapshot with a generated name,
// persists the backup time in preferences, and applies the retention policy.
//
// Retention failures are logged, but do not fail the backup.
func (s *Service) CreateScheduledBackup(ctx context.Context) (*File, error) {
	now := s.now()

	f, err := s.create(ctx, generatedName(scheduledPrefix, now, s.compress))
	if err != nil {
		return nil, err
	}

	if s.sp != nil {
		if err = s.sp.Update(func(st *state.State) { st.LastBackupTime = now.UnixMilli() }); err != nil {
			s.l.Error("Failed to persist last backup time.", zap.Error(err))
		}
	}

	if err = s.CleanupOldBackups(s.keep); err != nil {
		s.l.Error("Failed to clean up old backups.", zap.Error(err))
	}

	return f, nil
}

// CreateScheduledBackupIfDue calls [Service.CreateScheduledBackup] if automatic backups are enabled
// and the configured interval passed since the last one.
//
// It returns nil file and nil error if no backup was due.
func (s *Service) CreateScheduledBackupIfDue(ctx context.Context) (*File, error) {
	if s.sp != nil && !s.sp.Get().BackupDue(s.now()) {
		s.l.Debug("Scheduled backup is not due.")
		return nil, nil
	}

	return s.CreateScheduledBackup(ctx)
}

// create exports the dataset in one transaction and writes it atomically.
func (s *Service) create(ctx context.Context, name string) (f *File, err error) {
	defer observability.FuncCall(ctx)()

	ctx, span := observability.Tracer().Start(ctx, "backup.create", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	defer func() {
		if err != nil {
			s.failures.WithLabelValues(opCreate).Inc()
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if name, err = cleanName(name, s.compress); err != nil {
		return nil, err
	}

	compress := strings.HasSuffix(name, suffixGzip)

	snap, err := txn.Execute(ctx, s.coord, func(ctx context.Context) (*ledger.Snapshot, error) {
		return s.ds.Export(ctx, s.coord.Querier(ctx))
	})
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if f, err = writeAtomic(s.Dir(), name, snap, compress); err != nil {
		return nil, err
	}

	s.created.Inc()
	s.lastSize.Set(float64(f.Size))

	c := snap.Counts()
	span.SetAttributes(attribute.String("backup.name", f.Name), attribute.Int64("backup.size", f.Size))

	s.l.Info(
		"Backup created.",
		zap.String("path", f.Path), zap.String("size", humanize.IBytes(uint64(f.Size))),
		zap.Int("accounts", c.Accounts), zap.Int("categories", c.Categories),
		zap.Int("transactions", c.Transactions), zap.Int("budgets", c.Budgets),
	)

	return f, nil
}

// RestoreFromBackup replaces all ledger tables with the content of the given backup file.
//
// The file is fully parsed and validated first; then tables are cleared and refilled
// in one transaction. Nil error means that the replacement was committed;
// on any error the live data is left unchanged.
//
// Within an enclosing transaction the replacement commits or rolls back with it;
// such restores are not counted as restored.
func (s *Service) RestoreFromBackup(ctx context.Context, path string) (err error) {
	defer observability.FuncCall(ctx)()

	nested := s.coord.IsInTransaction(ctx)

	ctx, span := observability.Tracer().Start(ctx, "backup.restore", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	defer func() {
		if err != nil {
			s.failures.WithLabelValues(opRestore).Inc()
			span.SetStatus(codes.Error, err.Error())
			s.l.Error("Restore failed.", zap.String("path", path), zap.Error(err))
		}
	}()

	path = s.resolve(path)

	snap, err := readSnapshot(path)
	if err != nil {
		return err
	}

	err = s.coord.ExecuteWrite(ctx, func(ctx context.Context) error {
		q := s.coord.Querier(ctx)

		if err := s.ds.Clear(ctx, q); err != nil {
			return err
		}

		return s.ds.Import(ctx, q, snap)
	})
	if err != nil {
		return err
	}

	c := snap.Counts()

	if nested {
		s.l.Debug("Backup applied to the enclosing transaction.", zap.String("path", path), zap.Int("transactions", c.Transactions))
		return nil
	}

	s.restored.Inc()

	s.l.Info(
		"Backup restored.",
		zap.String("path", path),
		zap.Int("accounts", c.Accounts), zap.Int("categories", c.Categories),
		zap.Int("transactions", c.Transactions), zap.Int("budgets", c.Budgets),
	)

	return nil
}

// RestoreFromLatestBackup restores the most recently modified backup file.
func (s *Service) RestoreFromLatestBackup(ctx context.Context) error {
	files, err := s.GetAllBackups()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("%w: no backups in %s", ErrNotFound, s.Dir())
	}

	return s.RestoreFromBackup(ctx, files[0].Path)
}

// ValidateBackupFile parses the given backup file and summarizes its content.
//
// It never touches the live store.
func (s *Service) ValidateBackupFile(ctx context.Context, path string) (*ValidationSummary, error) {
	defer observability.FuncCall(ctx)()

	snap, err := readSnapshot(s.resolve(path))
	if err != nil {
		return nil, err
	}

	c := snap.Counts()

	res := &ValidationSummary{
		AccountCount:     c.Accounts,
		CategoryCount:    c.Categories,
		TransactionCount: c.Transactions,
		BudgetCount:      c.Budgets,
	}

	if m := snap.Metadata; m.ExportTime != 0 {
		res.ExportTime = time.UnixMilli(m.ExportTime)
	}

	res.Version = snap.Metadata.Version
	res.ID = snap.Metadata.ID

	return res, nil
}

// GetAllBackups returns backup files, newest first.
func (s *Service) GetAllBackups() ([]File, error) {
	return listFiles(s.Dir())
}

// CleanupOldBackups removes all but the keep most recently modified backup files.
func (s *Service) CleanupOldBackups(keep int) (err error) {
	defer func() {
		if err != nil {
			s.failures.WithLabelValues(opCleanup).Inc()
		}
	}()

	if keep < 0 {
		return lazyerrors.Errorf("invalid keep %d", keep)
	}

	files, err := s.GetAllBackups()
	if err != nil {
		return err
	}

	if len(files) <= keep {
		return nil
	}

	var errs []error

	for _, f := range files[keep:] {
		// ignore files removed concurrently
		if err := removeFile(f.Path); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
			continue
		}

		s.l.Debug("Old backup removed.", zap.String("path", f.Path))
	}

	return errors.Join(errs...)
}

// DeleteBackupFile removes a single backup file.
func (s *Service) DeleteBackupFile(path string) error {
	if err := removeFile(s.resolve(path)); err != nil {
		s.failures.WithLabelValues(opDelete).Inc()
		return err
	}

	return nil
}

// Describe implements [prometheus.Collector].
func (s *Service) Describe(ch chan<- *prometheus.Desc) {
	s.metricsCollector.Describe(ch)
}

// Collect implements [prometheus.Collector].
func (s *Service) Collect(ch chan<- prometheus.Metric) {
	s.metricsCollector.Collect(ch)
}
