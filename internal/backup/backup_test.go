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

package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/goccy/go-json"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/ledgerstore/internal/connmgr"
	"github.com/FerretDB/ledgerstore/internal/engine"
	"github.com/FerretDB/ledgerstore/internal/ledger"
	"github.com/FerretDB/ledgerstore/internal/txn"
	"github.com/FerretDB/ledgerstore/internal/util/state"
	"github.com/FerretDB/ledgerstore/internal/util/testutil"
)

// setup returns a service over a migrated store, the store itself, and the state provider.
func setup(t *testing.T, opts *NewOpts) (*Service, *engine.DB, *state.Provider) {
	t.Helper()

	ctx := testutil.Ctx(t)
	l := testutil.Logger(t)

	db, err := engine.Open(ctx, &engine.OpenOpts{URI: testutil.DatabaseURI(t), L: l})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	require.NoError(t, ledger.Migrate(ctx, db))

	cm, err := connmgr.New(&connmgr.NewOpts{DB: db, L: l})
	require.NoError(t, err)
	require.NoError(t, cm.Initialize(ctx))

	t.Cleanup(cm.Shutdown)

	coord, err := txn.New(&txn.NewOpts{ConnectionManager: cm, L: l})
	require.NoError(t, err)

	sp, err := state.NewProvider(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	if opts == nil {
		opts = new(NewOpts)
	}

	if opts.Dir == "" {
		opts.Dir = filepath.Join(t.TempDir(), DefaultDir)
	}

	opts.Dataset = ledger.NewDataset(l)
	opts.Coordinator = coord
	opts.State = sp
	opts.L = l

	s, err := New(opts)
	require.NoError(t, err)

	return s, db, sp
}

// fill inserts one account, one category and one transaction with non-ASCII names.
func fill(t *testing.T, db *engine.DB) {
	t.Helper()

	ctx := testutil.Ctx(t)

	categoryID, err := ledger.InsertCategory(ctx, db, &ledger.Category{Name: "测试分类", Type: "EXPENSE"})
	require.NoError(t, err)

	accountID, err := ledger.InsertAccount(ctx, db, &ledger.Account{Name: "测试账户", Currency: "CNY"})
	require.NoError(t, err)

	_, err = ledger.InsertTransaction(ctx, db, &ledger.Transaction{
		Amount:     42.5,
		CategoryID: pointer.ToInt64(categoryID),
		AccountID:  accountID,
		Date:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(),
		Note:       "测试交易",
	})
	require.NoError(t, err)
}

func counts(t *testing.T, db *engine.DB) ledger.Counts {
	t.Helper()

	c, err := ledger.NewDataset(testutil.Logger(t)).Counts(testutil.Ctx(t), db)
	require.NoError(t, err)

	return c
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	s, db, _ := setup(t, nil)

	fill(t, db)

	f, err := s.CreateManualBackup(ctx, "test.json")
	require.NoError(t, err)
	assert.Equal(t, "test.json", f.Name)
	assert.Positive(t, f.Size)

	b, err := os.ReadFile(f.Path)
	require.NoError(t, err)

	for _, name := range []string{"测试账户", "测试分类", "测试交易"} {
		assert.Contains(t, string(b), name)
	}

	require.NoError(t, ledger.NewDataset(testutil.Logger(t)).Clear(ctx, db))
	assert.Equal(t, ledger.Counts{}, counts(t, db))

	require.NoError(t, s.RestoreFromBackup(ctx, f.Path))
	assert.Equal(t, ledger.Counts{Accounts: 1, Categories: 1, Transactions: 1}, counts(t, db))

	snap, err := ledger.NewDataset(testutil.Logger(t)).Export(ctx, db)
	require.NoError(t, err)

	require.Len(t, snap.Accounts, 1)
	assert.Equal(t, "测试账户", snap.Accounts[0].Name)
	require.Len(t, snap.Categories, 1)
	assert.Equal(t, "测试分类", snap.Categories[0].Name)
	require.Len(t, snap.Transactions, 1)
	assert.Equal(t, "测试交易", snap.Transactions[0].Note)
	assert.Equal(t, snap.Categories[0].ID, *snap.Transactions[0].CategoryID)

	assert.Equal(t, 1.0, promtest.ToFloat64(s.created))
	assert.Equal(t, 1.0, promtest.ToFloat64(s.restored))
	assert.Equal(t, float64(f.Size), promtest.ToFloat64(s.lastSize))
}

func TestNames(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	s, db, _ := setup(t, nil)

	fill(t, db)

	for _, name := range []string{
		"Résumé backup (final!) #1",
		"бэкап 2024-01-01",
		"备份 & restore's \"copy\".json",
		"emoji 💾",
	} {
		f, err := s.CreateManualBackup(ctx, name)
		require.NoError(t, err, name)
		assert.True(t, strings.HasSuffix(f.Name, ".json"), f.Name)

		_, err = os.Stat(f.Path)
		require.NoError(t, err)
	}

	f, err := s.CreateManualBackup(ctx, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(f.Name, manualPrefix), f.Name)

	for _, name := range []string{" ", ".", "..", "a/b", `a\b`, "a\x00b", ".hidden"} {
		_, err := s.CreateManualBackup(ctx, name)
		assert.ErrorIs(t, err, ErrInvalidName, "%q", name)
	}

	// decomposed and composed forms name the same file
	f1, err := s.CreateManualBackup(ctx, "café")
	require.NoError(t, err)
	f2, err := s.CreateManualBackup(ctx, "café")
	require.NoError(t, err)
	assert.Equal(t, f1.Path, f2.Path)

	files, err := s.GetAllBackups()
	require.NoError(t, err)
	assert.Len(t, files, 6)
}

func TestCleanName(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		name     string
		compress bool
		expected string
	}{
		"Plain":          {name: "a", expected: "a.json"},
		"JSON":           {name: "a.json", expected: "a.json"},
		"Gzip":           {name: "a.json.gz", expected: "a.json.gz"},
		"CompressPlain":  {name: "a", compress: true, expected: "a.json.gz"},
		"CompressJSON":   {name: "a.json", compress: true, expected: "a.json.gz"},
		"CompressGzip":   {name: "a.json.gz", compress: true, expected: "a.json.gz"},
		"OtherExtension": {name: "a.txt", expected: "a.txt.json"},
		"Spaces":         {name: "  a b  ", expected: "a b.json"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			actual, err := cleanName(tc.name, tc.compress)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestCleanupOldBackups(t *testing.T) {
	t.Parallel()

	const total = 10

	s, _, _ := setup(t, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for keep := 0; keep <= total+2; keep++ {
		t.Run(fmt.Sprintf("Keep%d", keep), func(t *testing.T) {
			dir := s.Dir()
			require.NoError(t, os.RemoveAll(dir))
			require.NoError(t, os.MkdirAll(dir, 0o777))

			// names sort opposite to modification times
			for i := range total {
				p := filepath.Join(dir, fmt.Sprintf("backup_%02d.json", total-i))
				require.NoError(t, os.WriteFile(p, []byte(`{}`), 0o666))

				mtime := base.Add(time.Duration(i) * 100 * time.Millisecond)
				require.NoError(t, os.Chtimes(p, mtime, mtime))
			}

			// not a backup
			require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o666))

			files, err := s.GetAllBackups()
			require.NoError(t, err)
			require.Len(t, files, total)

			for i := 1; i < len(files); i++ {
				assert.False(t, files[i].ModTime.After(files[i-1].ModTime))
			}

			require.NoError(t, s.CleanupOldBackups(keep))

			remaining, err := s.GetAllBackups()
			require.NoError(t, err)
			require.Len(t, remaining, min(keep, total))
			assert.Equal(t, files[:min(keep, total)], remaining)

			_, err = os.Stat(filepath.Join(dir, "notes.txt"))
			assert.NoError(t, err)
		})
	}

	assert.Error(t, s.CleanupOldBackups(-1))
}

func TestValidateBackupFile(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	s, db, _ := setup(t, nil)

	fill(t, db)

	f, err := s.CreateManualBackup(ctx, "validate")
	require.NoError(t, err)

	before := counts(t, db)

	summary, err := s.ValidateBackupFile(ctx, f.Path)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AccountCount)
	assert.Equal(t, 1, summary.CategoryCount)
	assert.Equal(t, 1, summary.TransactionCount)
	assert.Equal(t, 0, summary.BudgetCount)
	assert.Equal(t, ledger.SnapshotVersion, summary.Version)
	assert.False(t, summary.ExportTime.IsZero())
	assert.NotEmpty(t, summary.ID)

	// bare name is resolved against the backup directory
	_, err = s.ValidateBackupFile(ctx, f.Name)
	require.NoError(t, err)

	bad := filepath.Join(s.Dir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"accounts": "nope"}`), 0o666))

	_, err = s.ValidateBackupFile(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidBackup)

	_, err = s.ValidateBackupFile(ctx, "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, before, counts(t, db))
}

func TestRestoreInvalid(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	s, db, _ := setup(t, nil)

	fill(t, db)
	before := counts(t, db)

	dir := s.Dir()
	require.NoError(t, os.MkdirAll(dir, 0o777))

	for name, content := range map[string]string{
		"truncated.json":  `{"categories": [`,
		"schema.json":     `{"categories": [], "accounts": [{"name": "no id"}], "transactions": []}`,
		"empty.json":      ``,
		"garbage.json.gz": "\x1f\x8bnot really gzip",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o666))

		err := s.RestoreFromBackup(ctx, name)
		assert.ErrorIs(t, err, ErrInvalidBackup, name)
		assert.Equal(t, before, counts(t, db), name)
	}

	// valid file with duplicate primary keys fails inside the transaction
	snap := &ledger.Snapshot{
		Accounts:     []ledger.Account{{ID: 1, Name: "a"}},
		Transactions: []ledger.Transaction{{ID: 1, AccountID: 1}, {ID: 1, AccountID: 1}},
	}
	b, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "duplicate.json"), b, 0o666))

	err = s.RestoreFromBackup(ctx, "duplicate.json")
	require.Error(t, err)
	assert.Equal(t, before, counts(t, db))

	err = s.RestoreFromBackup(ctx, "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 0.0, promtest.ToFloat64(s.restored))
	assert.Equal(t, 6.0, promtest.ToFloat64(s.failures.WithLabelValues(opRestore)))
}

func TestCompressed(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	s, db, _ := setup(t, &NewOpts{Compress: true})

	fill(t, db)

	f, err := s.CreateManualBackup(ctx, "compressed")
	require.NoError(t, err)
	assert.Equal(t, "compressed.json.gz", f.Name)

	b, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, gzipMagic))

	summary, err := s.ValidateBackupFile(ctx, f.Path)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TransactionCount)

	require.NoError(t, ledger.NewDataset(testutil.Logger(t)).Clear(ctx, db))
	require.NoError(t, s.RestoreFromBackup(ctx, f.Path))
	assert.Equal(t, ledger.Counts{Accounts: 1, Categories: 1, Transactions: 1}, counts(t, db))
}

func TestLargeBackup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in -short mode")
	}

	t.Parallel()

	const n = 20_000

	ctx := testutil.Ctx(t)
	s, db, _ := setup(t, nil)

	snap := &ledger.Snapshot{
		Categories: []ledger.Category{{ID: 1, Name: "餐饮", Type: "EXPENSE"}},
		Accounts:   []ledger.Account{{ID: 1, Name: "现金", Currency: "CNY"}},
	}

	for i := range n {
		snap.Transactions = append(snap.Transactions, ledger.Transaction{
			ID:         int64(i + 1),
			Amount:     float64(i%1000) / 10,
			CategoryID: pointer.ToInt64(1),
			AccountID:  1,
			Date:       int64(1_700_000_000_000 + i*60_000),
			Note:       fmt.Sprintf("交易备注 number %d with some padding text", i),
			IsIncome:   i%7 == 0,
		})
	}

	require.NoError(t, s.coord.ExecuteWrite(ctx, func(ctx context.Context) error {
		return s.ds.Import(ctx, s.coord.Querier(ctx), snap)
	}))

	f, err := s.CreateManualBackup(ctx, "large backup")
	require.NoError(t, err)
	assert.Greater(t, f.Size, int64(1_000_000))

	require.NoError(t, ledger.NewDataset(testutil.Logger(t)).Clear(ctx, db))
	require.NoError(t, s.RestoreFromBackup(ctx, f.Path))

	c := counts(t, db)
	assert.GreaterOrEqual(t, c.Transactions, n)
	assert.Equal(t, 1, c.Accounts)
}

func TestScheduledBackup(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	s, db, sp := setup(t, &NewOpts{Keep: 2})

	fill(t, db)

	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	s.now = func() time.Time { return now }

	// make modification times deterministic and older than any new file
	base := time.Unix(1_000_000, 0)

	f, err := s.CreateScheduledBackupIfDue(ctx)
	require.NoError(t, err)
	require.NotNil(t, f)
	require.NoError(t, os.Chtimes(f.Path, base, base))
	assert.Equal(t, "ledger_backup_20240506_070809.json", f.Name)
	assert.Equal(t, now.UnixMilli(), sp.Get().LastBackupTime)

	f, err = s.CreateScheduledBackupIfDue(ctx)
	require.NoError(t, err)
	assert.Nil(t, f, "next backup is not due yet")

	for i := 1; i <= 3; i++ {
		now = now.Add(25 * time.Hour)

		f, err = s.CreateScheduledBackup(ctx)
		require.NoError(t, err)

		mtime := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, os.Chtimes(f.Path, mtime, mtime))
	}

	files, err := s.GetAllBackups()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "ledger_backup_20240509_100809.json", files[0].Name)
	assert.Equal(t, "ledger_backup_20240508_090809.json", files[1].Name)

	require.NoError(t, sp.Update(func(st *state.State) { st.AutoBackupEnabled = pointer.ToBool(false) }))

	now = now.Add(30 * 24 * time.Hour)
	f, err = s.CreateScheduledBackupIfDue(ctx)
	require.NoError(t, err)
	assert.Nil(t, f, "automatic backups are disabled")
}

func TestRestoreFromLatestBackup(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	s, db, _ := setup(t, nil)

	err := s.RestoreFromLatestBackup(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	fill(t, db)

	old, err := s.CreateManualBackup(ctx, "old")
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(old.Path, time.Unix(1000, 0), time.Unix(1000, 0)))

	fill(t, db)

	_, err = s.CreateManualBackup(ctx, "new")
	require.NoError(t, err)

	require.NoError(t, ledger.NewDataset(testutil.Logger(t)).Clear(ctx, db))
	require.NoError(t, s.RestoreFromLatestBackup(ctx))
	assert.Equal(t, ledger.Counts{Accounts: 2, Categories: 2, Transactions: 2}, counts(t, db))
}

func TestRestoreWithinTransaction(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	s, db, _ := setup(t, nil)

	fill(t, db)

	f, err := s.CreateManualBackup(ctx, "one")
	require.NoError(t, err)

	fill(t, db)

	errOuter := errors.New("outer operation failed")

	err = s.coord.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.RestoreFromBackup(ctx, f.Name))
		return errOuter
	})
	require.ErrorIs(t, err, errOuter)

	assert.Equal(t, ledger.Counts{Accounts: 2, Categories: 2, Transactions: 2}, counts(t, db), "rolled back")
	assert.Equal(t, 0.0, promtest.ToFloat64(s.restored))

	err = s.coord.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		return s.RestoreFromBackup(ctx, f.Name)
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.Counts{Accounts: 1, Categories: 1, Transactions: 1}, counts(t, db))
	assert.Equal(t, 0.0, promtest.ToFloat64(s.restored))

	require.NoError(t, s.RestoreFromBackup(ctx, f.Name))
	assert.Equal(t, 1.0, promtest.ToFloat64(s.restored))
}

func TestDeleteBackupFile(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	s, _, _ := setup(t, nil)

	f, err := s.CreateManualBackup(ctx, "empty dataset")
	require.NoError(t, err)

	require.NoError(t, s.DeleteBackupFile(f.Name))

	_, err = os.Stat(f.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.ErrorIs(t, s.DeleteBackupFile(f.Path), ErrNotFound)

	files, err := s.GetAllBackups()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDir(t *testing.T) {
	t.Parallel()

	s, _, sp := setup(t, nil)
	def := s.Dir()

	custom := t.TempDir()
	require.NoError(t, sp.Update(func(st *state.State) { st.CustomBackupPath = custom }))
	assert.Equal(t, custom, s.Dir())

	uriDir := t.TempDir()
	require.NoError(t, sp.Update(func(st *state.State) { st.CustomBackupURI = "file://" + filepath.ToSlash(uriDir) }))
	assert.Equal(t, uriDir, s.Dir())

	require.NoError(t, sp.Update(func(st *state.State) {
		st.CustomBackupURI = "content://com.android.externalstorage.documents/tree/primary"
	}))
	assert.Equal(t, custom, s.Dir(), "unsupported URI is ignored")

	require.NoError(t, sp.Update(func(st *state.State) {
		st.CustomBackupURI = ""
		st.CustomBackupPath = ""
	}))
	assert.Equal(t, def, s.Dir())
}

func TestMissingDirectory(t *testing.T) {
	t.Parallel()

	s, _, _ := setup(t, &NewOpts{Dir: filepath.Join(t.TempDir(), "does", "not", "exist")})

	files, err := s.GetAllBackups()
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, s.CleanupOldBackups(0))
}
