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

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/ledgerstore/internal/util/testutil"
)

// parse parses the given arguments into the global cli struct.
func parse(t *testing.T, args ...string) (*kong.Context, error) {
	t.Helper()

	parser, err := kong.New(&cli, append(kongOptions, kong.Exit(func(int) { t.Fatal("unexpected exit") }))...)
	require.NoError(t, err)

	return parser.Parse(args)
}

// setEnv points all directories to a temporary directory.
func setEnv(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	t.Setenv("LEDGERSTORE_SQLITE_URL", "file:"+filepath.ToSlash(dir)+"/data/")
	t.Setenv("LEDGERSTORE_STATE_DIR", dir)
	t.Setenv("LEDGERSTORE_BACKUP_DIR", filepath.Join(dir, "backups"))
	t.Setenv("LEDGERSTORE_REPORTS_DIR", filepath.Join(dir, "reports"))
	t.Setenv("LEDGERSTORE_LOG_LEVEL", "error")

	return dir
}

func TestParse(t *testing.T) {
	kctx, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, "run", kctx.Command())
	assert.Equal(t, time.Hour, cli.Run.BackupCheckInterval)

	kctx, err = parse(t, "backup", "我的备份 #1")
	require.NoError(t, err)
	assert.Equal(t, "backup <name>", kctx.Command())
	assert.Equal(t, "我的备份 #1", cli.Backup.Name)

	_, err = parse(t, "restore", "--latest")
	require.NoError(t, err)
	assert.True(t, cli.Restore.Latest)

	_, err = parse(t, "restore")
	assert.Error(t, err)

	_, err = parse(t, "restore", "a.json", "--latest")
	assert.Error(t, err)

	_, err = parse(t, "cleanup", "--keep", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, cli.Cleanup.Keep)

	_, err = parse(t, "--log-level", "trace", "version")
	assert.Error(t, err)
}

func TestStoreless(t *testing.T) {
	dir := setEnv(t)

	kctx, err := parse(t, "config")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, run(kctx, &out))
	assert.Contains(t, out.String(), "sqliteURL: file:")
	assert.NoFileExists(t, filepath.Join(dir, "state.json"))

	kctx, err = parse(t, "version")
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, run(kctx, &out))
	assert.Contains(t, out.String(), "version: v")
}

func TestBackupCommands(t *testing.T) {
	dir := setEnv(t)

	exec := func(args ...string) string {
		t.Helper()

		kctx, err := parse(t, args...)
		require.NoError(t, err)

		var out bytes.Buffer
		require.NoError(t, run(kctx, &out), "%v", args)

		return out.String()
	}

	path := strings.TrimSpace(exec("backup", "first"))
	assert.Equal(t, filepath.Join(dir, "backups", "first.json"), path)
	assert.FileExists(t, filepath.Join(dir, "state.json"))

	exec("scheduled-backup")

	out := exec("validate", "first.json")
	assert.Contains(t, out, "accounts:")

	out = exec("list")
	assert.Equal(t, 2, strings.Count(out, "\n"), out)

	exec("restore", "first.json")
	exec("restore", "--latest")

	exec("cleanup", "--keep", "1")
	assert.Equal(t, 1, strings.Count(exec("list"), "\n"))

	exec("backup", "second")
	exec("delete", "second.json")

	out = exec("report", "--stdout")
	assert.Contains(t, out, "transactions")

	path = strings.TrimSpace(exec("report"))
	assert.Equal(t, filepath.Join(dir, "reports"), filepath.Dir(path))
}

func TestAppInitialized(t *testing.T) {
	setEnv(t)
	t.Setenv("LEDGERSTORE_ENGINE_SYNCHRONOUS", "EXTRA")

	_, err := parse(t, "restore", "--latest")
	require.NoError(t, err)

	cfg, err := loadConfig()
	require.NoError(t, err)

	sp, err := setupState(cfg)
	require.NoError(t, err)

	e := &env{ctx: testutil.Ctx(t), cfg: cfg, sp: sp, l: testutil.Logger(t), out: new(bytes.Buffer)}

	app, cleanup, err := e.app()
	require.NoError(t, err)
	t.Cleanup(cleanup)

	config := app.ConnectionManager.GetDatabaseConfig()
	assert.Equal(t, "EXTRA", config["synchronous"])
	assert.Equal(t, int64(3), config["synchronous_value"])
}

func TestRunScheduledBackups(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(testutil.Ctx(t))

	var calls atomic.Int32

	done := make(chan struct{})

	go func() {
		defer close(done)

		runScheduledBackups(ctx, time.Millisecond, testutil.Logger(t), func() bool {
			if calls.Add(1) == 3 {
				cancel()
			}

			return false
		})
	}()

	<-done
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}
