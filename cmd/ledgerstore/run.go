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
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FerretDB/ledgerstore/build/version"
	"github.com/FerretDB/ledgerstore/internal/util/ctxutil"
	"github.com/FerretDB/ledgerstore/internal/util/debug"
	"github.com/FerretDB/ledgerstore/internal/util/debugbuild"
)

// runCmd runs ledgerstore until terminated.
type runCmd struct {
	BackupCheckInterval time.Duration `default:"1h" help:"How often to check whether a scheduled backup is due."`
	NoMonitoring        bool          `help:"Do not write a performance report on start."`
}

// Run implements the command.
func (c *runCmd) Run(e *env) error {
	app, cleanup, err := e.app()
	if err != nil {
		return err
	}
	defer cleanup()

	l := e.l
	info := version.Get()

	l.Info(
		"Starting ledgerstore "+info.Version+"...",
		zap.String("version", info.Version),
		zap.String("commit", info.Commit),
		zap.String("branch", info.Branch),
		zap.Bool("dirty", info.Dirty),
		zap.Bool("debugBuild", info.DebugBuild),
		zap.Any("buildEnvironment", info.BuildEnvironment),
		zap.String("uuid", e.sp.Get().UUID),
	)

	if debugbuild.Enabled {
		l.Info("This is debug build. The performance will be affected.")
	}

	var wg sync.WaitGroup

	started := make(chan struct{})

	// https://github.com/alecthomas/kong/issues/389
	if addr := e.cfg.DebugAddr; addr != "" && addr != "-" {
		h, err := debug.Listen(&debug.ListenOpts{
			TCPAddr: addr,
			L:       l,
			R:       app.Registry,
			G:       app.Registry,
			Started: started,
		})
		if err != nil {
			l.Error("Failed to start debug handler.", zap.Error(err))
		} else {
			wg.Add(1)

			go func() {
				defer wg.Done()
				h.Serve(e.ctx)
			}()
		}
	}

	close(started)

	if !c.NoMonitoring {
		app.Monitor.StartMonitoring(e.ctx)
	}

	wg.Add(1)

	go func() {
		defer wg.Done()
		runScheduledBackups(e.ctx, c.BackupCheckInterval, e.l, func() bool {
			return app.Pool.Submit("scheduled-backup", func(ctx context.Context) error {
				_, err := app.Backup.CreateScheduledBackupIfDue(ctx)
				return err
			})
		})
	}()

	<-e.ctx.Done()
	l.Info("Stopping...")

	wg.Wait()
	app.Pool.Wait()

	if info.DebugBuild {
		dumpMetrics(app.Registry)
	}

	return nil
}

// runScheduledBackups calls submit immediately and then every interval until ctx is canceled.
func runScheduledBackups(ctx context.Context, interval time.Duration, l *zap.Logger, submit func() bool) {
	for {
		if !submit() {
			l.Warn("Failed to submit scheduled backup check.")
		}

		if !ctxutil.Sleep(ctx, interval) {
			return
		}
	}
}
