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
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/FerretDB/ledgerstore/build/version"
	"github.com/FerretDB/ledgerstore/internal/config"
)

// backupCmd creates a manual backup.
type backupCmd struct {
	Name string `arg:"" optional:"" help:"Backup file name; generated if empty."`
}

// Run implements the command.
func (c *backupCmd) Run(e *env) error {
	app, cleanup, err := e.app()
	if err != nil {
		return err
	}
	defer cleanup()

	f, err := app.Backup.CreateManualBackup(e.ctx, c.Name)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(e.out, f.Path)

	return err
}

// scheduledBackupCmd creates a scheduled backup.
type scheduledBackupCmd struct {
	IfDue bool `help:"Skip if automatic backups are disabled or the interval has not passed yet."`
}

// Run implements the command.
func (c *scheduledBackupCmd) Run(e *env) error {
	app, cleanup, err := e.app()
	if err != nil {
		return err
	}
	defer cleanup()

	if c.IfDue {
		f, err := app.Backup.CreateScheduledBackupIfDue(e.ctx)
		if err != nil || f == nil {
			return err
		}

		_, err = fmt.Fprintln(e.out, f.Path)

		return err
	}

	f, err := app.Backup.CreateScheduledBackup(e.ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(e.out, f.Path)

	return err
}

// restoreCmd restores a backup.
type restoreCmd struct {
	File   string `arg:"" optional:"" help:"Backup file path or name in the backup directory."`
	Latest bool   `help:"Restore the most recently modified backup."`
}

// Validate is called by kong after parsing.
func (c *restoreCmd) Validate() error {
	if (c.File == "") == !c.Latest {
		return errors.New("exactly one of <file> and --latest is required")
	}

	return nil
}

// Run implements the command.
func (c *restoreCmd) Run(e *env) error {
	app, cleanup, err := e.app()
	if err != nil {
		return err
	}
	defer cleanup()

	if c.Latest {
		return app.Backup.RestoreFromLatestBackup(e.ctx)
	}

	return app.Backup.RestoreFromBackup(e.ctx, c.File)
}

// validateCmd validates a backup.
type validateCmd struct {
	File string `arg:"" help:"Backup file path or name in the backup directory."`
}

// Run implements the command.
func (c *validateCmd) Run(e *env) error {
	app, cleanup, err := e.app()
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := app.Backup.ValidateBackupFile(e.ctx, c.File)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "accounts:\t%d\n", s.AccountCount)
	fmt.Fprintf(w, "categories:\t%d\n", s.CategoryCount)
	fmt.Fprintf(w, "transactions:\t%d\n", s.TransactionCount)
	fmt.Fprintf(w, "budgets:\t%d\n", s.BudgetCount)
	fmt.Fprintf(w, "version:\t%s\n", s.Version)

	if !s.ExportTime.IsZero() {
		fmt.Fprintf(w, "exported:\t%s\n", s.ExportTime.Format(time.RFC3339))
	}

	return w.Flush()
}

// listCmd lists backups.
type listCmd struct{}

// Run implements the command.
func (c *listCmd) Run(e *env) error {
	app, cleanup, err := e.app()
	if err != nil {
		return err
	}
	defer cleanup()

	files, err := app.Backup.GetAllBackups()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)

	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.ModTime.Format(time.DateTime), humanize.IBytes(uint64(f.Size)), f.Name)
	}

	return w.Flush()
}

// cleanupCmd applies the retention policy.
type cleanupCmd struct {
	Keep int `default:"-1" help:"Number of files to keep; configured value if negative."`
}

// Run implements the command.
func (c *cleanupCmd) Run(e *env) error {
	app, cleanup, err := e.app()
	if err != nil {
		return err
	}
	defer cleanup()

	keep := c.Keep
	if keep < 0 {
		keep = e.cfg.Backup.Keep
	}

	return app.Backup.CleanupOldBackups(keep)
}

// deleteCmd removes a backup.
type deleteCmd struct {
	File string `arg:"" help:"Backup file path or name in the backup directory."`
}

// Run implements the command.
func (c *deleteCmd) Run(e *env) error {
	app, cleanup, err := e.app()
	if err != nil {
		return err
	}
	defer cleanup()

	return app.Backup.DeleteBackupFile(c.File)
}

// reportCmd writes a performance report.
type reportCmd struct {
	Stdout bool `help:"Write the report to stdout instead of a file."`
}

// Run implements the command.
func (c *reportCmd) Run(e *env) error {
	app, cleanup, err := e.app()
	if err != nil {
		return err
	}
	defer cleanup()

	if c.Stdout {
		_, err = app.Monitor.CollectPerformanceMetrics(e.ctx).WriteTo(e.out)
		return err
	}

	path, err := app.Monitor.GeneratePerformanceReport(e.ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(e.out, path)

	return err
}

// showConfigCmd prints configuration.
type showConfigCmd struct {
	Env bool `help:"Print supported environment variables instead."`
}

// Run implements the command.
func (c *showConfigCmd) Run(e *env) error {
	if c.Env {
		return config.Usage(e.out)
	}

	return config.Dump(e.out, e.cfg)
}

// versionCmd prints version.
type versionCmd struct{}

// Run implements the command.
func (c *versionCmd) Run(e *env) error {
	info := version.Get()

	fmt.Fprintln(e.out, "version:", info.Version)
	fmt.Fprintln(e.out, "commit:", info.Commit)
	fmt.Fprintln(e.out, "branch:", info.Branch)
	fmt.Fprintln(e.out, "dirty:", info.Dirty)
	_, err := fmt.Fprintln(e.out, "debugBuild:", info.DebugBuild)

	return err
}
