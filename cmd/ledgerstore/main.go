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

// Package main contains the ledgerstore command.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/FerretDB/ledgerstore/build/version"
	"github.com/FerretDB/ledgerstore/internal/config"
	"github.com/FerretDB/ledgerstore/internal/di"
	"github.com/FerretDB/ledgerstore/internal/util/ctxutil"
	"github.com/FerretDB/ledgerstore/internal/util/debugbuild"
	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
	"github.com/FerretDB/ledgerstore/internal/util/logging"
	"github.com/FerretDB/ledgerstore/internal/util/must"
	"github.com/FerretDB/ledgerstore/internal/util/observability"
	"github.com/FerretDB/ledgerstore/internal/util/state"
)

// The cli struct represents all command-line commands, fields and flags.
// It's used for parsing the user input.
//
//nolint:lll // some tags are long
var cli struct {
	ConfigFile string `name:"config" help:"YAML configuration file." placeholder:"PATH" type:"path"`

	Log struct {
		Level  string `default:""      help:"${help_log_level}"  enum:"${enum_log_level}"`
		Format string `default:""      help:"${help_log_format}" enum:"${enum_log_format}"`
		UUID   bool   `default:"false" help:"Add instance UUID to all log messages." negatable:""`
	} `embed:"" prefix:"log-"`

	Run             runCmd             `cmd:"" default:"1" help:"Initialize the store and run background monitoring until terminated."`
	Backup          backupCmd          `cmd:""            help:"Create a manual backup."`
	ScheduledBackup scheduledBackupCmd `cmd:""            help:"Create a scheduled backup and apply the retention policy."`
	Restore         restoreCmd         `cmd:""            help:"Replace all data with the content of a backup file."`
	Validate        validateCmd        `cmd:""            help:"Check a backup file without applying it."`
	List            listCmd            `cmd:""            help:"List backup files, newest first."`
	Cleanup         cleanupCmd         `cmd:""            help:"Remove all but the most recent backup files."`
	Delete          deleteCmd          `cmd:""            help:"Remove a single backup file."`
	Report          reportCmd          `cmd:""            help:"Write a performance report."`
	ShowConfig      showConfigCmd      `cmd:"" name:"config" help:"Print the effective configuration."`
	Version         versionCmd         `cmd:""            help:"Print version."`
}

// Additional variables for the kong parsers.
var (
	logLevels = []string{
		"", // use configuration
		zap.DebugLevel.String(),
		zap.InfoLevel.String(),
		zap.WarnLevel.String(),
		zap.ErrorLevel.String(),
	}

	logFormats = []string{"", "console", "json"}

	kongOptions = []kong.Option{
		kong.Vars{
			"enum_log_format": strings.Join(logFormats, ","),
			"enum_log_level":  strings.Join(logLevels, ","),

			"help_log_format": fmt.Sprintf("Log format: '%s'.", strings.Join(logFormats[1:], "', '")),
			"help_log_level":  fmt.Sprintf("Log level: '%s'.", strings.Join(logLevels[1:], "', '")),
		},
		kong.DefaultEnvars("LEDGERSTORE"),
		kong.UsageOnError(),
	}
)

// env is passed to commands' Run methods.
type env struct {
	ctx context.Context
	cfg *config.Config
	sp  *state.Provider // nil for commands that do not use the store
	l   *zap.Logger
	out io.Writer
}

// app builds all components.
func (e *env) app() (*di.App, func(), error) {
	return di.InitializeApp(e.ctx, e.cfg, e.sp, e.l)
}

// storeless contains commands that do not open the store and do not touch the state directory.
var storeless = map[string]struct{}{
	"config":  {},
	"version": {},
}

func main() {
	kctx := kong.Parse(&cli, kongOptions...)
	kctx.FatalIfErrorf(run(kctx, os.Stdout))
}

// loadConfig loads configuration and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return nil, err
	}

	if cli.Log.Level != "" {
		cfg.Log.Level = cli.Log.Level
	}

	if cli.Log.Format != "" {
		cfg.Log.Format = cli.Log.Format
	}

	return cfg, nil
}

// setupState setups state provider.
func setupState(cfg *config.Config) (*state.Provider, error) {
	dir, err := filepath.Abs(cfg.StateDir)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	cfg.StateDir = dir

	return di.ProvideState(cfg)
}

// setupLogger setups zap logger.
func setupLogger(cfg *config.Config, sp *state.Provider) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if debugbuild.Enabled && cli.Log.Level == "" {
		level = zap.DebugLevel
	}

	var uuid string
	if cli.Log.UUID && sp != nil {
		uuid = sp.Get().UUID
	}

	err = logging.Setup(level, cfg.Log.Format, uuid, logging.FileOpts{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return zap.L(), nil
}

// dumpMetrics dumps all Prometheus metrics to stderr.
func dumpMetrics(g prometheus.Gatherer) {
	mfs := must.NotFail(g.Gather())

	for _, mf := range mfs {
		must.NotFail(expfmt.MetricFamilyToText(os.Stderr, mf))
	}
}

// run sets up environment based on provided flags and runs the selected command.
func run(kctx *kong.Context, out io.Writer) error {
	// to increase a chance of resource finalizers to spot problems
	if debugbuild.Enabled {
		defer func() {
			runtime.GC()
			runtime.GC()
		}()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var sp *state.Provider

	if _, ok := storeless[strings.Fields(kctx.Command())[0]]; !ok {
		if sp, err = setupState(cfg); err != nil {
			return err
		}
	}

	l, err := setupLogger(cfg, sp)
	if err != nil {
		return err
	}

	defer l.Sync() //nolint:errcheck // stderr sync fails on some platforms

	if _, err = maxprocs.Set(maxprocs.Logger(l.Sugar().Debugf)); err != nil {
		l.Warn("Failed to set GOMAXPROCS.", zap.Error(err))
	}

	ctx, stop := ctxutil.SigTerm(context.Background())
	defer stop()

	shutdownOtel, err := observability.SetupOtel(ctx, "ledgerstore", cfg.OTLPEndpoint)
	if err != nil {
		return lazyerrors.Error(err)
	}

	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := shutdownOtel(sctx); err != nil {
			l.Warn("Failed to shut down tracing.", zap.Error(err))
		}
	}()

	info := version.Get()
	l.Debug(
		"Starting ledgerstore "+info.Version+".",
		zap.String("command", kctx.Command()), zap.String("commit", info.Commit),
		zap.Bool("debugBuild", info.DebugBuild),
	)

	return kctx.Run(&env{
		ctx: ctx,
		cfg: cfg,
		sp:  sp,
		l:   l,
		out: out,
	})
}
