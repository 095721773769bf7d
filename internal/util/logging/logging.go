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

// Package logging provides logging helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/FerretDB/ledgerstore/internal/util/debugbuild"
)

// RecentEntries stores the most recent log entries in memory.
var RecentEntries = NewEntryRing(1024)

// FileOpts configures rotated log file output.
//
// Zero value means logging to stderr.
type FileOpts struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Setup initializes global logging with a given level and format ("console" or "json").
//
// If uuid is not empty, it is added to all messages.
func Setup(level zapcore.Level, format, uuid string, file FileOpts) error {
	logger, err := New(level, format, uuid, file)
	if err != nil {
		return err
	}

	zap.ReplaceGlobals(logger)

	if _, err = zap.RedirectStdLogAt(logger, zap.InfoLevel); err != nil {
		return err
	}

	return nil
}

// New creates a new logger with a given level and format.
func New(level zapcore.Level, format, uuid string, file FileOpts) (*zap.Logger, error) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder

	switch format {
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}

	ws, err := writeSyncer(file)
	if err != nil {
		return nil, err
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
		zap.Hooks(func(entry zapcore.Entry) error {
			RecentEntries.add(entry)
			return nil
		}),
	}

	if debugbuild.Enabled {
		opts = append(opts, zap.Development())
	}

	if uuid != "" {
		opts = append(opts, zap.Fields(zap.String("uuid", uuid)))
	}

	core := zapcore.NewCore(encoder, ws, zap.NewAtomicLevelAt(level))

	return zap.New(core, opts...), nil
}

// writeSyncer returns stderr, or a rotating file writer if file path is set.
func writeSyncer(file FileOpts) (zapcore.WriteSyncer, error) {
	if file.Path == "" {
		return zapcore.Lock(os.Stderr), nil
	}

	if err := os.MkdirAll(filepath.Dir(file.Path), 0o777); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	lj := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
	}

	return zapcore.AddSync(lj), nil
}
