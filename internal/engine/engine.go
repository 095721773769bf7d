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

// Package engine opens the embedded SQLite store and provides a typed PRAGMA surface.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // register database/sql driver

	"github.com/FerretDB/ledgerstore/internal/util/fsql"
	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
	"github.com/FerretDB/ledgerstore/internal/util/observability"
)

// filenameExtension represents SQLite database filename extension.
const filenameExtension = ".sqlite"

// DB is the opened store: a single shared writable connection.
type DB struct {
	*fsql.DB

	path   string
	memory bool
}

// OpenOpts represents [Open] options.
type OpenOpts struct {
	URI  string // SQLite directory URI, e.g. "file:data/"
	Name string // database name without extension
	L    *zap.Logger
}

// Open opens existing database or creates a new one.
//
// The returned pool is limited to a single connection,
// so per-connection PRAGMAs apply to every query.
func Open(ctx context.Context, opts *OpenOpts) (*DB, error) {
	defer observability.FuncCall(ctx)()

	if opts.Name == "" {
		opts.Name = "ledger"
	}

	uri, err := parseURI(opts.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SQLite URI %q: %s", opts.URI, err)
	}

	memory := uri.Query().Get("mode") == "memory"

	dbURI := *uri
	dbURI.Path = path.Join(dbURI.Path, opts.Name+filenameExtension)
	dbURI.Opaque = dbURI.Path

	l := opts.L.Named("engine")
	l.Debug("Opening database.", zap.String("name", opts.Name), zap.String("uri", dbURI.String()))

	sqlDB, err := sql.Open("sqlite", dbURI.String())
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	sqlDB.SetConnMaxIdleTime(0)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	if err = sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, lazyerrors.Error(err)
	}

	var version string
	if err = sqlDB.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		_ = sqlDB.Close()
		return nil, lazyerrors.Error(err)
	}

	var file string
	if !memory {
		file = filepath.Join(filepath.FromSlash(uri.Path), opts.Name+filenameExtension)
	}

	l.Info("Database opened.", zap.String("name", opts.Name), zap.String("file", file), zap.String("sqlite", version))

	return &DB{
		DB:     fsql.WrapDB(sqlDB, opts.Name, l),
		path:   file,
		memory: memory,
	}, nil
}

// Path returns the database file path, or empty string for in-memory database.
func (db *DB) Path() string {
	return db.path
}

// Memory returns true for in-memory database.
func (db *DB) Memory() bool {
	return db.memory
}

// WrapDB wraps an already opened [*sql.DB] with the given file path.
//
// It is used with other drivers and mocks; [Open] should be used otherwise.
func WrapDB(sqlDB *sql.DB, name, path string, l *zap.Logger) *DB {
	return &DB{
		DB:     fsql.WrapDB(sqlDB, name, l.Named("engine")),
		path:   path,
		memory: path == "",
	}
}
