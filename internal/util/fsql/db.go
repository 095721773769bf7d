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

// Package fsql provides [database/sql] utilities.
package fsql

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
	"github.com/FerretDB/ledgerstore/internal/util/observability"
	"github.com/FerretDB/ledgerstore/internal/util/resource"
)

// Querier is a common interface of [*DB] and [*Tx].
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps [*database/sql.DB] with tracing, metrics, logging, and resource tracking.
//
// It exposes the subset of *sql.DB methods we use.
type DB struct {
	*metricsCollector

	sqlDB *sql.DB
	l     *zap.Logger
	token *resource.Token
}

// WrapDB creates a new DB.
//
// Name is used for metric label values, etc.
// Logger (that will be named) is used for query logging.
func WrapDB(db *sql.DB, name string, l *zap.Logger) *DB {
	if db == nil {
		return nil
	}

	res := &DB{
		metricsCollector: newMetricsCollector(name, db.Stats),
		sqlDB:            db,
		l:                l.Named(name),
		token:            resource.NewToken(),
	}

	resource.Track(res, res.token)

	return res
}

// Close calls [*sql.DB.Close].
func (db *DB) Close() error {
	resource.Untrack(db, db.token)
	return db.sqlDB.Close()
}

// PingContext calls [*sql.DB.PingContext].
func (db *DB) PingContext(ctx context.Context) error {
	return db.sqlDB.PingContext(ctx)
}

// Stats calls [*sql.DB.Stats].
func (db *DB) Stats() sql.DBStats {
	return db.sqlDB.Stats()
}

// QueryContext calls [*sql.DB.QueryContext].
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer observability.FuncCall(ctx)()

	start := time.Now()
	logQuery(db.l, query, args)

	rows, err := db.sqlDB.QueryContext(ctx, query, args...)

	logResult(db.l, query, args, nil, start, err)

	return rows, err
}

// QueryRowContext calls [*sql.DB.QueryRowContext].
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	defer observability.FuncCall(ctx)()

	start := time.Now()
	logQuery(db.l, query, args)

	row := db.sqlDB.QueryRowContext(ctx, query, args...)

	logResult(db.l, query, args, nil, start, row.Err())

	return row
}

// ExecContext calls [*sql.DB.ExecContext].
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer observability.FuncCall(ctx)()

	start := time.Now()
	logQuery(db.l, query, args)

	res, err := db.sqlDB.ExecContext(ctx, query, args...)

	logResult(db.l, query, args, res, start, err)

	return res, err
}

// BeginTx calls [*sql.DB.BeginTx] and wraps the result.
//
// The caller must call Commit or Rollback.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	defer observability.FuncCall(ctx)()

	db.l.Debug(">>> BEGIN")

	sqlTx, err := db.sqlDB.BeginTx(ctx, opts)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return wrapTx(sqlTx, db.l), nil
}

// InTransaction wraps the given function f in a transaction.
//
// If f returns an error or context is canceled, the transaction is rolled back.
func (db *DB) InTransaction(ctx context.Context, f func(*Tx) error) (err error) {
	defer observability.FuncCall(ctx)()

	var tx *Tx

	if tx, err = db.BeginTx(ctx, nil); err != nil {
		return
	}

	var done bool

	defer func() {
		// checking a separate variable also handles panics and runtime.Goexit calls in f
		if done {
			return
		}

		if err == nil {
			err = lazyerrors.Errorf("transaction was not committed")
		}

		_ = tx.Rollback()
	}()

	if err = f(tx); err != nil {
		// do not wrap f's error because the caller depends on it in some cases
		return
	}

	if err = tx.Commit(); err != nil {
		err = lazyerrors.Error(err)
		return
	}

	done = true

	return
}

// logQuery logs the query before execution.
func logQuery(l *zap.Logger, query string, args []any) {
	if !l.Core().Enabled(zap.DebugLevel) {
		return
	}

	l.Sugar().With(zap.Any("args", args)).Debugf(">>> %s", query)
}

// logResult logs the query after execution.
func logResult(l *zap.Logger, query string, args []any, res sql.Result, start time.Time, err error) {
	if !l.Core().Enabled(zap.DebugLevel) {
		return
	}

	fields := []any{zap.Any("args", args)}

	if res != nil {
		ra, _ := res.RowsAffected()
		fields = append(fields, zap.Int64("rows", ra))
	}

	fields = append(fields, zap.Duration("time", time.Since(start)), zap.Error(err))
	l.Sugar().With(fields...).Debugf("<<< %s", query)
}

// check interfaces
var (
	_ prometheus.Collector = (*DB)(nil)
	_ Querier              = (*DB)(nil)
)
