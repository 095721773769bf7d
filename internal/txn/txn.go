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

// Package txn provides TransactionCoordinator: nested units of work over a single real transaction.
//
// Only the outermost call begins and ends the engine transaction; nested calls run inline.
// Nesting is tracked by the context passed to the operation, never by goroutine identity.
// Operations must access the store only through [Coordinator.Querier]
// with the context they received.
package txn

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/FerretDB/ledgerstore/internal/connmgr"
	"github.com/FerretDB/ledgerstore/internal/util/fsql"
	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
	"github.com/FerretDB/ledgerstore/internal/util/observability"
)

// ErrRollbackOnly is returned when the outermost operation succeeded,
// but one of the nested operations failed, so the whole transaction was rolled back.
var ErrRollbackOnly = errors.New("transaction is marked rollback-only by a failed nested operation")

// Op is a unit of work.
//
// It should use [Coordinator.Querier] with the given context for all store access.
type Op func(ctx context.Context) error

// Operation names passed to [ErrorHandler].
const (
	opExecuteInTransaction = "executeInTransaction"
	opExecuteWrite         = "executeWrite"
	opExecuteBatch         = "executeBatch"
	opExecuteBatchWrite    = "executeBatchWrite"
	opExecuteReadOnly      = "executeReadOnly"
)

// contextKey is a named unexported type for the safe use of [context.WithValue].
type contextKey struct{}

// txState is a state of one nesting tree.
type txState struct {
	c *Coordinator

	m            sync.Mutex
	level        int
	success      bool
	rollbackOnly bool
	tx           *fsql.Tx
}

// Coordinator is the TransactionCoordinator.
type Coordinator struct {
	cm *connmgr.Manager
	eh ErrorHandler
	l  *zap.Logger

	*metricsCollector
}

// NewOpts represents [New] options.
type NewOpts struct {
	ConnectionManager *connmgr.Manager
	ErrorHandler      ErrorHandler // LogErrorHandler if nil
	L                 *zap.Logger
}

// New creates a new Coordinator.
func New(opts *NewOpts) (*Coordinator, error) {
	if opts.ConnectionManager == nil {
		return nil, lazyerrors.New("ConnectionManager is nil")
	}

	l := opts.L.Named("txn")

	eh := opts.ErrorHandler
	if eh == nil {
		eh = NewLogErrorHandler(l)
	}

	return &Coordinator{
		cm:               opts.ConnectionManager,
		eh:               eh,
		l:                l,
		metricsCollector: newMetricsCollector(),
	}, nil
}

// state returns the active nesting tree state of this coordinator, or nil.
func (c *Coordinator) state(ctx context.Context) *txState {
	st, _ := ctx.Value(contextKey{}).(*txState)
	if st == nil || st.c != c {
		return nil
	}

	st.m.Lock()
	defer st.m.Unlock()

	if st.level == 0 {
		return nil
	}

	return st
}

// ExecuteInTransaction runs op inside a transaction.
//
// If ctx does not carry an active transaction, a connection is acquired and a new transaction is started;
// it is committed if op returns nil and no nested operation failed, and rolled back otherwise.
// If ctx carries an active transaction, op runs inline within it.
func (c *Coordinator) ExecuteInTransaction(ctx context.Context, op Op) error {
	return c.execute(ctx, opExecuteInTransaction, op)
}

// ExecuteWrite runs a mutating op inside a transaction.
//
// Success is implied by op returning nil; [Coordinator.SetTransactionSuccessful] is optional.
func (c *Coordinator) ExecuteWrite(ctx context.Context, op Op) error {
	return c.execute(ctx, opExecuteWrite, op)
}

// ExecuteBatch runs all ops inside one transaction.
//
// The first failed operation aborts the batch and rolls back everything applied by the transaction.
func (c *Coordinator) ExecuteBatch(ctx context.Context, ops []Op) error {
	return c.execute(ctx, opExecuteBatch, batchOp(ops))
}

// ExecuteBatchWrite is [Coordinator.ExecuteBatch] for mutating operations.
func (c *Coordinator) ExecuteBatchWrite(ctx context.Context, ops []Op) error {
	return c.execute(ctx, opExecuteBatchWrite, batchOp(ops))
}

// ExecuteReadOnly runs op with an acquired connection, but without opening a transaction.
//
// Inside an active transaction, op sees uncommitted changes of that transaction.
func (c *Coordinator) ExecuteReadOnly(ctx context.Context, op Op) error {
	defer observability.FuncCall(ctx)()

	h := c.cm.GetConnection(ctx)
	defer c.cm.ReleaseConnection(h)

	err := op(ctx)
	if err != nil {
		c.handleError(ctx, err, opExecuteReadOnly)
	}

	return err
}

// SetTransactionSuccessful marks the active transaction as successful.
//
// Outside of a transaction it logs a warning and does nothing.
// It does not override failures of nested operations.
func (c *Coordinator) SetTransactionSuccessful(ctx context.Context) {
	st := c.state(ctx)
	if st == nil {
		c.l.Warn("SetTransactionSuccessful called outside of a transaction.")
		return
	}

	st.m.Lock()
	st.success = true
	st.m.Unlock()
}

// IsInTransaction returns true if ctx carries an active transaction.
func (c *Coordinator) IsInTransaction(ctx context.Context) bool {
	return c.state(ctx) != nil
}

// GetTransactionNestingLevel returns the nesting level of the active transaction, or 0.
func (c *Coordinator) GetTransactionNestingLevel(ctx context.Context) int {
	st := c.state(ctx)
	if st == nil {
		return 0
	}

	st.m.Lock()
	defer st.m.Unlock()

	return st.level
}

// Querier returns the active transaction, or the shared store handle outside of a transaction.
func (c *Coordinator) Querier(ctx context.Context) fsql.Querier {
	if st := c.state(ctx); st != nil {
		return st.tx
	}

	return c.cm.DB()
}

// execute implements all transactional Execute methods.
func (c *Coordinator) execute(ctx context.Context, operation string, op Op) error {
	if st := c.state(ctx); st != nil {
		return c.executeNested(ctx, st, op)
	}

	err := c.executeOutermost(ctx, operation, op)
	if err != nil {
		c.handleError(ctx, err, operation)
	}

	return err
}

// executeNested runs op inline within the active transaction.
func (c *Coordinator) executeNested(ctx context.Context, st *txState, op Op) (err error) {
	st.m.Lock()
	st.level++
	st.m.Unlock()

	var done bool

	defer func() {
		st.m.Lock()
		defer st.m.Unlock()

		st.level--

		// handles panics and runtime.Goexit calls in op
		if !done || err != nil {
			st.rollbackOnly = true
		}
	}()

	err = op(ctx)
	done = true

	return
}

// executeOutermost begins, runs, and ends a real transaction.
func (c *Coordinator) executeOutermost(ctx context.Context, operation string, op Op) (err error) {
	defer observability.FuncCall(ctx)()

	ctx, span := observability.Tracer().Start(ctx, operation, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	h := c.cm.GetConnection(ctx)
	defer c.cm.ReleaseConnection(h)

	tx, err := h.BeginTx(ctx, nil)
	if err != nil {
		c.rollbacks.Inc()
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	st := &txState{
		c:     c,
		level: 1,
		tx:    tx,
	}

	var done bool

	defer func() {
		st.m.Lock()
		st.level = 0
		st.m.Unlock()

		// handles panics and runtime.Goexit calls in op
		if done {
			return
		}

		_ = tx.Rollback()
		c.rollbacks.Inc()

		if err == nil {
			err = lazyerrors.Errorf("transaction was not committed")
		}
	}()

	opErr := op(context.WithValue(ctx, contextKey{}, st))

	st.m.Lock()
	st.level = 0

	if opErr == nil {
		st.success = true
	}

	commit := st.success && !st.rollbackOnly && opErr == nil
	rollbackOnly := st.rollbackOnly
	st.m.Unlock()

	done = true

	if !commit {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.l.Warn("Rollback failed.", zap.Error(rbErr))
		}

		c.rollbacks.Inc()

		err = opErr
		if err == nil && rollbackOnly {
			err = ErrRollbackOnly
		}

		span.SetStatus(codes.Error, err.Error())

		return
	}

	if err = tx.Commit(); err != nil {
		c.rollbacks.Inc()
		span.SetStatus(codes.Error, err.Error())

		return lazyerrors.Error(err)
	}

	c.commits.Inc()

	c.checkpoint(ctx, h)

	return nil
}

// checkpoint merges the write-ahead log into the main store file.
//
// Failures are only logged.
func (c *Coordinator) checkpoint(ctx context.Context, h *connmgr.Handle) {
	var busy, log, checkpointed int64

	err := h.QueryRowContext(ctx, "PRAGMA wal_checkpoint(FULL)").Scan(&busy, &log, &checkpointed)
	if err != nil {
		c.l.Warn("Checkpoint failed.", zap.Error(err))
		return
	}

	c.l.Debug(
		"Checkpoint done.",
		zap.Int64("busy", busy), zap.Int64("log", log), zap.Int64("checkpointed", checkpointed),
	)
}

// handleError forwards the error to the error handler and counts it.
func (c *Coordinator) handleError(ctx context.Context, err error, operation string) {
	c.errors.WithLabelValues(operation).Inc()
	c.eh.HandleDatabaseError(ctx, err, operation)
}

// batchOp returns an operation that runs all ops sequentially, stopping at the first failure.
func batchOp(ops []Op) Op {
	return func(ctx context.Context) error {
		for i, op := range ops {
			if err := op(ctx); err != nil {
				return lazyerrors.Errorf("batch operation %d: %w", i, err)
			}
		}

		return nil
	}
}
