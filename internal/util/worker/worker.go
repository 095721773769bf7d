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

// Package worker provides a bounded pool for background I/O-bound tasks.
package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Pool runs submitted tasks in background goroutines,
// with at most size of them running at once.
//
// Submitting never blocks the caller.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	l      *zap.Logger
	wg     sync.WaitGroup

	rw     sync.RWMutex
	closed bool
}

// NewPool creates a new pool bound to the given context.
//
// Canceling ctx cancels contexts of all running tasks.
func NewPool(ctx context.Context, size int, l *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(size)),
		l:      l.Named("worker"),
	}
}

// Submit schedules the given task and returns immediately.
//
// Errors returned by the task are logged.
// It returns false if the pool is closed.
func (p *Pool) Submit(name string, task func(ctx context.Context) error) bool {
	p.rw.RLock()
	defer p.rw.RUnlock()

	if p.closed {
		p.l.Warn("Task submitted to a closed pool.", zap.String("task", name))
		return false
	}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.l.Debug("Task canceled before start.", zap.String("task", name))
			return
		}
		defer p.sem.Release(1)

		p.l.Debug("Task started.", zap.String("task", name))

		err := task(p.ctx)

		switch {
		case err == nil:
			p.l.Debug("Task finished.", zap.String("task", name))
		case errors.Is(err, context.Canceled):
			p.l.Debug("Task canceled.", zap.String("task", name), zap.Error(err))
		default:
			p.l.Error("Task failed.", zap.String("task", name), zap.Error(err))
		}
	}()

	return true
}

// Wait waits for all submitted tasks to finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close cancels all tasks and waits for them to finish.
//
// It is safe to call Close multiple times.
func (p *Pool) Close() {
	p.rw.Lock()
	p.closed = true
	p.rw.Unlock()

	p.cancel()
	p.wg.Wait()
}
