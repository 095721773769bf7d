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

package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/ledgerstore/internal/util/testutil"
)

func TestPoolLogging(t *testing.T) {
	t.Parallel()

	l, logs := testutil.ObservedLogger(t)

	p := NewPool(testutil.Ctx(t), 1, l)
	t.Cleanup(p.Close)

	require.True(t, p.Submit("report", func(ctx context.Context) error {
		return errors.New("disk full")
	}))
	p.Wait()

	failed := logs.FilterMessage("Task failed.").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "worker", failed[0].LoggerName)
	assert.Equal(t, "report", failed[0].ContextMap()["task"])
}

func TestPool(t *testing.T) {
	t.Parallel()

	t.Run("Bound", func(t *testing.T) {
		t.Parallel()

		p := NewPool(testutil.Ctx(t), 2, testutil.Logger(t))
		t.Cleanup(p.Close)

		var running, peak atomic.Int32

		for i := 0; i < 10; i++ {
			require.True(t, p.Submit("task", func(ctx context.Context) error {
				n := running.Add(1)
				defer running.Add(-1)

				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}

				time.Sleep(10 * time.Millisecond)

				return nil
			}))
		}

		p.Wait()

		assert.LessOrEqual(t, peak.Load(), int32(2))
		assert.Zero(t, running.Load())
	})

	t.Run("NonBlocking", func(t *testing.T) {
		t.Parallel()

		p := NewPool(testutil.Ctx(t), 1, testutil.Logger(t))
		t.Cleanup(p.Close)

		release := make(chan struct{})

		start := time.Now()

		for i := 0; i < 3; i++ {
			p.Submit("blocked", func(ctx context.Context) error {
				<-release
				return errors.New("expected failure")
			})
		}

		assert.Less(t, time.Since(start), time.Second)

		close(release)
		p.Wait()
	})

	t.Run("Close", func(t *testing.T) {
		t.Parallel()

		p := NewPool(testutil.Ctx(t), 1, testutil.Logger(t))

		var canceled atomic.Bool
		started := make(chan struct{})

		p.Submit("long", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			canceled.Store(true)

			return ctx.Err()
		})

		<-started

		p.Close()
		p.Close()

		assert.True(t, canceled.Load())
		assert.False(t, p.Submit("late", func(context.Context) error { return nil }))
	})
}
