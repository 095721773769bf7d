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

package connmgr

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// runReaper removes stale usage records every check interval until ctx is canceled.
func (m *Manager) runReaper(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	t := time.NewTicker(m.checkInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			m.l.Debug("Idle reaper stopped.")
			return

		case <-t.C:
			removed := m.reapIdle()

			stats := m.GetConnectionStats()
			m.l.Debug(
				"Connection status.",
				zap.Int64("active", stats.Active), zap.Int("tracked", stats.Tracked),
				zap.Int("max", stats.Max), zap.Int("removed", removed),
			)
		}
	}
}

// reapIdle removes usage records older than the idle timeout and returns their number.
//
// It never closes the shared handle.
func (m *Manager) reapIdle() int {
	now := m.now()

	m.rw.Lock()
	defer m.rw.Unlock()

	var removed int

	for id, lastUsed := range m.usage {
		if now.Sub(lastUsed) > m.idleTimeout {
			delete(m.usage, id)
			removed++
		}
	}

	return removed
}
