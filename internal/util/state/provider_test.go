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

package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider(t *testing.T) {
	t.Parallel()

	t.Run("Get", func(t *testing.T) {
		t.Parallel()

		filename := filepath.Join(t.TempDir(), "state.json")
		p1, err := NewProvider(filename)
		require.NoError(t, err)

		s1 := p1.Get()
		assert.NotZero(t, s1.UUID)

		s2 := p1.Get()
		assert.Equal(t, s1, s2)
		assert.NotSame(t, s1, s2)

		p2, err := NewProvider(filename)
		require.NoError(t, err)
		assert.Equal(t, s1, p2.Get())

		require.NoError(t, os.Remove(filename))

		p3, err := NewProvider(filename)
		require.NoError(t, err)

		// after removing state file UUID should be different
		s4 := p3.Get()
		assert.NotZero(t, s4.UUID)
		assert.NotEqual(t, s1.UUID, s4.UUID)
	})

	t.Run("Corrupted", func(t *testing.T) {
		t.Parallel()

		filename := filepath.Join(t.TempDir(), "state.json")
		require.NoError(t, os.WriteFile(filename, []byte("{not json"), 0o666))

		p, err := NewProvider(filename)
		require.NoError(t, err)
		assert.NotZero(t, p.Get().UUID)
	})

	t.Run("UpdatePersisted", func(t *testing.T) {
		t.Parallel()

		filename := filepath.Join(t.TempDir(), "state.json")
		p, err := NewProvider(filename)
		require.NoError(t, err)

		now := time.Now().UnixMilli()
		err = p.Update(func(s *State) {
			s.LastBackupTime = now
			s.AutoBackupEnabled = pointer.ToBool(false)
			s.CustomBackupPath = "/tmp/backups"
		})
		require.NoError(t, err)

		p2, err := NewProvider(filename)
		require.NoError(t, err)

		s := p2.Get()
		assert.Equal(t, now, s.LastBackupTime)
		assert.False(t, s.AutoBackup())
		assert.Equal(t, "/tmp/backups", s.CustomBackupPath)

		b, err := os.ReadFile(filename)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"last_backup_time"`)
	})

	t.Run("Subscribe", func(t *testing.T) {
		t.Parallel()

		p, err := NewProvider("")
		require.NoError(t, err)

		ch := p.Subscribe()
		require.Len(t, ch, cap(ch), "channel should be full")

		expected := &State{
			UUID:           "11111111-1111-1111-1111-111111111111",
			LastBackupTime: 42,
		}
		err = p.Update(func(s *State) { *s = *expected })
		require.NoError(t, err)

		assert.Equal(t, expected, p.Get())
		require.Len(t, ch, cap(ch), "channel should be full")

		<-ch
		require.Empty(t, ch)

		got := make(chan struct{})
		go func() {
			<-ch
			close(got)
		}()

		err = p.Update(func(s *State) { s.BackupIntervalDays = 3 })
		require.NoError(t, err)

		<-got
		assert.Equal(t, 3, p.Get().BackupIntervalDays)
	})

	t.Run("Metrics", func(t *testing.T) {
		t.Parallel()

		p, err := NewProvider("")
		require.NoError(t, err)

		require.NoError(t, p.Update(func(s *State) { s.LastBackupTime = 5000 }))

		expected := `
			# HELP ledgerstore_backups_last_time_seconds Time of the last scheduled backup as Unix seconds, zero if there was none.
			# TYPE ledgerstore_backups_last_time_seconds gauge
			ledgerstore_backups_last_time_seconds 5
		`
		err = testutil.CollectAndCompare(
			p.MetricsCollector(),
			strings.NewReader(expected),
			"ledgerstore_backups_last_time_seconds",
		)
		require.NoError(t, err)
	})
}
