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

// Package state stores persisted ledgerstore preferences and process state.
package state

import (
	"time"

	"github.com/AlekSi/pointer"
	"github.com/google/uuid"

	"github.com/FerretDB/ledgerstore/internal/util/must"
)

// State represents persisted preferences.
//
// Most fields are set by the surrounding application; ledgerstore itself writes
// only UUID and LastBackupTime.
//
//nolint:vet // for readability
type State struct {
	UUID string `json:"uuid"`

	// LastBackupTime is the time of the last scheduled backup in epoch milliseconds.
	LastBackupTime int64 `json:"last_backup_time,omitempty"`

	AutoBackupEnabled  *bool  `json:"auto_backup_enabled,omitempty"`
	BackupIntervalDays int    `json:"backup_interval_days,omitempty"`
	CustomBackupPath   string `json:"custom_backup_path,omitempty"`
	CustomBackupURI    string `json:"custom_backup_uri,omitempty"`
}

// AutoBackup returns true if automatic backups are enabled.
// Undecided value is treated as enabled.
func (s *State) AutoBackup() bool {
	if s.AutoBackupEnabled == nil {
		return true
	}

	return *s.AutoBackupEnabled
}

// LastBackup returns the time of the last scheduled backup, or zero time if there was none.
func (s *State) LastBackup() time.Time {
	if s.LastBackupTime == 0 {
		return time.Time{}
	}

	return time.UnixMilli(s.LastBackupTime)
}

// BackupDue returns true if the next scheduled backup is due at the given time.
func (s *State) BackupDue(now time.Time) bool {
	if !s.AutoBackup() {
		return false
	}

	days := s.BackupIntervalDays
	if days <= 0 {
		days = 1
	}

	last := s.LastBackup()

	return last.IsZero() || !now.Before(last.Add(time.Duration(days)*24*time.Hour))
}

// fill replaces all unset or invalid values with default.
func (s *State) fill() {
	if _, err := uuid.Parse(s.UUID); err != nil {
		s.UUID = must.NotFail(uuid.NewRandom()).String()
	}

	if s.BackupIntervalDays < 0 {
		s.BackupIntervalDays = 0
	}
}

// deepCopy returns a deep copy.
func (s *State) deepCopy() *State {
	var autoBackup *bool
	if s.AutoBackupEnabled != nil {
		autoBackup = pointer.ToBool(*s.AutoBackupEnabled)
	}

	return &State{
		UUID:               s.UUID,
		LastBackupTime:     s.LastBackupTime,
		AutoBackupEnabled:  autoBackup,
		BackupIntervalDays: s.BackupIntervalDays,
		CustomBackupPath:   s.CustomBackupPath,
		CustomBackupURI:    s.CustomBackupURI,
	}
}
