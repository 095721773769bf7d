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

package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap/zapcore"
)

// EntryRing keeps a fixed number of the most recent log entries.
type EntryRing struct {
	m       sync.Mutex
	entries []zapcore.Entry
	next    int // position of the next write
	full    bool
}

// NewEntryRing creates a ring for size entries.
//
// It panics if size is not positive.
func NewEntryRing(size int) *EntryRing {
	if size <= 0 {
		panic(fmt.Sprintf("invalid entry ring size %d", size))
	}

	return &EntryRing{
		entries: make([]zapcore.Entry, size),
	}
}

// add stores a copy of the entry, evicting the oldest one when the ring is full.
func (r *EntryRing) add(e zapcore.Entry) {
	r.m.Lock()
	defer r.m.Unlock()

	r.entries[r.next] = e

	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
}

// Entries returns copies of stored entries at or above the given level, oldest first.
func (r *EntryRing) Entries(level zapcore.Level) []zapcore.Entry {
	r.m.Lock()
	defer r.m.Unlock()

	stored := r.entries[:r.next]
	if r.full {
		stored = append(r.entries[r.next:len(r.entries):len(r.entries)], r.entries[:r.next]...)
	}

	res := make([]zapcore.Entry, 0, len(stored))

	for _, e := range stored {
		if e.Level >= level {
			res = append(res, e)
		}
	}

	return res
}
