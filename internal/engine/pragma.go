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

package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/FerretDB/ledgerstore/internal/util/fsql"
	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
)

// PragmaName is a name of the engine setting.
type PragmaName string

// Known engine settings.
const (
	CacheSize   PragmaName = "cache_size"
	TempStore   PragmaName = "temp_store"
	Synchronous PragmaName = "synchronous"
	AutoCommit  PragmaName = "auto_commit"
	JournalMode PragmaName = "journal_mode"
	LockingMode PragmaName = "locking_mode"
	PageSize    PragmaName = "page_size"
	PageCount   PragmaName = "page_count"
)

// pragmaKind describes allowed values of a setting.
type pragmaKind struct {
	integer  bool     // any integer value
	words    []string // one of the upper-case words
	indexed  bool     // words may be given by their index
	readOnly bool
}

var pragmaKinds = map[PragmaName]pragmaKind{
	CacheSize:   {integer: true},
	TempStore:   {words: []string{"DEFAULT", "FILE", "MEMORY"}, indexed: true},
	Synchronous: {words: []string{"OFF", "NORMAL", "FULL", "EXTRA"}, indexed: true},
	// not a real SQLite pragma; SQLite ignores unknown names
	AutoCommit:  {words: []string{"ON", "OFF"}},
	JournalMode: {words: []string{"DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF"}},
	LockingMode: {words: []string{"NORMAL", "EXCLUSIVE"}},
	PageSize:    {integer: true},
	PageCount:   {readOnly: true},
}

// Setting is a typed engine setting.
type Setting struct {
	Name  PragmaName
	Value any // int, int64, string, or bool
}

// String returns the rendered value.
func (s Setting) String() string {
	v, err := s.render()
	if err != nil {
		return fmt.Sprint(s.Value)
	}

	return v
}

// render validates the setting and returns the value as it should appear in the statement.
func (s Setting) render() (string, error) {
	kind, ok := pragmaKinds[s.Name]
	if !ok {
		return "", fmt.Errorf("unknown setting %q", s.Name)
	}

	if kind.readOnly {
		return "", fmt.Errorf("setting %q is read-only", s.Name)
	}

	switch v := s.Value.(type) {
	case int:
		if kind.integer {
			return strconv.Itoa(v), nil
		}

		if kind.indexed && v >= 0 && v < len(kind.words) {
			return kind.words[v], nil
		}

	case int64:
		if kind.integer {
			return strconv.FormatInt(v, 10), nil
		}

	case bool:
		if slices.Contains(kind.words, "ON") {
			if v {
				return "ON", nil
			}

			return "OFF", nil
		}

	case string:
		if kind.integer {
			if _, err := strconv.ParseInt(v, 10, 64); err == nil {
				return v, nil
			}

			break
		}

		if w := strings.ToUpper(v); slices.Contains(kind.words, w) {
			return w, nil
		}
	}

	return "", fmt.Errorf("invalid value %v (%T) for setting %q", s.Value, s.Value, s.Name)
}

// Set validates and applies the given setting.
func Set(ctx context.Context, q fsql.Querier, s Setting) error {
	v, err := s.render()
	if err != nil {
		return lazyerrors.Error(err)
	}

	if _, err = q.ExecContext(ctx, "PRAGMA "+string(s.Name)+" = "+v); err != nil {
		return lazyerrors.Errorf("%s: %w", s.Name, err)
	}

	return nil
}

// GetInt returns the current integer value of the given setting.
func GetInt(ctx context.Context, q fsql.Querier, name PragmaName) (int64, error) {
	if _, ok := pragmaKinds[name]; !ok {
		return 0, lazyerrors.Errorf("unknown setting %q", name)
	}

	var res int64
	if err := q.QueryRowContext(ctx, "PRAGMA "+string(name)).Scan(&res); err != nil {
		return 0, lazyerrors.Errorf("%s: %w", name, err)
	}

	return res, nil
}

// GetString returns the current value of the given setting as a string.
func GetString(ctx context.Context, q fsql.Querier, name PragmaName) (string, error) {
	if _, ok := pragmaKinds[name]; !ok {
		return "", lazyerrors.Errorf("unknown setting %q", name)
	}

	var res string
	if err := q.QueryRowContext(ctx, "PRAGMA "+string(name)).Scan(&res); err != nil {
		return "", lazyerrors.Errorf("%s: %w", name, err)
	}

	return res, nil
}
