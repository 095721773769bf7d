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

package testutil

import (
	"net/url"
	"path/filepath"
	"testing"
)

// DatabaseURI returns SQLite URI pointing to a new temporary directory
// that is removed when test is finished.
func DatabaseURI(tb testing.TB) string {
	tb.Helper()

	u := &url.URL{
		Scheme: "file",
		Opaque: filepath.ToSlash(tb.TempDir()) + "/",
	}

	return u.String()
}

// MemoryURI returns SQLite URI of an in-memory database.
func MemoryURI(tb testing.TB) string {
	tb.Helper()

	return "file:./?mode=memory"
}
