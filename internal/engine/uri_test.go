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
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	t.Parallel()

	dir := filepath.ToSlash(t.TempDir())

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o666))

	const defaults = "_pragma=busy_timeout%285000%29&_pragma=journal_mode%28wal%29"

	testCases := map[string]struct {
		in  string
		uri *url.URL
		out string
		err string
	}{
		"AbsoluteDirectory": {
			in: "file:" + dir + "/",
			uri: &url.URL{
				Scheme:   "file",
				Opaque:   dir + "/",
				Path:     dir + "/",
				OmitHost: true,
				RawQuery: defaults,
			},
			out: "file:" + dir + "/?" + defaults,
		},
		"NewSubDirectory": {
			in: "file:" + dir + "/sub/dir/",
			uri: &url.URL{
				Scheme:   "file",
				Opaque:   dir + "/sub/dir/",
				Path:     dir + "/sub/dir/",
				OmitHost: true,
				RawQuery: defaults,
			},
			out: "file:" + dir + "/sub/dir/?" + defaults,
		},
		"WithEmptyAuthority": {
			in: "file://" + dir + "/",
			uri: &url.URL{
				Scheme:   "file",
				Opaque:   dir + "/",
				Path:     dir + "/",
				OmitHost: true,
				RawQuery: defaults,
			},
			out: "file:" + dir + "/?" + defaults,
		},
		"Memory": {
			in: "file:./nonexistent-dir/?mode=memory",
			uri: &url.URL{
				Scheme:   "file",
				Opaque:   "./nonexistent-dir/",
				Path:     "./nonexistent-dir/",
				OmitHost: true,
				RawQuery: defaults + "&mode=memory",
			},
			out: "file:./nonexistent-dir/?" + defaults + "&mode=memory",
		},
		"CustomBusyTimeout": {
			in: "file:" + dir + "/?_pragma=busy_timeout(100)",
			uri: &url.URL{
				Scheme:   "file",
				Opaque:   dir + "/",
				Path:     dir + "/",
				OmitHost: true,
				RawQuery: "_pragma=busy_timeout%28100%29&_pragma=journal_mode%28wal%29",
			},
			out: "file:" + dir + "/?_pragma=busy_timeout%28100%29&_pragma=journal_mode%28wal%29",
		},
		"HostIsNotEmpty": {
			in:  "file://localhost/./tmp/?mode=memory",
			err: `expected empty host, got "localhost"`,
		},
		"UserIsNotEmpty": {
			in:  "file://user:pass@./tmp/?mode=memory",
			err: `expected empty user info, got "user:pass"`,
		},
		"PathIsNotEndsWithSlash": {
			in:  "file:" + dir + "/file",
			err: `expected path ending with "/", got "` + dir + `/file"`,
		},
		"MalformedURI": {
			in:  ":./tmp/",
			err: `parse ":./tmp/": missing protocol scheme`,
		},
		"NoScheme": {
			in:  "./tmp/",
			err: `expected "file:" schema, got ""`,
		},
		"Shared": {
			in:  "file:./?cache=shared",
			err: `shared cache is not supported`,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			u, err := parseURI(tc.in)
			if tc.err != "" {
				assert.EqualError(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.uri, u)
			assert.Equal(t, tc.out, u.String())
		})
	}

	t.Run("FileInsteadOfDirectory", func(t *testing.T) {
		t.Parallel()

		_, err := parseURI("file:" + file + "/")
		require.Error(t, err)
	})
}
