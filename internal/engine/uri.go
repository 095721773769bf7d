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
	"fmt"
	"net/url"
	"os"
	"strings"
)

// parseURI checks given SQLite directory URI and returns it as [*url.URL]
// with default parameters added.
//
// The directory is created if it does not exist.
func parseURI(u string) (*url.URL, error) {
	uri, err := url.Parse(u)
	if err != nil {
		return nil, err
	}

	if uri.Scheme != "file" {
		return nil, fmt.Errorf(`expected "file:" schema, got %q`, uri.Scheme)
	}

	if uri.User != nil {
		return nil, fmt.Errorf(`expected empty user info, got %q`, uri.User)
	}

	if uri.Host != "" {
		return nil, fmt.Errorf(`expected empty host, got %q`, uri.Host)
	}

	if uri.Path == "" && uri.Opaque != "" {
		uri.Path = uri.Opaque
	}
	uri.Opaque = uri.Path
	uri.OmitHost = true

	if !strings.HasSuffix(uri.Path, "/") {
		return nil, fmt.Errorf(`expected path ending with "/", got %q`, uri.Path)
	}

	values := uri.Query()

	if values.Get("cache") == "shared" {
		return nil, fmt.Errorf("shared cache is not supported")
	}

	if values.Get("mode") != "memory" {
		if err = os.MkdirAll(uri.Path, 0o777); err != nil {
			return nil, fmt.Errorf("%q should be a directory, got %s", uri.Path, err)
		}

		fi, err := os.Stat(uri.Path)
		if err != nil {
			return nil, fmt.Errorf("%q should be an existing directory, got %s", uri.Path, err)
		}

		if !fi.IsDir() {
			return nil, fmt.Errorf("%q should be an existing directory", uri.Path)
		}
	}

	setDefaultValue(values, "_pragma", "busy_timeout(5000)")
	setDefaultValue(values, "_pragma", "journal_mode(wal)")
	uri.RawQuery = values.Encode()

	return uri, nil
}

// setDefaultValue adds the value for the given key unless a value
// with the same prefix (up to the opening parenthesis) is already present.
func setDefaultValue(values url.Values, key, value string) {
	prefix, _, _ := strings.Cut(value, "(")

	for _, v := range values[key] {
		if strings.HasPrefix(v, prefix+"(") {
			return
		}
	}

	values.Add(key, value)
}
