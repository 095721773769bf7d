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
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FileInfo describes one of the store files.
type FileInfo struct {
	Name   string
	Path   string
	Exists bool
	Size   int64
}

// Files returns information about the main database file and its -wal and -shm siblings.
//
// It returns nil for empty path (in-memory database).
func Files(path string) ([]FileInfo, error) {
	if path == "" {
		return nil, nil
	}

	res := make([]FileInfo, 0, 3)

	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		fi := FileInfo{
			Name: filepath.Base(p),
			Path: p,
		}

		st, err := os.Stat(p)
		switch {
		case err == nil:
			fi.Exists = true
			fi.Size = st.Size()
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}

		res = append(res, fi)
	}

	return res, nil
}
