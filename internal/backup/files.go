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

package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/exp/slices"

	"github.com/FerretDB/ledgerstore/internal/ledger"
	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
)

// File represents a backup file on disk.
type File struct {
	Path    string
	Name    string
	ModTime time.Time
	Size    int64
}

// listFiles returns backup files in dir, newest first; ties are broken by name.
//
// A missing directory yields an empty list.
func listFiles(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []File{}, nil
		}

		return nil, lazyerrors.Error(err)
	}

	res := make([]File, 0, len(entries))

	for _, e := range entries {
		if !e.Type().IsRegular() || !isBackupName(e.Name()) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			// removed concurrently
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return nil, lazyerrors.Error(err)
		}

		res = append(res, File{
			Path:    filepath.Join(dir, e.Name()),
			Name:    e.Name(),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}

	slices.SortFunc(res, func(a, b File) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}

		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})

	return res, nil
}

// writeAtomic writes the snapshot to dir/name via a temporary file, fsync and rename.
//
// Readers never observe a partially written backup.
func writeAtomic(dir, name string, s *ledger.Snapshot, compress bool) (*File, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, lazyerrors.Error(err)
	}

	f, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	tmp := f.Name()

	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err = encodeSnapshot(f, s, compress); err != nil {
		return nil, err
	}

	if err = f.Sync(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	if err = f.Close(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	path := filepath.Join(dir, name)
	if err = os.Rename(tmp, path); err != nil {
		return nil, lazyerrors.Error(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if info.Size() == 0 {
		return nil, lazyerrors.Errorf("backup file %q is empty", path)
	}

	return &File{
		Path:    path,
		Name:    name,
		ModTime: info.ModTime(),
		Size:    info.Size(),
	}, nil
}

// removeFile removes a single backup file.
func removeFile(path string) error {
	err := os.Remove(path)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
	default:
		return lazyerrors.Error(err)
	}
}
