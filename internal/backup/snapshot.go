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
	"bufio"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/FerretDB/ledgerstore/internal/ledger"
	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
	"github.com/FerretDB/ledgerstore/internal/util/must"
)

//go:embed schema.json
var schemaJSON []byte

// schemaURL is the resource name of the embedded schema.
const schemaURL = "backup.schema.json"

// snapshotSchema is the compiled snapshot schema.
var snapshotSchema = compileSchema()

// compileSchema compiles the embedded schema.
func compileSchema() *jsonschema.Schema {
	doc := must.NotFail(jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON)))

	c := jsonschema.NewCompiler()
	must.NoError(c.AddResource(schemaURL, doc))

	return must.NotFail(c.Compile(schemaURL))
}

// gzipMagic is the header of gzip streams.
var gzipMagic = []byte{0x1f, 0x8b}

// encodeSnapshot writes the snapshot as JSON, optionally compressed.
func encodeSnapshot(w io.Writer, s *ledger.Snapshot, compress bool) error {
	bw := bufio.NewWriterSize(w, 64*1024)

	var out io.Writer = bw

	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(bw)
		out = zw
	}

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	if err := enc.Encode(s); err != nil {
		return lazyerrors.Error(err)
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return bw.Flush()
}

// readSnapshot reads, decompresses if needed, validates, and decodes a snapshot file.
//
// Parse and validation failures wrap [ErrInvalidBackup].
func readSnapshot(path string) (*ledger.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}

		return nil, lazyerrors.Error(err)
	}

	if bytes.HasPrefix(b, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidBackup, err)
		}

		if b, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidBackup, err)
		}
	}

	return decodeSnapshot(b)
}

// decodeSnapshot validates and decodes a JSON snapshot.
func decodeSnapshot(b []byte) (*ledger.Snapshot, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBackup, err)
	}

	if err = snapshotSchema.Validate(doc); err != nil {
		// the first line is enough, the rest is a detailed tree
		msg, _, _ := strings.Cut(err.Error(), "\n")
		return nil, fmt.Errorf("%w: %s", ErrInvalidBackup, msg)
	}

	var s ledger.Snapshot
	if err = json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBackup, err)
	}

	return &s, nil
}
