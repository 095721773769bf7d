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
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// File name suffixes.
const (
	suffixJSON = ".json"
	suffixGzip = ".json.gz"
)

// Name prefixes of generated backups.
const (
	scheduledPrefix = "ledger_backup_"
	manualPrefix    = "ledger_manual_backup_"
)

// timestampLayout is used in generated backup names.
const timestampLayout = "20060102_150405"

// isBackupName returns true if the given file name looks like a backup file.
func isBackupName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}

	return strings.HasSuffix(name, suffixJSON) || strings.HasSuffix(name, suffixGzip)
}

// cleanName validates and normalizes a user-provided backup file name.
//
// The name is NFC-normalized so that visually equal names map to one file.
// Missing suffix is added; compress forces the gzip suffix.
func cleanName(name string, compress bool) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))

	switch {
	case name == "", name == ".", name == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return "", fmt.Errorf("%w: %q contains a path separator or NUL", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return "", fmt.Errorf("%w: %q is a hidden file name", ErrInvalidName, name)
	}

	switch {
	case strings.HasSuffix(name, suffixGzip):
	case strings.HasSuffix(name, suffixJSON):
		if compress {
			name += ".gz"
		}
	default:
		if compress {
			name += suffixGzip
		} else {
			name += suffixJSON
		}
	}

	return name, nil
}

// generatedName returns a deterministic backup name for the given time.
func generatedName(prefix string, t time.Time, compress bool) string {
	name := prefix + t.Format(timestampLayout) + suffixJSON
	if compress {
		name += ".gz"
	}

	return name
}
