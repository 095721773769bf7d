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

// Package debugbuild reports whether ledgerstore was built for debugging.
//
// The `ledgerstore_debug` build tag and the race detector both enable it.
// Debug builds record where resources were tracked, panic on leaks, force GC on exit
// and dump metrics on shutdown.
package debugbuild

import "runtime/debug"

// Enabled is set by build tags.
const Enabled = enabled

// Stack returns the calling goroutine's stack in debug builds and nil otherwise.
func Stack() []byte {
	if !Enabled {
		return nil
	}

	return debug.Stack()
}
