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

package resource

import (
	"runtime/pprof"
	"testing"

	"github.com/stretchr/testify/assert"
)

type tracked struct {
	token *Token
}

func profileCount(obj any) int {
	if p := pprof.Lookup(profileName(obj)); p != nil {
		return p.Count()
	}

	return 0
}

func TestTrackUntrack(t *testing.T) {
	obj := &tracked{token: NewToken()}

	before := profileCount(obj)

	Track(obj, obj.token)
	assert.Equal(t, before+1, profileCount(obj))

	Untrack(obj, obj.token)
	assert.Equal(t, before, profileCount(obj))

	// second call is a no-op
	Untrack(obj, obj.token)
	assert.Equal(t, before, profileCount(obj))
}

func TestCheckArgs(t *testing.T) {
	t.Parallel()

	obj := &tracked{token: NewToken()}

	assert.Panics(t, func() { Track(obj, NewToken()) })
	assert.Panics(t, func() { Track[tracked](obj, nil) })

	type noToken struct{ x int }
	assert.Panics(t, func() { Track(&noToken{}, NewToken()) })
}
