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

package teststress

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStress(t *testing.T) {
	t.Parallel()

	var ready, done atomic.Int32

	Stress(t, func(readyCh chan<- struct{}, start <-chan struct{}) {
		ready.Add(1)
		readyCh <- struct{}{}

		<-start

		done.Add(1)
	})

	assert.Equal(t, int32(NumGoroutines), ready.Load())
	assert.Equal(t, int32(NumGoroutines), done.Load())
}
