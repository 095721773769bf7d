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

package lazyerrors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrors(t *testing.T) {
	t.Parallel()

	err := New("err")
	err1 := Errorf("err1: %w", err)
	err2 := Error(err1)

	assert.Regexp(t, `^\[lazyerrors_test\.go:\d+ lazyerrors\.TestErrors\] err$`, err.Error())
	assert.Regexp(t, `^\[lazyerrors_test\.go:\d+ lazyerrors\.TestErrors\] err1: \[lazyerrors_test\.go:\d+ lazyerrors\.TestErrors\] err$`, err1.Error())
	assert.Contains(t, err2.Error(), "err1: ")

	assert.True(t, errors.Is(err2, err1))
	assert.True(t, errors.Is(err2, err))
}

func TestWrapStd(t *testing.T) {
	t.Parallel()

	err := Errorf("reading snapshot: %w", io.ErrUnexpectedEOF)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	var target withStack
	require.ErrorAs(t, err, &target)
	assert.NotZero(t, target.pc)
}

func TestErrorNil(t *testing.T) {
	t.Parallel()

	assert.PanicsWithValue(t, "err is nil", func() {
		_ = Error(nil)
	})
}

func TestPC(t *testing.T) {
	t.Parallel()

	ch := make(chan error, 1)

	go func() {
		ch <- New("err")
	}()

	err := <-ch
	assert.Regexp(t, `^\[lazyerrors_test\.go:\d+ lazyerrors\.TestPC\.func1\] err$`, err.Error())
}

var drain any

func BenchmarkNew(b *testing.B) {
	for i := 0; i < b.N; i++ {
		drain = New("err")
	}

	b.StopTimer()

	assert.NotNil(b, drain)
}

func BenchmarkStd(b *testing.B) {
	for i := 0; i < b.N; i++ {
		drain = fmt.Errorf("[lazyerrors_test.go:1 lazyerrors.BenchmarkStd] %s", "err")
	}

	b.StopTimer()

	assert.NotNil(b, drain)
}
