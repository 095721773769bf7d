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

package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupOtelDisabled(t *testing.T) {
	t.Parallel()

	shutdown, err := SetupOtel(context.Background(), "ledgerstore", "")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}

func TestFuncCall(t *testing.T) {
	t.Parallel()

	func() {
		defer FuncCall(context.Background())()
	}()

	_, span := Tracer().Start(context.Background(), t.Name())
	span.End()
}

func TestCallerName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "github.com/FerretDB/ledgerstore/internal/util/observability.TestCallerName", callerName(1))

	assert.Equal(t, "unknown", callerName(1000))
}
