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
	"runtime"
	"runtime/trace"

	"github.com/FerretDB/ledgerstore/internal/util/resource"
)

// call is a tracked in-flight function call.
type call struct {
	token  *resource.Token
	region *trace.Region
}

// FuncCall marks the start of the calling function and returns a function that marks its end:
//
//	defer observability.FuncCall(ctx)()
//
// Unfinished calls are reported as leaked resources.
// While the execution tracer runs, each call is also a trace region named after the caller,
// attached to the task in ctx.
func FuncCall(ctx context.Context) func() {
	c := &call{token: resource.NewToken()}
	resource.Track(c, c.token)

	if trace.IsEnabled() {
		c.region = trace.StartRegion(ctx, callerName(2))
	}

	return c.end
}

// callerName returns the name of the function skip frames up the stack;
// 1 is the direct caller of callerName.
func callerName(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}

	if f := runtime.FuncForPC(pc); f != nil {
		return f.Name()
	}

	return "unknown"
}

// end finishes the call.
func (c *call) end() {
	if c.region != nil {
		c.region.End()
	}

	resource.Untrack(c, c.token)
}
