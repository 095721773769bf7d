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

package txn

import (
	"context"
)

// Execute runs op inside a transaction and returns its result.
//
// See [Coordinator.ExecuteInTransaction].
func Execute[T any](ctx context.Context, c *Coordinator, op func(ctx context.Context) (T, error)) (T, error) {
	var res T

	err := c.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		var err error
		res, err = op(ctx)

		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return res, nil
}

// Batch runs all ops inside one transaction and returns their results in order.
//
// See [Coordinator.ExecuteBatch].
func Batch[T any](ctx context.Context, c *Coordinator, ops []func(ctx context.Context) (T, error)) ([]T, error) {
	res := make([]T, len(ops))
	wrapped := make([]Op, len(ops))

	for i, op := range ops {
		wrapped[i] = func(ctx context.Context) error {
			var err error
			res[i], err = op(ctx)

			return err
		}
	}

	if err := c.ExecuteBatch(ctx, wrapped); err != nil {
		return nil, err
	}

	return res, nil
}

// ReadOnly runs op without a transaction and returns its result.
//
// See [Coordinator.ExecuteReadOnly].
func ReadOnly[T any](ctx context.Context, c *Coordinator, op func(ctx context.Context) (T, error)) (T, error) {
	var res T

	err := c.ExecuteReadOnly(ctx, func(ctx context.Context) error {
		var err error
		res, err = op(ctx)

		return err
	})

	return res, err
}
