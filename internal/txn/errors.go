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
	"errors"

	"go.uber.org/zap"
)

// ErrorHandler receives failures of units of work before they are returned to the caller.
type ErrorHandler interface {
	HandleDatabaseError(ctx context.Context, err error, operation string)
}

// LogErrorHandler is an [ErrorHandler] that logs errors.
type LogErrorHandler struct {
	l *zap.Logger
}

// NewLogErrorHandler creates a new LogErrorHandler.
func NewLogErrorHandler(l *zap.Logger) *LogErrorHandler {
	return &LogErrorHandler{
		l: l,
	}
}

// HandleDatabaseError implements [ErrorHandler].
func (h *LogErrorHandler) HandleDatabaseError(ctx context.Context, err error, operation string) {
	level := zap.ErrorLevel
	if errors.Is(err, context.Canceled) {
		level = zap.DebugLevel
	}

	h.l.Log(level, "Database operation failed.", zap.String("operation", operation), zap.Error(err))
}

// check interfaces
var (
	_ ErrorHandler = (*LogErrorHandler)(nil)
)
