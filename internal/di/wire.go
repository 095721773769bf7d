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

//go:build wireinject

package di

import (
	"context"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/FerretDB/ledgerstore/internal/config"
	"github.com/FerretDB/ledgerstore/internal/util/state"
)

//go:generate go run github.com/google/wire/cmd/wire

// ProviderSet contains all providers.
var ProviderSet = wire.NewSet(
	ProvideDB,
	ProvideConnectionManager,
	ProvideCoordinator,
	ProvidePool,
	ProvideDataset,
	ProvideMonitor,
	ProvideBackup,
	ProvideRegistry,
	wire.Struct(new(App), "*"),
)

// InitializeApp builds all components.
//
// The returned cleanup function should be called once App is no longer needed.
func InitializeApp(ctx context.Context, cfg *config.Config, sp *state.Provider, l *zap.Logger) (*App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
