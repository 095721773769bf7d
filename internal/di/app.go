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

// Package di is the composition root: it builds all ledgerstore components from the configuration.
package di

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FerretDB/ledgerstore/internal/backup"
	"github.com/FerretDB/ledgerstore/internal/config"
	"github.com/FerretDB/ledgerstore/internal/connmgr"
	"github.com/FerretDB/ledgerstore/internal/engine"
	"github.com/FerretDB/ledgerstore/internal/ledger"
	"github.com/FerretDB/ledgerstore/internal/monitor"
	"github.com/FerretDB/ledgerstore/internal/txn"
	"github.com/FerretDB/ledgerstore/internal/util/state"
	"github.com/FerretDB/ledgerstore/internal/util/worker"
)

// App contains all initialized components.
//
// It is created by [InitializeApp]; the returned cleanup function releases everything in reverse order.
type App struct {
	Config *config.Config
	L      *zap.Logger

	State             *state.Provider
	DB                *engine.DB
	ConnectionManager *connmgr.Manager
	Coordinator       *txn.Coordinator
	Pool              *worker.Pool
	Dataset           *ledger.Dataset
	Monitor           *monitor.Monitor
	Backup            *backup.Service
	Registry          *prometheus.Registry
}
