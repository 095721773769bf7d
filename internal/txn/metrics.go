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
	"github.com/prometheus/client_golang/prometheus"
)

// Parts of Prometheus metric names.
const (
	namespace = "ledgerstore"
	subsystem = ""
)

// metricsCollector exposes transaction outcomes as Prometheus metrics.
type metricsCollector struct {
	transactions *prometheus.CounterVec
	commits      prometheus.Counter
	rollbacks    prometheus.Counter
	errors       *prometheus.CounterVec
}

// newMetricsCollector creates a new metricsCollector.
func newMetricsCollector() *metricsCollector {
	transactions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transactions_total",
			Help:      "Total number of finished outermost transactions.",
		},
		[]string{"result"},
	)

	return &metricsCollector{
		transactions: transactions,
		commits:      transactions.WithLabelValues("commit"),
		rollbacks:    transactions.WithLabelValues("rollback"),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transaction_errors_total",
				Help:      "Total number of failed units of work.",
			},
			[]string{"operation"},
		),
	}
}

// Describe implements prometheus.Collector.
func (mc *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	mc.transactions.Describe(ch)
	mc.errors.Describe(ch)
}

// Collect implements prometheus.Collector.
func (mc *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	mc.transactions.Collect(ch)
	mc.errors.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*metricsCollector)(nil)
	_ prometheus.Collector = (*Coordinator)(nil)
)
