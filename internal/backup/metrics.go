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

package backup

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Parts of Prometheus metric names.
const (
	namespace = "ledgerstore"
	subsystem = "backups"
)

// Operation label values.
const (
	opCreate  = "create"
	opRestore = "restore"
	opCleanup = "cleanup"
	opDelete  = "delete"
)

// metricsCollector exposes backup outcomes as Prometheus metrics.
type metricsCollector struct {
	created  prometheus.Counter
	restored prometheus.Counter
	failures *prometheus.CounterVec
	lastSize prometheus.Gauge
}

// newMetricsCollector creates a new metricsCollector.
func newMetricsCollector() *metricsCollector {
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures_total",
			Help:      "Total number of failed backup operations.",
		},
		[]string{"operation"},
	)

	// pre-create children so all series are visible from the start
	for _, op := range []string{opCreate, opRestore, opCleanup, opDelete} {
		failures.WithLabelValues(op)
	}

	return &metricsCollector{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "created_total",
			Help:      "Total number of created backup files.",
		}),
		restored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restored_total",
			Help:      "Total number of committed restores.",
		}),
		failures: failures,
		lastSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_size_bytes",
			Help:      "Size of the last created backup file.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (mc *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	mc.created.Describe(ch)
	mc.restored.Describe(ch)
	mc.failures.Describe(ch)
	mc.lastSize.Describe(ch)
}

// Collect implements prometheus.Collector.
func (mc *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	mc.created.Collect(ch)
	mc.restored.Collect(ch)
	mc.failures.Collect(ch)
	mc.lastSize.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*metricsCollector)(nil)
	_ prometheus.Collector = (*Service)(nil)
)
