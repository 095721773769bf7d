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

package connmgr

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Parts of Prometheus metric names.
const (
	namespace = "ledgerstore"
	subsystem = "connections"
)

var (
	activeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "active"),
		"The current number of acquired connections.",
		nil, nil,
	)
	trackedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "tracked"),
		"The current number of usage records.",
		nil, nil,
	)
	maxDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "max"),
		"The soft limit of acquired connections.",
		nil, nil,
	)
	softLimitDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "soft_limit_exceeded_total"),
		"The total number of acquisitions above the soft limit.",
		nil, nil,
	)
)

// Describe implements prometheus.Collector.
func (m *Manager) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(m, ch)
}

// Collect implements prometheus.Collector.
func (m *Manager) Collect(ch chan<- prometheus.Metric) {
	stats := m.GetConnectionStats()

	ch <- prometheus.MustNewConstMetric(activeDesc, prometheus.GaugeValue, float64(stats.Active))
	ch <- prometheus.MustNewConstMetric(trackedDesc, prometheus.GaugeValue, float64(stats.Tracked))
	ch <- prometheus.MustNewConstMetric(maxDesc, prometheus.GaugeValue, float64(stats.Max))
	ch <- prometheus.MustNewConstMetric(softLimitDesc, prometheus.CounterValue, float64(m.softLimitExceeded.Load()))

	m.handle.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Manager)(nil)
)
