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

package state

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/FerretDB/ledgerstore/build/version"
)

const (
	namespace = "ledgerstore"
	subsystem = ""
)

// metricsCollector exposes provider's state as Prometheus metrics.
type metricsCollector struct {
	p *Provider
}

// newMetricsCollector creates a new metricsCollector.
func newMetricsCollector(p *Provider) *metricsCollector {
	return &metricsCollector{
		p: p,
	}
}

// Describe implements prometheus.Collector.
func (mc *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(mc, ch)
}

// Collect implements prometheus.Collector.
func (mc *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	info := version.Get()
	state := mc.p.Get()

	constLabels := prometheus.Labels{
		"version":     info.Version,
		"commit":      info.Commit,
		"branch":      info.Branch,
		"dirty":       strconv.FormatBool(info.Dirty),
		"debug":       strconv.FormatBool(info.DebugBuild),
		"uuid":        state.UUID,
		"auto_backup": strconv.FormatBool(state.AutoBackup()),
	}

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, "up"), "ledgerstore instance state.", nil, constLabels),
		prometheus.GaugeValue,
		1,
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backups", "last_time_seconds"),
			"Time of the last scheduled backup as Unix seconds, zero if there was none.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(state.LastBackupTime)/1000,
	)
}

// check interfaces
var (
	_ prometheus.Collector = (*metricsCollector)(nil)
)
