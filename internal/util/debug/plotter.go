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

package debug

import (
	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
)

// series describes a single plotted metric.
type series struct {
	name       string // displayed name
	family     string
	labelName  string // empty for unlabeled metrics
	labelValue string
}

// plotDef describes a single plot.
type plotDef struct {
	name   string
	title  string
	yAxis  string
	series []series
}

// plotDefs are plots of ledgerstore metrics shown next to runtime graphs.
var plotDefs = []plotDef{{
	name:  "ledgerstore_connections",
	title: "Connections",
	yAxis: "connections",
	series: []series{
		{name: "active", family: "ledgerstore_connections_active"},
		{name: "tracked", family: "ledgerstore_connections_tracked"},
		{name: "soft limit", family: "ledgerstore_connections_max"},
	},
}, {
	name:  "ledgerstore_transactions",
	title: "Transactions",
	yAxis: "transactions",
	series: []series{
		{name: "commits", family: "ledgerstore_transactions_total", labelName: "result", labelValue: "commit"},
		{name: "rollbacks", family: "ledgerstore_transactions_total", labelName: "result", labelValue: "rollback"},
	},
}, {
	name:  "ledgerstore_backups",
	title: "Backups",
	yAxis: "backups",
	series: []series{
		{name: "created", family: "ledgerstore_backups_created_total"},
		{name: "restored", family: "ledgerstore_backups_restored_total"},
	},
}}

// plotter builds statsviz plots from Prometheus metrics.
type plotter struct {
	g prometheus.Gatherer
}

// newPlotter returns a new plotter.
// The given gatherer should cache results.
func newPlotter(g prometheus.Gatherer) *plotter {
	return &plotter{
		g: g,
	}
}

// plots returns all plots.
func (p *plotter) plots() ([]statsviz.TimeSeriesPlot, error) {
	res := make([]statsviz.TimeSeriesPlot, 0, len(plotDefs))

	for _, def := range plotDefs {
		ts := make([]statsviz.TimeSeries, len(def.series))

		for i, s := range def.series {
			ts[i] = statsviz.TimeSeries{
				Name:     s.name,
				Unitfmt:  "%{y:.4s}",
				GetValue: p.getter(s),
			}
		}

		plot, err := statsviz.TimeSeriesPlotConfig{
			Name:       def.name,
			Title:      def.title,
			Type:       statsviz.Scatter,
			YAxisTitle: def.yAxis,
			Series:     ts,
		}.Build()
		if err != nil {
			return nil, lazyerrors.Errorf("%s: %w", def.name, err)
		}

		res = append(res, plot)
	}

	return res, nil
}

// getter returns a function that returns the current value of the given series.
func (p *plotter) getter(s series) func() float64 {
	return func() float64 {
		mfs, _ := p.g.Gather()
		return value(mfs, s)
	}
}

// value returns the value of the given series, or 0 if it is not found.
func value(mfs []*dto.MetricFamily, s series) float64 {
	for _, mf := range mfs {
		if mf.GetName() != s.family {
			continue
		}

		for _, m := range mf.GetMetric() {
			if s.labelName != "" && !hasLabel(m, s.labelName, s.labelValue) {
				continue
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				return m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				return m.GetGauge().GetValue()
			case dto.MetricType_UNTYPED:
				return m.GetUntyped().GetValue()
			case dto.MetricType_SUMMARY:
				return m.GetSummary().GetSampleSum()
			case dto.MetricType_HISTOGRAM, dto.MetricType_GAUGE_HISTOGRAM:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}

	return 0
}

// hasLabel returns true if the metric has a label with the given name and value.
func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}

	return false
}
