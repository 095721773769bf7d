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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// gatherer caches metric families of the wrapped Gatherer for ttl.
//
// When gathering fails, the last good snapshot keeps being served until the next attempt.
type gatherer struct {
	g   prometheus.Gatherer
	ttl time.Duration
	l   *zap.Logger

	m        sync.Mutex
	families []*dto.MetricFamily
	expires  time.Time
}

// newGatherer wraps g.
func newGatherer(g prometheus.Gatherer, ttl time.Duration, l *zap.Logger) *gatherer {
	return &gatherer{
		g:   g,
		ttl: ttl,
		l:   l,
	}
}

// Gather implements prometheus.Gatherer.
//
// It never returns an error.
func (g *gatherer) Gather() ([]*dto.MetricFamily, error) {
	g.m.Lock()
	defer g.m.Unlock()

	now := time.Now()
	if now.Before(g.expires) {
		return g.families, nil
	}

	g.expires = now.Add(g.ttl)

	families, err := g.g.Gather()
	if err != nil {
		g.l.Warn("Metrics gathering failed; serving the previous snapshot.", zap.Error(err))
		return g.families, nil
	}

	g.families = families

	return families, nil
}

// expire makes the next Gather call refresh the snapshot.
func (g *gatherer) expire() {
	g.m.Lock()
	g.expires = time.Time{}
	g.m.Unlock()
}

// check interfaces
var (
	_ prometheus.Gatherer = (*gatherer)(nil)
)
