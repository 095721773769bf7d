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

// Package debug provides debug facilities.
package debug

import (
	"bytes"
	"context"
	"errors"
	_ "expvar" // for metrics
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // for profiling
	"text/template"
	"time"

	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
	"github.com/FerretDB/ledgerstore/internal/util/must"
)

// Handler serves debug endpoints.
type Handler struct {
	lis net.Listener
	s   *http.Server
	l   *zap.Logger

	handlers map[string]string
}

// ListenOpts represents [Listen] options.
type ListenOpts struct {
	TCPAddr string
	L       *zap.Logger
	R       prometheus.Registerer
	G       prometheus.Gatherer

	// Started is closed when the store is initialized and ready.
	Started <-chan struct{}
}

// Listen creates a new debug handler and starts listening on the given TCP address.
//
// It registers handlers on [http.DefaultServeMux] and therefore should be called once per process.
func Listen(opts *ListenOpts) (*Handler, error) {
	l := opts.L.Named("debug")
	stdL := must.NotFail(zap.NewStdLogAt(l, zap.WarnLevel))

	g := newGatherer(opts.G, time.Second, l)

	http.Handle("/debug/metrics", promhttp.InstrumentMetricHandler(
		opts.R, promhttp.HandlerFor(g, promhttp.HandlerOpts{
			ErrorLog:          stdL,
			ErrorHandling:     promhttp.ContinueOnError,
			Registry:          opts.R,
			EnableOpenMetrics: true,
		}),
	))

	plots, err := newPlotter(g).plots()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	svOpts := []statsviz.Option{statsviz.Root("/debug/graphs")}
	for _, p := range plots {
		svOpts = append(svOpts, statsviz.TimeseriesPlot(p))
	}

	if err = statsviz.Register(http.DefaultServeMux, svOpts...); err != nil {
		return nil, lazyerrors.Error(err)
	}

	http.HandleFunc("/debug/livez", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})

	http.HandleFunc("/debug/started", func(rw http.ResponseWriter, _ *http.Request) {
		select {
		case <-opts.Started:
			rw.WriteHeader(http.StatusOK)
		default:
			rw.WriteHeader(http.StatusInternalServerError)
		}
	})

	http.HandleFunc("/debug/logs", logsHandler)
	http.HandleFunc("/debug/archive", archiveHandler(l))

	handlers := map[string]string{
		// custom handlers registered above
		"/debug/archive": "Zip archive with debug data",
		"/debug/graphs":  "Visualize metrics",
		"/debug/livez":   "Liveness probe",
		"/debug/logs":    "Recent log entries",
		"/debug/metrics": "Metrics in Prometheus format",
		"/debug/started": "Readiness probe",

		// stdlib handlers
		"/debug/vars":  "Expvar package metrics",
		"/debug/pprof": "Runtime profiling data for pprof",
	}

	var page bytes.Buffer
	must.NoError(template.Must(template.New("debug").Parse(`
	<html>
	<body>
	<ul>
	{{range $path, $desc := .}}
		<li><a href="{{$path}}">{{$path}}</a>: {{$desc}}</li>
	{{end}}
	</ul>
	</body>
	</html>
	`)).Execute(&page, handlers))

	http.HandleFunc("/debug", func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = rw.Write(page.Bytes())
	})

	http.HandleFunc("/", func(rw http.ResponseWriter, req *http.Request) {
		http.Redirect(rw, req, "/debug", http.StatusSeeOther)
	})

	lis, err := net.Listen("tcp", opts.TCPAddr)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &Handler{
		lis: lis,
		s: &http.Server{
			ErrorLog:          stdL,
			ReadHeaderTimeout: 10 * time.Second,
		},
		l:        l,
		handlers: handlers,
	}, nil
}

// Addr returns the listener address.
func (h *Handler) Addr() net.Addr {
	return h.lis.Addr()
}

// Serve runs the debug handler until ctx is canceled.
func (h *Handler) Serve(ctx context.Context) {
	h.s.BaseContext = func(net.Listener) context.Context { return ctx }

	root := fmt.Sprintf("http://%s", h.lis.Addr())

	h.l.Info("Starting debug server.", zap.String("root", root))

	paths := maps.Keys(h.handlers)
	slices.Sort(paths)

	for _, path := range paths {
		h.l.Debug(h.handlers[path]+".", zap.String("url", root+path))
	}

	go func() {
		if err := h.s.Serve(h.lis); !errors.Is(err, http.ErrServerClosed) {
			h.l.Error("Debug server failed.", zap.Error(err))
		}
	}()

	<-ctx.Done()

	// ctx is already canceled, but we want to inherit its values
	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer stopCancel()

	_ = h.s.Shutdown(stopCtx)
	_ = h.s.Close()

	h.l.Info("Debug server stopped.")
}
