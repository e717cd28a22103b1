package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dshills/coursegraph/graph"
	"github.com/dshills/coursegraph/graph/emit"
	"github.com/dshills/coursegraph/graph/store"
	"github.com/dshills/coursegraph/internal/config"
	"github.com/dshills/coursegraph/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// app holds everything the subcommands share.
type app struct {
	cfg      *config.Config
	runner   *graph.Runner
	store    store.Store
	registry *prometheus.Registry
	tracer   *sdktrace.TracerProvider
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	st, err := pipeline.OpenStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open run archive: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{cfg: cfg, store: st, registry: reg}

	var emitter emit.Emitter = emit.NewLogEmitter(os.Stderr, logJSON)
	if otelSpans {
		a.tracer, err = newTracerProvider(os.Stderr)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		emitter = emit.NewMultiEmitter(emitter, emit.NewOTelEmitter(a.tracer.Tracer("coursegraph")))
	}

	a.runner, err = pipeline.NewRunner(cfg, pipeline.RemoteDelegates(cfg),
		graph.WithEmitter(emitter),
		graph.WithMetrics(graph.NewPrometheusMetrics(reg)),
		graph.WithRunStore(st),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

// newTracerProvider exports every span to w as a JSON line as soon as it
// ends.
func newTracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)), nil
}

// Close flushes spans and closes the run archive.
func (a *app) Close() {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			log.Printf("shutdown tracer: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		log.Printf("close run archive: %v", err)
	}
}
