// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package main runs a synthetic workload instrumented with markers and
// exports the firings of the attached markers with OpenTelemetry.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"go.opentelemetry.io/markers"
	"go.opentelemetry.io/markers/export/oteltrace"
)

const help = `Usage of %s:
  -config string
    	Path of a YAML registry configuration file
  -markers string
    	Comma separated marker names to trace (default: all)
  -workers int
    	Number of workload workers (default 2)
  -interval duration
    	Delay between two jobs of a worker (default 100ms)
  -duration duration
    	Run time; zero runs until interrupted
  -log-level string
    	Logging level ("debug", "info", "warn", "error")

Runs a synthetic workload whose code is instrumented with markers and records
the firings of the traced markers as OpenTelemetry spans.

Environment variable configuration:

	- OTEL_GO_MARKERS_CONFIG: registry configuration file (flag takes precedence)
	- OTEL_LOG_LEVEL: log level (flag takes precedence)
	- OTEL_SERVICE_NAME (or OTEL_RESOURCE_ATTRIBUTES): service name
	- OTEL_TRACES_EXPORTER: trace exporter identifier

The OTEL_TRACES_EXPORTER environment variable value is resolved using the
autoexport (go.opentelemetry.io/contrib/exporters/autoexport) package. See that
package's documentation for information on supported values and registration of
custom exporters.
`

// envLogLevelKey is the key for the environment variable value containing the
// log level.
const envLogLevelKey = "OTEL_LOG_LEVEL"

func usage() {
	program := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, help, program)
}

func newLogger(lvlStr string) logr.Logger {
	levelVar := new(slog.LevelVar) // Default value of info.
	opts := &slog.HandlerOptions{AddSource: true, Level: levelVar}
	h := slog.NewJSONHandler(os.Stderr, opts)
	logger := logr.FromSlogHandler(h)

	if lvlStr == "" {
		lvlStr = os.Getenv(envLogLevelKey)
	}

	if lvlStr == "" {
		return logger
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(lvlStr)); err != nil {
		logger.Error(err, "failed to parse log level", "log-level", lvlStr)
	} else {
		levelVar.Set(level)
	}

	return logger
}

// parseMarkers splits a comma separated list of marker names.
func parseMarkers(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func registryOptions(logger logr.Logger, configPath string) ([]markers.RegistryOption, error) {
	opts := []markers.RegistryOption{markers.WithLogger(logger)}
	if configPath == "" {
		return opts, nil
	}
	cfg, err := markers.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return append(opts, markers.WithConfig(cfg)), nil
}

func main() {
	var (
		configPath  string
		markerList  string
		workers     int
		interval    time.Duration
		runDuration time.Duration
		logLevel    string
	)

	flag.StringVar(&configPath, "config", "", "Path of a YAML registry configuration file")
	flag.StringVar(&markerList, "markers", "", "Comma separated marker names to trace (default: all)")
	flag.IntVar(&workers, "workers", 2, "Number of workload workers")
	flag.DurationVar(&interval, "interval", 100*time.Millisecond, "Delay between two jobs of a worker")
	flag.DurationVar(&runDuration, "duration", 0, "Run time; zero runs until interrupted")
	flag.StringVar(&logLevel, "log-level", "", `Logging level ("debug", "info", "warn", "error")`)

	flag.Usage = usage
	flag.Parse()

	logger := newLogger(logLevel)

	// Trap Ctrl+C and SIGTERM and call cancel on the context.
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(ch)
		cancel()
	}()
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	if runDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, runDuration)
		defer stop()
	}

	logger.Info("starting markers demo", "version", newVersion(), "workers", workers)

	opts, err := registryOptions(logger, configPath)
	if err != nil {
		logger.Error(err, "failed to load configuration", "path", configPath)
		return
	}
	reg, err := markers.NewRegistry(opts...)
	if err != nil {
		logger.Error(err, "failed to create registry")
		return
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error(err, "failed to close registry")
		}
	}()

	if err := reg.Load(workloadUnit, workloadSites()...); err != nil {
		logger.Error(err, "failed to load workload markers")
		return
	}

	v := semconv.TelemetryDistroVersionKey.String(markers.Version())
	tp, err := oteltrace.NewTracerProvider(ctx, oteltrace.WithEnv(), oteltrace.WithResourceAttributes(v))
	if err != nil {
		logger.Error(err, "failed to create tracer provider")
		return
	}
	defer func() {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error(err, "failed to flush tracer provider")
		}
	}()

	ctrl, err := oteltrace.NewController(logger, tp, markers.Version())
	if err != nil {
		logger.Error(err, "failed to create controller")
		return
	}
	if err := ctrl.Attach(reg, parseMarkers(markerList)...); err != nil {
		logger.Error(err, "failed to attach some markers")
	}

	logger.Info("workload running")
	w := workload{workers: workers, interval: interval}
	jobs := w.run(ctx)

	if err := ctrl.Detach(reg); err != nil {
		logger.Error(err, "failed to detach markers")
	}
	for _, mi := range reg.Markers() {
		logger.Info("marker", "name", mi.Name, "format", mi.Format, "sites", mi.Sites, "probes", mi.Probes)
	}
	logger.Info("shutting down", "jobs", jobs)
}
