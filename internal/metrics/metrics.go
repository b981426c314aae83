// Package metrics exposes the daemon's prometheus collectors.
//
// Every collector is safe to touch from the audio render path: counters,
// gauges and histograms update with atomics only.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austinkregel/local-media/sonifyd/internal/logging"
)

const namespace = "sonifyd"

// Acquisition
var (
	// SamplesPushed counts time-steps pushed into the ring buffer.
	// Labels: source
	SamplesPushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "acquisition",
		Name:      "samples_total",
		Help:      "Samples pushed into the ring buffer",
	}, []string{"source"})

	// MalformedRecords counts input records skipped by a source.
	// Labels: source
	MalformedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "acquisition",
		Name:      "malformed_records_total",
		Help:      "Input records skipped because they could not be parsed",
	}, []string{"source"})

	RingFill = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ring",
		Name:      "fill_samples",
		Help:      "Samples currently held by the ring buffer",
	})
)

// Processing
var (
	// Cycles counts normalization cycles by outcome.
	// Labels: result (published, skipped, recovered)
	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "processing",
		Name:      "cycles_total",
		Help:      "Normalization cycles by result",
	}, []string{"result"})

	Calibrations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "processing",
		Name:      "calibrations_total",
		Help:      "Completed baseline calibrations",
	})

	MatrixGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "processing",
		Name:      "matrix_generation",
		Help:      "Generation of the most recently published power matrix",
	})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "processing",
		Name:      "cycle_duration_seconds",
		Help:      "Time spent estimating and normalizing one window",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})
)

// Rendering
var (
	BlocksRendered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audio",
		Name:      "blocks_total",
		Help:      "Audio blocks rendered",
	})

	// RenderDuration must stay well below the block period
	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "audio",
		Name:      "render_duration_seconds",
		Help:      "Time spent rendering one audio block",
		Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
	})
)

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr
// disables the exporter and returns immediately.
func Serve(ctx context.Context, addr string, log logging.Logger) error {
	if addr == "" {
		return nil
	}
	log = logging.Component(log, "metrics")

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return serve(ctx, listener, log)
}

func serve(ctx context.Context, listener net.Listener, log logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("Serving metrics", logging.Fields{"addr": listener.Addr().String()})
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
