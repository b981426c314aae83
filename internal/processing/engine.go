// Package processing turns buffered EEG into normalized band-power matrices.
//
// An Engine first calibrates a baseline from a quiet recording window, then
// periodically estimates band power over the most recent second of signal,
// z-scores it against the baseline and publishes the result.
package processing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/austinkregel/local-media/sonifyd/internal/bandpower"
	"github.com/austinkregel/local-media/sonifyd/internal/config"
	"github.com/austinkregel/local-media/sonifyd/internal/logging"
	"github.com/austinkregel/local-media/sonifyd/internal/metrics"
	"github.com/austinkregel/local-media/sonifyd/internal/powermatrix"
	"github.com/austinkregel/local-media/sonifyd/internal/types"
)

// calibrationPoll bounds the wait between attempts to read the calibration window
const calibrationPoll = 100 * time.Millisecond

// Reader is the slice of the ring buffer the engine needs
type Reader interface {
	Get(n int) ([][]float64, bool)
}

// Options configures an Engine
type Options struct {
	SampleRate         float64
	CalibrationSamples int
	WindowSamples      int
	PollInterval       time.Duration
	Epsilon            float64
	ZClip              float64
}

// OptionsFromConfig derives engine options from the daemon configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SampleRate:         float64(cfg.Signal.SampleRate),
		CalibrationSamples: cfg.CalibrationSamples(),
		WindowSamples:      cfg.WindowSamples(),
		PollInterval:       cfg.PollInterval(),
		Epsilon:            cfg.Processing.Epsilon,
		ZClip:              cfg.Processing.ZClip,
	}
}

// Engine runs calibration followed by the periodic normalization loop
type Engine struct {
	opts  Options
	ring  Reader
	est   bandpower.Estimator
	store *powermatrix.Store
	log   logging.Logger

	state       atomic.Int32
	baseline    atomic.Pointer[Baseline]
	onPublish   atomic.Pointer[func(*powermatrix.Matrix)]
	recalibrate chan struct{}

	calibratedOnce sync.Once
	calibrated     chan struct{}
}

// NewEngine creates an engine in the Uncalibrated state
func NewEngine(opts Options, ring Reader, est bandpower.Estimator, store *powermatrix.Store, log logging.Logger) *Engine {
	e := &Engine{
		opts:        opts,
		ring:        ring,
		est:         est,
		store:       store,
		log:         logging.Component(log, "processing"),
		recalibrate: make(chan struct{}, 1),
		calibrated:  make(chan struct{}),
	}
	e.state.Store(int32(types.StateUncalibrated))
	return e
}

// State returns the lifecycle state
func (e *Engine) State() types.PipelineState {
	return types.PipelineState(e.state.Load())
}

func (e *Engine) setState(s types.PipelineState) {
	e.state.Store(int32(s))
}

// Baseline returns the live baseline, or nil before the first calibration
func (e *Engine) Baseline() *Baseline {
	return e.baseline.Load()
}

// Calibrated is closed once the first calibration succeeds
func (e *Engine) Calibrated() <-chan struct{} {
	return e.calibrated
}

// SetOnPublish registers fn to be called after every published matrix.
// fn runs on the engine goroutine and should not block.
func (e *Engine) SetOnPublish(fn func(*powermatrix.Matrix)) {
	if fn == nil {
		e.onPublish.Store(nil)
		return
	}
	e.onPublish.Store(&fn)
}

// Recalibrate asks the running engine to capture a new baseline. The last
// published matrix keeps sounding until calibration completes.
func (e *Engine) Recalibrate() {
	select {
	case e.recalibrate <- struct{}{}:
	default:
	}
}

// Calibrate waits until the ring buffer holds a full calibration window, then
// computes and installs a new baseline. It never gives up on its own; only
// ctx cancellation ends the wait.
func (e *Engine) Calibrate(ctx context.Context) (*Baseline, error) {
	e.log.Info("Calibrating baseline, keep still", logging.Fields{
		"samples": e.opts.CalibrationSamples,
	})

	var window [][]float64
	for {
		var ok bool
		if window, ok = e.ring.Get(e.opts.CalibrationSamples); ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(calibrationPoll):
		}
	}

	powers := bandpower.ChannelPowers(e.est, window, e.opts.SampleRate)
	b, err := ComputeBaseline(powers, e.opts.Epsilon)
	if err != nil {
		return nil, fmt.Errorf("failed to compute baseline: %w", err)
	}

	e.baseline.Store(b)
	e.setState(types.StateRunning)
	e.calibratedOnce.Do(func() { close(e.calibrated) })
	metrics.Calibrations.Inc()
	e.log.Info("Calibration done", logging.Fields{"mean": b.Mean, "std": b.Std})
	return b, nil
}

// Cycle runs one normalization pass. It returns false when the pass was
// skipped for lack of data or a baseline, or recovered from a panic; the
// previously published matrix stays live in every such case.
func (e *Engine) Cycle() (published bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Cycles.WithLabelValues("recovered").Inc()
			e.log.Error(fmt.Errorf("panic: %v", r), "Normalization cycle failed")
			published = false
		}
	}()

	b := e.baseline.Load()
	if b == nil {
		metrics.Cycles.WithLabelValues("skipped").Inc()
		return false
	}
	window, ok := e.ring.Get(e.opts.WindowSamples)
	if !ok {
		metrics.Cycles.WithLabelValues("skipped").Inc()
		return false
	}

	start := time.Now()
	powers := bandpower.ChannelPowers(e.est, window, e.opts.SampleRate)
	m, err := e.store.Publish(Normalize(powers, b, e.opts.ZClip))
	if err != nil {
		metrics.Cycles.WithLabelValues("recovered").Inc()
		e.log.Error(err, "Failed to publish power matrix")
		return false
	}
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	metrics.Cycles.WithLabelValues("published").Inc()
	metrics.MatrixGeneration.Set(float64(m.Generation()))

	if fn := e.onPublish.Load(); fn != nil {
		(*fn)(m)
	}
	return true
}

// Run calibrates, then runs a normalization cycle every poll interval until
// ctx is cancelled. A recalibration request drops the engine back to
// Uncalibrated and recalibrates before the next cycle. A window that cannot
// produce a baseline is logged and retried every tick. Cancellation is a
// clean stop and returns nil.
func (e *Engine) Run(ctx context.Context) error {
	defer e.setState(types.StateStopped)

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		if e.State() == types.StateUncalibrated {
			if _, err := e.Calibrate(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				// Retried on the next tick, once fresh samples have moved
				// the window past the bad data
				e.log.Error(err, "Calibration failed, retrying")
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-e.recalibrate:
			e.log.Info("Recalibration requested")
			e.setState(types.StateUncalibrated)
		case <-ticker.C:
			e.Cycle()
		}
	}
}
