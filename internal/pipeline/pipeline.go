// Package pipeline wires acquisition, processing and rendering together and
// owns their lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/austinkregel/local-media/sonifyd/internal/acquisition"
	"github.com/austinkregel/local-media/sonifyd/internal/audio"
	"github.com/austinkregel/local-media/sonifyd/internal/bandpower"
	"github.com/austinkregel/local-media/sonifyd/internal/config"
	"github.com/austinkregel/local-media/sonifyd/internal/logging"
	"github.com/austinkregel/local-media/sonifyd/internal/metrics"
	"github.com/austinkregel/local-media/sonifyd/internal/powermatrix"
	"github.com/austinkregel/local-media/sonifyd/internal/processing"
	"github.com/austinkregel/local-media/sonifyd/internal/ring"
	"github.com/austinkregel/local-media/sonifyd/internal/synth"
	"github.com/austinkregel/local-media/sonifyd/internal/types"
)

// ErrNoVolumeControl is returned by SetVolume when the output has no volume
var ErrNoVolumeControl = errors.New("audio output has no volume control")

// Status is a point-in-time summary of the running pipeline
type Status struct {
	SessionID       string               `json:"sessionId"`
	State           string               `json:"state"`
	Source          string               `json:"source"`
	OutputStarted   bool                 `json:"outputStarted"`
	Generation      uint64               `json:"generation"`
	PublishedAt     time.Time            `json:"publishedAt"`
	SamplesPushed   uint64               `json:"samplesPushed"`
	BufferedSamples int                  `json:"bufferedSamples"`
	Volume          float64              `json:"volume"`
	UptimeSeconds   float64              `json:"uptimeSeconds"`
	Baseline        *processing.Baseline `json:"baseline,omitempty"`
}

// Coordinator owns one pipeline run. Acquisition pushes into the ring buffer,
// the engine turns buffered signal into power matrices, and the output pulls
// rendered blocks. Audio starts only after the first calibration.
type Coordinator struct {
	cfg       config.Config
	sessionID string
	log       logging.Logger

	src      acquisition.Source
	out      audio.Output
	ring     *ring.Buffer
	store    *powermatrix.Store
	engine   *processing.Engine
	renderer *synth.Renderer

	outputStarted atomic.Bool
	startedAt     time.Time
}

// New builds every pipeline component from cfg. Nothing runs until Run.
func New(cfg config.Config, src acquisition.Source, out audio.Output, log logging.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()

	bands := make([]bandpower.Band, len(cfg.Bands))
	for i, b := range cfg.Bands {
		bands[i] = bandpower.Band{Name: b.Name, Low: b.Low, High: b.High}
	}
	est, err := bandpower.New(cfg.Processing.Estimator, bands)
	if err != nil {
		return nil, fmt.Errorf("failed to create estimator: %w", err)
	}

	sessionID := uuid.NewString()
	log = logging.Component(log, "pipeline").WithFields(logging.Fields{"session": sessionID[:8]})

	buf := ring.New(cfg.Signal.Channels, cfg.BufferCapacity())
	store := powermatrix.NewStore(cfg.Signal.Channels, len(bands))
	freqs := synth.NewFrequencyMap(cfg.BaseMIDI(), cfg.Degrees())

	c := &Coordinator{
		cfg:       cfg,
		sessionID: sessionID,
		log:       log,
		src:       src,
		out:       out,
		ring:      buf,
		store:     store,
		engine:    processing.NewEngine(processing.OptionsFromConfig(&cfg), buf, est, store, log),
		renderer:  synth.NewRenderer(float64(out.SampleRate()), freqs, cfg.Audio.Drive),
		startedAt: time.Now(),
	}
	if vc, ok := out.(audio.VolumeControl); ok {
		vc.SetVolume(cfg.Audio.Volume)
	}
	return c, nil
}

// SessionID identifies this run in logs and status
func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// Run starts acquisition and the processing engine, starts the audio output
// once calibration completes, and blocks until ctx is cancelled or the source
// runs out. On the way out every loop is signalled, joined, and only then is
// the output closed.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info("Starting pipeline", logging.Fields{
		"source":   c.src.Name(),
		"renderer": c.renderer.String(),
	})

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := c.src.Run(gctx, sinkFunc(c.push))
		if err != nil {
			return fmt.Errorf("acquisition (%s): %w", c.src.Name(), err)
		}
		if gctx.Err() == nil {
			c.log.Info("Source finished, stopping")
			stop()
		}
		return nil
	})

	g.Go(func() error {
		return c.engine.Run(gctx)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-c.engine.Calibrated():
		}
		if err := c.out.Start(audio.BlockSourceFunc(c.RenderBlock)); err != nil {
			return fmt.Errorf("failed to start audio output: %w", err)
		}
		c.outputStarted.Store(true)
		c.log.Info("Audio output started", logging.Fields{"sampleRate": c.out.SampleRate()})
		return nil
	})

	err := g.Wait()

	if cerr := c.out.Close(); cerr != nil {
		c.log.Error(cerr, "Failed to close audio output")
		if err == nil {
			err = cerr
		}
	}
	c.outputStarted.Store(false)
	c.log.Info("Pipeline stopped", logging.Fields{"samples": c.ring.Total()})
	return err
}

// push is the acquisition sink
func (c *Coordinator) push(chunk [][]float64) {
	c.ring.Push(chunk)
	metrics.RingFill.Set(float64(c.ring.Len()))
}

// RenderBlock renders the live power matrix into dst. It runs on the audio
// goroutine and touches only the store's atomic snapshot and the renderer.
func (c *Coordinator) RenderBlock(dst []float32) {
	c.renderer.RenderInto(dst, c.store.Snapshot())
}

// State returns the processing lifecycle state
func (c *Coordinator) State() types.PipelineState {
	return c.engine.State()
}

// Snapshot returns the live power matrix
func (c *Coordinator) Snapshot() *powermatrix.Matrix {
	return c.store.Snapshot()
}

// Recalibrate captures a fresh baseline while the last matrix keeps sounding
func (c *Coordinator) Recalibrate() {
	c.log.Info("Recalibration requested")
	c.engine.Recalibrate()
}

// SetOnPublish forwards every published matrix to fn
func (c *Coordinator) SetOnPublish(fn func(*powermatrix.Matrix)) {
	c.engine.SetOnPublish(fn)
}

// Config returns a copy of the configuration the pipeline was built with
func (c *Coordinator) Config() config.Config {
	return c.cfg.Clone()
}

// Bands returns the configured band names in matrix column order
func (c *Coordinator) Bands() []string {
	names := make([]string, len(c.cfg.Bands))
	for i, b := range c.cfg.Bands {
		names[i] = b.Name
	}
	return names
}

// SetVolume sets the output master volume (0.0 - 1.0)
func (c *Coordinator) SetVolume(v float64) error {
	vc, ok := c.out.(audio.VolumeControl)
	if !ok {
		return ErrNoVolumeControl
	}
	vc.SetVolume(v)
	return nil
}

// Volume returns the output master volume, or 1 when the output has none
func (c *Coordinator) Volume() float64 {
	if vc, ok := c.out.(audio.VolumeControl); ok {
		return vc.GetVolume()
	}
	return 1
}

// Status returns a summary of the pipeline
func (c *Coordinator) Status() Status {
	m := c.store.Snapshot()
	return Status{
		SessionID:       c.sessionID,
		State:           c.engine.State().String(),
		Source:          c.src.Name(),
		OutputStarted:   c.outputStarted.Load(),
		Generation:      m.Generation(),
		PublishedAt:     m.PublishedAt(),
		SamplesPushed:   c.ring.Total(),
		BufferedSamples: c.ring.Len(),
		Volume:          c.Volume(),
		UptimeSeconds:   time.Since(c.startedAt).Seconds(),
		Baseline:        c.engine.Baseline(),
	}
}

type sinkFunc func([][]float64)

func (f sinkFunc) Push(chunk [][]float64) { f(chunk) }
