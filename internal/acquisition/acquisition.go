// Package acquisition produces EEG sample chunks from recordings, live
// streams or a synthetic generator and pushes them into a Sink.
package acquisition

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/austinkregel/local-media/sonifyd/internal/config"
	"github.com/austinkregel/local-media/sonifyd/internal/logging"
	"github.com/austinkregel/local-media/sonifyd/internal/metrics"
	"github.com/austinkregel/local-media/sonifyd/internal/types"
)

var (
	// ErrNoInput is returned when a source needs an input path but has none
	ErrNoInput = errors.New("no acquisition input configured")

	// ErrUnsupportedFormat is returned for inputs the source cannot decode
	ErrUnsupportedFormat = errors.New("unsupported input format")
)

// Sink receives chunks shaped [channel][sample]. *ring.Buffer satisfies it.
type Sink interface {
	Push(chunk [][]float64)
}

// Source pushes chunks into sink until its input ends or ctx is cancelled.
// A cancelled context is a clean stop and returns nil.
type Source interface {
	Run(ctx context.Context, sink Sink) error
	Name() string
}

// Options are shared by every source
type Options struct {
	Channels   int
	SampleRate int
	ChunkSize  int

	// Input is the recording path or stream address
	Input string

	// Realtime paces pushes at SampleRate samples per second
	Realtime bool

	// Loop rewinds recordings at EOF
	Loop bool

	// Gain scales normalized WAV PCM into signal units
	Gain float64
}

// OptionsFromConfig derives source options from the daemon configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Channels:   cfg.Signal.Channels,
		SampleRate: cfg.Signal.SampleRate,
		ChunkSize:  cfg.ChunkSize(),
		Input:      cfg.Acquisition.Input,
		Realtime:   cfg.Acquisition.Realtime,
		Loop:       cfg.Acquisition.Loop,
		Gain:       cfg.Acquisition.Gain,
	}
}

// New returns the source for mode
func New(mode types.AcquisitionMode, opts Options, log logging.Logger) (Source, error) {
	switch mode {
	case types.ModeFile:
		return NewCSVReplay(opts, log)
	case types.ModeWAV:
		return NewWAVReplay(opts, log)
	case types.ModeLive:
		return NewStream(opts, log)
	case types.ModeSynthetic:
		return NewSynthetic(opts, log), nil
	default:
		return nil, fmt.Errorf("unknown acquisition mode %q", mode)
	}
}

// chunker collects per-instant samples into [channel][sample] chunks and
// pushes each chunk once it is full, paced when a limiter is set.
type chunker struct {
	name    string
	sink    Sink
	limiter *rate.Limiter
	size    int
	chunk   [][]float64
	pushed  uint64
}

func newChunker(name string, sink Sink, opts Options) *chunker {
	c := &chunker{
		name: name,
		sink: sink,
		size: max(1, opts.ChunkSize),
	}
	if opts.Realtime {
		c.limiter = rate.NewLimiter(rate.Limit(opts.SampleRate), c.size)
	}
	c.chunk = newChunk(opts.Channels, c.size)
	return c
}

func newChunk(channels, size int) [][]float64 {
	chunk := make([][]float64, channels)
	for ch := range chunk {
		chunk[ch] = make([]float64, 0, size)
	}
	return chunk
}

// add appends one sample, one value per channel, pushing when the chunk fills
func (c *chunker) add(ctx context.Context, sample []float64) error {
	for ch := range c.chunk {
		c.chunk[ch] = append(c.chunk[ch], sample[ch])
	}
	if len(c.chunk[0]) < c.size {
		return nil
	}
	return c.flush(ctx)
}

// flush pushes whatever has been collected, waiting on the limiter first
func (c *chunker) flush(ctx context.Context) error {
	n := len(c.chunk[0])
	if n == 0 {
		return nil
	}
	if c.limiter != nil {
		if err := c.limiter.WaitN(ctx, n); err != nil {
			return err
		}
	}

	out := c.chunk
	c.chunk = newChunk(len(out), c.size)
	c.sink.Push(out)
	c.pushed += uint64(n)
	metrics.SamplesPushed.WithLabelValues(c.name).Add(float64(n))
	return nil
}

// stopped reports whether err is just ctx shutting the source down
func stopped(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil
}
