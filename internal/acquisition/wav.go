package acquisition

import (
	"context"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/austinkregel/local-media/sonifyd/internal/logging"
	"github.com/austinkregel/local-media/sonifyd/internal/metrics"
)

// WAVReplay replays a multichannel PCM WAV recording. The first Channels
// channels are used; integer PCM is scaled to ±1 by its bit depth, then by Gain.
type WAVReplay struct {
	opts Options
	log  logging.Logger
}

// NewWAVReplay creates a WAV replay source for opts.Input
func NewWAVReplay(opts Options, log logging.Logger) (*WAVReplay, error) {
	if opts.Input == "" {
		return nil, ErrNoInput
	}
	if opts.Gain == 0 {
		opts.Gain = 1
	}
	return &WAVReplay{
		opts: opts,
		log:  logging.Component(log, "acquisition").WithFields(logging.Fields{"source": "wav"}),
	}, nil
}

// Name returns the source name
func (s *WAVReplay) Name() string { return "wav" }

// Run replays the file once, or forever with Loop set
func (s *WAVReplay) Run(ctx context.Context, sink Sink) error {
	f, err := os.Open(s.opts.Input)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	c := newChunker(s.Name(), sink, s.opts)
	for pass := 1; ; pass++ {
		samples, err := s.replay(ctx, f, c)
		if stopped(ctx, err) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.flush(ctx); err != nil {
			if stopped(ctx, err) {
				return nil
			}
			return err
		}

		if !s.opts.Loop {
			s.log.Info("Recording finished", logging.Fields{"samples": c.pushed})
			return nil
		}
		if samples == 0 {
			return fmt.Errorf("%w: %s holds no samples to loop", ErrUnsupportedFormat, s.opts.Input)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind recording: %w", err)
		}
		s.log.Debug("Looping recording", logging.Fields{"pass": pass})
	}
}

// replay decodes one pass over f into c
func (s *WAVReplay) replay(ctx context.Context, f io.ReadSeeker, c *chunker) (int, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%w: %s is not a PCM wav file", ErrUnsupportedFormat, s.opts.Input)
	}
	numChans := int(dec.NumChans)
	if numChans < s.opts.Channels {
		return 0, fmt.Errorf("%w: %s has %d channels, need %d", ErrUnsupportedFormat, s.opts.Input, numChans, s.opts.Channels)
	}
	if int(dec.SampleRate) != s.opts.SampleRate {
		s.log.Warn("WAV sample rate differs from signal rate", logging.Fields{
			"wav":    dec.SampleRate,
			"signal": s.opts.SampleRate,
		})
	}

	scale := s.opts.Gain / fullScale(int(dec.BitDepth))
	buf := &goaudio.IntBuffer{
		Data:   make([]int, c.size*numChans),
		Format: dec.Format(),
	}
	frame := make([]float64, numChans)
	var pos, samples int

	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			metrics.MalformedRecords.WithLabelValues(s.Name()).Inc()
			return samples, fmt.Errorf("failed to decode wav: %w", err)
		}
		if n == 0 {
			return samples, nil
		}

		// Reads are not guaranteed to end on a frame boundary
		for _, v := range buf.Data[:n] {
			frame[pos] = float64(v) * scale
			pos++
			if pos < numChans {
				continue
			}
			pos = 0
			samples++
			if err := c.add(ctx, frame[:s.opts.Channels]); err != nil {
				return samples, err
			}
		}
		if err := ctx.Err(); err != nil {
			return samples, err
		}
	}
}

// fullScale is the magnitude that maps to 1.0 for a PCM bit depth
func fullScale(bitDepth int) float64 {
	switch bitDepth {
	case 8:
		return 128.0
	case 24:
		return 8388608.0
	case 32:
		return 2147483648.0
	default:
		return 32768.0 // Default to 16-bit
	}
}
