package acquisition

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/austinkregel/local-media/sonifyd/internal/logging"
)

// Synthetic generates a deterministic EEG-like test signal: an alpha rhythm
// whose amplitude swells slowly and differently per channel, a weaker theta
// component, and gaussian noise. Units are microvolts.
type Synthetic struct {
	opts Options
	log  logging.Logger
	rng  *rand.Rand

	// Limit stops after this many samples when positive
	Limit int
}

// NewSynthetic creates a synthetic source. It always paces in real time
// unless opts.Realtime is false, which tests use to run flat out.
func NewSynthetic(opts Options, log logging.Logger) *Synthetic {
	return &Synthetic{
		opts: opts,
		log:  logging.Component(log, "acquisition").WithFields(logging.Fields{"source": "synthetic"}),
		rng:  rand.New(rand.NewPCG(0x5eed, uint64(opts.Channels))),
	}
}

// Name returns the source name
func (s *Synthetic) Name() string { return "synthetic" }

// Sample returns the value of channel ch at sample index i, without noise
func (s *Synthetic) Sample(ch, i int) float64 {
	t := float64(i) / float64(s.opts.SampleRate)
	phase := float64(ch) * math.Pi / 4

	alphaEnv := 1 + 0.8*math.Sin(2*math.Pi*0.05*t+phase)
	alpha := 20 * alphaEnv * math.Sin(2*math.Pi*10*t+phase)
	theta := 8 * math.Sin(2*math.Pi*6*t+2*phase)
	return alpha + theta
}

// Run generates samples until ctx is cancelled or Limit is reached
func (s *Synthetic) Run(ctx context.Context, sink Sink) error {
	s.log.Info("Generating synthetic signal", logging.Fields{
		"channels":   s.opts.Channels,
		"sampleRate": s.opts.SampleRate,
	})

	c := newChunker(s.Name(), sink, s.opts)
	sample := make([]float64, s.opts.Channels)
	for i := 0; s.Limit <= 0 || i < s.Limit; i++ {
		for ch := range sample {
			sample[ch] = s.Sample(ch, i) + 5*s.rng.NormFloat64()
		}
		if err := c.add(ctx, sample); err != nil {
			if stopped(ctx, err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	if err := c.flush(ctx); err != nil && !stopped(ctx, err) {
		return err
	}
	return nil
}
