// Package audio drives rendered blocks to a sound card or a clocked sink.
package audio

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/austinkregel/local-media/sonifyd/internal/metrics"
)

// Channels is fixed: every output is interleaved stereo
const Channels = 2

// BlockSource fills dst with len(dst)/2 interleaved stereo frames. It is
// called from the output's real-time goroutine and must not block.
type BlockSource interface {
	RenderBlock(dst []float32)
}

// BlockSourceFunc adapts a function to BlockSource
type BlockSourceFunc func(dst []float32)

// RenderBlock calls f(dst)
func (f BlockSourceFunc) RenderBlock(dst []float32) { f(dst) }

// Output pulls blocks from a BlockSource on its own schedule
type Output interface {
	// Start begins pulling from src. It returns once playback is running.
	Start(src BlockSource) error
	Close() error
	SampleRate() int
}

// VolumeControl is implemented by outputs with a master volume
type VolumeControl interface {
	SetVolume(v float64)
	GetVolume() float64
}

// volume is a lock-free master volume in [0, 1]
type volume struct {
	bits atomic.Uint64
}

func newVolume(v float64) *volume {
	vol := &volume{}
	vol.set(v)
	return vol
}

func (v *volume) set(x float64) {
	if math.IsNaN(x) || x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	v.bits.Store(math.Float64bits(x))
}

func (v *volume) get() float64 {
	return math.Float64frombits(v.bits.Load())
}

// renderBlock asks src for one block and scales it by vol
func renderBlock(src BlockSource, block []float32, vol float64) {
	start := time.Now()
	src.RenderBlock(block)
	if vol < 1 {
		g := float32(vol)
		for i := range block {
			block[i] *= g
		}
	}
	metrics.RenderDuration.Observe(time.Since(start).Seconds())
	metrics.BlocksRendered.Inc()
}
