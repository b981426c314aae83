// Package ring holds the bounded, time-ordered multichannel sample history
// shared between the acquisition producer and the processing engine.
package ring

import (
	"fmt"
	"sync"
)

// Buffer is a fixed-capacity circular store of per-instant channel vectors.
// Samples are kept channel-major so Get can copy whole runs per channel.
// It is safe for one producer and any number of readers.
type Buffer struct {
	mu       sync.Mutex
	channels int
	capacity int
	data     [][]float64 // [channel][capacity]
	writePos int         // next write index
	size     int         // valid samples, <= capacity
	total    uint64      // samples ever pushed
}

// New creates a ring buffer holding capacity samples of each of channels channels
func New(channels, capacity int) *Buffer {
	if channels < 1 || capacity < 1 {
		panic(fmt.Sprintf("ring: invalid dimensions channels=%d capacity=%d", channels, capacity))
	}

	data := make([][]float64, channels)
	for ch := range data {
		data[ch] = make([]float64, capacity)
	}

	return &Buffer{
		channels: channels,
		capacity: capacity,
		data:     data,
	}
}

// Push appends chunk, shaped [channel][sample], overwriting the oldest samples
// when full. A chunk with the wrong channel count or ragged rows is a caller
// bug and panics.
func (b *Buffer) Push(chunk [][]float64) {
	if len(chunk) != b.channels {
		panic(fmt.Sprintf("ring: chunk has %d channels, want %d", len(chunk), b.channels))
	}
	n := len(chunk[0])
	for ch, row := range chunk {
		if len(row) != n {
			panic(fmt.Sprintf("ring: channel %d has %d samples, want %d", ch, len(row), n))
		}
	}
	if n == 0 {
		return
	}

	// Only the trailing capacity samples of an oversized chunk can survive
	skip := 0
	if n > b.capacity {
		skip = n - b.capacity
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch, row := range chunk {
		src := row[skip:]
		pos := b.writePos
		for len(src) > 0 {
			c := copy(b.data[ch][pos:], src)
			src = src[c:]
			pos = (pos + c) % b.capacity
		}
	}

	kept := n - skip
	b.writePos = (b.writePos + kept) % b.capacity
	b.size = min(b.size+kept, b.capacity)
	b.total += uint64(n)
}

// Get returns the most recent n samples as a freshly allocated [channel][n]
// matrix in temporal order. It reports false, with a nil matrix, when fewer
// than n samples are buffered; it never pads or truncates.
func (b *Buffer) Get(n int) ([][]float64, bool) {
	if n <= 0 {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.size {
		return nil, false
	}

	start := (b.writePos - n + b.capacity) % b.capacity
	out := make([][]float64, b.channels)
	for ch := range out {
		row := make([]float64, n)
		if start+n <= b.capacity {
			copy(row, b.data[ch][start:start+n])
		} else {
			first := copy(row, b.data[ch][start:])
			copy(row[first:], b.data[ch][:n-first])
		}
		out[ch] = row
	}

	return out, true
}

// Len returns the number of buffered samples per channel
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the capacity in samples per channel
func (b *Buffer) Cap() int {
	return b.capacity
}

// Channels returns the channel count
func (b *Buffer) Channels() int {
	return b.channels
}

// Total returns the number of samples ever pushed, including evicted ones
func (b *Buffer) Total() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Reset discards all buffered samples
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writePos = 0
	b.size = 0
}
