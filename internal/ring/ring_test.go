package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ramp builds a chunk whose sample k on channel ch is ch*1000 + start + k
func ramp(channels, start, n int) [][]float64 {
	chunk := make([][]float64, channels)
	for ch := range chunk {
		chunk[ch] = make([]float64, n)
		for k := range chunk[ch] {
			chunk[ch][k] = float64(ch*1000 + start + k)
		}
	}
	return chunk
}

func TestNewBuffer(t *testing.T) {
	b := New(8, 3000)

	assert.Equal(t, 8, b.Channels())
	assert.Equal(t, 3000, b.Cap())
	assert.Equal(t, 0, b.Len())
	assert.Zero(t, b.Total())
}

func TestNewBufferPanicsOnInvalidDimensions(t *testing.T) {
	assert.Panics(t, func() { New(0, 10) })
	assert.Panics(t, func() { New(2, 0) })
	assert.Panics(t, func() { New(-1, -1) })
}

func TestGetReturnsExactTail(t *testing.T) {
	b := New(3, 100)
	b.Push(ramp(3, 0, 10))
	b.Push(ramp(3, 10, 15))

	got, ok := b.Get(7)
	require.True(t, ok)
	require.Len(t, got, 3)
	for ch := range got {
		require.Len(t, got[ch], 7)
		for k, v := range got[ch] {
			assert.Equal(t, float64(ch*1000+18+k), v, "channel %d sample %d", ch, k)
		}
	}
}

func TestGetInsufficientData(t *testing.T) {
	b := New(2, 10)

	got, ok := b.Get(1)
	assert.False(t, ok)
	assert.Nil(t, got)

	b.Push(ramp(2, 0, 4))

	got, ok = b.Get(5)
	assert.False(t, ok, "must not return a partial window")
	assert.Nil(t, got)

	_, ok = b.Get(0)
	assert.False(t, ok)

	got, ok = b.Get(4)
	assert.True(t, ok)
	assert.Len(t, got[0], 4)
}

func TestOverwriteKeepsMostRecent(t *testing.T) {
	const capacity = 50
	b := New(2, capacity)

	// 7 chunks of 13 = 91 samples, wrapping the buffer more than once
	for i := 0; i < 7; i++ {
		b.Push(ramp(2, i*13, 13))
	}

	assert.Equal(t, capacity, b.Len())
	assert.Equal(t, uint64(91), b.Total())

	got, ok := b.Get(capacity)
	require.True(t, ok)
	for k := 0; k < capacity; k++ {
		assert.Equal(t, float64(91-capacity+k), got[0][k])
		assert.Equal(t, float64(1000+91-capacity+k), got[1][k])
	}

	_, ok = b.Get(capacity + 1)
	assert.False(t, ok)
}

func TestPushOversizedChunk(t *testing.T) {
	b := New(1, 10)
	b.Push(ramp(1, 0, 3))
	b.Push(ramp(1, 3, 25))

	got, ok := b.Get(10)
	require.True(t, ok)
	for k, v := range got[0] {
		assert.Equal(t, float64(18+k), v)
	}
	assert.Equal(t, uint64(28), b.Total())
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	b := New(1, 10)
	b.Push(ramp(1, 0, 5))

	got, _ := b.Get(5)
	got[0][0] = -1

	again, _ := b.Get(5)
	assert.Equal(t, 0.0, again[0][0])
}

func TestPushMalformedChunkPanics(t *testing.T) {
	b := New(2, 10)

	assert.Panics(t, func() { b.Push(ramp(3, 0, 4)) }, "wrong channel count")
	assert.Panics(t, func() { b.Push([][]float64{{1, 2}, {1}}) }, "ragged rows")
	assert.NotPanics(t, func() { b.Push([][]float64{{}, {}}) }, "empty chunk is a no-op")
	assert.Equal(t, 0, b.Len())
}

func TestReset(t *testing.T) {
	b := New(1, 10)
	b.Push(ramp(1, 0, 8))
	b.Reset()

	assert.Equal(t, 0, b.Len())
	_, ok := b.Get(1)
	assert.False(t, ok)
}

func TestConcurrentPushAndGet(t *testing.T) {
	const (
		channels = 4
		chunk    = 25
		chunks   = 400
	)
	b := New(channels, 500)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < chunks; i++ {
			b.Push(ramp(channels, i*chunk, chunk))
		}
	}()

	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				got, ok := b.Get(100)
				if !ok {
					continue
				}
				// Every window must be a contiguous ascending run on every channel
				for ch := range got {
					for k := 1; k < len(got[ch]); k++ {
						if got[ch][k] != got[ch][k-1]+1 {
							t.Errorf("channel %d not contiguous at %d: %v -> %v", ch, k, got[ch][k-1], got[ch][k])
							return
						}
					}
					if got[ch][0]-got[0][0] != float64(ch*1000) {
						t.Errorf("channels out of step: %v vs %v", got[ch][0], got[0][0])
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, uint64(chunks*chunk), b.Total())
}
