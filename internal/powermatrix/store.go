// Package powermatrix publishes the latest normalized band-power matrix from
// the processing engine to the audio render path.
package powermatrix

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Matrix is an immutable (channels × bands) snapshot of normalized band power.
// Nothing mutates a Matrix once it has been built; readers may share it freely.
type Matrix struct {
	channels    int
	bands       int
	values      []float64 // row-major
	generation  uint64
	publishedAt time.Time
}

// Zeros returns an all-zero matrix of generation 0
func Zeros(channels, bands int) *Matrix {
	return &Matrix{
		channels: channels,
		bands:    bands,
		values:   make([]float64, channels*bands),
	}
}

func fromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 {
		return &Matrix{}, nil
	}
	bands := len(rows[0])
	values := make([]float64, 0, len(rows)*bands)
	for ch, row := range rows {
		if len(row) != bands {
			return nil, fmt.Errorf("row %d has %d bands, want %d", ch, len(row), bands)
		}
		values = append(values, row...)
	}
	return &Matrix{
		channels: len(rows),
		bands:    bands,
		values:   values,
	}, nil
}

// Channels returns the row count
func (m *Matrix) Channels() int {
	if m == nil {
		return 0
	}
	return m.channels
}

// Bands returns the column count
func (m *Matrix) Bands() int {
	if m == nil {
		return 0
	}
	return m.bands
}

// Empty reports whether the matrix carries no values
func (m *Matrix) Empty() bool {
	return m == nil || len(m.values) == 0
}

// At returns the value for (channel, band)
func (m *Matrix) At(channel, band int) float64 {
	return m.values[channel*m.bands+band]
}

// Row returns a copy of one channel's band values
func (m *Matrix) Row(channel int) []float64 {
	out := make([]float64, m.bands)
	copy(out, m.values[channel*m.bands:(channel+1)*m.bands])
	return out
}

// Rows returns a deep copy as [channel][band]
func (m *Matrix) Rows() [][]float64 {
	if m.Empty() {
		return [][]float64{}
	}
	out := make([][]float64, m.channels)
	for ch := range out {
		out[ch] = m.Row(ch)
	}
	return out
}

// Generation is 0 for the initial zero matrix and increments per publish
func (m *Matrix) Generation() uint64 {
	if m == nil {
		return 0
	}
	return m.generation
}

// PublishedAt is the zero time for the initial matrix
func (m *Matrix) PublishedAt() time.Time {
	if m == nil {
		return time.Time{}
	}
	return m.publishedAt
}

// Store holds exactly one live Matrix. Publish swaps a new immutable matrix
// in with a single atomic store, so Snapshot never blocks and never sees a
// matrix that is half old and half new.
type Store struct {
	current    atomic.Pointer[Matrix]
	generation atomic.Uint64
}

// NewStore creates a store whose initial snapshot is an all-zero matrix (silence)
func NewStore(channels, bands int) *Store {
	s := &Store{}
	s.current.Store(Zeros(channels, bands))
	return s
}

// Publish copies rows, shaped [channel][band], into a new matrix and makes it
// the live snapshot. The caller keeps ownership of rows.
func (s *Store) Publish(rows [][]float64) (*Matrix, error) {
	m, err := fromRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to publish power matrix: %w", err)
	}
	m.generation = s.generation.Add(1)
	m.publishedAt = time.Now()
	s.current.Store(m)
	return m, nil
}

// Snapshot returns the live matrix. It is shared and must not be modified.
func (s *Store) Snapshot() *Matrix {
	return s.current.Load()
}
