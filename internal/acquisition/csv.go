package acquisition

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/austinkregel/local-media/sonifyd/internal/logging"
	"github.com/austinkregel/local-media/sonifyd/internal/metrics"
)

// CSVReplay replays an OpenBCI GUI or BrainFlow text recording
type CSVReplay struct {
	opts Options
	log  logging.Logger
}

// NewCSVReplay creates a CSV replay source for opts.Input
func NewCSVReplay(opts Options, log logging.Logger) (*CSVReplay, error) {
	if opts.Input == "" {
		return nil, ErrNoInput
	}
	return &CSVReplay{
		opts: opts,
		log:  logging.Component(log, "acquisition").WithFields(logging.Fields{"source": "csv"}),
	}, nil
}

// Name returns the source name
func (s *CSVReplay) Name() string { return "csv" }

// Run replays the file once, or forever with Loop set
func (s *CSVReplay) Run(ctx context.Context, sink Sink) error {
	f, err := os.Open(s.opts.Input)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	s.log.Info("Replaying recording", logging.Fields{
		"path":     s.opts.Input,
		"loop":     s.opts.Loop,
		"realtime": s.opts.Realtime,
	})

	c := newChunker(s.Name(), sink, s.opts)
	for pass := 1; ; pass++ {
		samples, err := readRecords(ctx, f, c, s.opts.Channels, s.Name(), s.log)
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

// readRecords scans r line by line into c. It returns the number of valid
// samples read and stops at EOF, a read error, or ctx cancellation.
func readRecords(ctx context.Context, r io.Reader, c *chunker, channels int, name string, log logging.Logger) (int, error) {
	scanner := bufio.NewScanner(r)
	sample := make([]float64, channels)
	var samples, line int

	for scanner.Scan() {
		line++
		switch parseRecord(scanner.Text(), channels, sample) {
		case recordSkip:
			continue
		case recordMalformed:
			metrics.MalformedRecords.WithLabelValues(name).Inc()
			log.Debug("Skipping malformed record", logging.Fields{"line": line})
			continue
		}

		samples++
		if err := c.add(ctx, sample); err != nil {
			return samples, err
		}
		if err := ctx.Err(); err != nil {
			return samples, err
		}
	}
	if err := scanner.Err(); err != nil {
		return samples, fmt.Errorf("failed to read records: %w", err)
	}
	return samples, nil
}
