package acquisition

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/austinkregel/local-media/sonifyd/internal/logging"
)

const dialTimeout = 5 * time.Second

// Stream reads live records from a serial device path or a tcp://host:port
// address. Records use the same text format as CSV recordings. Chunks are
// pushed as soon as they fill; the device sets the pace.
type Stream struct {
	opts Options
	log  logging.Logger
}

// NewStream creates a live stream source for opts.Input
func NewStream(opts Options, log logging.Logger) (*Stream, error) {
	if opts.Input == "" {
		return nil, ErrNoInput
	}
	opts.Realtime = false
	return &Stream{
		opts: opts,
		log:  logging.Component(log, "acquisition").WithFields(logging.Fields{"source": "stream"}),
	}, nil
}

// Name returns the source name
func (s *Stream) Name() string { return "stream" }

// Run reads until the stream closes or ctx is cancelled
func (s *Stream) Run(ctx context.Context, sink Sink) error {
	conn, err := s.open(ctx)
	if err != nil {
		return err
	}

	// Closing the connection unblocks the scanner on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		if stop() {
			conn.Close()
		}
	}()

	s.log.Info("Streaming", logging.Fields{"input": s.opts.Input})

	c := newChunker(s.Name(), sink, s.opts)
	_, err = readRecords(ctx, conn, c, s.opts.Channels, s.Name(), s.log)
	if stopped(ctx, err) || ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stream %s: %w", s.opts.Input, err)
	}
	if err := c.flush(ctx); err != nil && !stopped(ctx, err) {
		return err
	}

	s.log.Info("Stream closed by peer", logging.Fields{"samples": c.pushed})
	return nil
}

func (s *Stream) open(ctx context.Context) (io.ReadCloser, error) {
	if addr, ok := strings.CutPrefix(s.opts.Input, "tcp://"); ok {
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
		return conn, nil
	}

	f, err := os.Open(s.opts.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	return f, nil
}
