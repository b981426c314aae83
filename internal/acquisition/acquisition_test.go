package acquisition

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austinkregel/local-media/sonifyd/internal/logging"
	"github.com/austinkregel/local-media/sonifyd/internal/types"
)

// collectSink records every pushed chunk
type collectSink struct {
	mu     sync.Mutex
	chunks [][][]float64
}

func (c *collectSink) Push(chunk [][]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, chunk)
}

func (c *collectSink) sizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.chunks))
	for i, ch := range c.chunks {
		out[i] = len(ch[0])
	}
	return out
}

func (c *collectSink) total() int {
	var n int
	for _, s := range c.sizes() {
		n += s
	}
	return n
}

// channel returns every value pushed for one channel, in order
func (c *collectSink) channel(ch int) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []float64
	for _, chunk := range c.chunks {
		out = append(out, chunk[ch]...)
	}
	return out
}

var noLog = &logging.NoOpLogger{}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind recordKind
		want []float64
	}{
		{"comma", "0, 1.5, -2.25, 99", recordSample, []float64{1.5, -2.25}},
		{"tab", "7\t3\t4", recordSample, []float64{3, 4}},
		{"comment", "%OpenBCI Raw EEG Data", recordSkip, nil},
		{"blank", "   ", recordSkip, nil},
		{"header", "Sample Index, EXG Channel 0, EXG Channel 1", recordSkip, nil},
		{"too short", "1, 2.0", recordMalformed, nil},
		{"garbage value", "1, 2.0, abc", recordMalformed, nil},
		{"nan value", "100, nan, 1", recordMalformed, nil},
		{"inf value", "100, 1, +Inf", recordMalformed, nil},
		{"negative inf value", "100, -inf, 1", recordMalformed, nil},
		{"nan index", "nan, 1, 2", recordMalformed, nil},
		{"corrupted index", "x12, 1.0, 2.0", recordMalformed, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]float64, 2)
			kind := parseRecord(tt.line, 2, dst)
			assert.Equal(t, tt.kind, kind)
			if tt.want != nil {
				assert.Equal(t, tt.want, dst)
			}
		})
	}
}

func TestNewRequiresInput(t *testing.T) {
	for _, mode := range []types.AcquisitionMode{types.ModeFile, types.ModeWAV, types.ModeLive} {
		_, err := New(mode, Options{Channels: 2, SampleRate: 250}, noLog)
		assert.ErrorIs(t, err, ErrNoInput, "mode %s", mode)
	}

	src, err := New(types.ModeSynthetic, Options{Channels: 2, SampleRate: 250}, noLog)
	require.NoError(t, err)
	assert.Equal(t, "synthetic", src.Name())

	_, err = New("bluetooth", Options{}, noLog)
	assert.Error(t, err)
}

func TestCSVReplaySkipsMalformedRecords(t *testing.T) {
	var b strings.Builder
	b.WriteString("%OpenBCI Raw EEG Data\n")
	b.WriteString("%Sample Rate = 250 Hz\n")
	b.WriteString("Sample Index, EXG Channel 0, EXG Channel 1, Accel\n")
	for i := range 10 {
		fmt.Fprintf(&b, "%d, %d, %d, 0.0\n", i, i, -i)
		if i == 4 {
			b.WriteString("5, oops, 1\n")
			b.WriteString("5\n")
			b.WriteString("100, nan, nan, nan\n")
			b.WriteString("?5, 1, 1, 0.0\n")
		}
	}

	src, err := NewCSVReplay(Options{
		Channels:  2,
		ChunkSize: 4,
		Input:     writeFile(t, "rec.csv", b.String()),
	}, noLog)
	require.NoError(t, err)

	sink := &collectSink{}
	require.NoError(t, src.Run(context.Background(), sink))

	assert.Equal(t, []int{4, 4, 2}, sink.sizes())
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, sink.channel(0))
	assert.Equal(t, []float64{0, -1, -2, -3, -4, -5, -6, -7, -8, -9}, sink.channel(1))
}

func TestCSVReplayLoopsUntilCancelled(t *testing.T) {
	src, err := NewCSVReplay(Options{
		Channels:  1,
		ChunkSize: 2,
		Input:     writeFile(t, "rec.csv", "0,1\n1,2\n2,3\n"),
		Loop:      true,
	}, noLog)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &collectSink{}
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, sink) }()

	require.Eventually(t, func() bool { return sink.total() >= 30 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	values := sink.channel(0)
	for i := range 9 {
		assert.Equal(t, float64(i%3+1), values[i])
	}
}

func TestCSVReplayLoopOnEmptyFileFails(t *testing.T) {
	src, err := NewCSVReplay(Options{
		Channels: 1,
		Input:    writeFile(t, "empty.csv", "%nothing here\n"),
		Loop:     true,
	}, noLog)
	require.NoError(t, err)

	err = src.Run(context.Background(), &collectSink{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestCSVReplayRealtimePacing(t *testing.T) {
	var b strings.Builder
	for i := range 500 {
		fmt.Fprintf(&b, "%d,%d\n", i, i)
	}
	src, err := NewCSVReplay(Options{
		Channels:   1,
		SampleRate: 1000,
		ChunkSize:  100,
		Realtime:   true,
		Input:      writeFile(t, "rec.csv", b.String()),
	}, noLog)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, src.Run(context.Background(), &collectSink{}))
	// The first chunk rides the initial burst; the other four wait 100ms each
	assert.GreaterOrEqual(t, time.Since(start), 350*time.Millisecond)
}

func writeWAV(t *testing.T, channels, sampleRate int, frames [][]int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	data := make([]int, 0, len(frames)*channels)
	for _, fr := range frames {
		data = append(data, fr...)
	}
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

func TestWAVReplayScalesAndDropsExtraChannels(t *testing.T) {
	frames := make([][]int, 9)
	for i := range frames {
		frames[i] = []int{16384, -8192, 1234}
	}
	path := writeWAV(t, 3, 250, frames)

	src, err := NewWAVReplay(Options{
		Channels:   2,
		SampleRate: 250,
		ChunkSize:  4,
		Input:      path,
		Gain:       100,
	}, noLog)
	require.NoError(t, err)

	sink := &collectSink{}
	require.NoError(t, src.Run(context.Background(), sink))

	assert.Equal(t, []int{4, 4, 1}, sink.sizes())
	for _, v := range sink.channel(0) {
		assert.InDelta(t, 50.0, v, 1e-9)
	}
	for _, v := range sink.channel(1) {
		assert.InDelta(t, -25.0, v, 1e-9)
	}
}

func TestWAVReplayRejects(t *testing.T) {
	t.Run("not a wav", func(t *testing.T) {
		src, err := NewWAVReplay(Options{Channels: 1, Input: writeFile(t, "x.wav", "0,1,2\n")}, noLog)
		require.NoError(t, err)
		assert.ErrorIs(t, src.Run(context.Background(), &collectSink{}), ErrUnsupportedFormat)
	})

	t.Run("too few channels", func(t *testing.T) {
		path := writeWAV(t, 1, 250, [][]int{{1}, {2}})
		src, err := NewWAVReplay(Options{Channels: 4, Input: path}, noLog)
		require.NoError(t, err)
		assert.ErrorIs(t, src.Run(context.Background(), &collectSink{}), ErrUnsupportedFormat)
	})
}

func TestStreamOverTCP(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for i := range 6 {
			fmt.Fprintf(conn, "%d\t%d\t%d\n", i, i*10, i*20)
		}
	}()

	src, err := NewStream(Options{
		Channels:  2,
		ChunkSize: 4,
		Input:     "tcp://" + listener.Addr().String(),
	}, noLog)
	require.NoError(t, err)

	sink := &collectSink{}
	require.NoError(t, src.Run(context.Background(), sink))
	assert.Equal(t, []int{4, 2}, sink.sizes())
	assert.Equal(t, []float64{0, 20, 40, 60, 80, 100}, sink.channel(1))
}

func TestStreamStopsOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	src, err := NewStream(Options{Channels: 1, ChunkSize: 4, Input: "tcp://" + listener.Addr().String()}, noLog)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, &collectSink{}) }()

	conn := <-accepted
	defer conn.Close()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}
}

func TestSyntheticIsDeterministic(t *testing.T) {
	run := func() *collectSink {
		src := NewSynthetic(Options{Channels: 3, SampleRate: 250, ChunkSize: 125}, noLog)
		src.Limit = 500
		sink := &collectSink{}
		require.NoError(t, src.Run(context.Background(), sink))
		return sink
	}

	a, b := run(), run()
	assert.Equal(t, []int{125, 125, 125, 125}, a.sizes())
	for ch := range 3 {
		assert.Equal(t, a.channel(ch), b.channel(ch))
	}
	assert.NotEqual(t, a.channel(0), a.channel(1))
}
