package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	ch        chan []float32
	closeOnce sync.Once
	closed    atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan []float32, 8)}
}

func (f *fakeStream) Frames() <-chan []float32 { return f.ch }

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.ch)
	})
	return nil
}

type fakeMic struct {
	stream *fakeStream
	err    error
}

func (m *fakeMic) Open(_ context.Context, c Constraints) (FrameStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type fakeGate struct{ speaking atomic.Bool }

func (g *fakeGate) Speaking() bool { return g.speaking.Load() }

type frameCollector struct {
	mu     sync.Mutex
	frames []Frame
}

func (fc *frameCollector) sink(f Frame) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.frames = append(fc.frames, f)
}

func (fc *frameCollector) count() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.frames)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestCaptureGatedBySpeech(t *testing.T) {
	stream := newFakeStream()
	gate := &fakeGate{}
	sink := &frameCollector{}

	src := NewCaptureSource(&fakeMic{stream: stream}, gate, sink.sink)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	// silence: frames never reach the sink
	stream.ch <- []float32{0.1, 0.2}
	stream.ch <- []float32{0.3}
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, sink.count())

	// speech: frames flow with increasing sequence numbers
	gate.speaking.Store(true)
	stream.ch <- []float32{0.4}
	stream.ch <- []float32{0.5}
	waitFor(t, func() bool { return sink.count() == 2 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 0, sink.frames[0].Seq)
	assert.Equal(t, 1, sink.frames[1].Seq)
	assert.Equal(t, CaptureRate, sink.frames[0].SampleRate)
}

func TestPauseAndResumeKeepDeviceOpen(t *testing.T) {
	stream := newFakeStream()
	gate := &fakeGate{}
	gate.speaking.Store(true)
	sink := &frameCollector{}

	src := NewCaptureSource(&fakeMic{stream: stream}, gate, sink.sink)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	src.Pause()
	stream.ch <- []float32{0.1}
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, sink.count())
	assert.False(t, stream.closed.Load(), "pause must not release the device")

	src.Resume()
	stream.ch <- []float32{0.2}
	waitFor(t, func() bool { return sink.count() == 1 })
}

func TestStopReleasesDeviceAndIsIdempotent(t *testing.T) {
	stream := newFakeStream()
	src := NewCaptureSource(&fakeMic{stream: stream}, &fakeGate{}, func(Frame) {})
	require.NoError(t, src.Start(context.Background()))

	src.Stop()
	assert.True(t, stream.closed.Load())
	src.Stop() // second call must be a no-op
}

func TestStartFailsWithDeviceUnavailable(t *testing.T) {
	src := NewCaptureSource(&fakeMic{err: ErrDeviceUnavailable}, &fakeGate{}, func(Frame) {})
	err := src.Start(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}
