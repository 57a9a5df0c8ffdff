package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLevels struct {
	level byte
}

func (s *staticLevels) ReadLevels(dst []byte) int {
	for i := range dst {
		dst[i] = s.level
	}
	return len(dst)
}

// stepper drives edge detection directly with synthetic samples so tests
// don't depend on wall-clock timing.
type stepper struct {
	d      *Detector
	now    time.Time
	starts int
	ends   int
}

func newStepper(t *testing.T, opts Options) *stepper {
	t.Helper()
	s := &stepper{now: time.Unix(1000, 0)}
	s.d = NewDetector(&staticLevels{}, opts,
		func() { s.starts++ },
		func() { s.ends++ },
	)
	return s
}

// feed advances the detector by steps of dt, each with the given level
func (s *stepper) feed(voiced bool, steps int, dt time.Duration) {
	rms := 0.0
	if voiced {
		rms = 0.5
	}
	for i := 0; i < steps; i++ {
		s.now = s.now.Add(dt)
		s.d.mu.Lock()
		fire := s.d.advance(rms, s.now)
		s.d.mu.Unlock()
		if fire != nil {
			fire()
		}
	}
}

func TestSpeechStartRequiresMinDuration(t *testing.T) {
	s := newStepper(t, Options{})

	// 250ms of voice: not enough
	s.feed(true, 5, 50*time.Millisecond)
	assert.Equal(t, 0, s.starts)
	assert.False(t, s.d.Speaking())

	// crossing 300ms fires exactly once, then stays quiet
	s.feed(true, 20, 50*time.Millisecond)
	assert.Equal(t, 1, s.starts)
	assert.True(t, s.d.Speaking())
}

func TestShortBlipEmitsNothing(t *testing.T) {
	s := newStepper(t, Options{})

	s.feed(true, 4, 50*time.Millisecond) // 200ms blip
	s.feed(false, 40, 50*time.Millisecond)
	assert.Equal(t, 0, s.starts)
	assert.Equal(t, 0, s.ends)
}

func TestSpeechEndRequiresMaxSilence(t *testing.T) {
	s := newStepper(t, Options{})

	s.feed(true, 10, 50*time.Millisecond)
	require.Equal(t, 1, s.starts)

	// 1400ms of silence: segment stays open
	s.feed(false, 28, 50*time.Millisecond)
	assert.Equal(t, 0, s.ends)
	assert.True(t, s.d.Speaking())

	// crossing 1500ms fires exactly once
	s.feed(false, 20, 50*time.Millisecond)
	assert.Equal(t, 1, s.ends)
	assert.False(t, s.d.Speaking())

	// state is reset for the next segment
	assert.True(t, s.d.speechStartedAt.IsZero())
	assert.True(t, s.d.lastVoiceAt.IsZero())
}

func TestBriefDipKeepsSegmentOpen(t *testing.T) {
	s := newStepper(t, Options{})

	s.feed(true, 10, 50*time.Millisecond)
	require.Equal(t, 1, s.starts)

	// dip well under the silence window, then voice again
	s.feed(false, 10, 50*time.Millisecond)
	s.feed(true, 10, 50*time.Millisecond)
	assert.Equal(t, 0, s.ends)
	// no second start for the same segment
	assert.Equal(t, 1, s.starts)
}

func TestFullCycleFiresOnePairPerSegment(t *testing.T) {
	s := newStepper(t, Options{})

	for i := 0; i < 3; i++ {
		s.feed(true, 12, 50*time.Millisecond)
		s.feed(false, 35, 50*time.Millisecond)
	}
	assert.Equal(t, 3, s.starts)
	assert.Equal(t, 3, s.ends)
}

func TestCurrentVolumeNormalized(t *testing.T) {
	src := &staticLevels{level: 255}
	d := NewDetector(src, Options{}, nil, nil)
	assert.InDelta(t, 1.0, d.CurrentVolume(), 1e-9)

	src.level = 0
	assert.Zero(t, d.CurrentVolume())
}

func TestStopIsDeterministicAndIdempotent(t *testing.T) {
	fired := make(chan struct{}, 64)
	d := NewDetector(&staticLevels{level: 200}, Options{
		MinSpeechTime: time.Millisecond,
		PollInterval:  time.Millisecond,
	}, func() { fired <- struct{}{} }, nil)

	d.Start()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("SpeechStart never fired")
	}

	d.Stop()
	d.Stop() // second call must not panic or hang

	// no event may arrive after Stop has returned
	drained := len(fired)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, drained, len(fired))
}
