package vad

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// LevelSource provides a snapshot of the live audio spectrum as byte
// magnitude bins (0-255), the way an analyser node exposes frequency data.
type LevelSource interface {
	ReadLevels(dst []byte) int
}

// Defaults tuned for a quiet-to-normal room. Override via Options.
const (
	DefaultSilenceThreshold = 0.01
	DefaultMinSpeechTime    = 300 * time.Millisecond
	DefaultMaxSilenceTime   = 1500 * time.Millisecond
	DefaultPollInterval     = 50 * time.Millisecond
	DefaultBinCount         = 128
)

// Options configures a Detector. Zero values fall back to the defaults.
type Options struct {
	SilenceThreshold float64
	MinSpeechTime    time.Duration
	MaxSilenceTime   time.Duration
	PollInterval     time.Duration
	BinCount         int
}

// Detector watches a LevelSource and emits speech boundary events with
// hysteresis: SpeechStart fires once per voiced segment after MinSpeechTime
// of continuous voice, SpeechEnd fires once per silence segment after
// MaxSilenceTime of continuous silence.
type Detector struct {
	source LevelSource
	opts   Options
	bins   []byte

	onSpeechStart func()
	onSpeechEnd   func()

	mu              sync.Mutex
	speechStartedAt time.Time // zero while no voiced segment is open
	lastVoiceAt     time.Time
	speaking        bool

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDetector creates a detector; events are delivered from the poll
// goroutine, one at a time.
func NewDetector(source LevelSource, opts Options, onSpeechStart, onSpeechEnd func()) *Detector {
	if opts.SilenceThreshold <= 0 {
		opts.SilenceThreshold = DefaultSilenceThreshold
	}
	if opts.MinSpeechTime <= 0 {
		opts.MinSpeechTime = DefaultMinSpeechTime
	}
	if opts.MaxSilenceTime <= 0 {
		opts.MaxSilenceTime = DefaultMaxSilenceTime
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BinCount <= 0 {
		opts.BinCount = DefaultBinCount
	}

	return &Detector{
		source:        source,
		opts:          opts,
		bins:          make([]byte, opts.BinCount),
		onSpeechStart: onSpeechStart,
		onSpeechEnd:   onSpeechEnd,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start begins the periodic poll loop
func (d *Detector) Start() {
	if d.started.CompareAndSwap(false, true) {
		go d.run()
	}
}

// Stop halts polling. It returns only after the poll loop has exited, so no
// event fires after Stop returns. Safe to call more than once.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	if d.started.Load() {
		<-d.doneCh
	}
}

// Reset closes any open voiced segment and clears the pending silence
// countdown without emitting events. Used when the turn is ended manually so
// the natural SpeechEnd cannot double-signal.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = false
	d.speechStartedAt = time.Time{}
	d.lastVoiceAt = time.Time{}
}

// Speaking reports whether a voiced segment is currently open
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// CurrentVolume returns the normalized RMS level in [0,1] for UI meters.
// It does not advance edge detection.
func (d *Detector) CurrentVolume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRMS()
}

func (d *Detector) run() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.mu.Lock()
			rms := d.readRMS()
			fire := d.advance(rms, time.Now())
			d.mu.Unlock()
			if fire != nil {
				fire()
			}
		}
	}
}

// readRMS samples the level source and computes RMS over the bins,
// normalized by the byte depth. Caller holds d.mu.
func (d *Detector) readRMS() float64 {
	n := d.source.ReadLevels(d.bins)
	if n <= 0 {
		return 0
	}
	if n > len(d.bins) {
		n = len(d.bins)
	}
	var sum float64
	for _, b := range d.bins[:n] {
		sum += float64(b) * float64(b)
	}
	return math.Sqrt(sum/float64(n)) / 255
}

// advance runs one edge-detection step and returns the callback to fire, if
// any. Caller holds d.mu; the callback must be invoked after unlocking.
func (d *Detector) advance(rms float64, now time.Time) func() {
	if rms > d.opts.SilenceThreshold {
		if d.speechStartedAt.IsZero() {
			d.speechStartedAt = now
		}
		d.lastVoiceAt = now

		if !d.speaking && now.Sub(d.speechStartedAt) >= d.opts.MinSpeechTime {
			d.speaking = true
			return d.onSpeechStart
		}
		return nil
	}

	if !d.lastVoiceAt.IsZero() && now.Sub(d.lastVoiceAt) >= d.opts.MaxSilenceTime {
		wasSpeaking := d.speaking
		d.speaking = false
		d.speechStartedAt = time.Time{}
		d.lastVoiceAt = time.Time{}
		if wasSpeaking {
			return d.onSpeechEnd
		}
	}
	return nil
}
