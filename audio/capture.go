package audio

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
)

// ErrDeviceUnavailable means the microphone could not be acquired, either
// because permission was denied or no device exists. Fatal to the call.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Constraints describe how the microphone must be opened
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

// CaptureConstraints are the fixed constraints for conversational input
func CaptureConstraints() Constraints {
	return Constraints{
		SampleRate:       CaptureRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Microphone abstracts the device layer's "open microphone" primitive
type Microphone interface {
	Open(ctx context.Context, c Constraints) (FrameStream, error)
}

// FrameStream delivers captured frames until closed
type FrameStream interface {
	Frames() <-chan []float32
	Close() error
}

// SpeechGate reports whether voiced speech is currently detected
type SpeechGate interface {
	Speaking() bool
}

// Frame is one fixed-rate chunk of mono float samples with its position in
// the capture stream.
type Frame struct {
	Seq        int
	SampleRate int
	Samples    []float32
}

// How many frames may wait for a slow sink before capture starts dropping
const sinkBacklog = 32

// CaptureSource owns the microphone for one call. Captured frames reach the
// sink only while capture is not paused and the gate reports speech, so
// silence is never transmitted.
type CaptureSource struct {
	mic  Microphone
	gate SpeechGate
	sink func(Frame)

	paused atomic.Bool

	mu      sync.Mutex
	stream  FrameStream
	started bool

	frames chan Frame
	wg     sync.WaitGroup
}

// NewCaptureSource registers sink as the destination for gated frames
func NewCaptureSource(mic Microphone, gate SpeechGate, sink func(Frame)) *CaptureSource {
	return &CaptureSource{
		mic:  mic,
		gate: gate,
		sink: sink,
	}
}

// Start acquires the microphone and begins delivery
func (c *CaptureSource) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	stream, err := c.mic.Open(ctx, CaptureConstraints())
	if err != nil {
		return err
	}

	c.stream = stream
	c.started = true
	c.frames = make(chan Frame, sinkBacklog)

	c.wg.Add(2)
	go c.pump(stream)
	go c.deliver()

	return nil
}

// pump gates device frames and hands them to the sink goroutine. A full
// backlog drops the frame rather than buffering without bound.
func (c *CaptureSource) pump(stream FrameStream) {
	defer c.wg.Done()
	defer close(c.frames)

	seq := 0
	for samples := range stream.Frames() {
		if c.paused.Load() || !c.gate.Speaking() {
			continue
		}
		frame := Frame{Seq: seq, SampleRate: CaptureRate, Samples: samples}
		seq++
		select {
		case c.frames <- frame:
		default:
			log.Printf("⚠️ capture: sink too slow, dropping frame %d (%d samples)", frame.Seq, len(samples))
		}
	}
}

func (c *CaptureSource) deliver() {
	defer c.wg.Done()
	for frame := range c.frames {
		c.sink(frame)
	}
}

// Pause stops delivery without releasing the device (user mute)
func (c *CaptureSource) Pause() {
	c.paused.Store(true)
}

// Resume re-enables delivery after Pause
func (c *CaptureSource) Resume() {
	c.paused.Store(false)
}

// Stop releases the device and waits for in-flight delivery to drain.
// Idempotent.
func (c *CaptureSource) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if err := stream.Close(); err != nil {
		log.Printf("⚠️ capture: closing microphone stream: %v", err)
	}
	c.wg.Wait()
}
