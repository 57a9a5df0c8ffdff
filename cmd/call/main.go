// Command call places a test call against a running relay: it streams a
// recorded 16kHz mono PCM file through the full client pipeline (VAD, gate,
// codec, state machine) and plays the AI's answers through sox.
package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"decoycall/audio"
	"decoycall/call"
	"decoycall/client"
	"decoycall/config"
	"decoycall/messages"
)

const (
	frameSamples  = 4096 // matches the capture processor's buffer size
	frameInterval = time.Duration(frameSamples) * time.Second / audio.CaptureRate
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "Relay WebSocket URL")
	audioFile := flag.String("audio", "", "Raw PCM16 16kHz mono file to speak (required)")
	flag.Parse()

	if *audioFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	pcm, err := os.ReadFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to read audio file: %v", err)
	}

	cfg := &config.Config{
		SilenceThreshold: 0.01,
		MinSpeechTime:    300 * time.Millisecond,
		MaxSilenceTime:   1500 * time.Millisecond,
		VADPollInterval:  50 * time.Millisecond,
		TurnGuardDelay:   500 * time.Millisecond,
	}

	meter := &meterLevels{}
	mic := newFileMic(pcm, meter)
	player := &soxPlayer{}

	// the read loop can race session construction; hold messages until it exists
	var session *call.Session
	sessionReady := make(chan struct{})
	done := make(chan struct{})
	var doneOnce sync.Once

	transport, err := client.Dial(context.Background(), *serverURL,
		func(msg *messages.ServerMessage) {
			<-sessionReady
			session.HandleServer(msg)
			if msg.Type == messages.TypeSetupComplete {
				mic.begin()
			}
		},
		func(err error) {
			if err != nil {
				log.Printf("🔌 Disconnected: %v", err)
			}
			<-sessionReady
			session.Disconnected(err)
			doneOnce.Do(func() { close(done) })
		},
	)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	session = call.NewSession(cfg, mic, meter, player, transport, func(s call.State) {
		log.Printf("📞 State: %s", s)
	})
	close(sessionReady)
	session.OnText = func(text string) {
		fmt.Printf("💬 %s\n", text)
	}

	if err := session.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start call: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("\nHanging up...")
	case <-done:
	}

	session.Stop()
}

// meterLevels adapts the most recent captured frame into the byte-bin level
// snapshot the detector polls.
type meterLevels struct {
	level atomic.Uint32
}

func (m *meterLevels) ReadLevels(dst []byte) int {
	b := byte(m.level.Load())
	for i := range dst {
		dst[i] = b
	}
	return len(dst)
}

func (m *meterLevels) observe(samples []float32) {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := 0.0
	if len(samples) > 0 {
		rms = math.Sqrt(sum / float64(len(samples)))
	}
	v := rms * 255
	if v > 255 {
		v = 255
	}
	m.level.Store(uint32(v))
}

// fileMic replays a PCM16 recording at device rate, as if it were a live
// microphone. Delivery starts when begin is called so nothing is spoken
// before the bridge is ready.
type fileMic struct {
	pcm    []byte
	meter  *meterLevels
	stream *fileStream
	start  chan struct{}
	once   sync.Once
}

func newFileMic(pcm []byte, meter *meterLevels) *fileMic {
	return &fileMic{
		pcm:   pcm,
		meter: meter,
		start: make(chan struct{}),
	}
}

func (m *fileMic) begin() {
	m.once.Do(func() { close(m.start) })
}

func (m *fileMic) Open(ctx context.Context, c audio.Constraints) (audio.FrameStream, error) {
	if len(m.pcm) == 0 {
		return nil, audio.ErrDeviceUnavailable
	}
	m.stream = &fileStream{
		ch:   make(chan []float32),
		quit: make(chan struct{}),
	}
	go m.pump(ctx)
	return m.stream, nil
}

func (m *fileMic) pump(ctx context.Context) {
	defer close(m.stream.ch)

	select {
	case <-m.start:
	case <-m.stream.quit:
		return
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for off := 0; off < len(m.pcm); off += frameSamples * 2 {
		end := off + frameSamples*2
		if end > len(m.pcm) {
			end = len(m.pcm)
		}
		samples := make([]float32, (end-off)/2)
		for i := range samples {
			samples[i] = float32(int16(binary.LittleEndian.Uint16(m.pcm[off+i*2:]))) / 32768
		}
		m.meter.observe(samples)

		select {
		case m.stream.ch <- samples:
		case <-m.stream.quit:
			return
		case <-ctx.Done():
			return
		}

		select {
		case <-ticker.C:
		case <-m.stream.quit:
			return
		case <-ctx.Done():
			return
		}
	}

	// recording exhausted: report silence so the turn ends naturally
	m.meter.level.Store(0)
	<-m.stream.quit
}

type fileStream struct {
	ch       chan []float32
	quit     chan struct{}
	quitOnce sync.Once
}

func (s *fileStream) Frames() <-chan []float32 { return s.ch }

func (s *fileStream) Close() error {
	s.quitOnce.Do(func() { close(s.quit) })
	return nil
}

// soxPlayer plays one self-contained WAV clip at a time through sox
type soxPlayer struct {
	mu      sync.Mutex
	current *exec.Cmd
	stopped bool
}

func (p *soxPlayer) Play(clip []byte) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	cmd := exec.Command("sox", "-q", "-t", "wav", "-", "-d")
	cmd.Stdin = bytes.NewReader(clip)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("start sox: %w", err)
	}
	p.current = cmd
	p.mu.Unlock()

	err := cmd.Wait()

	p.mu.Lock()
	p.current = nil
	stopped := p.stopped
	p.mu.Unlock()

	if err != nil && !stopped {
		return fmt.Errorf("sox playback: %w", err)
	}
	return nil
}

func (p *soxPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.current != nil && p.current.Process != nil {
		_ = p.current.Process.Kill()
	}
}
