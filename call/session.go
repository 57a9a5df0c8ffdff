package call

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"decoycall/audio"
	"decoycall/config"
	"decoycall/messages"
	"decoycall/vad"
)

// Transport is the duplex channel to the relay bridge. Implementations must
// preserve send order; incoming messages are fed to Session.HandleServer by
// whoever owns the read side.
type Transport interface {
	SendAudio(encodedPCM string) error
	SendTurnComplete() error
	Close() error
}

// Session owns every per-call resource: the microphone, the detector, the
// playback sequencer and the transport. All of them are acquired by Start and
// released by Stop on every exit path.
type Session struct {
	cfg       *config.Config
	detector  *vad.Detector
	capture   *audio.CaptureSource
	sequencer *audio.Sequencer
	transport Transport
	machine   *Machine

	// OnText receives transcript fragments when the upstream includes them.
	// Optional; set before Start.
	OnText func(text string)

	stopOnce sync.Once
	started  bool
}

// NewSession wires the client pipeline together. The device handles are
// collaborators owned by the caller until Start acquires them.
func NewSession(cfg *config.Config, mic audio.Microphone, levels vad.LevelSource, player audio.Player, transport Transport, onState func(State)) *Session {
	s := &Session{
		cfg:       cfg,
		transport: transport,
		sequencer: audio.NewSequencer(player, audio.PlaybackRate),
	}

	s.machine = NewMachine(cfg.TurnGuardDelay, s.sendTurnEnd, func() { s.detector.Reset() }, onState)

	s.detector = vad.NewDetector(levels, vad.Options{
		SilenceThreshold: cfg.SilenceThreshold,
		MinSpeechTime:    cfg.MinSpeechTime,
		MaxSilenceTime:   cfg.MaxSilenceTime,
		PollInterval:     cfg.VADPollInterval,
	}, s.machine.SpeechStart, s.machine.SpeechEnd)

	s.capture = audio.NewCaptureSource(mic, s.detector, s.forwardFrame)

	return s
}

// Start acquires the microphone and begins the conversation. On any failure
// everything already acquired is released before returning.
func (s *Session) Start(ctx context.Context) error {
	s.machine.Start()
	s.detector.Start()

	if err := s.capture.Start(ctx); err != nil {
		s.Stop()
		return fmt.Errorf("start capture: %w", err)
	}

	s.started = true
	return nil
}

// Stop tears the call down in order: turn-guard timer, capture device,
// playback queue, transport. Idempotent; when it returns nothing is half-open.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.machine.Stop()
		s.detector.Stop()
		s.capture.Stop()
		s.sequencer.Stop()
		if err := s.transport.Close(); err != nil {
			log.Printf("⚠️ call: closing transport: %v", err)
		}
	})
}

// State returns the current conversation state for the UI
func (s *Session) State() State {
	return s.machine.State()
}

// Err returns the terminal error recorded by a disconnect, if any
func (s *Session) Err() error {
	return s.machine.Err()
}

// Volume returns the current microphone level for UI meters
func (s *Session) Volume() float64 {
	return s.detector.CurrentVolume()
}

// Mute gates capture off without releasing the microphone
func (s *Session) Mute() { s.capture.Pause() }

// Unmute re-enables capture after Mute
func (s *Session) Unmute() { s.capture.Resume() }

// FinishTurn is the manual "finish my turn" override
func (s *Session) FinishTurn() { s.machine.FinishTurn() }

// forwardFrame encodes one gated capture frame and ships it to the bridge
func (s *Session) forwardFrame(frame audio.Frame) {
	encoded := audio.EncodePCM16(frame.Samples)
	if err := s.transport.SendAudio(encoded); err != nil {
		s.machine.ChannelError(fmt.Errorf("send audio: %w", err))
	}
}

// sendTurnEnd runs when the turn-guard timer fires
func (s *Session) sendTurnEnd() {
	if err := s.transport.SendTurnComplete(); err != nil {
		s.machine.ChannelError(fmt.Errorf("send turn complete: %w", err))
	}
}

// HandleServer dispatches one bridge message into the pipeline. Unknown
// types are logged and dropped; a malformed audio payload drops that one
// message and keeps the channel alive.
func (s *Session) HandleServer(msg *messages.ServerMessage) {
	switch msg.Type {
	case messages.TypeSetupComplete:
		log.Printf("📞 call: bridge ready for conversation")

	case messages.TypeAudioResponse:
		pcm, err := audio.DecodePCM16(msg.AudioData)
		if err != nil {
			log.Printf("⚠️ call: dropping undecodable audio response: %v", err)
			return
		}
		s.machine.RemoteAudio()
		s.sequencer.Enqueue(pcm)

	case messages.TypeTextResponse:
		if s.OnText != nil {
			s.OnText(msg.Text)
		}

	case messages.TypeTurnComplete:
		s.machine.RemoteTurnComplete()

	case messages.TypeError:
		s.machine.ChannelError(errors.New(msg.Error))

	default:
		log.Printf("⚠️ call: dropping unknown message type %q", msg.Type)
	}
}

// Disconnected reports a transport-level failure or close; the session lands
// in Idle with the error recorded for the UI.
func (s *Session) Disconnected(err error) {
	s.machine.ChannelError(err)
}
