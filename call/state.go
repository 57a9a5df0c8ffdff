package call

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// State is the authoritative turn-taking state of one call
type State int

const (
	Idle State = iota
	UserSpeaking
	Processing
	AiSpeaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case UserSpeaking:
		return "user_speaking"
	case Processing:
		return "processing"
	case AiSpeaking:
		return "ai_speaking"
	default:
		return "unknown"
	}
}

type eventKind int

const (
	evSpeechStart eventKind = iota
	evSpeechEnd
	evFinishTurn
	evRemoteAudio
	evRemoteTurnComplete
	evChannelError
	evGuardFired
)

type event struct {
	kind eventKind
	err  error
}

const eventBacklog = 64

// DefaultTurnGuardDelay is the grace between a local speech end and the
// upstream turn-complete, letting in-flight audio finish transmission.
const DefaultTurnGuardDelay = 500 * time.Millisecond

// Machine merges local VAD events, remote turn signals and manual overrides
// into one ConversationState. Events are processed one at a time in arrival
// order by a single consumer goroutine, so no transition ever interleaves.
type Machine struct {
	guardDelay   time.Duration
	sendTurnEnd  func() // fires exactly once per user turn, after the guard delay
	resetVAD     func() // cancels the detector's own pending silence countdown
	onTransition func(State)

	events chan event

	mu      sync.Mutex
	state   State
	lastErr error
	guard   *time.Timer

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMachine creates a stopped machine in Idle. sendTurnEnd and resetVAD may
// not be nil; onTransition may be nil.
func NewMachine(guardDelay time.Duration, sendTurnEnd, resetVAD func(), onTransition func(State)) *Machine {
	if guardDelay <= 0 {
		guardDelay = DefaultTurnGuardDelay
	}
	return &Machine{
		guardDelay:   guardDelay,
		sendTurnEnd:  sendTurnEnd,
		resetVAD:     resetVAD,
		onTransition: onTransition,
		events:       make(chan event, eventBacklog),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start launches the event consumer
func (m *Machine) Start() {
	if m.started.CompareAndSwap(false, true) {
		go m.run()
	}
}

// Stop cancels any pending turn-guard timer and halts the consumer. Safe to
// call more than once; returns after the consumer has exited.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() {
		m.cancelGuard()
		close(m.stopCh)
	})
	if m.started.Load() {
		<-m.doneCh
	}
}

// State returns the current conversation state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error recorded by the last disconnect transition, if any
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// SpeechStart reports a local VAD speech-start edge
func (m *Machine) SpeechStart() { m.post(event{kind: evSpeechStart}) }

// SpeechEnd reports a local VAD speech-end edge
func (m *Machine) SpeechEnd() { m.post(event{kind: evSpeechEnd}) }

// FinishTurn is the manual "finish my turn" override from the UI. It behaves
// like a natural SpeechEnd and additionally resets the detector so the
// natural edge cannot double-signal.
func (m *Machine) FinishTurn() { m.post(event{kind: evFinishTurn}) }

// RemoteAudio reports that an AI audio frame arrived
func (m *Machine) RemoteAudio() { m.post(event{kind: evRemoteAudio}) }

// RemoteTurnComplete reports the upstream turn-complete signal
func (m *Machine) RemoteTurnComplete() { m.post(event{kind: evRemoteTurnComplete}) }

// ChannelError reports a channel error or disconnect; always safe from any
// state and always lands in Idle.
func (m *Machine) ChannelError(err error) { m.post(event{kind: evChannelError, err: err}) }

func (m *Machine) post(e event) {
	select {
	case m.events <- e:
	case <-m.stopCh:
	}
}

func (m *Machine) run() {
	defer close(m.doneCh)
	for {
		select {
		case <-m.stopCh:
			return
		case e := <-m.events:
			m.handle(e)
		}
	}
}

func (m *Machine) handle(e event) {
	m.mu.Lock()
	from := m.state

	switch e.kind {
	case evSpeechStart:
		if m.state == Idle {
			m.cancelGuardLocked()
			m.state = UserSpeaking
		}

	case evSpeechEnd:
		if m.state == UserSpeaking {
			m.state = Processing
			m.scheduleGuardLocked()
		}

	case evFinishTurn:
		if m.state == UserSpeaking {
			m.state = Processing
			m.scheduleGuardLocked()
			m.mu.Unlock()
			m.resetVAD()
			m.mu.Lock()
		}

	case evGuardFired:
		m.guard = nil
		m.mu.Unlock()
		m.sendTurnEnd()
		m.mu.Lock()

	case evRemoteAudio:
		if m.state == Processing {
			m.state = AiSpeaking
		}

	case evRemoteTurnComplete:
		if m.state == AiSpeaking {
			m.state = Idle
		}

	case evChannelError:
		m.cancelGuardLocked()
		m.state = Idle
		m.lastErr = e.err
		if e.err != nil {
			log.Printf("🔌 call: channel error, returning to idle: %v", e.err)
		}
	}

	to := m.state
	m.mu.Unlock()

	if from != to && m.onTransition != nil {
		m.onTransition(to)
	}
}

// scheduleGuardLocked arms the turn-guard timer. Caller holds m.mu; at most
// one timer is armed at a time.
func (m *Machine) scheduleGuardLocked() {
	if m.guard != nil {
		return
	}
	m.guard = time.AfterFunc(m.guardDelay, func() {
		m.post(event{kind: evGuardFired})
	})
}

func (m *Machine) cancelGuard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelGuardLocked()
}

func (m *Machine) cancelGuardLocked() {
	if m.guard != nil {
		m.guard.Stop()
		m.guard = nil
	}
}
