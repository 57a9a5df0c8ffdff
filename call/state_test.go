package call

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type machineProbe struct {
	turnEnds  atomic.Int32
	vadResets atomic.Int32
}

func newTestMachine(t *testing.T, guard time.Duration) (*Machine, *machineProbe) {
	t.Helper()
	probe := &machineProbe{}
	m := NewMachine(guard,
		func() { probe.turnEnds.Add(1) },
		func() { probe.vadResets.Add(1) },
		nil,
	)
	m.Start()
	t.Cleanup(m.Stop)
	return m, probe
}

func waitState(t *testing.T, m *Machine, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state never reached %v, still %v", want, m.State())
}

func TestFullCycle(t *testing.T) {
	m, probe := newTestMachine(t, 10*time.Millisecond)

	m.SpeechStart()
	waitState(t, m, UserSpeaking)

	m.SpeechEnd()
	waitState(t, m, Processing)

	// the guard delay fires exactly one upstream turn-complete
	require.Eventually(t, func() bool { return probe.turnEnds.Load() == 1 },
		time.Second, time.Millisecond)

	m.RemoteAudio()
	waitState(t, m, AiSpeaking)

	m.RemoteTurnComplete()
	waitState(t, m, Idle)
	assert.NoError(t, m.Err())
}

func TestManualFinishTurnMatchesNaturalEnd(t *testing.T) {
	m, probe := newTestMachine(t, 10*time.Millisecond)

	m.SpeechStart()
	waitState(t, m, UserSpeaking)

	m.FinishTurn()
	waitState(t, m, Processing)
	require.Eventually(t, func() bool { return probe.vadResets.Load() == 1 },
		time.Second, time.Millisecond)

	// a late natural SpeechEnd must not arm a second guard
	m.SpeechEnd()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), probe.turnEnds.Load())
}

func TestSpeechStartCancelsPendingGuard(t *testing.T) {
	m, probe := newTestMachine(t, 150*time.Millisecond)

	m.SpeechStart()
	waitState(t, m, UserSpeaking)
	m.SpeechEnd()
	waitState(t, m, Processing)

	// the AI replies before the guard fires, and the user starts the next
	// turn; the stale guard must not emit a turn-complete for it
	m.RemoteAudio()
	waitState(t, m, AiSpeaking)
	m.RemoteTurnComplete()
	waitState(t, m, Idle)
	m.SpeechStart()
	waitState(t, m, UserSpeaking)

	time.Sleep(250 * time.Millisecond)
	assert.Zero(t, probe.turnEnds.Load())

	m.SpeechEnd()
	require.Eventually(t, func() bool { return probe.turnEnds.Load() == 1 },
		time.Second, time.Millisecond)
}

func TestUndefinedEdgesAreIgnored(t *testing.T) {
	m, _ := newTestMachine(t, 10*time.Millisecond)

	// remote events while idle change nothing
	m.RemoteAudio()
	m.RemoteTurnComplete()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Idle, m.State())

	// a second SpeechStart inside an open turn changes nothing
	m.SpeechStart()
	waitState(t, m, UserSpeaking)
	m.SpeechStart()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, UserSpeaking, m.State())
}

func TestChannelErrorExitsFromAnyState(t *testing.T) {
	m, _ := newTestMachine(t, 10*time.Millisecond)

	m.SpeechStart()
	waitState(t, m, UserSpeaking)
	m.SpeechEnd()
	waitState(t, m, Processing)
	m.RemoteAudio()
	waitState(t, m, AiSpeaking)

	wantErr := errors.New("upstream dropped")
	m.ChannelError(wantErr)
	waitState(t, m, Idle)
	assert.ErrorIs(t, m.Err(), wantErr)
}

func TestStopCancelsGuard(t *testing.T) {
	probe := &machineProbe{}
	m := NewMachine(50*time.Millisecond,
		func() { probe.turnEnds.Add(1) },
		func() { probe.vadResets.Add(1) },
		nil,
	)
	m.Start()

	m.SpeechStart()
	waitState(t, m, UserSpeaking)
	m.SpeechEnd()
	waitState(t, m, Processing)

	m.Stop()
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, probe.turnEnds.Load(), "guard must not fire after Stop")
}

func TestTransitionObserverSeesEveryChange(t *testing.T) {
	var seen []State
	done := make(chan struct{}, 8)
	m := NewMachine(5*time.Millisecond,
		func() {}, func() {},
		func(s State) {
			seen = append(seen, s) // serialized by the consumer goroutine
			done <- struct{}{}
		},
	)
	m.Start()
	t.Cleanup(m.Stop)

	m.SpeechStart()
	<-done
	m.SpeechEnd()
	<-done
	m.RemoteAudio()
	<-done
	m.RemoteTurnComplete()
	<-done

	assert.Equal(t, []State{UserSpeaking, Processing, AiSpeaking, Idle}, seen)
}
