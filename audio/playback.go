package audio

import (
	"log"
	"sync"
)

// Player abstracts the device layer's "play buffer" primitive. Play consumes
// a self-contained clip and returns once the device reports completion;
// Stop hard-cuts whatever is currently sounding.
type Player interface {
	Play(clip []byte) error
	Stop()
}

// Sequencer guarantees strictly sequential, non-overlapping playback of AI
// voice chunks in arrival order. A chunk that fails to package or play is
// logged and skipped so one bad frame never stalls the rest of the answer.
type Sequencer struct {
	player     Player
	sampleRate int

	mu      sync.Mutex
	queue   [][]byte
	playing bool
	stopped bool
}

// NewSequencer creates a sequencer for PCM chunks at the given rate
func NewSequencer(player Player, sampleRate int) *Sequencer {
	if sampleRate <= 0 {
		sampleRate = PlaybackRate
	}
	return &Sequencer{
		player:     player,
		sampleRate: sampleRate,
	}
}

// Enqueue appends a raw PCM chunk and starts playback if nothing is sounding
func (s *Sequencer) Enqueue(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.queue = append(s.queue, pcm)
	if !s.playing {
		s.playing = true
		go s.drain()
	}
}

// Pending returns how many chunks are queued behind the current one
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Playing reports whether a chunk is currently sounding
func (s *Sequencer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// drain plays queued chunks one at a time until the queue runs dry. Only one
// drain goroutine exists at a time, which is what enforces FIFO order.
func (s *Sequencer) drain() {
	for {
		s.mu.Lock()
		if s.stopped || len(s.queue) == 0 {
			s.playing = false
			s.mu.Unlock()
			return
		}
		pcm := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		clip, err := WAVClip(pcm, s.sampleRate)
		if err != nil {
			log.Printf("⚠️ playback: skipping unplayable chunk: %v", err)
			continue
		}
		if err := s.player.Play(clip); err != nil {
			log.Printf("⚠️ playback: chunk failed, advancing: %v", err)
		}
	}
}

// Stop clears the queue and halts in-flight playback immediately. Hard cut,
// not a fade. Idempotent.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()

	s.player.Stop()
}
