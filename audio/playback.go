package audio

import (
	"sync"

	"go.uber.org/zap"

	"github.com/bt-bridge/realtime-interpreter/shared"
)

// Renderer plays one synthesized PCM fragment to completion. Render blocks
// until the fragment has been consumed or fails.
type Renderer interface {
	Render(pcm []byte) error
}

// Sequencer plays synthesized fragments strictly in arrival order with a
// single fragment in flight. A fragment that fails to render is logged and
// the queue advances; playback never stalls on a bad fragment.
type Sequencer struct {
	logger   shared.LoggerAdapter
	renderer Renderer

	mu      sync.Mutex
	queue   [][]byte
	playing bool
	closed  bool
	done    chan struct{}

	onStateChange func(playing bool)
}

// NewSequencer builds an idle sequencer. onStateChange, when set, fires on
// every idle/playing transition, in order; it runs with the sequencer's lock
// held and must not call back into it.
func NewSequencer(logger shared.LoggerAdapter, renderer Renderer, onStateChange func(bool)) (*Sequencer, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if renderer == nil {
		return nil, shared.ErrNoConfig
	}
	return &Sequencer{
		logger:        logger,
		renderer:      renderer,
		done:          make(chan struct{}),
		onStateChange: onStateChange,
	}, nil
}

// Enqueue adds a fragment to the tail of the queue and starts the drain
// goroutine if idle.
func (s *Sequencer) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, pcm)
	start := !s.playing
	if start {
		s.playing = true
		// emitted under the lock so callbacks arrive in transition order
		if s.onStateChange != nil {
			s.onStateChange(true)
		}
	}
	s.mu.Unlock()
	if start {
		go s.drain()
	}
}

func (s *Sequencer) drain() {
	for {
		s.mu.Lock()
		if s.closed || len(s.queue) == 0 {
			s.playing = false
			// callback precedes the done signal so WaitIdle callers
			// observe the idle transition
			if s.onStateChange != nil {
				s.onStateChange(false)
			}
			close(s.done)
			s.done = make(chan struct{})
			s.mu.Unlock()
			return
		}
		fragment := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.renderer.Render(fragment); err != nil {
			s.logger.Error("on rendering audio fragment", err, zap.Int("bytes", len(fragment)))
		}
	}
}

// WaitIdle blocks until the in-flight drain finishes. Returns immediately
// when nothing is playing.
func (s *Sequencer) WaitIdle() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	done := s.done
	s.mu.Unlock()
	<-done
}

// Playing reports whether a fragment is currently in flight.
func (s *Sequencer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Close drops any queued fragments. The in-flight fragment finishes.
func (s *Sequencer) Close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}
