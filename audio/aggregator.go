package audio

import (
	"sync"
	"time"
)

// Aggregator accumulates raw PCM frames and flushes them as chunks under a
// dual threshold: as soon as the buffered size reaches the target, or when
// the flush window elapses with data pending, whichever comes first. Frames
// are never dropped and never reordered; the flush callback receives each
// byte exactly once.
type Aggregator struct {
	mu      sync.Mutex
	target  int
	window  time.Duration
	buf     []byte
	timer   *time.Timer
	onFlush func([]byte)
	closed  bool
}

func NewAggregator(targetBytes int, flushWindow time.Duration, onFlush func([]byte)) *Aggregator {
	if targetBytes <= 0 {
		targetBytes = 3200
	}
	if flushWindow <= 0 {
		flushWindow = 200 * time.Millisecond
	}
	return &Aggregator{
		target:  targetBytes,
		window:  flushWindow,
		onFlush: onFlush,
	}
}

// Push appends a captured frame. A flush triggered by the size threshold
// happens synchronously inside Push; a single flush may exceed the target by
// at most one input frame.
func (a *Aggregator) Push(frame []byte) {
	if len(frame) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.buf = append(a.buf, frame...)
	if len(a.buf) >= a.target {
		a.flushLocked()
		return
	}
	if a.timer == nil {
		a.timer = time.AfterFunc(a.window, a.timerFlush)
	}
}

func (a *Aggregator) timerFlush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.flushLocked()
}

func (a *Aggregator) flushLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if len(a.buf) == 0 {
		return
	}
	chunk := a.buf
	a.buf = nil
	if a.onFlush != nil {
		a.onFlush(chunk)
	}
}

// Flush forces out any buffered bytes immediately.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.flushLocked()
}

// Close flushes the remainder and stops the timer. Pushes after Close are
// discarded.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.flushLocked()
	a.closed = true
}

// SpeechEstimator derives a debounced speaking indicator from per-frame
// amplitude. It only drives UI callbacks; transmission is never gated on it.
type SpeechEstimator struct {
	mu         sync.Mutex
	threshold  float64
	holdOff    time.Duration
	indicator  time.Duration
	speaking   bool
	lastAbove  time.Time
	now        func() time.Time
	onSpeaking func(bool)
}

// NewSpeechEstimator builds an estimator. holdOff is the silence re-check
// debounce; indicator is how long the speaking flag survives past the last
// loud frame.
func NewSpeechEstimator(threshold float64, holdOff, indicator time.Duration, onSpeaking func(bool)) *SpeechEstimator {
	if threshold <= 0 {
		threshold = 0.01
	}
	if holdOff <= 0 {
		holdOff = 100 * time.Millisecond
	}
	if indicator <= 0 {
		indicator = 500 * time.Millisecond
	}
	return &SpeechEstimator{
		threshold:  threshold,
		holdOff:    holdOff,
		indicator:  indicator,
		now:        time.Now,
		onSpeaking: onSpeaking,
	}
}

// Process inspects one PCM16 frame and fires the callback on state changes.
func (s *SpeechEstimator) Process(frame []byte) {
	level := MeanAbsLevel(frame)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if level >= s.threshold {
		s.lastAbove = now
		if !s.speaking {
			s.speaking = true
			if s.onSpeaking != nil {
				s.onSpeaking(true)
			}
		}
		return
	}
	if !s.speaking {
		return
	}
	quiet := now.Sub(s.lastAbove)
	if quiet >= s.holdOff && quiet >= s.indicator {
		s.speaking = false
		if s.onSpeaking != nil {
			s.onSpeaking(false)
		}
	}
}

// Speaking reports the current debounced state.
func (s *SpeechEstimator) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}
