package agent

import "sync"

// LocalSession is a minimal Session for agents that run outside this
// process and stream their TTS audio in (see the bridge package).
type LocalSession struct {
	sampleRate int

	mu            sync.Mutex
	output        AudioOutput
	closeHandlers map[int]func()
	nextID        int
	closed        bool
}

// NewLocalSession creates a session whose TTS produces audio at sampleRate.
// Zero means no TTS is configured.
func NewLocalSession(sampleRate int) *LocalSession {
	return &LocalSession{
		sampleRate:    sampleRate,
		closeHandlers: make(map[int]func()),
	}
}

// TTSSampleRate returns the TTS output rate, or 0 when there is none
func (s *LocalSession) TTSSampleRate() int {
	return s.sampleRate
}

// SetAudioOutput routes the session's TTS audio to out
func (s *LocalSession) SetAudioOutput(out AudioOutput) {
	s.mu.Lock()
	s.output = out
	s.mu.Unlock()
}

// AudioOutput returns the current output, or nil
func (s *LocalSession) AudioOutput() AudioOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

// OnClose registers fn to run when the session closes. Registering on a
// closed session runs fn immediately.
func (s *LocalSession) OnClose(fn func()) func() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.closeHandlers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.closeHandlers, id)
		s.mu.Unlock()
	}
}

// Close fires the close handlers once
func (s *LocalSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handlers := s.closeHandlers
	s.closeHandlers = make(map[int]func())
	s.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}
