// Package mock provides in-memory mock implementations of [stt.Provider] and
// [stt.Session] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and expose exported
// fields the test sets to control return values:
//
//	sess := mock.NewSession()
//	provider := &mock.Provider{StartStreamResult: sess}
//	...
//	sess.Emit(stt.Transcript{Text: "hello", IsFinal: false})
//	sess.Emit(stt.Transcript{Text: "hello world", IsFinal: true})
package mock

import (
	"context"
	"sync"

	"github.com/auralis-app/auralis/pkg/provider/stt"
)

// Provider is a mock implementation of [stt.Provider].
type Provider struct {
	mu sync.Mutex

	// StartStreamResult is returned by StartStream on success.
	StartStreamResult *Session

	// StartStreamError, when non-nil, is returned instead of a session
	// (e.g., a *stt.HandshakeError to simulate a rejected handshake).
	StartStreamError error

	// CallCountStartStream records how many times StartStream was called.
	CallCountStartStream int

	// RecordedConfigs holds the StreamConfig of every StartStream call.
	RecordedConfigs []stt.StreamConfig
}

var _ stt.Provider = (*Provider)(nil)

// StartStream implements [stt.Provider].
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountStartStream++
	p.RecordedConfigs = append(p.RecordedConfigs, cfg)
	if p.StartStreamError != nil {
		return nil, p.StartStreamError
	}
	return p.StartStreamResult, nil
}

// Session is a scriptable mock implementation of [stt.Session].
type Session struct {
	mu sync.Mutex

	// SendAudioError, when non-nil, is returned by every SendAudio call
	// (e.g., a *stt.TransportError to simulate a mid-session drop).
	SendAudioError error

	// ErrResult is returned by Err after the results channel closes.
	ErrResult error

	// SentChunks records every chunk passed to SendAudio, in order.
	SentChunks [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int

	results chan stt.Transcript
	closed  bool
}

var _ stt.Session = (*Session)(nil)

// NewSession creates a mock session with a buffered results channel.
func NewSession() *Session {
	return &Session{results: make(chan stt.Transcript, 64)}
}

// Emit pushes a transcript onto the results channel, as if the remote service
// had produced it. Panics if called after Close (matching a test bug, not a
// production condition).
func (s *Session) Emit(t stt.Transcript) {
	s.results <- t
}

// SendAudio implements [stt.Session].
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioError != nil {
		return s.SendAudioError
	}
	if s.closed {
		return stt.ErrSessionClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SentChunks = append(s.SentChunks, cp)
	return nil
}

// Results implements [stt.Session].
func (s *Session) Results() <-chan stt.Transcript { return s.results }

// Err implements [stt.Session].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrResult
}

// Close implements [stt.Session]. It closes the results channel.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.results)
	}
	return nil
}

// SentBytes returns the total number of audio bytes recorded.
func (s *Session) SentBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, c := range s.SentChunks {
		n += len(c)
	}
	return n
}

// FailTransport marks the session as failed with err and closes the results
// channel, simulating an unrecoverable mid-session connection drop.
func (s *Session) FailTransport(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.ErrResult = err
	s.SendAudioError = err
	close(s.results)
}
