// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. The central abstraction is
// [Session]: once opened, a session accepts int16 PCM audio batches and emits
// a single ordered stream of [Transcript] values — low-latency partials for
// responsiveness and authoritative finals for the session record. Partials
// and finals share one channel so that their relative order is preserved;
// replacement semantics are the consumer's responsibility.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by [Session.SendAudio] after the session has
// been closed.
var ErrSessionClosed = errors.New("stt: session is closed")

// HandshakeError reports a rejected or failed connection handshake. It is
// fatal to session start: there is no implicit retry at this layer, the
// caller decides whether to start a fresh session.
type HandshakeError struct {
	// Status is the HTTP status of the rejected upgrade response, or 0 when
	// the failure happened before any response arrived (timeout, refused).
	Status int

	// Reason is a short human-readable classification.
	Reason string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *HandshakeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("stt: handshake rejected (HTTP %d): %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("stt: handshake failed: %s", e.Reason)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// AuthRejected reports whether the handshake failed due to credential
// rejection rather than a network or protocol problem.
func (e *HandshakeError) AuthRejected() bool {
	return e.Status == 401 || e.Status == 403
}

// TransportError reports an unrecoverable connection failure while streaming.
// It ends the session and is reported distinctly from a clean stop.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stt: transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the wire audio sample rate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the number of audio channels; 1 for the mono wire format.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en").
	// Empty lets the provider use its default.
	Language string

	// Keywords lists vocabulary hints that boost recognition of uncommon
	// terms (meeting jargon, product names, participant names).
	Keywords []KeywordBoost
}

// Session is an open streaming transcription session.
//
// Callers must call Close when done; failing to do so leaks goroutines and
// the underlying connection. All methods are safe for concurrent use, but
// audio ordering is only guaranteed when a single goroutine calls SendAudio.
type Session interface {
	// SendAudio queues one PCM batch for delivery. Batches are sent in the
	// order queued — strict chronological order, no parallel sends. Calling
	// SendAudio after Close returns [ErrSessionClosed].
	SendAudio(chunk []byte) error

	// Results returns the ordered stream of parsed transcripts, partial and
	// final interleaved as the service produced them. The channel is closed
	// when the session ends; after that, [Session.Err] reports why.
	Results() <-chan Transcript

	// Err returns the terminal session error: nil after a clean close, a
	// [*TransportError] after a mid-session connection failure. Valid only
	// after Results is closed.
	Err() error

	// Close flushes pending audio, signals end-of-stream to the service,
	// waits a bounded grace period for trailing finals, and releases the
	// connection. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming session. The handshake (including
	// authentication) is bounded by ctx; a rejected or failed handshake
	// returns a [*HandshakeError].
	StartStream(ctx context.Context, cfg StreamConfig) (Session, error)
}
