// Package session coordinates the recording lifecycle: it owns the capture
// source, the ring buffer, and the streaming client for one recording at a
// time, assembles the transcript as results arrive, and publishes typed
// events for the UI layer.
package session

import (
	"time"
)

// Outcome records how a recording session ended.
type Outcome string

const (
	// OutcomeUserStopped is the clean path: the user asked to stop and the
	// pipeline flushed and closed in order.
	OutcomeUserStopped Outcome = "user-stopped"

	// OutcomeDeviceError means the capture device failed.
	OutcomeDeviceError Outcome = "device-error"

	// OutcomeTransportError means the transcription connection dropped
	// mid-session.
	OutcomeTransportError Outcome = "transport-error"
)

// Segment is one contiguous span of recognised speech. A partial segment is
// provisional and may be replaced in place by a later result for the same
// span; a final segment is immutable.
type Segment struct {
	// Text is the recognised text.
	Text string

	// IsFinal marks the segment as settled. Final segments never change.
	IsFinal bool

	// Speaker identifies the speaker when the service provides diarization,
	// empty otherwise.
	Speaker string

	// Start and End position the segment on the session's audio timeline.
	Start time.Duration
	End   time.Duration

	// Confidence is the service's confidence in Text, in [0, 1].
	Confidence float64

	// ReceivedAt is the local wall-clock arrival time of the latest result
	// that produced this segment.
	ReceivedAt time.Time
}

// Session is the record of one recording.
type Session struct {
	// ID uniquely identifies the session.
	ID string

	// StartTime and EndTime bound the recording in wall-clock time. EndTime
	// is zero while the session is live.
	StartTime time.Time
	EndTime   time.Time

	// Outcome is set when the session ends.
	Outcome Outcome

	// Segments is the transcript in arrival order. At most the last segment
	// is partial; everything before it is final.
	Segments []Segment
}

// Transcript joins the text of all segments, partial tail included.
func (s *Session) Transcript() string {
	var n int
	for _, seg := range s.Segments {
		n += len(seg.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, seg := range s.Segments {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, seg.Text...)
	}
	return string(buf)
}

// Duration returns the recorded wall-clock length, zero while live.
func (s *Session) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// clone returns a deep copy safe to hand outside the coordinator's lock.
func (s *Session) clone() *Session {
	cp := *s
	cp.Segments = make([]Segment, len(s.Segments))
	copy(cp.Segments, s.Segments)
	return &cp
}
