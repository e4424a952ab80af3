package session

// EventType discriminates coordinator events.
type EventType string

const (
	// EventTranscriptPartial carries a provisional segment that may still be
	// replaced.
	EventTranscriptPartial EventType = "transcript_partial"

	// EventTranscriptFinal carries a settled segment.
	EventTranscriptFinal EventType = "transcript_final"

	// EventStatus carries a lifecycle status change.
	EventStatus EventType = "status"
)

// Status is the coordinator's externally visible lifecycle state.
type Status string

const (
	StatusReady      Status = "ready"
	StatusConnecting Status = "connecting"
	StatusRecording  Status = "recording"
	StatusStopped    Status = "stopped"
	StatusError      Status = "error"
)

// Event is one item on the coordinator's event stream.
//
// Transcript events carry Segment and Index; status events carry Status and,
// for [StatusError], the causing error.
type Event struct {
	Type      EventType
	SessionID string

	// Segment is the new or replacing segment for transcript events.
	Segment Segment

	// Index is the segment's position in Session.Segments. A repeated index
	// means the segment at that position was replaced.
	Index int

	// Status is set for status events.
	Status Status

	// Err is the cause for StatusError events.
	Err error
}
