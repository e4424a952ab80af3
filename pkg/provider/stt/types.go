package stt

import "time"

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript. A partial for a given span may arrive multiple
	// times before the final for that span.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report confidence.
	Confidence float64

	// SpeakerID identifies the speaker when diarization is active.
	SpeakerID string

	// Start is the offset of the utterance start, relative to stream start.
	Start time.Duration

	// End is the offset of the utterance end, relative to stream start.
	End time.Duration

	// Words contains per-word detail when the provider supports it.
	Words []WordDetail
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a vocabulary hint passed to the recognizer.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Auralis").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
