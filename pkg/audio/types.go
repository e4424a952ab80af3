package audio

import "time"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Batch is one batching quantum's worth of little-endian int16 PCM, ready to
// be sent as a single outbound frame. Every batch except a final flush batch
// holds exactly the configured sample count.
type Batch struct {
	// PCM is the little-endian int16 mono payload.
	PCM []byte

	// Samples is the number of int16 samples in PCM (len(PCM)/2).
	Samples int

	// Duration is the wall-clock span the batch represents at the wire rate.
	Duration time.Duration
}
