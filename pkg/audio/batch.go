package audio

import "time"

// Batcher accumulates converted int16 PCM bytes and emits one [Batch] each
// time a full batching quantum's worth has arrived. The quantum is the
// rate-limiting unit: the remote service is sensitive to message frequency,
// so audio is sent as larger, less-frequent batches.
//
// Batcher is not safe for concurrent use; the streaming client owns it.
type Batcher struct {
	sampleRate int
	quantum    int // samples per full batch
	buf        []byte
}

// NewBatcher creates a Batcher for mono int16 PCM at sampleRate Hz, emitting
// one batch per quantum of wall-clock audio. quantum must be > 0.
func NewBatcher(sampleRate int, quantum time.Duration) *Batcher {
	samples := int(int64(sampleRate) * int64(quantum) / int64(time.Second))
	if samples < 1 {
		samples = 1
	}
	return &Batcher{
		sampleRate: sampleRate,
		quantum:    samples,
		buf:        make([]byte, 0, samples*2),
	}
}

// QuantumSamples returns the sample count of a full batch.
func (b *Batcher) QuantumSamples() int { return b.quantum }

// Add appends pcm to the accumulator and returns every full batch that the
// new data completes, in order. The returned slice is nil when no batch
// filled up.
func (b *Batcher) Add(pcm []byte) []Batch {
	b.buf = append(b.buf, pcm...)

	var out []Batch
	full := b.quantum * 2
	for len(b.buf) >= full {
		chunk := make([]byte, full)
		copy(chunk, b.buf[:full])
		b.buf = b.buf[full:]
		out = append(out, b.makeBatch(chunk))
	}
	return out
}

// Flush emits the partial remainder as a final, possibly short batch. It
// reports false when nothing is buffered; an empty batch is never emitted.
func (b *Batcher) Flush() (Batch, bool) {
	if len(b.buf) == 0 {
		return Batch{}, false
	}
	// Drop a trailing odd byte rather than emit a torn sample.
	n := len(b.buf) &^ 1
	if n == 0 {
		b.buf = b.buf[:0]
		return Batch{}, false
	}
	chunk := make([]byte, n)
	copy(chunk, b.buf[:n])
	b.buf = b.buf[:0]
	return b.makeBatch(chunk), true
}

func (b *Batcher) makeBatch(pcm []byte) Batch {
	samples := len(pcm) / 2
	return Batch{
		PCM:      pcm,
		Samples:  samples,
		Duration: time.Duration(samples) * time.Second / time.Duration(b.sampleRate),
	}
}
