// Package capture defines the audio capture source abstraction and its
// loopback implementation.
//
// A [Source] owns a hardware capture device handle. Once started, the device
// invokes a realtime callback for every hardware buffer; the callback's only
// permitted operation is a non-blocking write of the new samples into the
// supplied [SampleSink]. No allocation, locking, blocking I/O, or logging is
// allowed on that path — a late callback means dropped or glitched audio.
//
// The loopback implementation captures what the default output device is
// rendering (system audio), not microphone input. Test code uses the mock
// subpackage instead of a real device.
package capture

import (
	"context"
	"errors"

	"github.com/auralis-app/auralis/pkg/audio"
)

// ErrDeviceUnavailable is returned by [Source.Start] when no usable capture
// device exists. It is fatal to the session being started, not to the process.
var ErrDeviceUnavailable = errors.New("capture: audio device unavailable")

// SampleSink receives captured samples. Write must be non-blocking and
// allocation-free; [audio.Ring] satisfies it.
type SampleSink interface {
	Write(samples []float32) int
}

// Source is the capture device abstraction.
//
// A Source delivers interleaved float32 samples in the format reported by
// [Source.Format]. Mid-session device removal is not an error: the source
// simply stops producing, and the consumer treats prolonged silence as "no
// audio".
type Source interface {
	// Start opens the device and begins delivering every hardware buffer into
	// sink. It fails fast with [ErrDeviceUnavailable] if the device cannot be
	// acquired. ctx bounds the startup only; delivery continues until Stop.
	Start(ctx context.Context, sink SampleSink) error

	// Stop halts delivery and releases the device handle. It blocks until the
	// handle is actually released, so a subsequent Start can reacquire the
	// device. Stop is safe to call more than once.
	Stop() error

	// Format reports the sample rate and channel count the source delivers.
	Format() audio.Format
}
