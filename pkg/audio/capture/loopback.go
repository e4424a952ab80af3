package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/auralis-app/auralis/pkg/audio"
)

// maxCallbackFrames sizes the preallocated decode scratch buffer. miniaudio
// callback periods are well under this even at high sample rates.
const maxCallbackFrames = 1 << 14

// Loopback captures the audio the default output device is currently
// rendering, via miniaudio's loopback device type (WASAPI on Windows,
// equivalent backends elsewhere). It implements [Source].
//
// All exported methods are safe for concurrent use. The data callback runs on
// a miniaudio-owned realtime thread and touches nothing but the sink and a
// preallocated scratch buffer.
type Loopback struct {
	format audio.Format

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	started bool
}

// NewLoopback creates a loopback source that asks the device for float32
// interleaved samples at the given format. The device is not opened until
// [Loopback.Start].
func NewLoopback(format audio.Format) *Loopback {
	return &Loopback{format: format}
}

// Format implements [Source].
func (l *Loopback) Format() audio.Format { return l.format }

// Start implements [Source]. It initialises the miniaudio context, opens the
// default output device in loopback mode, and begins delivery into sink.
func (l *Loopback) Start(ctx context.Context, sink SampleSink) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("capture: loopback already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Loopback)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(l.format.Channels)
	cfg.SampleRate = uint32(l.format.SampleRate)
	cfg.Alsa.NoMMap = 1

	// Scratch buffer reused across callbacks so the realtime path never
	// allocates.
	scratch := make([]float32, maxCallbackFrames*l.format.Channels)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			n := int(frameCount) * l.format.Channels
			if n > len(scratch) {
				n = len(scratch)
			}
			for i := 0; i < n; i++ {
				bits := binary.LittleEndian.Uint32(in[i*4:])
				scratch[i] = math.Float32frombits(bits)
			}
			sink.Write(scratch[:n])
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: init device: %v", ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: start device: %v", ErrDeviceUnavailable, err)
	}

	l.ctx = mctx
	l.device = device
	l.started = true

	slog.Info("loopback capture started",
		"sample_rate", l.format.SampleRate,
		"channels", l.format.Channels,
	)
	return nil
}

// Stop implements [Source]. It stops the device and releases the handle,
// returning only once the device is uninitialised so the next Start can
// reacquire it.
func (l *Loopback) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return nil
	}

	// Uninit stops the device and blocks until the backend releases it.
	l.device.Uninit()
	if err := l.ctx.Uninit(); err != nil {
		slog.Warn("loopback capture: context uninit", "err", err)
	}
	l.ctx.Free()

	l.device = nil
	l.ctx = nil
	l.started = false

	slog.Info("loopback capture stopped")
	return nil
}
