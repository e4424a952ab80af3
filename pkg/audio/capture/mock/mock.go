// Package mock provides an in-memory implementation of [capture.Source] for
// use in unit tests.
//
// The mock delivers synthetic frames into the sink on a ticker, records call
// counts, and exposes exported fields that tests set to control behaviour
// (start failure, mid-session silence). Typical usage:
//
//	src := &mock.Source{
//	    SourceFormat: audio.Format{SampleRate: 48000, Channels: 2},
//	    FrameSamples: 480,
//	    Interval:     10 * time.Millisecond,
//	}
//	_ = src.Start(ctx, ring)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/auralis-app/auralis/pkg/audio"
	"github.com/auralis-app/auralis/pkg/audio/capture"
)

// Source is a mock implementation of [capture.Source].
// Set the exported fields before use; inspect the Call* fields after.
type Source struct {
	// SourceFormat is returned by [Source.Format].
	SourceFormat audio.Format

	// StartError, when non-nil, is returned by Start without producing frames.
	StartError error

	// FrameSamples is the number of interleaved samples delivered per tick.
	// Defaults to 480 when zero.
	FrameSamples int

	// Interval is the tick period between frames. Defaults to 10ms when zero.
	Interval time.Duration

	// SampleValue fills every delivered sample. Zero produces silence.
	SampleValue float32

	// MaxFrames, when > 0, stops production after that many frames without
	// reporting an error — simulating mid-session device removal.
	MaxFrames int

	mu sync.Mutex

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// FramesDelivered records how many frames were written to the sink.
	FramesDelivered int

	cancel context.CancelFunc
	done   chan struct{}
}

var _ capture.Source = (*Source)(nil)

// Format implements [capture.Source].
func (s *Source) Format() audio.Format { return s.SourceFormat }

// Start implements [capture.Source]. It spawns a goroutine that writes one
// frame of FrameSamples samples into sink every Interval until Stop is called,
// the context is cancelled, or MaxFrames is reached.
func (s *Source) Start(ctx context.Context, sink capture.SampleSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}

	frameSamples := s.FrameSamples
	if frameSamples == 0 {
		frameSamples = 480
	}
	interval := s.Interval
	if interval == 0 {
		interval = 10 * time.Millisecond
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		frame := make([]float32, frameSamples)
		for i := range frame {
			frame[i] = s.SampleValue
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		delivered := 0
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if s.MaxFrames > 0 && delivered >= s.MaxFrames {
					// Device went away: stop producing, report nothing.
					return
				}
				sink.Write(frame)
				delivered++
				s.mu.Lock()
				s.FramesDelivered = delivered
				s.mu.Unlock()
			}
		}
	}()

	return nil
}

// Stop implements [capture.Source]. It halts production and waits for the
// delivery goroutine to exit.
func (s *Source) Stop() error {
	s.mu.Lock()
	s.CallCountStop++
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
