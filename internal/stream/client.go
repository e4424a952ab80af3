// Package stream implements the streaming client that connects the capture
// side of the pipeline to a speech-to-text provider.
//
// One [Client] serves one recording session. It drains the capture ring on a
// fixed interval, converts the raw samples to the wire format, groups them
// into batches of one quantum, and sends each batch over the provider session
// in order. Inbound transcripts are relayed to the client's results channel
// the moment they arrive; outbound audio is batched, inbound results never
// are.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/auralis-app/auralis/internal/observe"
	"github.com/auralis-app/auralis/pkg/audio"
	"github.com/auralis-app/auralis/pkg/provider/stt"
)

const (
	defaultQuantum = time.Second
	minPoll        = 10 * time.Millisecond
)

// Config assembles a streaming client. Provider and Ring are required.
type Config struct {
	// Provider opens the transcription session.
	Provider stt.Provider

	// Ring is the capture buffer the client drains. The client is the ring's
	// single consumer.
	Ring *audio.Ring

	// CaptureFormat is the sample rate and channel count the capture source
	// writes into the ring.
	CaptureFormat audio.Format

	// WireRate is the mono sample rate sent to the provider, in Hz.
	WireRate int

	// Quantum is the wall-clock span of one outbound batch. Default: 1s.
	Quantum time.Duration

	// PollInterval is how often the ring is drained. It must not exceed
	// Quantum; the default is Quantum/4.
	PollInterval time.Duration

	// Stream carries language and keyword options for the provider session.
	Stream stt.StreamConfig

	// Metrics receives pipeline instrumentation. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger receives structured progress logs. Default: [slog.Default].
	Logger *slog.Logger
}

// Client pumps audio from a capture ring into an STT session and relays the
// transcript stream back out. A Client runs at most once; create a new one
// for each recording session.
type Client struct {
	provider stt.Provider
	ring     *audio.Ring
	conv     audio.Converter
	batcher  *audio.Batcher
	poll     time.Duration
	stream   stt.StreamConfig
	metrics  *observe.Metrics
	log      *slog.Logger

	state stateVar

	// sessMu guards sess and forced. sess is set once the handshake succeeds
	// so ForceClose can reach the live transport from another goroutine.
	sessMu sync.Mutex
	sess   stt.Session
	forced bool

	// ready closes once the session is open and the pump is running.
	ready chan struct{}

	results chan stt.Transcript

	// pending holds ring samples read but not yet frame-aligned. A ring drain
	// can end mid-frame (a DropOldest cursor jump lands anywhere), so only
	// whole interleaved frames go to the converter; the tail carries over.
	pending []float32

	lastDropped uint64
}

// New validates cfg and builds a Client. The returned client is in
// [StateDisconnected] until Run is called.
func New(cfg Config) (*Client, error) {
	if cfg.Provider == nil {
		return nil, errors.New("stream: Provider must not be nil")
	}
	if cfg.Ring == nil {
		return nil, errors.New("stream: Ring must not be nil")
	}
	if cfg.CaptureFormat.SampleRate <= 0 || cfg.CaptureFormat.Channels <= 0 {
		return nil, fmt.Errorf("stream: invalid capture format %+v", cfg.CaptureFormat)
	}
	if cfg.WireRate <= 0 {
		return nil, errors.New("stream: WireRate must be positive")
	}
	if cfg.Quantum <= 0 {
		cfg.Quantum = defaultQuantum
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = cfg.Quantum / 4
	}
	if cfg.PollInterval < minPoll {
		cfg.PollInterval = minPoll
	}
	if cfg.PollInterval > cfg.Quantum {
		return nil, fmt.Errorf("stream: PollInterval %v exceeds Quantum %v", cfg.PollInterval, cfg.Quantum)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		provider: cfg.Provider,
		ring:     cfg.Ring,
		conv:     audio.Converter{Src: cfg.CaptureFormat, DstRate: cfg.WireRate},
		batcher:  audio.NewBatcher(cfg.WireRate, cfg.Quantum),
		poll:     cfg.PollInterval,
		stream:   cfg.Stream,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		ready:    make(chan struct{}),
		results:  make(chan stt.Transcript, 64),
	}, nil
}

// State returns the current connection state. Safe to call from any goroutine.
func (c *Client) State() ConnectionState { return c.state.get() }

// Ready returns a channel that closes once the handshake has succeeded and
// audio is flowing. It never closes if the handshake fails; select on it
// together with Run's completion.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Results returns the ordered transcript stream. The channel closes when Run
// returns.
func (c *Client) Results() <-chan stt.Transcript { return c.results }

// ForceClose abandons the session immediately: the underlying transport is
// torn down without flushing buffered audio or waiting for trailing results.
// It unblocks a pump wedged on a stalled connection; Run then returns nil as
// for a clean stop. Safe to call from any goroutine, at any time.
func (c *Client) ForceClose() {
	c.sessMu.Lock()
	c.forced = true
	sess := c.sess
	c.sessMu.Unlock()
	if sess == nil {
		return
	}
	if fc, ok := sess.(interface{ ForceClose() }); ok {
		fc.ForceClose()
		return
	}
	_ = sess.Close()
}

func (c *Client) isForced() bool {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.forced
}

// protocolErrorCounter is implemented by sessions that count dropped
// unparseable frames.
type protocolErrorCounter interface {
	ProtocolErrors() uint64
}

// Run connects to the provider and pumps until ctx is cancelled or the
// session fails.
//
// Cancellation is the clean-stop path: the ring is drained one last time, the
// trailing partial batch is flushed, and the session is closed so the
// provider can deliver its final results before the results channel closes.
// Run then returns nil. A failed handshake returns a *stt.HandshakeError and
// a mid-session drop returns a *stt.TransportError; both leave the client in
// [StateFailed].
func (c *Client) Run(ctx context.Context) (err error) {
	defer close(c.results)
	defer func() {
		if err != nil {
			c.state.set(StateFailed)
		} else {
			c.state.set(StateDisconnected)
		}
	}()

	c.state.set(StateConnecting)

	cfg := c.stream
	cfg.SampleRate = c.conv.DstRate
	cfg.Channels = 1

	sess, err := c.provider.StartStream(ctx, cfg)
	if err != nil {
		c.log.Error("stream: handshake failed", "err", err)
		return err
	}
	c.sessMu.Lock()
	c.sess = sess
	forced := c.forced
	c.sessMu.Unlock()
	if forced {
		_ = sess.Close()
		return nil
	}
	c.state.set(StateAuthenticated)

	defer func() {
		if pc, ok := sess.(protocolErrorCounter); ok {
			c.metrics.AddProtocolErrors(context.Background(), pc.ProtocolErrors())
		}
	}()

	c.state.set(StateStreaming)
	close(c.ready)
	c.log.Info("stream: session open",
		"wire_rate", c.conv.DstRate,
		"quantum_samples", c.batcher.QuantumSamples(),
		"poll", c.poll)

	g, gctx := errgroup.WithContext(ctx)

	// Outbound pump. The single goroutine calling SendAudio, so batches hit
	// the wire in capture order.
	g.Go(func() error {
		defer sess.Close()
		return c.pump(gctx, sess)
	})

	// Inbound relay. Forwards every transcript immediately; the loop ends
	// when the session closes its results channel.
	g.Go(func() error {
		for t := range sess.Results() {
			c.metrics.RecordTranscript(gctx, t.IsFinal)
			select {
			case c.results <- t:
			case <-gctx.Done():
				// Keep draining so trailing finals are not lost; only skip
				// if the consumer stopped reading.
				select {
				case c.results <- t:
				default:
				}
			}
		}
		if err := sess.Err(); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if c.isForced() {
			c.log.Warn("stream: session force-closed, flush abandoned", "err", err)
			return nil
		}
		c.log.Error("stream: session failed", "err", err)
		return err
	}
	return nil
}

// pump drains the ring on every tick. After ctx is cancelled it performs one
// final drain, flushes the partial batch, and returns nil so the clean-stop
// path stays error-free.
func (c *Client) pump(ctx context.Context, sess stt.Session) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	scratch := make([]float32, c.ring.Cap())

	for {
		select {
		case <-ctx.Done():
			c.state.set(StateClosing)
			if err := c.drain(sess, scratch); err != nil {
				return c.sendErr(err)
			}
			if b, ok := c.batcher.Flush(); ok {
				if err := sess.SendAudio(b.PCM); err != nil {
					return c.sendErr(err)
				}
				c.metrics.RecordBatchSent(context.Background(), len(b.PCM), 0)
			}
			return nil
		case <-ticker.C:
			if err := c.drain(sess, scratch); err != nil {
				return c.sendErr(err)
			}
			c.recordDrops(ctx)
		}
	}
}

// drain empties the ring, converts frame-aligned samples to wire PCM, and
// sends every completed batch.
func (c *Client) drain(sess stt.Session, scratch []float32) error {
	for {
		n := c.ring.Read(scratch)
		if n == 0 {
			return nil
		}
		c.pending = append(c.pending, scratch[:n]...)

		aligned := len(c.pending) - len(c.pending)%c.conv.Src.Channels
		if aligned > 0 {
			pcm := c.conv.Convert(c.pending[:aligned])
			c.pending = c.pending[:copy(c.pending, c.pending[aligned:])]

			for _, b := range c.batcher.Add(pcm) {
				start := time.Now()
				if err := sess.SendAudio(b.PCM); err != nil {
					return err
				}
				c.metrics.RecordBatchSent(context.Background(), len(b.PCM), time.Since(start))
			}
		}

		if n < len(scratch) {
			return nil
		}
	}
}

// sendErr normalises a SendAudio failure. A session closed under the client
// is a transport-level failure unless it was a plain wrapped close.
func (c *Client) sendErr(err error) error {
	if errors.Is(err, stt.ErrSessionClosed) {
		return &stt.TransportError{Op: "send", Err: err}
	}
	return err
}

// recordDrops publishes the delta of the ring's drop counter since the last
// tick.
func (c *Client) recordDrops(ctx context.Context) {
	d := c.ring.Dropped()
	if d > c.lastDropped {
		c.metrics.AddDroppedSamples(ctx, d-c.lastDropped)
		c.log.Warn("stream: capture ring overflow", "dropped_samples", d-c.lastDropped)
		c.lastDropped = d
	}
}
