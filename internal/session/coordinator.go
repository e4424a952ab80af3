package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auralis-app/auralis/internal/observe"
	"github.com/auralis-app/auralis/internal/stream"
	"github.com/auralis-app/auralis/pkg/audio"
	"github.com/auralis-app/auralis/pkg/audio/capture"
	"github.com/auralis-app/auralis/pkg/provider/stt"
)

const (
	defaultStopTimeout  = 5 * time.Second
	defaultRingSeconds  = 10
	persistTimeout      = 10 * time.Second
	eventBufferCapacity = 256
)

var (
	// ErrAlreadyRecording is returned by Start while a session is live.
	ErrAlreadyRecording = errors.New("session: recording already in progress")

	// ErrNotRecording is returned by Stop when no session is live.
	ErrNotRecording = errors.New("session: no recording in progress")
)

// Sink receives completed sessions for persistence. A nil sink disables
// persistence; sink errors are logged, never fatal to the session.
type Sink interface {
	SaveSession(ctx context.Context, s *Session) error
}

// Config holds all dependencies for a [Coordinator]. Source, Provider, and
// WireRate are required.
type Config struct {
	// Source is the capture device.
	Source capture.Source

	// Provider opens transcription sessions.
	Provider stt.Provider

	// WireRate is the mono sample rate sent to the provider, in Hz.
	WireRate int

	// Quantum and PollInterval tune the outbound batching; see [stream.Config].
	Quantum      time.Duration
	PollInterval time.Duration

	// RingCapacity is the capture buffer size in samples. Default: ten
	// seconds of capture audio.
	RingCapacity int

	// RingPolicy selects the overflow behaviour. Default: drop-newest.
	RingPolicy audio.OverflowPolicy

	// Stream carries language and keyword options for the provider.
	Stream stt.StreamConfig

	// StopTimeout bounds how long Stop waits for the pipeline to flush and
	// close. Default: 5s.
	StopTimeout time.Duration

	// Sink optionally persists completed sessions.
	Sink Sink

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Coordinator manages the lifecycle of recording sessions. Only one session
// can be live at a time. All exported methods are safe for concurrent use.
type Coordinator struct {
	cfg     Config
	metrics *observe.Metrics
	log     *slog.Logger

	events        chan Event
	droppedEvents atomic.Uint64

	// active flips to true only once a session is fully started, so the
	// "is recording" query never waits on an in-flight handshake.
	active atomic.Bool

	// lifecycle serialises Start and Stop; it is held across the handshake
	// and across teardown, never by the query methods.
	lifecycle sync.Mutex

	// mu guards the session record and the teardown handles.
	mu     sync.Mutex
	cur    *Session
	cancel context.CancelFunc
	done   chan struct{}
	client *stream.Client
}

// New validates cfg and creates a Coordinator. The coordinator starts idle
// and emits [StatusReady] on its event stream.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Source == nil {
		return nil, errors.New("session: Source must not be nil")
	}
	if cfg.Provider == nil {
		return nil, errors.New("session: Provider must not be nil")
	}
	if cfg.WireRate <= 0 {
		return nil, errors.New("session: WireRate must be positive")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Coordinator{
		cfg:     cfg,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		events:  make(chan Event, eventBufferCapacity),
	}
	c.emit(Event{Type: EventStatus, Status: StatusReady})
	return c, nil
}

// Events returns the coordinator's event stream. The channel is never closed;
// it spans all sessions the coordinator runs. Consumers must keep draining it
// or events are dropped.
func (c *Coordinator) Events() <-chan Event { return c.events }

// IsActive reports whether a recording session is currently live. It is a
// single atomic load, callable from any context at any rate.
func (c *Coordinator) IsActive() bool {
	return c.active.Load()
}

// Current returns a snapshot of the most recent session, live or completed,
// or nil if none was ever started.
func (c *Coordinator) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	return c.cur.clone()
}

// DroppedEvents returns how many events were discarded because the consumer
// stopped draining.
func (c *Coordinator) DroppedEvents() uint64 { return c.droppedEvents.Load() }

// Start begins a new recording session: it starts the capture device, opens
// the transcription stream, and returns once audio is flowing. The capture
// ring absorbs audio arriving while the stream handshake is still in flight,
// so the first seconds of a meeting are not lost.
//
// Returns [ErrAlreadyRecording] if a session is live, a wrapped
// [capture.ErrDeviceUnavailable] if the device cannot be acquired, and the
// provider's *stt.HandshakeError if the stream cannot be opened. Start does
// not retry.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.active.Load() {
		c.mu.Lock()
		id := c.cur.ID
		c.mu.Unlock()
		return fmt.Errorf("%w (id=%s)", ErrAlreadyRecording, id)
	}

	now := time.Now().UTC()
	id := "session-" + now.Format("20060102T150405Z")

	c.emit(Event{Type: EventStatus, SessionID: id, Status: StatusConnecting})

	format := c.cfg.Source.Format()
	ringCap := c.cfg.RingCapacity
	if ringCap <= 0 {
		ringCap = format.SampleRate * format.Channels * defaultRingSeconds
	}
	ring := audio.NewRing(ringCap, c.cfg.RingPolicy)

	if err := c.cfg.Source.Start(ctx, ring); err != nil {
		err = fmt.Errorf("session: start capture: %w", err)
		c.emit(Event{Type: EventStatus, SessionID: id, Status: StatusError, Err: err})
		return err
	}

	client, err := stream.New(stream.Config{
		Provider:      c.cfg.Provider,
		Ring:          ring,
		CaptureFormat: format,
		WireRate:      c.cfg.WireRate,
		Quantum:       c.cfg.Quantum,
		PollInterval:  c.cfg.PollInterval,
		Stream:        c.cfg.Stream,
		Metrics:       c.metrics,
		Logger:        c.log,
	})
	if err != nil {
		_ = c.cfg.Source.Stop()
		err = fmt.Errorf("session: build stream client: %w", err)
		c.emit(Event{Type: EventStatus, SessionID: id, Status: StatusError, Err: err})
		return err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(sessCtx) }()

	select {
	case <-client.Ready():
	case err := <-runDone:
		cancel()
		_ = c.cfg.Source.Stop()
		err = fmt.Errorf("session: open stream: %w", err)
		c.emit(Event{Type: EventStatus, SessionID: id, Status: StatusError, Err: err})
		return err
	case <-ctx.Done():
		cancel()
		<-runDone
		_ = c.cfg.Source.Stop()
		return ctx.Err()
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.cur = &Session{ID: id, StartTime: now}
	c.cancel = cancel
	c.done = done
	c.client = client
	c.mu.Unlock()
	c.active.Store(true)

	c.metrics.ActiveSessions.Add(ctx, 1)
	c.emit(Event{Type: EventStatus, SessionID: id, Status: StatusRecording})
	c.log.Info("session started",
		"session_id", id,
		"capture_rate", format.SampleRate,
		"capture_channels", format.Channels,
		"wire_rate", c.cfg.WireRate,
		"ring_capacity", ring.Cap(),
		"ring_policy", c.cfg.RingPolicy.String(),
	)

	go c.runSession(client, runDone, done)

	return nil
}

// Stop ends the live session cleanly: the pipeline flushes buffered audio,
// the provider delivers its trailing finals, and the completed session is
// handed to the sink. Stop blocks until teardown finishes; if the clean path
// has not completed within StopTimeout, the transport is force-closed so a
// stalled connection cannot wedge the pipeline, and Stop still waits for the
// capture device to be released before returning. On a forced stop the
// best-effort snapshot is returned together with an error.
func (c *Coordinator) Stop(ctx context.Context) (*Session, error) {
	if !c.active.Load() {
		return nil, ErrNotRecording
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	// The session may have ended on its own while we waited for the lock;
	// teardown clears the handles under mu.
	if c.cancel == nil {
		c.mu.Unlock()
		return nil, ErrNotRecording
	}
	id := c.cur.ID
	cancel := c.cancel
	done := c.done
	client := c.client
	c.mu.Unlock()

	cancel()

	var timedOut bool
	select {
	case <-done:
	case <-time.After(c.cfg.StopTimeout):
		timedOut = true
		c.log.Warn("session: stop timed out, force-closing transport",
			"session_id", id, "timeout", c.cfg.StopTimeout)
		client.ForceClose()
		// The force-close unblocks the pump, so teardown now runs to
		// completion: capture stops, the record is finalised, active clears.
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	snapshot := c.cur.clone()
	c.mu.Unlock()

	if timedOut {
		return snapshot, fmt.Errorf("session: stop timed out after %v, transport force-closed", c.cfg.StopTimeout)
	}
	return snapshot, nil
}

// runSession consumes the transcript stream until the client finishes, then
// tears down capture, finalises the session record, and persists it.
func (c *Coordinator) runSession(client *stream.Client, runDone <-chan error, done chan struct{}) {
	defer close(done)

	for t := range client.Results() {
		c.applyTranscript(t)
	}
	runErr := <-runDone

	if err := c.cfg.Source.Stop(); err != nil {
		c.log.Warn("session: capture stop error", "err", err)
	}

	c.mu.Lock()
	s := c.cur
	s.EndTime = time.Now().UTC()
	s.Outcome = classifyOutcome(runErr)
	c.cancel = nil
	c.client = nil
	snapshot := s.clone()
	c.active.Store(false)
	c.mu.Unlock()

	ctx := context.Background()
	c.metrics.ActiveSessions.Add(ctx, -1)
	c.metrics.SessionDuration.Record(ctx, snapshot.Duration().Seconds())

	if runErr != nil {
		c.log.Error("session ended with error", "session_id", snapshot.ID, "outcome", snapshot.Outcome, "err", runErr)
		c.emit(Event{Type: EventStatus, SessionID: snapshot.ID, Status: StatusError, Err: runErr})
	}
	c.emit(Event{Type: EventStatus, SessionID: snapshot.ID, Status: StatusStopped})

	if c.cfg.Sink != nil {
		saveCtx, cancel := context.WithTimeout(ctx, persistTimeout)
		defer cancel()
		if err := c.cfg.Sink.SaveSession(saveCtx, snapshot); err != nil {
			c.log.Error("session: persist failed", "session_id", snapshot.ID, "err", err)
		}
	}

	c.log.Info("session stopped",
		"session_id", snapshot.ID,
		"outcome", snapshot.Outcome,
		"duration", snapshot.Duration(),
		"segments", len(snapshot.Segments),
	)
}

// applyTranscript folds one result into the transcript. A result whose span
// starts at or before the current partial tail replaces that tail in place;
// anything else opens a new segment. Final segments are never touched.
func (c *Coordinator) applyTranscript(t stt.Transcript) {
	seg := Segment{
		Text:       t.Text,
		IsFinal:    t.IsFinal,
		Speaker:    t.SpeakerID,
		Start:      t.Start,
		End:        t.End,
		Confidence: t.Confidence,
		ReceivedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	s := c.cur
	idx := len(s.Segments)
	if n := len(s.Segments); n > 0 && !s.Segments[n-1].IsFinal && t.Start <= s.Segments[n-1].Start {
		idx = n - 1
		s.Segments[idx] = seg
	} else {
		s.Segments = append(s.Segments, seg)
	}
	id := s.ID
	c.mu.Unlock()

	typ := EventTranscriptPartial
	if t.IsFinal {
		typ = EventTranscriptFinal
	}
	c.emit(Event{Type: typ, SessionID: id, Segment: seg, Index: idx})
}

// emit publishes an event without blocking. The event stream is advisory;
// the session record is the source of truth, so a slow consumer loses events
// rather than stalling the pipeline.
func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.droppedEvents.Add(1)
		c.log.Warn("session: event dropped, consumer not draining", "type", ev.Type)
	}
}

// classifyOutcome maps the stream client's terminal error to an outcome.
func classifyOutcome(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeUserStopped
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return OutcomeDeviceError
	default:
		return OutcomeTransportError
	}
}
