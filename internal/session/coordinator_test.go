package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auralis-app/auralis/pkg/audio"
	"github.com/auralis-app/auralis/pkg/audio/capture"
	capturemock "github.com/auralis-app/auralis/pkg/audio/capture/mock"
	"github.com/auralis-app/auralis/pkg/provider/stt"
	sttmock "github.com/auralis-app/auralis/pkg/provider/stt/mock"
)

func newTestCoordinator(t *testing.T, mutate func(*Config)) (*Coordinator, *capturemock.Source, *sttmock.Session) {
	t.Helper()

	src := &capturemock.Source{
		SourceFormat: audio.Format{SampleRate: 16000, Channels: 1},
		FrameSamples: 160,
		Interval:     10 * time.Millisecond,
	}
	sess := sttmock.NewSession()
	provider := &sttmock.Provider{StartStreamResult: sess}

	cfg := Config{
		Source:       src,
		Provider:     provider,
		WireRate:     16000,
		Quantum:      20 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		StopTimeout:  2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, src, sess
}

// waitStatus drains events until the wanted status arrives, failing the test
// on timeout. It returns the statuses seen along the way, wanted one included.
func waitStatus(t *testing.T, c *Coordinator, want Status) []Status {
	t.Helper()
	var seen []Status
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Type != EventStatus {
				continue
			}
			seen = append(seen, ev.Status)
			if ev.Status == want {
				return seen
			}
		case <-deadline:
			t.Fatalf("status %q never arrived; saw %v", want, seen)
		}
	}
}

// waitSegments polls until the current session holds n segments.
func waitSegments(t *testing.T, c *Coordinator, n int) *Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := c.Current(); s != nil && len(s.Segments) >= n {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached %d segments", n)
	return nil
}

func TestStartStop_CleanLifecycle(t *testing.T) {
	c, src, sess := newTestCoordinator(t, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.IsActive() {
		t.Fatal("coordinator should be active after Start")
	}
	waitStatus(t, c, StatusRecording)

	sess.Emit(stt.Transcript{Text: "hello world", IsFinal: true})
	waitSegments(t, c, 1)

	s, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.IsActive() {
		t.Error("coordinator should be idle after Stop")
	}
	if s.Outcome != OutcomeUserStopped {
		t.Errorf("outcome = %q, want user-stopped", s.Outcome)
	}
	if s.EndTime.IsZero() {
		t.Error("EndTime not set on completed session")
	}
	if got := s.Transcript(); got != "hello world" {
		t.Errorf("transcript = %q, want %q", got, "hello world")
	}
	if src.CallCountStop == 0 {
		t.Error("capture source never stopped")
	}
	waitStatus(t, c, StatusStopped)
}

func TestStart_AlreadyRecording(t *testing.T) {
	c, _, _ := newTestCoordinator(t, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("second Start = %v, want ErrAlreadyRecording", err)
	}
	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStop_NotRecording(t *testing.T) {
	c, _, _ := newTestCoordinator(t, nil)
	if _, err := c.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop = %v, want ErrNotRecording", err)
	}
}

func TestStart_DeviceUnavailable(t *testing.T) {
	c, src, _ := newTestCoordinator(t, nil)
	src.StartError = capture.ErrDeviceUnavailable

	err := c.Start(context.Background())
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("Start = %v, want ErrDeviceUnavailable", err)
	}
	if c.IsActive() {
		t.Error("failed Start must not leave the coordinator active")
	}
	waitStatus(t, c, StatusError)
}

func TestStart_HandshakeFailure(t *testing.T) {
	he := &stt.HandshakeError{Status: 401, Reason: "authentication rejected"}
	c, src, _ := newTestCoordinator(t, func(cfg *Config) {
		cfg.Provider = &sttmock.Provider{StartStreamError: he}
	})

	err := c.Start(context.Background())
	var got *stt.HandshakeError
	if !errors.As(err, &got) {
		t.Fatalf("Start = %v, want *stt.HandshakeError", err)
	}
	if c.IsActive() {
		t.Error("failed Start must not leave the coordinator active")
	}
	if src.CallCountStop == 0 {
		t.Error("capture source not released after handshake failure")
	}
}

func TestPartialReplacement(t *testing.T) {
	c, _, sess := newTestCoordinator(t, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Growing recognition of one span: each result replaces the partial tail
	// until the final settles it; then a new span opens a fresh segment.
	sess.Emit(stt.Transcript{Text: "he", Start: 0, End: 300 * time.Millisecond})
	sess.Emit(stt.Transcript{Text: "hello", Start: 0, End: 600 * time.Millisecond})
	sess.Emit(stt.Transcript{Text: "hello world", IsFinal: true, Start: 0, End: time.Second})
	sess.Emit(stt.Transcript{Text: "and", Start: 2 * time.Second, End: 2300 * time.Millisecond})

	var s *Session
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s = c.Current()
		if len(s.Segments) == 2 && s.Segments[1].Text == "and" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if len(s.Segments) != 2 {
		t.Fatalf("got %d segments, want 2: %+v", len(s.Segments), s.Segments)
	}
	if s.Segments[0].Text != "hello world" || !s.Segments[0].IsFinal {
		t.Errorf("segment 0 = %+v, want final %q", s.Segments[0], "hello world")
	}
	if s.Segments[1].Text != "and" || s.Segments[1].IsFinal {
		t.Errorf("segment 1 = %+v, want partial %q", s.Segments[1], "and")
	}

	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPartialReplacement_EventIndexes(t *testing.T) {
	c, _, sess := newTestCoordinator(t, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.Emit(stt.Transcript{Text: "he", Start: 0})
	sess.Emit(stt.Transcript{Text: "hello", Start: 0})
	sess.Emit(stt.Transcript{Text: "hello world", IsFinal: true, Start: 0})

	var got []Event
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-c.Events():
			if ev.Type == EventTranscriptPartial || ev.Type == EventTranscriptFinal {
				got = append(got, ev)
			}
		case <-deadline:
			t.Fatalf("timed out after %d transcript events", len(got))
		}
	}

	for i, ev := range got {
		if ev.Index != 0 {
			t.Errorf("event %d index = %d, want 0 (in-place replacement)", i, ev.Index)
		}
	}
	if got[0].Type != EventTranscriptPartial || got[2].Type != EventTranscriptFinal {
		t.Errorf("event types = %v %v %v", got[0].Type, got[1].Type, got[2].Type)
	}
	if got[2].Segment.Text != "hello world" {
		t.Errorf("final text = %q, want %q", got[2].Segment.Text, "hello world")
	}

	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestTransportFailure_EndsSession(t *testing.T) {
	c, _, sess := newTestCoordinator(t, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, c, StatusRecording)

	sess.FailTransport(&stt.TransportError{Op: "receive", Err: errors.New("connection reset")})

	seen := waitStatus(t, c, StatusStopped)
	var sawError bool
	for _, st := range seen {
		if st == StatusError {
			sawError = true
		}
	}
	if !sawError {
		t.Errorf("expected a status error before stopped; saw %v", seen)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.IsActive() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.IsActive() {
		t.Fatal("coordinator still active after transport failure")
	}
	if got := c.Current().Outcome; got != OutcomeTransportError {
		t.Errorf("outcome = %q, want transport-error", got)
	}
	if _, err := c.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop after self-termination = %v, want ErrNotRecording", err)
	}
}

type recordingSink struct {
	saved []*Session
	err   error
}

func (r *recordingSink) SaveSession(_ context.Context, s *Session) error {
	r.saved = append(r.saved, s)
	return r.err
}

func TestSinkReceivesCompletedSession(t *testing.T) {
	sink := &recordingSink{}
	c, _, sess := newTestCoordinator(t, func(cfg *Config) { cfg.Sink = sink })

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.Emit(stt.Transcript{Text: "decisions were made", IsFinal: true})
	waitSegments(t, c, 1)

	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(sink.saved) != 1 {
		t.Fatalf("sink received %d sessions, want 1", len(sink.saved))
	}
	saved := sink.saved[0]
	if saved.Outcome != OutcomeUserStopped || saved.EndTime.IsZero() {
		t.Errorf("sink got incomplete session: %+v", saved)
	}
}

func TestSinkError_DoesNotFailStop(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	c, _, _ := newTestCoordinator(t, func(cfg *Config) { cfg.Sink = sink })

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop should ignore sink errors, got %v", err)
	}
}

// freshSessionProvider hands out a new mock session per StartStream call, so
// back-to-back recordings do not share a closed session.
type freshSessionProvider struct {
	sessions []*sttmock.Session
}

func (p *freshSessionProvider) StartStream(_ context.Context, _ stt.StreamConfig) (stt.Session, error) {
	s := sttmock.NewSession()
	p.sessions = append(p.sessions, s)
	return s, nil
}

func TestRestartAfterStop(t *testing.T) {
	provider := &freshSessionProvider{}
	c, _, _ := newTestCoordinator(t, func(cfg *Config) { cfg.Provider = provider })

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	first, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("first Stop: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	second, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	if first.ID == second.ID && first.StartTime.Equal(second.StartTime) {
		t.Error("restarted session reused the previous identity")
	}
}

// stalledSession wedges every SendAudio until the transport is torn down, as
// when the remote stops reading and the send buffer fills up.
type stalledSession struct {
	results chan stt.Transcript
	stuck   chan struct{}
	down    sync.Once
}

func newStalledSession() *stalledSession {
	return &stalledSession{
		results: make(chan stt.Transcript),
		stuck:   make(chan struct{}),
	}
}

func (s *stalledSession) SendAudio([]byte) error {
	<-s.stuck
	return stt.ErrSessionClosed
}

func (s *stalledSession) Results() <-chan stt.Transcript { return s.results }
func (s *stalledSession) Err() error                     { return nil }
func (s *stalledSession) Close() error                   { s.teardown(); return nil }
func (s *stalledSession) ForceClose()                    { s.teardown() }

func (s *stalledSession) teardown() {
	s.down.Do(func() {
		close(s.stuck)
		close(s.results)
	})
}

// stalledProvider hands out the stalled session first, then fresh mocks so
// the coordinator can be restarted after the forced stop.
type stalledProvider struct {
	first *stalledSession
	calls int
}

func (p *stalledProvider) StartStream(_ context.Context, _ stt.StreamConfig) (stt.Session, error) {
	p.calls++
	if p.calls == 1 {
		return p.first, nil
	}
	return sttmock.NewSession(), nil
}

func TestStop_ForceClosesStalledTransport(t *testing.T) {
	sess := newStalledSession()
	c, src, _ := newTestCoordinator(t, func(cfg *Config) {
		cfg.Provider = &stalledProvider{first: sess}
		cfg.StopTimeout = 100 * time.Millisecond
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, c, StatusRecording)

	// Let the capture source feed enough audio that the pump wedges on a
	// SendAudio that never completes.
	time.Sleep(150 * time.Millisecond)

	s, err := c.Stop(context.Background())
	if err == nil {
		t.Fatal("Stop should report the forced teardown")
	}
	if s == nil {
		t.Fatal("Stop should still return the best-effort snapshot")
	}
	if s.Outcome != OutcomeUserStopped {
		t.Errorf("outcome = %q, want user-stopped", s.Outcome)
	}
	if s.EndTime.IsZero() {
		t.Error("EndTime not stamped after forced stop")
	}

	// Teardown must be confirmed: handles released, coordinator restartable.
	if c.IsActive() {
		t.Fatal("coordinator still active after forced stop")
	}
	if src.CallCountStop == 0 {
		t.Error("capture device not released after forced stop")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start after forced stop: %v", err)
	}
	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop after restart: %v", err)
	}
}

func TestStart_InvalidStreamSettings(t *testing.T) {
	c, src, _ := newTestCoordinator(t, func(cfg *Config) {
		cfg.Quantum = 20 * time.Millisecond
		cfg.PollInterval = 50 * time.Millisecond
	})

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Start should reject a poll interval above the quantum")
	}
	if c.IsActive() {
		t.Error("failed Start must not leave the coordinator active")
	}
	if src.CallCountStop == 0 {
		t.Error("capture source not released after failed start")
	}
	waitStatus(t, c, StatusError)
}

// slowHandshakeProvider blocks StartStream until released, simulating a slow
// remote handshake.
type slowHandshakeProvider struct {
	release chan struct{}
	sess    *sttmock.Session
}

func (p *slowHandshakeProvider) StartStream(ctx context.Context, _ stt.StreamConfig) (stt.Session, error) {
	select {
	case <-p.release:
		return p.sess, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestQueries_NotBlockedByHandshake(t *testing.T) {
	p := &slowHandshakeProvider{release: make(chan struct{}), sess: sttmock.NewSession()}
	c, _, _ := newTestCoordinator(t, func(cfg *Config) { cfg.Provider = p })

	startErr := make(chan error, 1)
	go func() { startErr <- c.Start(context.Background()) }()
	time.Sleep(30 * time.Millisecond)

	// The handshake is in flight; queries must answer immediately.
	if c.IsActive() {
		t.Error("IsActive should report false until the session is fully started")
	}
	if _, err := c.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop during handshake = %v, want ErrNotRecording", err)
	}

	close(p.release)
	if err := <-startErr; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.IsActive() {
		t.Error("IsActive should report true once Start returns")
	}
	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
