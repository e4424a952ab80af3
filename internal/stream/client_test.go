package stream

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auralis-app/auralis/pkg/audio"
	"github.com/auralis-app/auralis/pkg/provider/stt"
	"github.com/auralis-app/auralis/pkg/provider/stt/mock"
)

func testConfig(p stt.Provider, ring *audio.Ring) Config {
	return Config{
		Provider:      p,
		Ring:          ring,
		CaptureFormat: audio.Format{SampleRate: 16000, Channels: 1},
		WireRate:      16000,
		Quantum:       20 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
	}
}

// runClient starts Run in a goroutine and returns a func that cancels and
// waits for the result.
func runClient(t *testing.T, c *Client) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func TestNew_Validation(t *testing.T) {
	ring := audio.NewRing(1024, audio.DropNewest)
	sess := mock.NewSession()
	p := &mock.Provider{StartStreamResult: sess}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nil provider", func(c *Config) { c.Provider = nil }},
		{"nil ring", func(c *Config) { c.Ring = nil }},
		{"zero capture rate", func(c *Config) { c.CaptureFormat.SampleRate = 0 }},
		{"zero wire rate", func(c *Config) { c.WireRate = 0 }},
		{"poll exceeds quantum", func(c *Config) {
			c.Quantum = 20 * time.Millisecond
			c.PollInterval = 50 * time.Millisecond
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(p, ring)
			tc.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("New should reject invalid config")
			}
		})
	}
}

func TestRun_HandshakeFailure(t *testing.T) {
	he := &stt.HandshakeError{Status: 401, Reason: "authentication rejected"}
	p := &mock.Provider{StartStreamError: he}

	c, err := New(testConfig(p, audio.NewRing(1024, audio.DropNewest)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.Run(context.Background())
	var got *stt.HandshakeError
	if !errors.As(err, &got) {
		t.Fatalf("Run error = %v, want *stt.HandshakeError", err)
	}
	if c.State() != StateFailed {
		t.Errorf("state = %v, want failed", c.State())
	}
	if _, open := <-c.Results(); open {
		t.Error("results channel should be closed after a failed run")
	}
}

func TestRun_StreamConfigForcedToWireFormat(t *testing.T) {
	sess := mock.NewSession()
	p := &mock.Provider{StartStreamResult: sess}

	cfg := testConfig(p, audio.NewRing(1024, audio.DropNewest))
	cfg.CaptureFormat = audio.Format{SampleRate: 48000, Channels: 2}
	cfg.Stream = stt.StreamConfig{Language: "de", Keywords: []stt.KeywordBoost{{Keyword: "Auralis", Boost: 3}}}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runClient(t, c)
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(p.RecordedConfigs) != 1 {
		t.Fatalf("StartStream called %d times, want 1", len(p.RecordedConfigs))
	}
	got := p.RecordedConfigs[0]
	if got.SampleRate != 16000 || got.Channels != 1 {
		t.Errorf("stream config = %d Hz / %d ch, want 16000 Hz mono", got.SampleRate, got.Channels)
	}
	if got.Language != "de" || len(got.Keywords) != 1 {
		t.Errorf("language/keywords not forwarded: %+v", got)
	}
}

func TestRun_SendsCapturedAudioInOrder(t *testing.T) {
	sess := mock.NewSession()
	p := &mock.Provider{StartStreamResult: sess}
	ring := audio.NewRing(4096, audio.DropNewest)

	c, err := New(testConfig(p, ring))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 70 ms of a ramp at 16 kHz: enough for three full 20 ms batches plus a
	// partial flushed on stop.
	samples := make([]float32, 1120)
	for i := range samples {
		samples[i] = float32(i) / float32(len(samples))
	}
	ring.Write(samples)

	stop := runClient(t, c)
	time.Sleep(100 * time.Millisecond)
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := audio.PCM16FromFloat32(samples)
	got := bytes.Join(sess.SentChunks, nil)
	if !bytes.Equal(got, want) {
		t.Fatalf("sent %d bytes, want %d; payload mismatch", len(got), len(want))
	}

	quantumBytes := 2 * 16000 * 20 / 1000
	for i, chunk := range sess.SentChunks[:len(sess.SentChunks)-1] {
		if len(chunk) != quantumBytes {
			t.Errorf("chunk %d = %d bytes, want %d", i, len(chunk), quantumBytes)
		}
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", c.State())
	}
}

func TestRun_FlushesPartialBatchOnStop(t *testing.T) {
	sess := mock.NewSession()
	p := &mock.Provider{StartStreamResult: sess}
	ring := audio.NewRing(1024, audio.DropNewest)

	c, err := New(testConfig(p, ring))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Half a quantum: no full batch ever completes.
	ring.Write(make([]float32, 160))

	stop := runClient(t, c)
	time.Sleep(50 * time.Millisecond)
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := sess.SentBytes(); got != 320 {
		t.Errorf("sent %d bytes, want 320 from the stop flush", got)
	}
}

func TestRun_RelaysTranscriptsInOrder(t *testing.T) {
	sess := mock.NewSession()
	p := &mock.Provider{StartStreamResult: sess}

	c, err := New(testConfig(p, audio.NewRing(1024, audio.DropNewest)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runClient(t, c)

	sess.Emit(stt.Transcript{Text: "he", IsFinal: false})
	sess.Emit(stt.Transcript{Text: "hello", IsFinal: false})
	sess.Emit(stt.Transcript{Text: "hello world", IsFinal: true})

	var got []stt.Transcript
	for len(got) < 3 {
		select {
		case tr := <-c.Results():
			got = append(got, tr)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d transcripts", len(got))
		}
	}
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got[0].Text != "he" || got[1].Text != "hello" || got[2].Text != "hello world" {
		t.Errorf("transcripts out of order: %+v", got)
	}
	if got[0].IsFinal || got[2].IsFinal != true {
		t.Errorf("finality not preserved: %+v", got)
	}
}

// wedgedSession blocks every SendAudio until force-closed, as when the remote
// stops reading and the socket's send buffer fills.
type wedgedSession struct {
	results chan stt.Transcript
	stuck   chan struct{}
	down    sync.Once
}

func newWedgedSession() *wedgedSession {
	return &wedgedSession{
		results: make(chan stt.Transcript),
		stuck:   make(chan struct{}),
	}
}

func (s *wedgedSession) SendAudio([]byte) error {
	<-s.stuck
	return stt.ErrSessionClosed
}

func (s *wedgedSession) Results() <-chan stt.Transcript { return s.results }
func (s *wedgedSession) Err() error                     { return nil }
func (s *wedgedSession) Close() error                   { s.teardown(); return nil }
func (s *wedgedSession) ForceClose()                    { s.teardown() }

func (s *wedgedSession) teardown() {
	s.down.Do(func() {
		close(s.stuck)
		close(s.results)
	})
}

type sessionProvider struct{ sess stt.Session }

func (p *sessionProvider) StartStream(context.Context, stt.StreamConfig) (stt.Session, error) {
	return p.sess, nil
}

func TestForceClose_UnblocksStalledSend(t *testing.T) {
	sess := newWedgedSession()
	ring := audio.NewRing(4096, audio.DropNewest)
	ring.Write(make([]float32, 1120))

	c, err := New(testConfig(&sessionProvider{sess: sess}, ring))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	// The first full batch wedges the pump inside SendAudio.
	time.Sleep(50 * time.Millisecond)
	c.ForceClose()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after ForceClose = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after ForceClose")
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", c.State())
	}
	if _, open := <-c.Results(); open {
		t.Error("results channel should be closed after a forced close")
	}
}

func TestRun_TransportFailure(t *testing.T) {
	sess := mock.NewSession()
	p := &mock.Provider{StartStreamResult: sess}

	c, err := New(testConfig(p, audio.NewRing(1024, audio.DropNewest)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	sess.FailTransport(&stt.TransportError{Op: "receive", Err: errors.New("connection reset")})

	select {
	case err := <-done:
		var te *stt.TransportError
		if !errors.As(err, &te) {
			t.Fatalf("Run error = %v, want *stt.TransportError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after transport failure")
	}
	if c.State() != StateFailed {
		t.Errorf("state = %v, want failed", c.State())
	}
}
