// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/auralis-app/auralis/pkg/provider/stt"
)

const (
	defaultEndpoint         = "wss://api.deepgram.com/v1/listen"
	defaultModel            = "nova-3"
	defaultLanguage         = "en"
	defaultSampleRate       = 16000
	defaultHandshakeTimeout = 10 * time.Second
	defaultFlushGrace       = 3 * time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint URL. Useful for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHandshakeTimeout bounds the connection handshake. Default: 10s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.handshakeTimeout = d
	}
}

// WithFlushGrace sets how long Close waits for trailing finals after sending
// the stream-end signal. Default: 3s.
func WithFlushGrace(d time.Duration) Option {
	return func(p *Provider) {
		p.flushGrace = d
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey           string
	endpoint         string
	model            string
	language         string
	sampleRate       int
	handshakeTimeout time.Duration
	flushGrace       time.Duration
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:           apiKey,
		endpoint:         defaultEndpoint,
		model:            defaultModel,
		language:         defaultLanguage,
		sampleRate:       defaultSampleRate,
		handshakeTimeout: defaultHandshakeTimeout,
		flushGrace:       defaultFlushGrace,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram. The
// handshake is bounded by the configured timeout; a rejected or failed
// handshake returns a *stt.HandshakeError and no session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.handshakeTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: authHeader(p.apiKey),
	})
	if err != nil {
		return nil, classifyHandshake(resp, err)
	}
	// Audio batches are small; lift the default read limit for large result
	// frames only.
	conn.SetReadLimit(1 << 20)

	sess := &session{
		conn:       conn,
		results:    make(chan stt.Transcript, 64),
		audio:      make(chan []byte, 256),
		done:       make(chan struct{}),
		flushGrace: p.flushGrace,
	}

	sess.wg.Add(2)
	go sess.readLoop()
	go sess.writeLoop()

	return sess, nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
				Speaker    *int    `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.Session.
type session struct {
	conn       *websocket.Conn
	results    chan stt.Transcript
	audio      chan []byte
	flushGrace time.Duration

	done     chan struct{}
	doneOnce sync.Once
	once     sync.Once
	wg       sync.WaitGroup

	// closing is set before the end-of-stream signal goes out so the read
	// loop can tell an expected server close from a mid-session drop.
	closing atomic.Bool

	errMu sync.Mutex
	err   error

	protocolErrors atomic.Uint64
}

// SendAudio queues a PCM batch for delivery to Deepgram. A single internal
// writer drains the queue, so batches reach the wire in the order queued.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

// Results returns the ordered transcript stream.
func (s *session) Results() <-chan stt.Transcript { return s.results }

// Err reports the terminal session error. Valid after Results is closed.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// ProtocolErrors returns the count of inbound frames that could not be
// parsed. Malformed frames are dropped, never fatal.
func (s *session) ProtocolErrors() uint64 { return s.protocolErrors.Load() }

func (s *session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close terminates the session cleanly: stops accepting audio, drains what
// was already queued, sends the CloseStream signal so Deepgram flushes its
// recognizer, waits up to the flush grace for trailing finals, then closes
// the connection.
func (s *session) Close() error {
	s.once.Do(func() {
		s.closing.Store(true)
		s.signalDone()

		// The write loop drains remaining audio after done closes, then
		// sends CloseStream itself so the signal follows the last batch.
		writeDone := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(writeDone)
		}()

		select {
		case <-writeDone:
		case <-time.After(s.flushGrace):
			slog.Warn("deepgram: flush grace expired before server close")
		}

		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		// Read loop exits on the closed connection if the server never
		// responded to CloseStream within the grace.
		s.wg.Wait()
	})
	return nil
}

// ForceClose tears the connection down immediately: no queue drain, no
// CloseStream signal, no flush grace. Queued audio is discarded; both loops
// unblock on the closed connection and any pending SendAudio returns
// [stt.ErrSessionClosed].
func (s *session) ForceClose() {
	s.closing.Store(true)
	s.signalDone()
	s.conn.Close(websocket.StatusGoingAway, "force close")
	s.wg.Wait()
}

func (s *session) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// writeLoop sends queued audio as binary messages, in order. After done
// closes it drains the remaining queue and emits the end-of-stream signal.
func (s *session) writeLoop() {
	defer s.wg.Done()
	ctx := context.Background()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				if !s.closing.Load() {
					s.setErr(&stt.TransportError{Op: "send", Err: err})
				}
				return
			}
		case <-s.done:
			for {
				select {
				case chunk := <-s.audio:
					if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
						return
					}
				default:
					_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and forwards each parsed
// transcript to the results channel immediately — inbound results are
// time-sensitive and never buffered beyond the channel itself.
func (s *session) readLoop() {
	defer s.wg.Done()
	defer close(s.results)

	ctx := context.Background()
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || s.closing.Load() {
				return
			}
			s.setErr(&stt.TransportError{Op: "receive", Err: err})
			return
		}

		t, ok := s.parseResponse(msg)
		if !ok {
			continue
		}

		select {
		case s.results <- t:
		case <-s.done:
			// Still forward trailing finals while closing; only give up if
			// the consumer stopped draining entirely.
			select {
			case s.results <- t:
			default:
			}
		}
	}
}

// parseResponse parses a raw Deepgram WebSocket message into a Transcript.
// Returns (zero, false) for control messages, empty alternatives, and
// malformed frames; the latter increment the protocol error counter.
func (s *session) parseResponse(data []byte) (stt.Transcript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		s.protocolErrors.Add(1)
		slog.Warn("deepgram: dropping unparseable frame", "err", err, "bytes", len(data))
		return stt.Transcript{}, false
	}
	if resp.Type != "Results" {
		return stt.Transcript{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return stt.Transcript{}, false
	}

	var speaker string
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
		if w.Speaker != nil && speaker == "" {
			speaker = fmt.Sprintf("speaker-%d", *w.Speaker)
		}
	}

	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		SpeakerID:  speaker,
		Start:      time.Duration(resp.Start * float64(time.Second)),
		End:        time.Duration((resp.Start + resp.Duration) * float64(time.Second)),
		Words:      words,
	}, true
}
